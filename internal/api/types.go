package api

import "time"

// Room is a backend conversation channel as returned by /rooms/by-user.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is the backend representation of one stored message.
type Message struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
	FileAddress string    `json:"file_address,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
}

type roomsResponse struct {
	Data []Room `json:"data"`
}

type messagesResponse struct {
	Data []Message `json:"data"`
}

type presignedResponse struct {
	URL string `json:"url"`
}

type userTempResponse struct {
	UserTempID string `json:"userTempId"`
}
