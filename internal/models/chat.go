package models

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageStatus tracks delivery of a locally originated message.
// Transitions are monotonic: once sent or error, the status never changes.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// Terminal reports whether no further status transition may occur.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusError
}

// MessageFlag is an opaque marker the backend attaches to outbound sends.
type MessageFlag string

type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	// Content holds the file bytes encoded as base64.
	Data string `json:"data"`
	Size int    `json:"size"`
}

type Message struct {
	ID          string        `json:"id"`
	Content     string        `json:"content"`
	Sender      Sender        `json:"sender"`
	Status      MessageStatus `json:"status,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Chat is the client-side view of one room's history.
type Chat struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	RoomID               string    `json:"roomId"`
	Messages             []Message `json:"messages"`
	IsWaitingForResponse bool      `json:"isWaitingForResponse"`
}
