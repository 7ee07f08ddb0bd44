package socket

import (
	"encoding/json"

	"github.com/pkg/errors"

	"chat-client/internal/models"
)

// Realtime channel events. Outbound frames carry an ackId when the sender
// expects an acknowledgement; the server echoes it back on the ack frame.
const (
	EventMessage      = "message"
	EventMessageSent  = "message_sent"
	EventMessageError = "message_error"
	EventAck          = "ack"

	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
)

// Frame is the single wire envelope of the realtime channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID uint64          `json:"ackId,omitempty"`
}

func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errors.Wrap(err, "unmarshal frame")
	}
	if f.Event == "" {
		return Frame{}, errors.New("frame without event")
	}
	return f, nil
}

func NewFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "marshal %s payload", event)
	}
	return Frame{Event: event, Data: raw}, nil
}

// MessageEvent is an inbound chat message, usually an assistant reply.
type MessageEvent struct {
	UserID       string `json:"userId"`
	Message      string `json:"message"`
	ChatID       string `json:"chatId,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`
	ResponseType string `json:"responseType,omitempty"`
}

type MessageSentEvent struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
}

type MessageErrorEvent struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
	ChatID    string `json:"chatId,omitempty"`
}

// AckEvent acknowledges one outbound frame, matched by ackId.
type AckEvent struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type JoinRoomRequest struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName,omitempty"`
}

type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
}

type SendMessageRequest struct {
	RoomID      string              `json:"roomId"`
	Message     string              `json:"message"`
	MessageID   string              `json:"messageId"`
	ChatID      string              `json:"chatId"`
	MessageFlag models.MessageFlag  `json:"messageFlag"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}
