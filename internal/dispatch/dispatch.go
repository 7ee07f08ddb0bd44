// Package dispatch defines the semantic update commands the core emits and
// the sink they are pushed to. The consumer (a state store, a UI loop) owns
// all chat state; the core only produces commands.
package dispatch

import "chat-client/internal/models"

type Command interface {
	isCommand()
}

// AppendAssistantMessage appends an assistant reply, with its attachment
// already resolved, to the active chat.
type AppendAssistantMessage struct {
	Message models.Message
}

// SetMessageStatus records the terminal delivery status of a local message.
type SetMessageStatus struct {
	MessageID string
	Status    models.MessageStatus
}

// SetWaiting sets or clears a chat's waiting-for-response flag.
type SetWaiting struct {
	ChatID  string
	Waiting bool
}

// ReplaceChats swaps the entire chat list, in room-listing order.
type ReplaceChats struct {
	Chats []models.Chat
}

func (AppendAssistantMessage) isCommand() {}
func (SetMessageStatus) isCommand()       {}
func (SetWaiting) isCommand()             {}
func (ReplaceChats) isCommand()           {}

// Sink receives commands from the core.
type Sink interface {
	Dispatch(cmd Command)
}

// ChanSink forwards commands onto a channel for a consumer loop.
type ChanSink struct {
	C chan Command
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Command, buffer)}
}

func (s *ChanSink) Dispatch(cmd Command) {
	s.C <- cmd
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(cmd Command)

func (f SinkFunc) Dispatch(cmd Command) { f(cmd) }
