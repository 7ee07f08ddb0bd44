// Package socket owns the live session with the chat backend: one
// reconnecting transport, the joined-room set, the send/acknowledge
// protocol, and routing of inbound events into dispatch commands.
package socket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chat-client/internal/api"
	"chat-client/internal/attachment"
	"chat-client/internal/config"
	"chat-client/internal/dispatch"
	"chat-client/internal/models"
	"chat-client/pkg/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// pendingAck is a single-shot future bound to one outbound send. It is
// resolved exactly once: by the matching ack frame, or as a failure when the
// connection carrying the request dies.
type pendingAck struct {
	messageID string
	chatID    string
	ch        chan AckEvent
}

// Manager coordinates the live connection. Dependencies are injected so
// tests can substitute fakes for the identity fetcher, the transport, and
// the resolver.
type Manager struct {
	cfg      config.SocketConfig
	identity api.IdentityAPI
	resolver attachment.Resolver
	dial     DialFunc

	mu        sync.Mutex
	sink      dispatch.Sink
	state     State
	transport Transport
	rooms     map[string]struct{}
	nextAckID uint64
	acks      map[uint64]*pendingAck
	// terminal remembers message ids whose status reached sent or error;
	// later transitions for those ids are suppressed.
	terminal map[string]models.MessageStatus
}

func NewManager(cfg config.SocketConfig, identity api.IdentityAPI, resolver attachment.Resolver, dial DialFunc) *Manager {
	if dial == nil {
		dial = DialWS
	}
	return &Manager{
		cfg:      cfg,
		identity: identity,
		resolver: resolver,
		dial:     dial,
		rooms:    make(map[string]struct{}),
		acks:     make(map[uint64]*pendingAck),
		terminal: make(map[string]models.MessageStatus),
	}
}

// Initialize acquires the identity token and opens the transport. It is a
// no-op when a connection is already live or being established. Only the
// identity handshake is fatal; everything after is recovered by the
// transport's reconnection.
func (m *Manager) Initialize(ctx context.Context, sink dispatch.Sink) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		logger.Info("already connected, skipping initialization",
			zap.Stringer("state", state))
		return nil
	}
	m.state = StateConnecting
	m.sink = sink
	m.mu.Unlock()

	token, err := m.identity.UserTemp(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return errors.Wrap(err, "identity handshake")
	}
	logger.Info("identity token acquired, connecting socket")

	t := m.dial(m.cfg, token, Events{
		OnConnect:      m.handleConnect,
		OnDisconnect:   m.handleDisconnect,
		OnConnectError: m.handleConnectError,
		OnGiveUp:       m.handleGiveUp,
		OnFrame:        m.handleFrame,
	})

	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	t.Connect()
	return nil
}

// Join emits a join request, once: joining is idempotent, and a no-op while
// disconnected.
func (m *Manager) Join(roomID, roomName string) {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		logger.Debug("cannot join room, socket disconnected",
			zap.String("room_id", roomID))
		return
	}
	if _, joined := m.rooms[roomID]; joined {
		m.mu.Unlock()
		logger.Debug("already joined room", zap.String("room_id", roomID))
		return
	}
	m.rooms[roomID] = struct{}{}
	t := m.transport
	m.mu.Unlock()

	logger.Info("joining room",
		zap.String("room_id", roomID), zap.String("room_name", roomName))
	f, err := NewFrame(EventJoinRoom, JoinRoomRequest{RoomID: roomID, RoomName: roomName})
	if err == nil {
		err = t.Send(f)
	}
	if err != nil {
		logger.Error("join request failed", zap.String("room_id", roomID), zap.Error(err))
		m.mu.Lock()
		delete(m.rooms, roomID)
		m.mu.Unlock()
	}
}

// Leave emits a leave request only when the room is currently joined.
func (m *Manager) Leave(roomID string) {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		logger.Debug("cannot leave room, socket disconnected",
			zap.String("room_id", roomID))
		return
	}
	if _, joined := m.rooms[roomID]; !joined {
		m.mu.Unlock()
		logger.Debug("not joined, nothing to leave", zap.String("room_id", roomID))
		return
	}
	delete(m.rooms, roomID)
	t := m.transport
	m.mu.Unlock()

	logger.Info("leaving room", zap.String("room_id", roomID))
	f, err := NewFrame(EventLeaveRoom, LeaveRoomRequest{RoomID: roomID})
	if err == nil {
		err = t.Send(f)
	}
	if err != nil {
		logger.Error("leave request failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (m *Manager) IsMember(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, joined := m.rooms[roomID]
	return joined
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// SendMessage sends one message and binds an acknowledgement future to it.
// While disconnected it fails fast: the message gets its error status and
// the chat's waiting flag clears, with no network I/O attempted.
func (m *Manager) SendMessage(roomID, content, messageID, chatID string, flag models.MessageFlag, attachments []models.Attachment) {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		logger.Warn("socket not connected, cannot send message",
			zap.String("message_id", messageID))
		m.finishDelivery(messageID, chatID, AckEvent{Success: false, Error: "not connected"})
		return
	}
	m.nextAckID++
	ackID := m.nextAckID
	pending := &pendingAck{
		messageID: messageID,
		chatID:    chatID,
		ch:        make(chan AckEvent, 1),
	}
	m.acks[ackID] = pending
	t := m.transport
	m.mu.Unlock()

	logger.Info("sending message",
		zap.String("room_id", roomID), zap.String("message_id", messageID))

	f, err := NewFrame(EventSendMessage, SendMessageRequest{
		RoomID:      roomID,
		Message:     content,
		MessageID:   messageID,
		ChatID:      chatID,
		MessageFlag: flag,
		Attachments: attachments,
	})
	if err == nil {
		f.AckID = ackID
		err = t.Send(f)
	}
	if err != nil {
		logger.Error("send failed", zap.String("message_id", messageID), zap.Error(err))
		if p := m.takeAck(ackID); p != nil {
			m.finishDelivery(messageID, chatID, AckEvent{Success: false, Error: err.Error()})
		}
		return
	}

	go func() {
		ack := <-pending.ch
		m.finishDelivery(pending.messageID, pending.chatID, ack)
	}()
}

// Disconnect tears down the transport and clears all room membership.
// In-flight acknowledgements resolve as failed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.state = StateDisconnected
	m.rooms = make(map[string]struct{})
	m.terminal = make(map[string]models.MessageStatus)
	waiters := m.drainAcksLocked()
	m.mu.Unlock()

	if t == nil {
		logger.Debug("socket already disconnected")
		return
	}
	logger.Info("disconnecting socket")
	_ = t.Close()
	failAll(waiters, "disconnected")
}

// ---- inbound routing ----

func (m *Manager) handleConnect() {
	m.mu.Lock()
	m.state = StateConnected
	m.mu.Unlock()
}

func (m *Manager) handleDisconnect(reason string) {
	m.mu.Lock()
	if m.transport != nil {
		m.state = StateDisconnected
	}
	// Requests in flight died with the connection.
	waiters := m.drainAcksLocked()
	m.mu.Unlock()

	failAll(waiters, reason)
}

// handleGiveUp tears the dead session down so a later Initialize can start
// from scratch with a fresh handshake.
func (m *Manager) handleGiveUp() {
	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.state = StateDisconnected
	m.rooms = make(map[string]struct{})
	waiters := m.drainAcksLocked()
	m.mu.Unlock()

	logger.Warn("connection attempts exhausted, session torn down")
	if t != nil {
		_ = t.Close()
	}
	failAll(waiters, "connection attempts exhausted")
}

func (m *Manager) handleConnectError(err error) {
	// Retry bookkeeping lives in the transport; nothing to do here.
	logger.Error("socket connection error", zap.Error(err))
}

func (m *Manager) handleFrame(f Frame) {
	switch f.Event {
	case EventMessage:
		var ev MessageEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			logger.Warn("malformed message event", zap.Error(err))
			return
		}
		m.handleMessage(ev)

	case EventMessageSent:
		var ev MessageSentEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			logger.Warn("malformed message_sent event", zap.Error(err))
			return
		}
		status := models.StatusSent
		if !ev.Success {
			status = models.StatusError
		}
		m.setTerminalStatus(ev.MessageID, status)

	case EventMessageError:
		var ev MessageErrorEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			logger.Warn("malformed message_error event", zap.Error(err))
			return
		}
		logger.Error("message error received",
			zap.String("message_id", ev.MessageID), zap.String("error", ev.Error))
		m.setTerminalStatus(ev.MessageID, models.StatusError)
		if ev.ChatID != "" {
			m.dispatch(dispatch.SetWaiting{ChatID: ev.ChatID, Waiting: false})
		}

	case EventAck:
		var ack AckEvent
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			logger.Warn("malformed ack", zap.Error(err))
			return
		}
		if p := m.takeAck(f.AckID); p != nil {
			p.ch <- ack
		}

	default:
		logger.Debug("ignoring unknown event", zap.String("event", f.Event))
	}
}

func (m *Manager) handleMessage(ev MessageEvent) {
	if ev.UserID != string(models.SenderAssistant) {
		return
	}
	// Attachment resolution is network I/O; keep it off the routing
	// goroutine so a slow object store cannot stall frame delivery.
	go m.appendAssistant(ev)
	if ev.ChatID != "" {
		m.dispatch(dispatch.SetWaiting{ChatID: ev.ChatID, Waiting: false})
	}
}

func (m *Manager) appendAssistant(ev MessageEvent) {
	msg := models.Message{
		ID:      uuid.NewString(),
		Content: ev.Message,
		Sender:  models.SenderAssistant,
	}
	if ev.FileURL != "" {
		att, err := m.resolver.Resolve(context.Background(), attachment.Ref{FileURL: ev.FileURL})
		if err != nil {
			logger.Warn("assistant attachment dropped",
				zap.String("file_url", ev.FileURL), zap.Error(err))
		} else {
			msg.Attachments = []models.Attachment{*att}
		}
	}
	m.dispatch(dispatch.AppendAssistantMessage{Message: msg})
}

// ---- delivery bookkeeping ----

// finishDelivery records the terminal outcome of one send attempt.
func (m *Manager) finishDelivery(messageID, chatID string, ack AckEvent) {
	status := models.StatusSent
	if !ack.Success {
		status = models.StatusError
	}
	m.setTerminalStatus(messageID, status)
	if !ack.Success && chatID != "" {
		m.dispatch(dispatch.SetWaiting{ChatID: chatID, Waiting: false})
	}
}

// setTerminalStatus emits a status update unless the message already reached
// a terminal state; sent and error are final.
func (m *Manager) setTerminalStatus(messageID string, status models.MessageStatus) {
	m.mu.Lock()
	if prev, ok := m.terminal[messageID]; ok {
		m.mu.Unlock()
		logger.Debug("ignoring status transition for settled message",
			zap.String("message_id", messageID),
			zap.String("status", string(prev)))
		return
	}
	m.terminal[messageID] = status
	m.mu.Unlock()

	m.dispatch(dispatch.SetMessageStatus{MessageID: messageID, Status: status})
}

func (m *Manager) takeAck(ackID uint64) *pendingAck {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.acks[ackID]
	if !ok {
		return nil
	}
	delete(m.acks, ackID)
	return p
}

func (m *Manager) drainAcksLocked() []*pendingAck {
	waiters := make([]*pendingAck, 0, len(m.acks))
	for id, p := range m.acks {
		waiters = append(waiters, p)
		delete(m.acks, id)
	}
	return waiters
}

func failAll(waiters []*pendingAck, reason string) {
	for _, p := range waiters {
		p.ch <- AckEvent{Success: false, Error: reason}
	}
}

func (m *Manager) dispatch(cmd dispatch.Command) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Dispatch(cmd)
	}
}
