package socket_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/attachment"
	"chat-client/internal/config"
	"chat-client/internal/dispatch"
	"chat-client/internal/models"
	"chat-client/internal/socket"
)

type fakeIdentity struct {
	token string
	err   error
	calls int
}

func (f *fakeIdentity) UserTemp(ctx context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeResolver struct {
	att *models.Attachment
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, ref attachment.Ref) (*models.Attachment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.att, nil
}

// fakeTransport records outbound frames and lets tests push inbound events.
type fakeTransport struct {
	mu      sync.Mutex
	events  socket.Events
	frames  []socket.Frame
	sendErr error
	closed  bool
}

func (f *fakeTransport) Connect() {
	f.events.OnConnect()
}

func (f *fakeTransport) Send(fr socket.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sent() []socket.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]socket.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

// recorder collects dispatched commands for assertions.
type recorder struct {
	mu   sync.Mutex
	cmds []dispatch.Command
}

func (r *recorder) Dispatch(cmd dispatch.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

func (r *recorder) commands() []dispatch.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.Command, len(r.cmds))
	copy(out, r.cmds)
	return out
}

func (r *recorder) statuses() []dispatch.SetMessageStatus {
	var out []dispatch.SetMessageStatus
	for _, cmd := range r.commands() {
		if s, ok := cmd.(dispatch.SetMessageStatus); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) waitingFlags() []dispatch.SetWaiting {
	var out []dispatch.SetWaiting
	for _, cmd := range r.commands() {
		if w, ok := cmd.(dispatch.SetWaiting); ok {
			out = append(out, w)
		}
	}
	return out
}

func testSocketConfig() config.SocketConfig {
	return config.SocketConfig{
		URL:               "ws://example.test/ws",
		ReconnectAttempts: 10,
		ReconnectDelay:    time.Millisecond,
		SendQueueSize:     16,
	}
}

func newConnectedManager(t *testing.T, resolver attachment.Resolver) (*socket.Manager, *fakeTransport, *recorder) {
	t.Helper()

	ft := &fakeTransport{}
	dial := func(cfg config.SocketConfig, token string, events socket.Events) socket.Transport {
		require.Equal(t, "tok-123", token)
		ft.events = events
		return ft
	}
	if resolver == nil {
		resolver = &fakeResolver{}
	}

	m := socket.NewManager(testSocketConfig(), &fakeIdentity{token: "tok-123"}, resolver, dial)
	rec := &recorder{}
	require.NoError(t, m.Initialize(context.Background(), rec))
	require.True(t, m.IsConnected())
	return m, ft, rec
}

func inbound(t *testing.T, ft *fakeTransport, event string, data any, ackID uint64) {
	t.Helper()
	f, err := socket.NewFrame(event, data)
	require.NoError(t, err)
	f.AckID = ackID
	ft.events.OnFrame(f)
}

func TestInitialize_HandshakeFailurePropagates(t *testing.T) {
	identity := &fakeIdentity{err: errors.New("boom")}
	dial := func(cfg config.SocketConfig, token string, events socket.Events) socket.Transport {
		t.Fatal("dial must not be called when the handshake fails")
		return nil
	}

	m := socket.NewManager(testSocketConfig(), identity, &fakeResolver{}, dial)
	err := m.Initialize(context.Background(), &recorder{})
	require.Error(t, err)
	assert.False(t, m.IsConnected())

	// The failed attempt leaves the manager free for a retry.
	ft := &fakeTransport{}
	identity.err = nil
	identity.token = "tok-123"
	m2 := socket.NewManager(testSocketConfig(), identity, &fakeResolver{}, func(cfg config.SocketConfig, token string, events socket.Events) socket.Transport {
		ft.events = events
		return ft
	})
	require.NoError(t, m2.Initialize(context.Background(), &recorder{}))
	assert.True(t, m2.IsConnected())
}

func TestInitialize_Idempotent(t *testing.T) {
	identity := &fakeIdentity{token: "tok-123"}
	ft := &fakeTransport{}
	dials := 0
	dial := func(cfg config.SocketConfig, token string, events socket.Events) socket.Transport {
		dials++
		ft.events = events
		return ft
	}

	m := socket.NewManager(testSocketConfig(), identity, &fakeResolver{}, dial)
	require.NoError(t, m.Initialize(context.Background(), &recorder{}))
	require.NoError(t, m.Initialize(context.Background(), &recorder{}))

	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, identity.calls)
}

// deadTransport simulates a backend that is down for the whole retry
// budget: every dial fails and the transport gives up immediately.
type deadTransport struct {
	events socket.Events
}

func (d *deadTransport) Connect() {
	d.events.OnConnectError(errors.New("connection refused"))
	d.events.OnGiveUp()
}

func (d *deadTransport) Send(socket.Frame) error { return errors.New("transport closed") }
func (d *deadTransport) Close() error            { return nil }

func TestInitialize_RecoversAfterGiveUp(t *testing.T) {
	identity := &fakeIdentity{token: "tok-123"}
	ft := &fakeTransport{}
	dials := 0
	dial := func(cfg config.SocketConfig, token string, events socket.Events) socket.Transport {
		dials++
		if dials == 1 {
			return &deadTransport{events: events}
		}
		ft.events = events
		return ft
	}

	m := socket.NewManager(testSocketConfig(), identity, &fakeResolver{}, dial)
	require.NoError(t, m.Initialize(context.Background(), &recorder{}))
	assert.False(t, m.IsConnected())

	// The exhausted session is torn down, so a later call starts over with
	// a fresh handshake instead of skipping itself.
	require.NoError(t, m.Initialize(context.Background(), &recorder{}))
	assert.True(t, m.IsConnected())
	assert.Equal(t, 2, dials)
	assert.Equal(t, 2, identity.calls)
}

func TestGiveUp_TearsDownSession(t *testing.T) {
	m, ft, _ := newConnectedManager(t, nil)
	m.Join("room-1", "")
	require.True(t, m.IsMember("room-1"))

	ft.events.OnDisconnect("gone")
	ft.events.OnGiveUp()

	assert.False(t, m.IsConnected())
	assert.False(t, m.IsMember("room-1"))
	assert.True(t, ft.closed)
}

func TestJoin_Idempotent(t *testing.T) {
	m, ft, _ := newConnectedManager(t, nil)

	m.Join("room-1", "Chat A")
	m.Join("room-1", "Chat A")

	frames := ft.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, socket.EventJoinRoom, frames[0].Event)
	assert.True(t, m.IsMember("room-1"))
}

func TestJoin_NoopWhenDisconnected(t *testing.T) {
	m, ft, _ := newConnectedManager(t, nil)
	ft.events.OnDisconnect("gone")

	m.Join("room-1", "")

	assert.Empty(t, ft.sent())
	assert.False(t, m.IsMember("room-1"))
}

func TestLeave_WithoutJoinEmitsNothing(t *testing.T) {
	m, ft, _ := newConnectedManager(t, nil)

	m.Leave("room-1")

	assert.Empty(t, ft.sent())
}

func TestLeave_RemovesMembership(t *testing.T) {
	m, ft, _ := newConnectedManager(t, nil)

	m.Join("room-1", "Chat A")
	m.Leave("room-1")

	frames := ft.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, socket.EventLeaveRoom, frames[1].Event)
	assert.False(t, m.IsMember("room-1"))

	// A second leave is a no-op.
	m.Leave("room-1")
	assert.Len(t, ft.sent(), 2)
}

func TestSendMessage_FailsFastWhenDisconnected(t *testing.T) {
	m, ft, rec := newConnectedManager(t, nil)
	ft.events.OnDisconnect("gone")

	m.SendMessage("room-1", "hello", "msg-1", "chat-1", "chat", nil)

	assert.Empty(t, ft.sent(), "no network I/O when disconnected")
	require.Len(t, rec.statuses(), 1)
	assert.Equal(t, models.StatusError, rec.statuses()[0].Status)
	assert.Equal(t, "msg-1", rec.statuses()[0].MessageID)
	require.Len(t, rec.waitingFlags(), 1)
	assert.Equal(t, dispatch.SetWaiting{ChatID: "chat-1", Waiting: false}, rec.waitingFlags()[0])
}

func TestSendMessage_AckSuccess(t *testing.T) {
	m, ft, rec := newConnectedManager(t, nil)

	m.SendMessage("room-1", "hello", "msg-1", "chat-1", "chat", nil)

	frames := ft.sent()
	require.Len(t, frames, 1)
	require.Equal(t, socket.EventSendMessage, frames[0].Event)
	require.NotZero(t, frames[0].AckID)

	inbound(t, ft, socket.EventAck, socket.AckEvent{Success: true}, frames[0].AckID)

	require.Eventually(t, func() bool {
		return len(rec.statuses()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusSent, rec.statuses()[0].Status)
	assert.Empty(t, rec.waitingFlags(), "waiting flag untouched on success")
}

func TestSendMessage_AckFailureClearsWaiting(t *testing.T) {
	m, ft, rec := newConnectedManager(t, nil)

	m.SendMessage("room-1", "hello", "msg-1", "chat-1", "chat", nil)
	frames := ft.sent()
	require.Len(t, frames, 1)

	inbound(t, ft, socket.EventAck, socket.AckEvent{Success: false, Error: "rejected"}, frames[0].AckID)

	require.Eventually(t, func() bool {
		return len(rec.statuses()) == 1 && len(rec.waitingFlags()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusError, rec.statuses()[0].Status)
	assert.False(t, rec.waitingFlags()[0].Waiting)
}

func TestDisconnect_FailsPendingAcks(t *testing.T) {
	m, ft, rec := newConnectedManager(t, nil)

	m.SendMessage("room-1", "hello", "msg-1", "chat-1", "chat", nil)
	m.Join("room-1", "")
	m.Disconnect()

	assert.True(t, ft.closed)
	assert.False(t, m.IsConnected())
	assert.False(t, m.IsMember("room-1"))

	require.Eventually(t, func() bool {
		return len(rec.statuses()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusError, rec.statuses()[0].Status)
}

func TestDisconnect_ClearsSettledStatuses(t *testing.T) {
	m, ft, rec := newConnectedManager(t, nil)

	inbound(t, ft, socket.EventMessageSent, socket.MessageSentEvent{MessageID: "msg-1", Success: true}, 0)
	require.Len(t, rec.statuses(), 1)

	m.Disconnect()
	require.NoError(t, m.Initialize(context.Background(), rec))

	// The old session's bookkeeping must not suppress the new one.
	inbound(t, ft, socket.EventMessageSent, socket.MessageSentEvent{MessageID: "msg-1", Success: true}, 0)
	assert.Len(t, rec.statuses(), 2)
}

func TestStatusMonotonic(t *testing.T) {
	_, ft, rec := newConnectedManager(t, nil)

	inbound(t, ft, socket.EventMessageSent, socket.MessageSentEvent{MessageID: "msg-1", Success: true}, 0)
	inbound(t, ft, socket.EventMessageError, socket.MessageErrorEvent{MessageID: "msg-1", Error: "late"}, 0)
	inbound(t, ft, socket.EventMessageSent, socket.MessageSentEvent{MessageID: "msg-1", Success: false}, 0)

	statuses := rec.statuses()
	require.Len(t, statuses, 1, "terminal status must not transition again")
	assert.Equal(t, models.StatusSent, statuses[0].Status)
}

func TestMessageSent_FailureBecomesError(t *testing.T) {
	_, ft, rec := newConnectedManager(t, nil)

	inbound(t, ft, socket.EventMessageSent, socket.MessageSentEvent{MessageID: "msg-1", Success: false}, 0)

	require.Len(t, rec.statuses(), 1)
	assert.Equal(t, models.StatusError, rec.statuses()[0].Status)
}

func TestMessageError_ClearsWaiting(t *testing.T) {
	_, ft, rec := newConnectedManager(t, nil)

	inbound(t, ft, socket.EventMessageError, socket.MessageErrorEvent{
		MessageID: "msg-1", Error: "boom", ChatID: "chat-1",
	}, 0)

	require.Len(t, rec.statuses(), 1)
	assert.Equal(t, models.StatusError, rec.statuses()[0].Status)
	require.Len(t, rec.waitingFlags(), 1)
	assert.False(t, rec.waitingFlags()[0].Waiting)
}

func TestAssistantMessage_AppendsAndClearsWaiting(t *testing.T) {
	att := &models.Attachment{Filename: "report.pdf", MimeType: "application/pdf", Data: "aGk=", Size: 2}
	_, ft, rec := newConnectedManager(t, &fakeResolver{att: att})

	inbound(t, ft, socket.EventMessage, socket.MessageEvent{
		UserID:  "assistant",
		Message: "here you go",
		ChatID:  "chat-1",
		FileURL: "uploads/report.pdf",
	}, 0)

	var appended *dispatch.AppendAssistantMessage
	require.Eventually(t, func() bool {
		for _, cmd := range rec.commands() {
			if a, ok := cmd.(dispatch.AppendAssistantMessage); ok {
				appended = &a
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "here you go", appended.Message.Content)
	assert.Equal(t, models.SenderAssistant, appended.Message.Sender)
	require.Len(t, appended.Message.Attachments, 1)
	assert.Equal(t, "report.pdf", appended.Message.Attachments[0].Filename)

	require.Len(t, rec.waitingFlags(), 1)
	assert.Equal(t, dispatch.SetWaiting{ChatID: "chat-1", Waiting: false}, rec.waitingFlags()[0])
}

func TestAssistantMessage_ResolutionFailureDropsAttachment(t *testing.T) {
	_, ft, rec := newConnectedManager(t, &fakeResolver{err: errors.New("store down")})

	inbound(t, ft, socket.EventMessage, socket.MessageEvent{
		UserID:  "assistant",
		Message: "no file for you",
		FileURL: "uploads/missing.png",
	}, 0)

	var appended *dispatch.AppendAssistantMessage
	require.Eventually(t, func() bool {
		for _, cmd := range rec.commands() {
			if a, ok := cmd.(dispatch.AppendAssistantMessage); ok {
				appended = &a
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "no file for you", appended.Message.Content)
	assert.Empty(t, appended.Message.Attachments)
}

func TestUserMessageEventIgnored(t *testing.T) {
	_, ft, rec := newConnectedManager(t, nil)

	inbound(t, ft, socket.EventMessage, socket.MessageEvent{
		UserID:  "user-42",
		Message: "echo of my own message",
		ChatID:  "chat-1",
	}, 0)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.commands())
}
