package socket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chat-client/internal/config"
	"chat-client/pkg/logger"
)

// authHeader carries the ephemeral identity token on the dial request.
const authHeader = "X-User-Temp-ID"

// Events are the transport's callbacks into its owner. Frame delivery runs
// on the read goroutine; handlers must not block on it.
type Events struct {
	OnConnect      func()
	OnDisconnect   func(reason string)
	OnConnectError func(err error)
	// OnGiveUp fires once when the retry budget is exhausted; the transport
	// is dead afterwards and a new one must be dialed.
	OnGiveUp func()
	OnFrame  func(f Frame)
}

func (e Events) emitConnect() {
	if e.OnConnect != nil {
		e.OnConnect()
	}
}

func (e Events) emitDisconnect(reason string) {
	if e.OnDisconnect != nil {
		e.OnDisconnect(reason)
	}
}

func (e Events) emitConnectError(err error) {
	if e.OnConnectError != nil {
		e.OnConnectError(err)
	}
}

func (e Events) emitGiveUp() {
	if e.OnGiveUp != nil {
		e.OnGiveUp()
	}
}

func (e Events) emitFrame(f Frame) {
	if e.OnFrame != nil {
		e.OnFrame(f)
	}
}

// Transport is one live realtime connection with built-in reconnection.
type Transport interface {
	Connect()
	Send(f Frame) error
	Close() error
}

// DialFunc builds a transport; the manager takes one so tests can substitute
// a fake.
type DialFunc func(cfg config.SocketConfig, token string, events Events) Transport

func DialWS(cfg config.SocketConfig, token string, events Events) Transport {
	return NewWSTransport(cfg, token, events)
}

// WSTransport rides a gorilla websocket. A single run loop owns the dial,
// retry, and session lifecycle; each live session runs one reader and one
// writer goroutine.
type WSTransport struct {
	cfg    config.SocketConfig
	token  string
	events Events

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ Transport = (*WSTransport)(nil)

func NewWSTransport(cfg config.SocketConfig, token string, events Events) *WSTransport {
	return &WSTransport{
		cfg:    cfg,
		token:  token,
		events: events,
		send:   make(chan Frame, cfg.SendQueueSize),
		done:   make(chan struct{}),
	}
}

// Connect starts the connection loop and returns immediately; lifecycle is
// reported through Events.
func (t *WSTransport) Connect() {
	go t.run()
}

// Send queues a frame for the writer. It fails when the transport is closed
// or the queue is full; it does not wait for delivery.
func (t *WSTransport) Send(f Frame) error {
	select {
	case <-t.done:
		return errors.New("transport closed")
	default:
	}
	select {
	case t.send <- f:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.mu.Unlock()
	})
	return nil
}

func (t *WSTransport) run() {
	attempt := 0
	for {
		select {
		case <-t.done:
			return
		default:
		}

		conn, err := t.dial()
		if err != nil {
			t.events.emitConnectError(err)
			attempt++
			if attempt > t.cfg.ReconnectAttempts {
				logger.Error("giving up on connection",
					zap.String("url", t.cfg.URL),
					zap.Int("attempts", attempt-1))
				t.events.emitGiveUp()
				return
			}
			logger.Warn("connect failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			if !t.sleep(t.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		// A successful session restores the full retry budget.
		attempt = 0
		t.setConn(conn)
		logger.Info("socket connected", zap.String("url", t.cfg.URL))
		t.events.emitConnect()

		reason := t.session(conn)
		t.setConn(nil)
		t.events.emitDisconnect(reason)

		select {
		case <-t.done:
			return
		default:
		}
		logger.Warn("socket disconnected", zap.String("reason", reason))
		if !t.sleep(t.cfg.ReconnectDelay) {
			return
		}
	}
}

func (t *WSTransport) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	header := http.Header{}
	header.Set(authHeader, t.token)

	conn, _, err := dialer.Dial(t.cfg.URL, header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", t.cfg.URL)
	}
	return conn, nil
}

// session pumps one live connection until it drops and returns the reason.
func (t *WSTransport) session(conn *websocket.Conn) string {
	sessionDone := make(chan struct{})
	go t.writePump(conn, sessionDone)
	defer close(sessionDone)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("read error", zap.Error(err))
			}
			return err.Error()
		}

		f, err := ParseFrame(raw)
		if err != nil {
			logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		t.events.emitFrame(f)
	}
}

func (t *WSTransport) writePump(conn *websocket.Conn, sessionDone chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-t.send:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteJSON(f); err != nil {
				logger.Error("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sessionDone:
			return

		case <-t.done:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (t *WSTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

// sleep waits out the reconnect delay; false means the transport closed.
func (t *WSTransport) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return false
	case <-timer.C:
		return true
	}
}
