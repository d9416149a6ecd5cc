// Package agentlink is the in-container side of the internal WebSocket
// channel: it dials the master, authenticates, keeps the connection alive
// across master restarts, and bridges frames to an agent driver.
package agentlink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

const (
	dialTimeout  = 10 * time.Second
	authWait     = 10 * time.Second
	writeTimeout = 10 * time.Second

	// maxBackoff caps the reconnect delay.
	maxBackoff = 30 * time.Second
)

// Backoff returns the delay before reconnect attempt n: min(1s·2^n, 30s).
func Backoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	return time.Second << attempt
}

// Config identifies this agent to the master.
type Config struct {
	URL       string
	SessionID string
	Token     string
}

// Handler receives every post-auth frame from the master.
type Handler func(frame protocol.MasterFrame)

// Link maintains the agent's connection to the master. After a successful
// first Connect it reconnects on its own until Close.
type Link struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	logger *logger.Logger
}

// NewLink creates a link. Connect must be called before Send.
func NewLink(cfg Config, handler Handler, log *logger.Logger) *Link {
	return &Link{
		cfg:     cfg,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
		logger:  log.WithFields(zap.String("component", "agent_link")),
	}
}

// Connect dials and authenticates. A first connection that never
// authenticates is a hard failure: no reconnect is scheduled, the caller
// decides. On success the link supervises itself.
func (l *Link) Connect(ctx context.Context) error {
	conn, err := l.dialAndAuth(ctx)
	if err != nil {
		return err
	}
	l.setConn(conn)
	go l.supervise(conn)
	return nil
}

func (l *Link) dialAndAuth(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}

	auth, _ := json.Marshal(&protocol.Auth{
		Type:      protocol.TypeAuth,
		SessionID: l.cfg.SessionID,
		Token:     l.cfg.Token,
	})
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(authWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await auth_ok: %w", err)
	}
	frame, err := protocol.DecodeMasterFrame(data)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("auth reply: %w", err)
	}
	if _, ok := frame.(*protocol.AuthOK); !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("master rejected auth")
	}

	conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// supervise reads until disconnect, then reconnects with backoff. Only
// Close ends the loop.
func (l *Link) supervise(conn *websocket.Conn) {
	for {
		l.readAll(conn)
		if l.isClosed() {
			return
		}
		l.setConn(nil)
		l.logger.Warn("master connection lost, reconnecting")

		attempt := 0
		for {
			if l.isClosed() {
				return
			}
			time.Sleep(Backoff(attempt))
			attempt++

			next, err := l.dialAndAuth(context.Background())
			if err != nil {
				l.logger.Warn("reconnect failed",
					zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			conn = next
			l.setConn(conn)
			l.logger.Info("reconnected to master")
			break
		}
	}
}

func (l *Link) readAll(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		frame, err := protocol.DecodeMasterFrame(data)
		if err != nil {
			l.logger.Warn("dropping malformed master frame", zap.Error(err))
			continue
		}
		if _, ok := frame.(*protocol.AuthOK); ok {
			continue
		}
		l.handler(frame)
	}
}

// Send writes one frame to the master. A silent no-op while disconnected;
// the master rebuilds interesting state from the next frames after
// reconnect.
func (l *Link) Send(frame protocol.AgentFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		l.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || l.closed {
		return
	}
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		l.logger.Warn("write to master failed", zap.Error(err))
	}
}

// Close ends the link permanently.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) setConn(conn *websocket.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed && conn != nil {
		_ = conn.Close()
		return
	}
	l.conn = conn
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
