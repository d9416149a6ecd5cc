package agentws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

// agentLink is the session manager's handle on one agent connection. Send is
// non-blocking and a silent no-op once the link is closed.
type agentLink struct {
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	done   chan struct{}
	logger *logger.Logger
}

func newAgentLink(conn *websocket.Conn, log *logger.Logger) *agentLink {
	return &agentLink{
		conn:   conn,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
		logger: log,
	}
}

// Send marshals and queues one frame for the agent.
func (l *agentLink) Send(frame protocol.MasterFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		l.logger.Error("failed to marshal agent frame", zap.Error(err))
		return
	}
	select {
	case <-l.done:
	case l.send <- data:
	default:
		l.logger.Warn("agent send buffer full, dropping frame")
	}
}

// Close shuts the link down. Safe to call from any goroutine, repeatedly.
func (l *agentLink) Close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func (l *agentLink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.Close()
	}()

	for {
		select {
		case <-l.done:
			return

		case data := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
