// Package agentws serves the internal WebSocket channel in-container agents
// dial back on. Every connection must authenticate with its session id and
// per-session token in its first frame; anything else is closed with code
// 4001 before the connection reaches the session manager.
package agentws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/internal/session"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

const (
	// authTimeout bounds the wait for the auth frame. Containers can take a
	// while to come up, so this is looser than the client channel.
	authTimeout = 30 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024 // agents relay whole conversation messages
)

// Sessions is the session-manager surface the hub drives.
type Sessions interface {
	AuthenticateAgent(sessionID, token string) bool
	RegisterAgentConnection(sessionID string, link session.AgentLink)
	AgentDisconnected(sessionID string, link session.AgentLink)
	HandleAgentMessage(sessionID string, frame protocol.AgentFrame)
}

// Hub upgrades and supervises agent connections.
type Hub struct {
	sessions Sessions
	upgrader websocket.Upgrader

	// authTimeout is a field so tests can shrink the handshake window.
	authTimeout time.Duration

	logger *logger.Logger
}

// NewHub creates the agent hub.
func NewHub(sessions Sessions, log *logger.Logger) *Hub {
	return &Hub{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The endpoint is only reachable on the container network and
			// every connection must still present a session token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		authTimeout: authTimeout,
		logger:      log.WithFields(zap.String("component", "agent_hub")),
	}
}

// HandleConnection is the gin handler for /internal/session.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("agent upgrade failed", zap.Error(err))
		return
	}

	sessionID, ok := h.handshake(conn)
	if !ok {
		closeUnauthorized(conn)
		return
	}

	link := newAgentLink(conn, h.logger.WithSessionID(sessionID))
	go link.writePump()
	link.Send(&protocol.AuthOK{Type: protocol.TypeAuthOK})
	h.sessions.RegisterAgentConnection(sessionID, link)

	h.readLoop(sessionID, link)
}

// handshake reads and validates the auth frame.
func (h *Hub) handshake(conn *websocket.Conn) (string, bool) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.authTimeout)); err != nil {
		return "", false
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		h.logger.Warn("agent handshake read failed", zap.Error(err))
		return "", false
	}

	frame, err := protocol.DecodeAgentFrame(data)
	if err != nil {
		h.logger.Warn("agent handshake frame malformed", zap.Error(err))
		return "", false
	}
	auth, ok := frame.(*protocol.Auth)
	if !ok {
		h.logger.Warn("agent sent non-auth frame first")
		return "", false
	}
	if !h.sessions.AuthenticateAgent(auth.SessionID, auth.Token) {
		h.logger.Warn("agent auth rejected", zap.String("session_id", auth.SessionID))
		return "", false
	}
	return auth.SessionID, true
}

// readLoop pumps authenticated frames into the session manager. Malformed
// frames are logged and dropped; only transport errors end the loop.
func (h *Hub) readLoop(sessionID string, link *agentLink) {
	log := h.logger.WithSessionID(sessionID)
	conn := link.conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer func() {
		link.Close()
		h.sessions.AgentDisconnected(sessionID, link)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("agent read error", zap.Error(err))
			}
			return
		}

		frame, err := protocol.DecodeAgentFrame(data)
		if err != nil {
			log.Warn("dropping malformed agent frame", zap.Error(err))
			continue
		}
		if _, ok := frame.(*protocol.Auth); ok {
			log.Debug("ignoring repeated auth frame")
			continue
		}
		h.sessions.HandleAgentMessage(sessionID, frame)
	}
}

func closeUnauthorized(conn *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(protocol.CloseUnauthorized, "unauthorized")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
