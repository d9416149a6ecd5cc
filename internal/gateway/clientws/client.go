package clientws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/Lmdudester/Clawd-sub001/internal/common/errors"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

// Client is one authenticated client connection.
type Client struct {
	id       string
	username string
	conn     *websocket.Conn
	hub      *Hub

	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	subscriptions map[string]bool // guarded by hub.mu

	logger *logger.Logger
}

func newClient(id, username string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		id:            id,
		username:      username,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
		subscriptions: make(map[string]bool),
		logger:        log.WithFields(zap.String("client_id", id), zap.String("username", username)),
	}
}

// enqueue marshals and queues a frame for this client only.
func (c *Client) enqueue(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to marshal frame", zap.Error(err))
		return
	}
	c.enqueueRaw(data)
}

// enqueueRaw never blocks and drops frames once the client is shut down, so
// it is safe to race with unregister.
func (c *Client) enqueueRaw(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		// Buffer full; the write pump will tear the connection down.
		c.logger.Warn("client send buffer full")
	}
}

func (c *Client) sendError(err error) {
	c.enqueue(&protocol.ErrorEvent{
		Type:    protocol.TypeError,
		Code:    apperrors.Code(err),
		Message: err.Error(),
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("client read error", zap.Error(err))
			}
			return
		}

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			c.sendError(apperrors.InvalidArgument("malformed frame: " + err.Error()))
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame routes one client command. Command failures come back to the
// sender as error events; they never disconnect the client.
func (c *Client) handleFrame(frame protocol.ClientFrame) {
	var err error

	switch f := frame.(type) {
	case *protocol.ClientAuth:
		// Already authenticated; ignore.

	case *protocol.Subscribe:
		c.handleSubscribe(f.SessionID)

	case *protocol.Unsubscribe:
		c.hub.unsubscribe(c, f.SessionID)

	case *protocol.SendPrompt:
		err = c.hub.sessions.SendMessage(f.SessionID, f.Content, f.Source)

	case *protocol.ApproveTool:
		err = c.hub.sessions.ApproveToolUse(f.SessionID, f.ApprovalID, f.Allow, f.Message)

	case *protocol.AnswerQuestion:
		err = c.hub.sessions.AnswerQuestion(f.SessionID, f.QuestionID, f.Answers)

	case *protocol.ClientInterrupt:
		err = c.hub.sessions.InterruptSession(f.SessionID)

	case *protocol.ClientUpdateSettings:
		err = c.hub.sessions.UpdateSessionSettings(f.SessionID, v1.UpdateSettingsRequest{
			PermissionMode:       f.PermissionMode,
			Name:                 f.Name,
			NotificationsEnabled: f.NotificationsEnabled,
		})

	case *protocol.ClientSetModel:
		err = c.hub.sessions.SetModel(f.SessionID, f.Model)

	case *protocol.ClientGetModels:
		err = c.hub.sessions.GetSupportedModels(f.SessionID)
	}

	if err != nil {
		c.sendError(err)
	}
}

// handleSubscribe adds the subscription and replays the session's current
// state so the client renders without waiting for the next event.
func (c *Client) handleSubscribe(sessionID string) {
	info, err := c.hub.sessions.GetSession(sessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.hub.subscribe(c, sessionID)

	c.enqueue(&protocol.SessionUpdateEvent{Type: protocol.TypeSessionUpdate, Session: *info})

	approval, question, err := c.hub.sessions.GetPending(sessionID)
	if err != nil {
		return
	}
	if approval != nil {
		c.enqueue(&protocol.ApprovalRequestEvent{
			Type:      protocol.TypeApprovalRequest,
			SessionID: sessionID,
			Approval:  *approval,
		})
	}
	if question != nil {
		c.enqueue(&protocol.QuestionEvent{
			Type:      protocol.TypeQuestion,
			SessionID: sessionID,
			Question:  *question,
		})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shutdown stops the pumps; enqueues after this are dropped.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) close() {
	c.shutdown()
	_ = c.conn.Close()
}
