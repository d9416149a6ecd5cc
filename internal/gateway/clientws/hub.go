// Package clientws serves the public WebSocket channel user clients connect
// to. Connections authenticate with a JWT or manager API token in their
// first frame, then subscribe to sessions; session events fan out to
// subscribers and global events to every client.
package clientws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

const (
	// authTimeout bounds the wait for the client auth frame.
	authTimeout = 10 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// SessionOps is the session-manager surface client commands call into.
type SessionOps interface {
	GetSession(id string) (*v1.SessionInfo, error)
	GetPending(id string) (*v1.PendingApproval, *v1.PendingQuestion, error)
	SendMessage(id, content, source string) error
	ApproveToolUse(id, approvalID string, allow bool, message string) error
	AnswerQuestion(id, questionID string, answers []string) error
	InterruptSession(id string) error
	UpdateSessionSettings(id string, req v1.UpdateSettingsRequest) error
	SetModel(id, model string) error
	GetSupportedModels(id string) error
}

// Hub manages all client connections and their subscriptions.
type Hub struct {
	sessions  SessionOps
	validator *TokenValidator
	upgrader  websocket.Upgrader

	// authTimeout is a field so tests can shrink the handshake window.
	authTimeout time.Duration

	mu          sync.RWMutex
	clients     map[*Client]bool
	subscribers map[string]map[*Client]bool

	logger *logger.Logger
}

// NewHub creates the client hub.
func NewHub(sessions SessionOps, validator *TokenValidator, log *logger.Logger) *Hub {
	return &Hub{
		sessions:  sessions,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		authTimeout: authTimeout,
		clients:     make(map[*Client]bool),
		subscribers: make(map[string]map[*Client]bool),
		logger:      log.WithFields(zap.String("component", "client_hub")),
	}
}

// HandleConnection is the gin handler for /ws.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("client upgrade failed", zap.Error(err))
		return
	}

	username, ok := h.handshake(conn)
	if !ok {
		return
	}

	client := newClient(uuid.New().String(), username, conn, h, h.logger)
	h.register(client)

	go client.writePump()
	client.enqueue(&protocol.AuthOK{Type: protocol.TypeAuthOK, Username: username})
	client.readPump()
}

// handshake reads the auth frame and resolves it to a username. On failure
// the client gets an auth_error frame and close code 4001.
func (h *Hub) handshake(conn *websocket.Conn) (string, bool) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.authTimeout)); err != nil {
		_ = conn.Close()
		return "", false
	}

	fail := func(message string) (string, bool) {
		payload, _ := json.Marshal(&protocol.AuthError{Type: protocol.TypeAuthError, Message: message})
		deadline := time.Now().Add(writeWait)
		conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		closeMsg := websocket.FormatCloseMessage(protocol.CloseUnauthorized, "unauthorized")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		_ = conn.Close()
		return "", false
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		// Covers the auth deadline expiring; the client still gets 4001.
		h.logger.Warn("client handshake read failed", zap.Error(err))
		return fail("authentication timed out")
	}

	frame, err := protocol.DecodeClientFrame(data)
	if err != nil {
		return fail("malformed auth frame")
	}
	auth, ok := frame.(*protocol.ClientAuth)
	if !ok {
		return fail("first frame must be auth")
	}
	username, err := h.validator.Validate(auth.Token)
	if err != nil {
		h.logger.Warn("client auth rejected", zap.Error(err))
		return fail("invalid token")
	}
	return username, true
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Debug("client connected",
		zap.String("client_id", client.id), zap.String("username", client.username))
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		for sessionID := range client.subscriptions {
			h.dropSubscriberLocked(client, sessionID)
		}
		client.shutdown()
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", client.id))
}

func (h *Hub) subscribe(client *Client, sessionID string) {
	h.mu.Lock()
	if _, ok := h.subscribers[sessionID]; !ok {
		h.subscribers[sessionID] = make(map[*Client]bool)
	}
	h.subscribers[sessionID][client] = true
	client.subscriptions[sessionID] = true
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(client *Client, sessionID string) {
	h.mu.Lock()
	delete(client.subscriptions, sessionID)
	h.dropSubscriberLocked(client, sessionID)
	h.mu.Unlock()
}

func (h *Hub) dropSubscriberLocked(client *Client, sessionID string) {
	if subs, ok := h.subscribers[sessionID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
}

// HasSubscribers reports whether any client watches the session. The
// notification debouncer uses this to skip push for sessions someone is
// actively looking at.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID]) > 0
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAll sends a payload to every connected client.
func (h *Hub) BroadcastAll(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.enqueueRaw(payload)
	}
}

// Broadcast sends a payload to the session's subscribers.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.subscribers[sessionID] {
		client.enqueueRaw(payload)
	}
}

// HandleEvent is the hub's event-bus handler. Session updates and auth
// alerts go to everyone so session lists stay fresh without a subscription;
// everything else only reaches subscribers.
func (h *Hub) HandleEvent(_ context.Context, event *bus.Event) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		h.logger.Error("failed to marshal event payload",
			zap.String("type", event.Type), zap.Error(err))
		return nil
	}

	switch event.Type {
	case protocol.TypeSessionUpdate, protocol.TypeAuthAlert:
		h.BroadcastAll(payload)
	default:
		h.Broadcast(event.SessionID, payload)
	}
	return nil
}

// Attach subscribes the hub to all session events on the bus.
func (h *Hub) Attach(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe(bus.SessionWildcard, h.HandleEvent)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
		h.unregister(client)
	}
}
