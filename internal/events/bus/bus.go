// Package bus provides the event plumbing between the session manager and
// its consumers. The in-memory bus dispatches synchronously so that, for a
// given session, subscribers observe events in exactly the order the manager
// produced them. An optional NATS bus mirrors the same events for external
// consumers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

// Subject of all per-session events: session.<sessionId>.<eventType>.
const SessionWildcard = "session.>"

// SubjectAuthAlert carries credential-refresh alerts, which are not tied to
// any session but still travel under the session wildcard so hubs need a
// single subscription.
const SubjectAuthAlert = "session.global.auth_alert"

// SessionSubject returns the subject a session event is published on. Events
// without a session, auth alerts, go under the global segment so the subject
// stays valid for NATS.
func SessionSubject(sessionID, eventType string) string {
	if sessionID == "" {
		return "session.global." + eventType
	}
	return "session." + sessionID + "." + eventType
}

// Event represents a message on the event bus
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // semantic event name, e.g. "session_update"
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, sessionID string, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus interface for event bus operations
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}

// Mirror republishes every event matching subject from src onto dst.
// Mirror failures are logged and never propagate back to publishers.
func Mirror(src, dst EventBus, subject string, log *logger.Logger) (Subscription, error) {
	return src.Subscribe(subject, func(ctx context.Context, event *Event) error {
		if err := dst.Publish(ctx, SessionSubject(event.SessionID, event.Type), event); err != nil {
			log.WithError(err).Warn("event mirror publish failed")
		}
		return nil
	})
}
