package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

// ResultDebounce is how long a turn must stay finished before its completion
// is pushed. Agents often emit a result and immediately start the next turn;
// the debounce swallows those.
const ResultDebounce = 3 * time.Second

// Watchers answers whether someone is actively looking at a session.
// Implemented by the client hub.
type Watchers interface {
	HasSubscribers(sessionID string) bool
}

// Sessions looks up the session a notification concerns. Implemented by the
// session manager.
type Sessions interface {
	GetSession(id string) (*v1.SessionInfo, error)
}

// Debouncer turns session events into pushes. Completion pushes are held for
// ResultDebounce and canceled when the session starts running again or
// terminates; approvals and questions push immediately. Every push is gated
// on notificationsEnabled and on nobody watching the session.
type Debouncer struct {
	notifier *Notifier
	watchers Watchers
	sessions Sessions
	delay    time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	logger *logger.Logger
}

// NewDebouncer creates the debouncer.
func NewDebouncer(notifier *Notifier, watchers Watchers, sessions Sessions, log *logger.Logger) *Debouncer {
	return &Debouncer{
		notifier: notifier,
		watchers: watchers,
		sessions: sessions,
		delay:    ResultDebounce,
		timers:   make(map[string]*time.Timer),
		logger:   log.WithFields(zap.String("component", "notify_debouncer")),
	}
}

// Attach subscribes the debouncer to all session events on the bus.
func (d *Debouncer) Attach(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe(bus.SessionWildcard, d.HandleEvent)
}

// HandleEvent is the debouncer's event-bus handler.
func (d *Debouncer) HandleEvent(_ context.Context, event *bus.Event) error {
	switch event.Type {
	case protocol.TypeResult:
		d.schedule(event.SessionID)

	case protocol.TypeSessionUpdate:
		update, ok := event.Data.(*protocol.SessionUpdateEvent)
		if !ok {
			return nil
		}
		switch update.Session.Status {
		case v1.SessionStatusRunning:
			d.cancel(event.SessionID)
		case v1.SessionStatusTerminated:
			d.cancel(event.SessionID)
		}

	case protocol.TypeApprovalRequest:
		d.push(event.SessionID, "Approval Needed", "The agent is waiting for a tool-use approval.")

	case protocol.TypeQuestion:
		d.push(event.SessionID, "Question from Agent", "The agent asked a question and is waiting for an answer.")
	}
	return nil
}

// schedule arms (or re-arms) the completion timer for a session.
func (d *Debouncer) schedule(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[sessionID]; ok {
		timer.Reset(d.delay)
		return
	}
	d.timers[sessionID] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, sessionID)
		d.mu.Unlock()
		d.push(sessionID, "Task Complete", "The agent finished its turn.")
	})
}

func (d *Debouncer) cancel(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[sessionID]; ok {
		timer.Stop()
		delete(d.timers, sessionID)
	}
}

// push delivers one notification if the session still wants it and nobody is
// watching.
func (d *Debouncer) push(sessionID, title, body string) {
	info, err := d.sessions.GetSession(sessionID)
	if err != nil {
		return // session already gone
	}
	if !info.NotificationsEnabled {
		return
	}
	if d.watchers.HasSubscribers(sessionID) {
		return
	}
	d.notifier.Send(context.Background(), Notification{
		SessionID:   sessionID,
		SessionName: info.Name,
		Title:       title,
		Body:        body,
	})
}

// Close stops every armed timer.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
}
