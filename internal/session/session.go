// Package session implements the session orchestrator: the authoritative
// in-memory map of sessions, their state machines, message logs, pending
// approvals and questions, manager-child relationships, event publication,
// and the persistence loop.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/Lmdudester/Clawd-sub001/internal/container"
	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	"github.com/Lmdudester/Clawd-sub001/internal/session/store"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

// Containers is the container-manager surface the session manager drives.
// Implemented by container.Manager; tests substitute a fake.
type Containers interface {
	CreateSessionContainer(ctx context.Context, spec container.SessionSpec) (string, error)
	StopAndRemove(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (container.RunState, error)
	Reconcile(ctx context.Context, keep map[string]bool) error
}

// AgentLink is one live agent connection. Send on a closed link is a silent
// no-op; links hold no session state beyond their socket.
type AgentLink interface {
	Send(frame protocol.MasterFrame)
	Close()
}

// Store persists the manager's snapshot. Implemented by store.Store.
type Store interface {
	Load() (*store.State, error)
	Save(state *store.State) error
	Delete() error
}

// previewLimit caps the last-message preview carried in SessionInfo.
const previewLimit = 160

// session is the manager-internal state of one session. All fields are
// guarded by the manager's lock.
type session struct {
	info     v1.SessionInfo
	messages []v1.SessionMessage

	sessionToken    string
	managerAPIToken string
	managerState    *v1.ManagerState

	pendingApproval *v1.PendingApproval
	pendingQuestion *v1.PendingQuestion

	nextMessageID int64

	// preDisconnect remembers the status to restore when a reconnecting
	// agent re-authenticates.
	preDisconnect v1.SessionStatus

	// resumeTimer auto-resumes a paused manager session at its resumeAt.
	resumeTimer *time.Timer
}

// appendMessage assigns the next monotonic id, appends, and refreshes the
// info preview fields.
func (s *session) appendMessage(msg v1.SessionMessage) v1.SessionMessage {
	s.nextMessageID++
	msg.ID = s.nextMessageID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)

	ts := msg.Timestamp
	s.info.LastMessageAt = &ts
	s.info.LastMessagePreview = truncatePreview(msg.Content)
	return msg
}

// finishStreaming clears the streaming flag on any in-flight messages.
func (s *session) finishStreaming() {
	for i := range s.messages {
		s.messages[i].IsStreaming = false
	}
}

// clearPending resolves both pending slots. The caller forwards the
// corresponding responses to the agent when one was set.
func (s *session) clearPending() (*v1.PendingApproval, *v1.PendingQuestion) {
	approval, question := s.pendingApproval, s.pendingQuestion
	s.pendingApproval = nil
	s.pendingQuestion = nil
	return approval, question
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit])
}

// newToken returns a random 256-bit hex token.
func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// sessionUpdateEvent builds the broadcast event for a session's current info.
func sessionUpdateEvent(info v1.SessionInfo) *bus.Event {
	return bus.NewEvent(protocol.TypeSessionUpdate, info.ID, &protocol.SessionUpdateEvent{
		Type:    protocol.TypeSessionUpdate,
		Session: info,
	})
}
