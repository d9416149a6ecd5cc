package session

import (
	"context"
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/config"
	apperrors "github.com/Lmdudester/Clawd-sub001/internal/common/errors"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	"github.com/Lmdudester/Clawd-sub001/internal/container"
	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	"github.com/Lmdudester/Clawd-sub001/internal/gitrepo"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

const (
	// persistDebounce coalesces snapshot writes after a burst of mutations.
	persistDebounce = 250 * time.Millisecond

	// removeGrace keeps a terminated session visible so subscribed clients
	// can observe the terminal state before it leaves memory.
	removeGrace = 5 * time.Second
)

// Manager owns every session. A single coarse lock serializes all state
// mutations; container daemon calls never run under it.
type Manager struct {
	mu         sync.Mutex
	cfg        *config.Config
	logger     *logger.Logger
	bus        bus.EventBus
	containers Containers
	store      Store

	sessions map[string]*session
	links    map[string]AgentLink

	internalSecret string

	persistTimer *time.Timer
	removeAfter  time.Duration
}

// NewManager creates a session manager. Call Restore before serving.
func NewManager(cfg *config.Config, containers Containers, st Store, eventBus bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      log.WithFields(zap.String("component", "session_manager")),
		bus:         eventBus,
		containers:  containers,
		store:       st,
		sessions:    make(map[string]*session),
		links:       make(map[string]AgentLink),
		removeAfter: removeGrace,
	}
}

// InternalSecret returns the process-wide secret validating manager→master
// HTTP calls. Stable across restarts via the snapshot.
func (m *Manager) InternalSecret() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.internalSecret
}

// publish dispatches events onto the bus in order. Callers collect events
// under the lock and publish after releasing it; frames for one session are
// handled by a single reader goroutine, so per-session order is preserved.
func (m *Manager) publish(events ...*bus.Event) {
	ctx := context.Background()
	for _, ev := range events {
		if err := m.bus.Publish(ctx, bus.SessionSubject(ev.SessionID, ev.Type), ev); err != nil {
			m.logger.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
}

// ListSessions returns a snapshot of every session's info, oldest first.
func (m *Manager) ListSessions() []v1.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]v1.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// GetSession returns one session's info snapshot.
func (m *Manager) GetSession(id string) (*v1.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	info := sess.info
	return &info, nil
}

// GetMessages returns a copy of a session's message log.
func (m *Manager) GetMessages(id string) ([]v1.SessionMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	msgs := make([]v1.SessionMessage, len(sess.messages))
	copy(msgs, sess.messages)
	return msgs, nil
}

// GetPending returns the session's outstanding approval and question. At
// most one of the two is non-nil.
func (m *Manager) GetPending(id string) (*v1.PendingApproval, *v1.PendingQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil, apperrors.NotFound("session", id)
	}
	return sess.pendingApproval, sess.pendingQuestion, nil
}

// GetManagerState returns the orchestration state of a manager session.
func (m *Manager) GetManagerState(id string) (*v1.ManagerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	if sess.managerState == nil {
		return nil, apperrors.InvalidArgument("session is not a manager session")
	}
	state := *sess.managerState
	return &state, nil
}

// CreateSession allocates a session, persists it in the starting state, and
// then creates and starts its container. A daemon failure leaves the session
// listed in the error state and is returned to the caller.
func (m *Manager) CreateSession(ctx context.Context, req v1.CreateSessionRequest) (*v1.SessionInfo, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidArgument("session name must not be empty")
	}
	if err := gitrepo.ValidateRepoURL(req.RepoURL); err != nil {
		return nil, apperrors.InvalidArgumentf("invalid repository URL: %v", err)
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	m.mu.Lock()
	if max := m.cfg.Session.MaxSessions; max > 0 && m.liveCountLocked() >= max {
		m.mu.Unlock()
		return nil, apperrors.ResourceExhausted("session capacity reached")
	}

	sess := &session{
		info: v1.SessionInfo{
			ID:                   uuid.New().String(),
			Name:                 req.Name,
			Creator:              req.Creator,
			RepoURL:              req.RepoURL,
			Branch:               branch,
			DockerAccess:         req.DockerAccess,
			ManagerMode:          req.ManagerMode,
			PermissionMode:       v1.PermissionModeNormal,
			Model:                req.Model,
			NotificationsEnabled: true,
			Status:               v1.SessionStatusStarting,
			CreatedAt:            time.Now().UTC(),
		},
		sessionToken: newToken(),
	}
	if req.ManagerMode {
		sess.managerAPIToken = newToken()
		sess.managerState = &v1.ManagerState{
			Branch:          branch,
			Step:            v1.ManagerStepIdle,
			ChildSessionIDs: []string{},
		}
	}
	m.sessions[sess.info.ID] = sess
	m.markDirtyLocked()
	created := sessionUpdateEvent(sess.info)
	spec := container.SessionSpec{
		SessionID:       sess.info.ID,
		PermissionMode:  sess.info.PermissionMode,
		RepoURL:         sess.info.RepoURL,
		Branch:          sess.info.Branch,
		DockerAccess:    sess.info.DockerAccess,
		ManagerMode:     sess.info.ManagerMode,
		SessionToken:    sess.sessionToken,
		ManagerAPIToken: sess.managerAPIToken,
	}
	m.mu.Unlock()
	m.publish(created)

	containerID, err := m.containers.CreateSessionContainer(ctx, spec)

	m.mu.Lock()
	if err != nil {
		sess.info.Status = v1.SessionStatusError
		sess.info.ContainerID = nil
	} else {
		sess.info.ContainerID = &containerID
	}
	m.markDirtyLocked()
	info := sess.info
	m.mu.Unlock()
	m.publish(sessionUpdateEvent(info))

	if err != nil {
		m.logger.WithSessionID(info.ID).Error("session container failed", zap.Error(err))
		return nil, err
	}
	m.logger.WithSessionID(info.ID).Info("session created",
		zap.String("name", info.Name), zap.String("repo", info.RepoURL))
	return &info, nil
}

// CreateChildSession creates a session on behalf of a manager session and
// records it as a child. The source metadata (usually "auto_continue") is
// carried opaquely on the first prompt.
func (m *Manager) CreateChildSession(ctx context.Context, parentID string, req v1.CreateSessionRequest) (*v1.SessionInfo, error) {
	m.mu.Lock()
	parent, ok := m.sessions[parentID]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.NotFound("session", parentID)
	}
	if parent.managerState == nil {
		m.mu.Unlock()
		return nil, apperrors.InvalidArgument("parent session is not a manager session")
	}
	m.mu.Unlock()

	if req.Creator == "" {
		req.Creator = "manager"
	}
	req.ManagerMode = false

	info, err := m.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if parent, ok := m.sessions[parentID]; ok && parent.managerState != nil {
		parent.managerState.ChildSessionIDs = append(parent.managerState.ChildSessionIDs, info.ID)
		m.markDirtyLocked()
	}
	m.mu.Unlock()
	return info, nil
}

// liveCountLocked counts sessions expected to have a container attached.
func (m *Manager) liveCountLocked() int {
	n := 0
	for _, sess := range m.sessions {
		if sess.info.Status.Live() {
			n++
		}
	}
	return n
}

// DeleteSession terminates a session: pendings resolve as denied/empty, the
// agent link closes, the container is stopped and removed, and the session
// leaves memory after a short grace so subscribers observe the terminal
// state. Terminated is absorbing, so a second delete is a no-op.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", id)
	}
	if sess.info.Status == v1.SessionStatusTerminated {
		m.mu.Unlock()
		return nil
	}

	approval, question := sess.clearPending()
	sess.info.Status = v1.SessionStatusTerminated
	sess.info.ContainerID = nil
	m.stopResumeLocked(sess)

	link := m.links[id]
	delete(m.links, id)
	m.markDirtyLocked()
	ev := sessionUpdateEvent(sess.info)
	m.mu.Unlock()

	if link != nil {
		if approval != nil {
			link.Send(&protocol.ApprovalResponse{
				Type:       protocol.TypeApprovalResponse,
				ApprovalID: approval.ID,
				Allow:      false,
			})
		}
		if question != nil {
			link.Send(&protocol.QuestionResponse{
				Type:       protocol.TypeQuestionResponse,
				QuestionID: question.ID,
				Answers:    []string{},
			})
		}
		link.Close()
	}
	m.publish(ev)

	if err := m.containers.StopAndRemove(ctx, id); err != nil {
		// The session is gone either way; the boot reconciler will catch
		// anything the daemon failed to clean up now.
		m.logger.WithSessionID(id).Warn("container removal failed during delete", zap.Error(err))
	}

	time.AfterFunc(m.removeAfter, func() {
		m.mu.Lock()
		if sess, ok := m.sessions[id]; ok && sess.info.Status == v1.SessionStatusTerminated {
			delete(m.sessions, id)
			m.markDirtyLocked()
		}
		m.mu.Unlock()
	})

	m.logger.WithSessionID(id).Info("session deleted")
	return nil
}

// SendMessage appends a user prompt and forwards it to the agent. Rejected
// while an approval or question is pending.
func (m *Manager) SendMessage(id, content, source string) error {
	if content == "" {
		return apperrors.InvalidArgument("message content must not be empty")
	}

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", id)
	}
	if sess.info.Status == v1.SessionStatusTerminated || sess.info.Status == v1.SessionStatusError {
		m.mu.Unlock()
		return apperrors.ConflictState("session is not accepting messages")
	}
	if sess.pendingApproval != nil || sess.pendingQuestion != nil {
		m.mu.Unlock()
		return apperrors.ConflictState("session has a pending approval or question")
	}

	msg := sess.appendMessage(v1.SessionMessage{
		Kind:    v1.MessageKindUser,
		Content: content,
	})
	events := []*bus.Event{bus.NewEvent(protocol.TypeMessages, id, &protocol.MessagesEvent{
		Type:      protocol.TypeMessages,
		SessionID: id,
		Messages:  []v1.SessionMessage{msg},
	})}
	if sess.info.Status == v1.SessionStatusIdle {
		sess.info.Status = v1.SessionStatusRunning
		events = append(events, sessionUpdateEvent(sess.info))
	}
	link := m.links[id]
	m.markDirtyLocked()
	m.mu.Unlock()

	if link != nil {
		link.Send(&protocol.UserMessage{
			Type:    protocol.TypeUserMessage,
			Content: content,
			Source:  source,
		})
	}
	m.publish(events...)
	return nil
}

// ApproveToolUse resolves the pending approval and forwards the verdict.
func (m *Manager) ApproveToolUse(id, approvalID string, allow bool, message string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", id)
	}
	if sess.pendingApproval == nil {
		m.mu.Unlock()
		return apperrors.ConflictState("session has no pending approval")
	}
	if sess.pendingApproval.ID != approvalID {
		m.mu.Unlock()
		return apperrors.InvalidArgumentf("approval id %q does not match the pending approval", approvalID)
	}

	sess.pendingApproval = nil
	sess.info.Status = v1.SessionStatusRunning
	link := m.links[id]
	m.markDirtyLocked()
	ev := sessionUpdateEvent(sess.info)
	m.mu.Unlock()

	if link != nil {
		link.Send(&protocol.ApprovalResponse{
			Type:       protocol.TypeApprovalResponse,
			ApprovalID: approvalID,
			Allow:      allow,
			Message:    message,
		})
	}
	m.publish(ev)
	return nil
}

// AnswerQuestion resolves the pending question and forwards the answers.
func (m *Manager) AnswerQuestion(id, questionID string, answers []string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", id)
	}
	if sess.pendingQuestion == nil {
		m.mu.Unlock()
		return apperrors.ConflictState("session has no pending question")
	}
	if sess.pendingQuestion.ID != questionID {
		m.mu.Unlock()
		return apperrors.InvalidArgumentf("question id %q does not match the pending question", questionID)
	}

	sess.pendingQuestion = nil
	sess.info.Status = v1.SessionStatusRunning
	link := m.links[id]
	m.markDirtyLocked()
	ev := sessionUpdateEvent(sess.info)
	m.mu.Unlock()

	if link != nil {
		link.Send(&protocol.QuestionResponse{
			Type:       protocol.TypeQuestionResponse,
			QuestionID: questionID,
			Answers:    answers,
		})
	}
	m.publish(ev)
	return nil
}

// InterruptSession asks the agent to stop its current turn. Status is not
// changed here; the agent confirms by emitting a result.
func (m *Manager) InterruptSession(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	link := m.links[id]
	m.mu.Unlock()

	if !ok {
		return apperrors.NotFound("session", id)
	}
	if link != nil {
		link.Send(&protocol.Interrupt{Type: protocol.TypeInterrupt})
	}
	return nil
}

// UpdateSessionSettings mutates the user-editable settings. PermissionMode
// is agent-observable and is forwarded.
func (m *Manager) UpdateSessionSettings(id string, req v1.UpdateSettingsRequest) error {
	if req.PermissionMode != nil && !req.PermissionMode.Valid() {
		return apperrors.InvalidArgumentf("unknown permission mode %q", *req.PermissionMode)
	}
	if req.Name != nil && *req.Name == "" {
		return apperrors.InvalidArgument("session name must not be empty")
	}

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("session", id)
	}
	if sess.info.Status == v1.SessionStatusTerminated {
		m.mu.Unlock()
		return apperrors.ConflictState("session is terminated")
	}

	if req.Name != nil {
		sess.info.Name = *req.Name
	}
	if req.NotificationsEnabled != nil {
		sess.info.NotificationsEnabled = *req.NotificationsEnabled
	}
	var forward *protocol.UpdateSettings
	if req.PermissionMode != nil {
		sess.info.PermissionMode = *req.PermissionMode
		forward = &protocol.UpdateSettings{
			Type:           protocol.TypeUpdateSettings,
			PermissionMode: req.PermissionMode,
		}
	}
	link := m.links[id]
	m.markDirtyLocked()
	ev := sessionUpdateEvent(sess.info)
	m.mu.Unlock()

	if forward != nil && link != nil {
		link.Send(forward)
	}
	m.publish(ev)
	return nil
}

// SetModel forwards the model selection. The agent confirms through a
// session_info_update frame.
func (m *Manager) SetModel(id, model string) error {
	if model == "" {
		return apperrors.InvalidArgument("model must not be empty")
	}
	m.mu.Lock()
	_, ok := m.sessions[id]
	link := m.links[id]
	m.mu.Unlock()

	if !ok {
		return apperrors.NotFound("session", id)
	}
	if link != nil {
		link.Send(&protocol.SetModel{Type: protocol.TypeSetModel, Model: model})
	}
	return nil
}

// GetSupportedModels asks the agent for its model list; the answer arrives
// asynchronously as a models_list event.
func (m *Manager) GetSupportedModels(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	link := m.links[id]
	m.mu.Unlock()

	if !ok {
		return apperrors.NotFound("session", id)
	}
	if link != nil {
		link.Send(&protocol.GetModels{Type: protocol.TypeGetModels})
	}
	return nil
}

// UpdateManagerStep moves a manager session to a new orchestration step.
func (m *Manager) UpdateManagerStep(id string, step v1.ManagerStep) error {
	if !step.Valid() {
		return apperrors.InvalidArgumentf("unknown manager step %q", step)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id)
	}
	if sess.managerState == nil {
		return apperrors.InvalidArgument("session is not a manager session")
	}
	sess.managerState.Step = step
	m.markDirtyLocked()
	return nil
}

// PauseManager pauses a manager session, optionally until resumeAt.
func (m *Manager) PauseManager(id string, resumeAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id)
	}
	if sess.managerState == nil {
		return apperrors.InvalidArgument("session is not a manager session")
	}
	sess.managerState.Paused = true
	sess.managerState.ResumeAt = resumeAt
	m.scheduleResumeLocked(sess)
	m.markDirtyLocked()
	return nil
}

// ResumeManager clears a manager session's paused state.
func (m *Manager) ResumeManager(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id)
	}
	if sess.managerState == nil {
		return apperrors.InvalidArgument("session is not a manager session")
	}
	sess.managerState.Paused = false
	sess.managerState.ResumeAt = nil
	m.stopResumeLocked(sess)
	m.markDirtyLocked()
	return nil
}

// scheduleResumeLocked (re)arms the auto-resume timer for a paused manager
// session. Without a resumeAt the pause holds until an explicit resume.
func (m *Manager) scheduleResumeLocked(sess *session) {
	m.stopResumeLocked(sess)
	if sess.managerState == nil || sess.managerState.ResumeAt == nil {
		return
	}
	id := sess.info.ID
	sess.resumeTimer = time.AfterFunc(time.Until(*sess.managerState.ResumeAt), func() {
		m.autoResume(id)
	})
}

func (m *Manager) stopResumeLocked(sess *session) {
	if sess.resumeTimer != nil {
		sess.resumeTimer.Stop()
		sess.resumeTimer = nil
	}
}

func (m *Manager) autoResume(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.managerState == nil || !sess.managerState.Paused {
		return
	}
	sess.managerState.Paused = false
	sess.managerState.ResumeAt = nil
	sess.resumeTimer = nil
	m.logger.Info("manager session auto-resumed", zap.String("session_id", id))
	m.markDirtyLocked()
}

// AuthenticateAgent validates a session token in constant time.
func (m *Manager) AuthenticateAgent(sessionID, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || sess.info.Status == v1.SessionStatusTerminated {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sess.sessionToken), []byte(token)) == 1
}

// ValidateManagerToken accepts the internal secret or any live manager
// session's API token. Comparison is constant time per candidate.
func (m *Manager) ValidateManagerToken(token string) bool {
	_, ok := m.ManagerSessionForToken(token)
	return ok
}

// ManagerSessionForToken resolves a manager token to the session that owns
// it. The internal secret matches with an empty session id.
func (m *Manager) ManagerSessionForToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.internalSecret != "" &&
		subtle.ConstantTimeCompare([]byte(m.internalSecret), []byte(token)) == 1 {
		return "", true
	}
	for id, sess := range m.sessions {
		if sess.managerAPIToken == "" || sess.info.Status == v1.SessionStatusTerminated {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(sess.managerAPIToken), []byte(token)) == 1 {
			return id, true
		}
	}
	return "", false
}

// RegisterAgentConnection attaches an authenticated agent link, replacing
// and closing any previous one, and restores the pre-disconnect status.
func (m *Manager) RegisterAgentConnection(sessionID string, link AgentLink) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		link.Close()
		return
	}

	old := m.links[sessionID]
	m.links[sessionID] = link

	var events []*bus.Event
	if sess.info.Status == v1.SessionStatusReconnecting {
		restored := sess.preDisconnect
		if !restored.Valid() || !restored.Live() {
			restored = v1.SessionStatusIdle
		}
		sess.info.Status = restored
		m.markDirtyLocked()
		events = append(events, sessionUpdateEvent(sess.info))
	}
	m.mu.Unlock()

	if old != nil && old != link {
		old.Close()
	}
	m.publish(events...)
	m.logger.WithSessionID(sessionID).Info("agent connected")
}

// AgentDisconnected flips a session to reconnecting when its current link
// drops. Stale links from an already-replaced connection are ignored.
func (m *Manager) AgentDisconnected(sessionID string, link AgentLink) {
	m.mu.Lock()
	if m.links[sessionID] != link {
		m.mu.Unlock()
		return
	}
	delete(m.links, sessionID)

	sess, ok := m.sessions[sessionID]
	if !ok || !sess.info.Status.Live() {
		m.mu.Unlock()
		return
	}
	if sess.info.Status != v1.SessionStatusReconnecting {
		sess.preDisconnect = sess.info.Status
	}
	sess.info.Status = v1.SessionStatusReconnecting
	m.markDirtyLocked()
	ev := sessionUpdateEvent(sess.info)
	m.mu.Unlock()

	m.publish(ev)
	m.logger.WithSessionID(sessionID).Warn("agent disconnected, awaiting reconnect")
}

// BroadcastAuthAlert reports the outcome of an external credential refresh
// to every connected client.
func (m *Manager) BroadcastAuthAlert(status, message string) {
	ev := bus.NewEvent(protocol.TypeAuthAlert, "", &protocol.AuthAlert{
		Type:    protocol.TypeAuthAlert,
		Status:  status,
		Message: message,
	})
	if err := m.bus.Publish(context.Background(), bus.SubjectAuthAlert, ev); err != nil {
		m.logger.Warn("auth alert publish failed", zap.Error(err))
	}
}

// BroadcastTokenUpdate pushes a refreshed OAuth token into every connected
// agent so running sessions keep working after a refresh.
func (m *Manager) BroadcastTokenUpdate(token string) {
	m.mu.Lock()
	links := make([]AgentLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.Unlock()

	for _, link := range links {
		link.Send(&protocol.TokenUpdate{Type: protocol.TypeTokenUpdate, Token: token})
	}
}

// Close flushes any pending snapshot write.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.persistTimer != nil {
		m.persistTimer.Stop()
		m.persistTimer = nil
	}
	for _, sess := range m.sessions {
		m.stopResumeLocked(sess)
	}
	state := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.store.Save(state); err != nil {
		m.logger.Error("final snapshot save failed", zap.Error(err))
	}
}
