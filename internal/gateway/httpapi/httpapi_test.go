package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Lmdudester/Clawd-sub001/internal/common/errors"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// fakeService records calls and serves canned sessions.
type fakeService struct {
	sessions map[string]*v1.SessionInfo

	sentMessages  []string
	interrupted   []string
	deleted       []string
	childParents  []string
	steps         []v1.ManagerStep
	alerts        []string
	tokenUpdates  []string
	pausedResume  *time.Time
	resumed       bool
	managerToken  string
	managerOwner  string
	internalToken string
}

func newFakeService() *fakeService {
	return &fakeService{
		sessions: map[string]*v1.SessionInfo{
			"s1": {ID: "s1", Name: "demo", Status: v1.SessionStatusIdle},
		},
		managerToken:  "mgr-token",
		managerOwner:  "s1",
		internalToken: "internal-secret",
	}
}

func (f *fakeService) ListSessions() []v1.SessionInfo {
	out := make([]v1.SessionInfo, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out
}

func (f *fakeService) GetSession(id string) (*v1.SessionInfo, error) {
	if s, ok := f.sessions[id]; ok {
		info := *s
		return &info, nil
	}
	return nil, apperrors.NotFound("session", id)
}

func (f *fakeService) GetMessages(id string) ([]v1.SessionMessage, error) {
	if _, ok := f.sessions[id]; !ok {
		return nil, apperrors.NotFound("session", id)
	}
	return []v1.SessionMessage{{ID: 1, Kind: v1.MessageKindUser, Content: "hi"}}, nil
}

func (f *fakeService) GetPending(id string) (*v1.PendingApproval, *v1.PendingQuestion, error) {
	if _, ok := f.sessions[id]; !ok {
		return nil, nil, apperrors.NotFound("session", id)
	}
	return nil, nil, nil
}

func (f *fakeService) CreateSession(_ context.Context, req v1.CreateSessionRequest) (*v1.SessionInfo, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidArgument("session name must not be empty")
	}
	info := &v1.SessionInfo{ID: "new", Name: req.Name, Status: v1.SessionStatusStarting}
	f.sessions[info.ID] = info
	return info, nil
}

func (f *fakeService) CreateChildSession(ctx context.Context, parentID string, req v1.CreateSessionRequest) (*v1.SessionInfo, error) {
	f.childParents = append(f.childParents, parentID)
	return f.CreateSession(ctx, req)
}

func (f *fakeService) DeleteSession(_ context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) SendMessage(id, content, _ string) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	f.sentMessages = append(f.sentMessages, content)
	return nil
}

func (f *fakeService) ApproveToolUse(id, _ string, _ bool, _ string) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	return nil
}

func (f *fakeService) AnswerQuestion(id, _ string, _ []string) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	return nil
}

func (f *fakeService) InterruptSession(id string) error {
	f.interrupted = append(f.interrupted, id)
	return nil
}

func (f *fakeService) UpdateSessionSettings(id string, _ v1.UpdateSettingsRequest) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	return nil
}

func (f *fakeService) SetModel(id, _ string) error {
	if _, ok := f.sessions[id]; !ok {
		return apperrors.NotFound("session", id)
	}
	return nil
}

func (f *fakeService) GetManagerState(id string) (*v1.ManagerState, error) {
	if id != f.managerOwner {
		return nil, apperrors.InvalidArgument("session is not a manager session")
	}
	return &v1.ManagerState{Step: v1.ManagerStepPlanning}, nil
}

func (f *fakeService) UpdateManagerStep(_ string, step v1.ManagerStep) error {
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeService) PauseManager(_ string, resumeAt *time.Time) error {
	f.pausedResume = resumeAt
	return nil
}

func (f *fakeService) ResumeManager(string) error {
	f.resumed = true
	return nil
}

func (f *fakeService) ManagerSessionForToken(token string) (string, bool) {
	if token == f.managerToken {
		return f.managerOwner, true
	}
	if token == f.internalToken {
		return "", true
	}
	return "", false
}

func (f *fakeService) InternalSecret() string { return f.internalToken }

func (f *fakeService) BroadcastAuthAlert(status, _ string) {
	f.alerts = append(f.alerts, status)
}

func (f *fakeService) BroadcastTokenUpdate(token string) {
	f.tokenUpdates = append(f.tokenUpdates, token)
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := newFakeService()
	router := NewRouter(logger.Default())
	NewHandlers(svc, logger.Default()).Register(router)
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionCRUD(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/sessions", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions", v1.CreateSessionRequest{
		Name: "new-session", RepoURL: "https://github.com/a/b",
	}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Session v1.SessionInfo `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.Session.ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/sessions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/s1", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"s1"}, svc.deleted)
}

func TestSessionCommands(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/messages",
		v1.SendMessageRequest{Content: "do the thing"}, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"do the thing"}, svc.sentMessages)

	// Missing required field fails binding.
	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/messages", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/approval",
		v1.ApprovalRequest{ApprovalID: "ap1", Allow: true}, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/answer",
		v1.AnswerRequest{QuestionID: "q1", Answers: []string{"yes"}}, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/interrupt", nil, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"s1"}, svc.interrupted)

	name := "renamed"
	w = doJSON(t, router, http.MethodPatch, "/api/v1/sessions/s1/settings",
		v1.UpdateSettingsRequest{Name: &name}, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodPut, "/api/v1/sessions/s1/model",
		v1.SetModelRequest{Model: "opus"}, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestErrorTaxonomyInBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/sessions/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.ErrCodeNotFound, body.Error.Code)
}

func TestManagerRoutesRequireToken(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/manager/step",
		v1.UpdateStepRequest{Step: v1.ManagerStepPlanning}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/manager/step",
		v1.UpdateStepRequest{Step: v1.ManagerStepPlanning},
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The internal secret is not bound to a session, so it cannot drive
	// manager routes.
	w = doJSON(t, router, http.MethodPost, "/api/v1/manager/step",
		v1.UpdateStepRequest{Step: v1.ManagerStepPlanning},
		map[string]string{"Authorization": "Bearer internal-secret"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/manager/step",
		v1.UpdateStepRequest{Step: v1.ManagerStepPlanning},
		map[string]string{"Authorization": "Bearer mgr-token"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []v1.ManagerStep{v1.ManagerStepPlanning}, svc.steps)
}

func TestManagerChildSession(t *testing.T) {
	router, svc := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/manager/sessions",
		v1.CreateSessionRequest{Name: "child", RepoURL: "https://github.com/a/b"},
		map[string]string{"Authorization": "Bearer mgr-token"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"s1"}, svc.childParents, "child is attributed to the token's session")
}

func TestManagerPauseResume(t *testing.T) {
	router, svc := newTestRouter(t)
	auth := map[string]string{"Authorization": "Bearer mgr-token"}

	resume := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	w := doJSON(t, router, http.MethodPost, "/api/v1/manager/pause", v1.PauseRequest{ResumeAt: &resume}, auth)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, svc.pausedResume)
	assert.True(t, svc.pausedResume.Equal(resume))

	w = doJSON(t, router, http.MethodPost, "/api/v1/manager/resume", nil, auth)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, svc.resumed)

	w = doJSON(t, router, http.MethodGet, "/api/v1/manager/state", nil, auth)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRefreshed(t *testing.T) {
	router, svc := newTestRouter(t)

	// Requires the internal secret, not a manager token.
	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/refreshed",
		gin.H{"status": "refreshed", "token": "new-oauth"},
		map[string]string{"Authorization": "Bearer mgr-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/refreshed",
		gin.H{"status": "refreshed", "token": "new-oauth"},
		map[string]string{"Authorization": "Bearer internal-secret"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"refreshed"}, svc.alerts)
	assert.Equal(t, []string{"new-oauth"}, svc.tokenUpdates)

	// Failure reports broadcast an alert but never push tokens.
	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/refreshed",
		gin.H{"status": "refresh_failed", "message": "expired"},
		map[string]string{"Authorization": "Bearer internal-secret"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"refreshed", "refresh_failed"}, svc.alerts)
	assert.Len(t, svc.tokenUpdates, 1)

	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/refreshed",
		gin.H{"status": "exploded"},
		map[string]string{"Authorization": "Bearer internal-secret"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
