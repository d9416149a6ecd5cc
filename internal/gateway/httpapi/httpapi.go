// Package httpapi exposes the REST surface: session CRUD and commands for
// user clients, the manager callback routes for in-container manager
// sessions, and the credential-refresh hook.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/Lmdudester/Clawd-sub001/internal/common/errors"
	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// SessionService is the session-manager surface the REST layer drives.
type SessionService interface {
	ListSessions() []v1.SessionInfo
	GetSession(id string) (*v1.SessionInfo, error)
	GetMessages(id string) ([]v1.SessionMessage, error)
	GetPending(id string) (*v1.PendingApproval, *v1.PendingQuestion, error)
	CreateSession(ctx context.Context, req v1.CreateSessionRequest) (*v1.SessionInfo, error)
	CreateChildSession(ctx context.Context, parentID string, req v1.CreateSessionRequest) (*v1.SessionInfo, error)
	DeleteSession(ctx context.Context, id string) error
	SendMessage(id, content, source string) error
	ApproveToolUse(id, approvalID string, allow bool, message string) error
	AnswerQuestion(id, questionID string, answers []string) error
	InterruptSession(id string) error
	UpdateSessionSettings(id string, req v1.UpdateSettingsRequest) error
	SetModel(id, model string) error
	GetManagerState(id string) (*v1.ManagerState, error)
	UpdateManagerStep(id string, step v1.ManagerStep) error
	PauseManager(id string, resumeAt *time.Time) error
	ResumeManager(id string) error
	ManagerSessionForToken(token string) (string, bool)
	InternalSecret() string
	BroadcastAuthAlert(status, message string)
	BroadcastTokenUpdate(token string)
}

// Handlers holds the REST handlers.
type Handlers struct {
	sessions SessionService
	logger   *logger.Logger
}

// NewHandlers creates the REST handlers.
func NewHandlers(sessions SessionService, log *logger.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "httpapi")),
	}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/v1")

	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.GET("/sessions/:id/messages", h.getMessages)
	api.POST("/sessions/:id/messages", h.sendMessage)
	api.POST("/sessions/:id/approval", h.approve)
	api.POST("/sessions/:id/answer", h.answer)
	api.POST("/sessions/:id/interrupt", h.interrupt)
	api.PATCH("/sessions/:id/settings", h.updateSettings)
	api.PUT("/sessions/:id/model", h.setModel)

	mgr := api.Group("/manager", h.managerAuth)
	mgr.POST("/sessions", h.managerCreateSession)
	mgr.GET("/sessions/:id", h.getSession)
	mgr.POST("/sessions/:id/messages", h.sendMessage)
	mgr.GET("/state", h.managerState)
	mgr.POST("/step", h.managerStep)
	mgr.POST("/pause", h.managerPause)
	mgr.POST("/resume", h.managerResume)

	api.POST("/auth/refreshed", h.authRefreshed)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps taxonomy errors onto HTTP statuses.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": gin.H{
		"code":    apperrors.Code(err),
		"message": err.Error(),
	}})
}

func (h *Handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.ListSessions()})
}

func (h *Handlers) createSession(c *gin.Context) {
	var req v1.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	info, err := h.sessions.CreateSession(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *Handlers) getSession(c *gin.Context) {
	info, err := h.sessions.GetSession(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	approval, question, err := h.sessions.GetPending(info.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":         info,
		"pendingApproval": approval,
		"pendingQuestion": question,
	})
}

func (h *Handlers) deleteSession(c *gin.Context) {
	if err := h.sessions.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) getMessages(c *gin.Context) {
	messages, err := h.sessions.GetMessages(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handlers) sendMessage(c *gin.Context) {
	var req v1.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.SendMessage(c.Param("id"), req.Content, req.Source); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handlers) approve(c *gin.Context) {
	var req v1.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.ApproveToolUse(c.Param("id"), req.ApprovalID, req.Allow, req.Message); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handlers) answer(c *gin.Context) {
	var req v1.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.AnswerQuestion(c.Param("id"), req.QuestionID, req.Answers); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handlers) interrupt(c *gin.Context) {
	if err := h.sessions.InterruptSession(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handlers) updateSettings(c *gin.Context) {
	var req v1.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.UpdateSessionSettings(c.Param("id"), req); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) setModel(c *gin.Context) {
	var req v1.SetModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.SetModel(c.Param("id"), req.Model); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// managerSessionKey carries the authenticated manager session through the
// request context.
const managerSessionKey = "managerSessionID"

// managerAuth validates the bearer token of manager callback routes. Only
// session-bound manager tokens pass; the internal secret has no session to
// act for and is restricted to the auth-refresh hook.
func (h *Handlers) managerAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		h.respondError(c, apperrors.Unauthorized("missing bearer token"))
		c.Abort()
		return
	}
	sessionID, ok := h.sessions.ManagerSessionForToken(token)
	if !ok || sessionID == "" {
		h.respondError(c, apperrors.Unauthorized("invalid manager token"))
		c.Abort()
		return
	}
	c.Set(managerSessionKey, sessionID)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (h *Handlers) managerCreateSession(c *gin.Context) {
	var req v1.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	parentID := c.GetString(managerSessionKey)
	info, err := h.sessions.CreateChildSession(c.Request.Context(), parentID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *Handlers) managerState(c *gin.Context) {
	state, err := h.sessions.GetManagerState(c.GetString(managerSessionKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handlers) managerStep(c *gin.Context) {
	var req v1.UpdateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.UpdateManagerStep(c.GetString(managerSessionKey), req.Step); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) managerPause(c *gin.Context) {
	var req v1.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}
	if err := h.sessions.PauseManager(c.GetString(managerSessionKey), req.ResumeAt); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) managerResume(c *gin.Context) {
	if err := h.sessions.ResumeManager(c.GetString(managerSessionKey)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// authRefreshedRequest is the payload the external credential refresher
// posts after a refresh attempt.
type authRefreshedRequest struct {
	Status  string `json:"status" binding:"required,oneof=refreshed refresh_failed"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// authRefreshed broadcasts the refresh outcome to clients and, on success,
// pushes the new token into every connected agent. Requires the internal
// secret.
func (h *Handlers) authRefreshed(c *gin.Context) {
	token := bearerToken(c)
	secret := h.sessions.InternalSecret()
	if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		h.respondError(c, apperrors.Unauthorized("invalid internal token"))
		return
	}

	var req authRefreshedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.InvalidArgument("invalid payload: "+err.Error()))
		return
	}

	h.sessions.BroadcastAuthAlert(req.Status, req.Message)
	if req.Status == "refreshed" && req.Token != "" {
		h.sessions.BroadcastTokenUpdate(req.Token)
	}
	c.Status(http.StatusAccepted)
}
