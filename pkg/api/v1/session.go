package v1

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusStarting          SessionStatus = "starting"
	SessionStatusIdle              SessionStatus = "idle"
	SessionStatusRunning           SessionStatus = "running"
	SessionStatusAwaitingApproval  SessionStatus = "awaiting_approval"
	SessionStatusAwaitingAnswer    SessionStatus = "awaiting_answer"
	SessionStatusReconnecting      SessionStatus = "reconnecting"
	SessionStatusError             SessionStatus = "error"
	SessionStatusTerminated        SessionStatus = "terminated"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusStarting, SessionStatusIdle, SessionStatusRunning,
		SessionStatusAwaitingApproval, SessionStatusAwaitingAnswer,
		SessionStatusReconnecting, SessionStatusError, SessionStatusTerminated:
		return true
	}
	return false
}

// Live reports whether the session is expected to have a container attached.
func (s SessionStatus) Live() bool {
	switch s {
	case SessionStatusStarting, SessionStatusIdle, SessionStatusRunning,
		SessionStatusAwaitingApproval, SessionStatusAwaitingAnswer,
		SessionStatusReconnecting:
		return true
	}
	return false
}

// PermissionMode controls how the agent handles tool permission checks
type PermissionMode string

const (
	PermissionModeNormal    PermissionMode = "normal"
	PermissionModeAutoEdits PermissionMode = "auto_edits"
	PermissionModeDangerous PermissionMode = "dangerous"
	PermissionModePlan      PermissionMode = "plan"
)

// Valid reports whether m is a known permission mode.
func (m PermissionMode) Valid() bool {
	switch m {
	case PermissionModeNormal, PermissionModeAutoEdits, PermissionModeDangerous, PermissionModePlan:
		return true
	}
	return false
}

// MessageKind classifies entries in a session's message log
type MessageKind string

const (
	MessageKindUser       MessageKind = "user"
	MessageKindAssistant  MessageKind = "assistant"
	MessageKindToolCall   MessageKind = "tool_call"
	MessageKindToolResult MessageKind = "tool_result"
	MessageKindSystem     MessageKind = "system"
	MessageKindError      MessageKind = "error"
)

// TokenUsage holds token counters for one turn or cumulatively.
type TokenUsage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
}

// Add accumulates u into the receiver.
func (t *TokenUsage) Add(u TokenUsage) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheReadTokens += u.CacheReadTokens
	t.CacheCreationTokens += u.CacheCreationTokens
}

// ContextUsage tracks cumulative and last-turn context consumption for a session.
type ContextUsage struct {
	Total           TokenUsage `json:"total"`
	LastTurn        TokenUsage `json:"lastTurn"`
	MaxOutputTokens int64      `json:"maxOutputTokens"`
	NumTurns        int        `json:"numTurns"`
	WallDurationMs  int64      `json:"wallDurationMs"`
	APIDurationMs   int64      `json:"apiDurationMs"`
}

// SessionInfo is the client-visible snapshot of a session. The per-session
// agent token is deliberately not part of it.
type SessionInfo struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Creator              string         `json:"creator"`
	RepoURL              string         `json:"repoUrl"`
	Branch               string         `json:"branch"`
	DockerAccess         bool           `json:"dockerAccess"`
	ManagerMode          bool           `json:"managerMode"`
	PermissionMode       PermissionMode `json:"permissionMode"`
	Model                string         `json:"model"`
	NotificationsEnabled bool           `json:"notificationsEnabled"`
	ContainerID          *string        `json:"containerId"`
	Status               SessionStatus  `json:"status"`
	CreatedAt            time.Time      `json:"createdAt"`
	LastMessageAt        *time.Time     `json:"lastMessageAt,omitempty"`
	LastMessagePreview   string         `json:"lastMessagePreview,omitempty"`
	TotalCostUSD         float64        `json:"totalCostUsd"`
	ContextUsage         ContextUsage   `json:"contextUsage"`
}

// SessionMessage is one entry in a session's ordered message log.
type SessionMessage struct {
	ID          int64           `json:"id"`
	Kind        MessageKind     `json:"kind"`
	Content     string          `json:"content"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	IsStreaming bool            `json:"isStreaming,omitempty"`
}

// PendingApproval is an outstanding tool-use approval awaiting a user response.
type PendingApproval struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// QuestionOption is one selectable answer for a question block.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionBlock is one question posed by the agent.
type QuestionBlock struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multiSelect,omitempty"`
}

// PendingQuestion is an outstanding agent question awaiting user answers.
type PendingQuestion struct {
	ID        string          `json:"id"`
	Questions []QuestionBlock `json:"questions"`
}

// ModelInfo describes one model the agent reports as usable.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateSessionRequest for creating a new session
type CreateSessionRequest struct {
	Name         string `json:"name" binding:"required,max=255"`
	RepoURL      string `json:"repoUrl" binding:"required"`
	Branch       string `json:"branch"`
	DockerAccess bool   `json:"dockerAccess"`
	ManagerMode  bool   `json:"managerMode"`
	Model        string `json:"model"`
	Creator      string `json:"creator"`
	// Source is opaque metadata; manager-created child sessions carry "auto_continue".
	Source string `json:"source,omitempty"`
}

// SendMessageRequest for sending a user prompt into a session
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Source  string `json:"source,omitempty"`
}

// ApprovalRequest for answering a pending tool-use approval
type ApprovalRequest struct {
	ApprovalID string `json:"approvalId" binding:"required"`
	Allow      bool   `json:"allow"`
	Message    string `json:"message,omitempty"`
}

// AnswerRequest for answering a pending agent question
type AnswerRequest struct {
	QuestionID string   `json:"questionId" binding:"required"`
	Answers    []string `json:"answers"`
}

// UpdateSettingsRequest mutates the user-editable session settings.
// Nil fields are left unchanged.
type UpdateSettingsRequest struct {
	PermissionMode       *PermissionMode `json:"permissionMode,omitempty"`
	Name                 *string         `json:"name,omitempty" binding:"omitempty,max=255"`
	NotificationsEnabled *bool           `json:"notificationsEnabled,omitempty"`
}

// SetModelRequest selects the model the agent should use.
type SetModelRequest struct {
	Model string `json:"model" binding:"required"`
}
