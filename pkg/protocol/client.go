package protocol

import (
	"fmt"

	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// ClientFrame is implemented by every frame a user client may send.
type ClientFrame interface {
	clientFrame()
}

// ClientAuth must be the first frame on a new client connection. Token is
// either a bearer JWT or a manager API token.
type ClientAuth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Subscribe adds a session to the client's subscription set.
type Subscribe struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Unsubscribe removes a session from the client's subscription set.
type Unsubscribe struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SendPrompt submits a user prompt to a session.
type SendPrompt struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Source    string `json:"source,omitempty"`
}

// ApproveTool resolves a pending approval.
type ApproveTool struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	ApprovalID string `json:"approvalId"`
	Allow      bool   `json:"allow"`
	Message    string `json:"message,omitempty"`
}

// AnswerQuestion resolves a pending question.
type AnswerQuestion struct {
	Type       string   `json:"type"`
	SessionID  string   `json:"sessionId"`
	QuestionID string   `json:"questionId"`
	Answers    []string `json:"answers"`
}

// ClientInterrupt asks a session's agent to stop its current turn.
type ClientInterrupt struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ClientUpdateSettings mutates the user-editable settings of a session.
type ClientUpdateSettings struct {
	Type                 string             `json:"type"`
	SessionID            string             `json:"sessionId"`
	PermissionMode       *v1.PermissionMode `json:"permissionMode,omitempty"`
	Name                 *string            `json:"name,omitempty"`
	NotificationsEnabled *bool              `json:"notificationsEnabled,omitempty"`
}

// ClientSetModel selects a session's model.
type ClientSetModel struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

// ClientGetModels asks for the session's usable models.
type ClientGetModels struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

func (*ClientAuth) clientFrame()           {}
func (*Subscribe) clientFrame()            {}
func (*Unsubscribe) clientFrame()          {}
func (*SendPrompt) clientFrame()           {}
func (*ApproveTool) clientFrame()          {}
func (*AnswerQuestion) clientFrame()       {}
func (*ClientInterrupt) clientFrame()      {}
func (*ClientUpdateSettings) clientFrame() {}
func (*ClientSetModel) clientFrame()       {}
func (*ClientGetModels) clientFrame()      {}

// DecodeClientFrame decodes one frame received from a user client.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuth:
		return decodeAs[ClientAuth](data)
	case TypeSubscribe:
		return decodeAs[Subscribe](data)
	case TypeUnsubscribe:
		return decodeAs[Unsubscribe](data)
	case TypeSendPrompt:
		return decodeAs[SendPrompt](data)
	case TypeApproveTool:
		return decodeAs[ApproveTool](data)
	case TypeAnswerQuestion:
		return decodeAs[AnswerQuestion](data)
	case TypeInterrupt:
		return decodeAs[ClientInterrupt](data)
	case TypeUpdateSettings:
		return decodeAs[ClientUpdateSettings](data)
	case TypeSetModel:
		return decodeAs[ClientSetModel](data)
	case TypeGetModels:
		return decodeAs[ClientGetModels](data)
	default:
		return nil, fmt.Errorf("unknown client frame type %q", t)
	}
}

// Broadcast events, master -> client. Each carries the sessionId it concerns
// so clients can route without per-subject sockets.

// SessionUpdateEvent announces any change to a session's info snapshot.
type SessionUpdateEvent struct {
	Type    string         `json:"type"`
	Session v1.SessionInfo `json:"session"`
}

// MessagesEvent announces newly appended message-log entries.
type MessagesEvent struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId"`
	Messages  []v1.SessionMessage `json:"messages"`
}

// StreamEvent relays one streaming token.
type StreamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	MessageID int64  `json:"messageId"`
	Token     string `json:"token"`
}

// ApprovalRequestEvent announces a new pending approval.
type ApprovalRequestEvent struct {
	Type      string             `json:"type"`
	SessionID string             `json:"sessionId"`
	Approval  v1.PendingApproval `json:"approval"`
}

// QuestionEvent announces a new pending question.
type QuestionEvent struct {
	Type      string             `json:"type"`
	SessionID string             `json:"sessionId"`
	Question  v1.PendingQuestion `json:"question"`
}

// ResultEvent announces the end of a turn.
type ResultEvent struct {
	Type         string  `json:"type"`
	SessionID    string  `json:"sessionId"`
	TotalCostUSD float64 `json:"totalCostUsd"`
	NumTurns     int     `json:"numTurns,omitempty"`
	DurationMs   int64   `json:"durationMs,omitempty"`
	IsError      bool    `json:"isError,omitempty"`
}

// ModelsListEvent relays the agent's reported model list.
type ModelsListEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Models    []v1.ModelInfo `json:"models"`
}

// AuthAlert reports the outcome of an external credential refresh.
type AuthAlert struct {
	Type    string `json:"type"`
	Status  string `json:"status"` // refreshed | refresh_failed
	Message string `json:"message,omitempty"`
}

// AuthError tells a client why its auth frame was rejected.
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent reports a failed client command back to its sender only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
