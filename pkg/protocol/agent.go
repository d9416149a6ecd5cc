package protocol

import (
	"encoding/json"
	"fmt"

	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// AgentFrame is implemented by every frame an agent may send to the master.
type AgentFrame interface {
	agentFrame()
}

// Auth must be the first frame on a new agent connection.
type Auth struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// Ready signals the agent finished its container setup and accepts prompts.
type Ready struct {
	Type string `json:"type"`
}

// SetupProgress reports human-readable progress while the container prepares.
type SetupProgress struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AgentMessage is the message body carried by an SDKMessage frame. Its own
// "type" field is the message kind, not a frame type.
type AgentMessage struct {
	Kind        v1.MessageKind  `json:"type"`
	Content     string          `json:"content"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	IsStreaming bool            `json:"isStreaming,omitempty"`
}

// SDKMessage carries one finalized (or stream-final) conversation message.
type SDKMessage struct {
	Type    string       `json:"type"`
	Message AgentMessage `json:"message"`
}

// Stream carries one streaming token for the message currently being
// produced. Stream frames never mutate the durable log.
type Stream struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	Token     string `json:"token"`
}

// ApprovalRequest asks the user to allow or deny a tool use.
type ApprovalRequest struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Question asks the user to answer one or more question blocks.
type Question struct {
	Type      string             `json:"type"`
	ID        string             `json:"id"`
	Questions []v1.QuestionBlock `json:"questions"`
}

// Result marks the end of a turn and carries its cost and usage numbers.
type Result struct {
	Type            string          `json:"type"`
	TotalCostUSD    float64         `json:"totalCostUsd,omitempty"`
	Usage           *v1.TokenUsage  `json:"usage,omitempty"`
	MaxOutputTokens int64           `json:"maxOutputTokens,omitempty"`
	NumTurns        int             `json:"numTurns,omitempty"`
	DurationMs      int64           `json:"durationMs,omitempty"`
	DurationAPIMs   int64           `json:"durationApiMs,omitempty"`
	IsError         bool            `json:"isError,omitempty"`
	Detail          json.RawMessage `json:"detail,omitempty"`
}

// StatusUpdate lets the agent report a status transition on its own.
type StatusUpdate struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// SessionInfoUpdate merges agent-reported info fields into the session.
type SessionInfoUpdate struct {
	Type           string             `json:"type"`
	Model          *string            `json:"model,omitempty"`
	PermissionMode *v1.PermissionMode `json:"permissionMode,omitempty"`
	TotalCostUSD   *float64           `json:"totalCostUsd,omitempty"`
	ContextUsage   *v1.ContextUsage   `json:"contextUsage,omitempty"`
}

// ModelsList answers a get_models request.
type ModelsList struct {
	Type   string         `json:"type"`
	Models []v1.ModelInfo `json:"models"`
}

// AgentError reports a fatal agent-side failure.
type AgentError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (*Auth) agentFrame()              {}
func (*Ready) agentFrame()             {}
func (*SetupProgress) agentFrame()     {}
func (*SDKMessage) agentFrame()        {}
func (*Stream) agentFrame()            {}
func (*ApprovalRequest) agentFrame()   {}
func (*Question) agentFrame()          {}
func (*Result) agentFrame()            {}
func (*StatusUpdate) agentFrame()      {}
func (*SessionInfoUpdate) agentFrame() {}
func (*ModelsList) agentFrame()        {}
func (*AgentError) agentFrame()        {}

// DecodeAgentFrame decodes one frame received from an agent.
func DecodeAgentFrame(data []byte) (AgentFrame, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuth:
		return decodeAs[Auth](data)
	case TypeReady:
		return decodeAs[Ready](data)
	case TypeSetupProgress:
		return decodeAs[SetupProgress](data)
	case TypeSDKMessage:
		return decodeAs[SDKMessage](data)
	case TypeStream:
		return decodeAs[Stream](data)
	case TypeApprovalRequest:
		return decodeAs[ApprovalRequest](data)
	case TypeQuestion:
		return decodeAs[Question](data)
	case TypeResult:
		return decodeAs[Result](data)
	case TypeStatusUpdate:
		return decodeAs[StatusUpdate](data)
	case TypeSessionInfoUpdate:
		return decodeAs[SessionInfoUpdate](data)
	case TypeModelsList:
		return decodeAs[ModelsList](data)
	case TypeError:
		return decodeAs[AgentError](data)
	default:
		return nil, fmt.Errorf("unknown agent frame type %q", t)
	}
}
