package protocol

import (
	"fmt"

	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
)

// MasterFrame is implemented by every frame the master may send to an agent.
type MasterFrame interface {
	masterFrame()
}

// AuthOK confirms a successful auth on either channel.
type AuthOK struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
}

// UserMessage forwards a user prompt into the agent loop.
type UserMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// ApprovalResponse resolves a pending tool-use approval.
type ApprovalResponse struct {
	Type       string `json:"type"`
	ApprovalID string `json:"approvalId"`
	Allow      bool   `json:"allow"`
	Message    string `json:"message,omitempty"`
}

// QuestionResponse resolves a pending question.
type QuestionResponse struct {
	Type       string   `json:"type"`
	QuestionID string   `json:"questionId"`
	Answers    []string `json:"answers"`
}

// Interrupt asks the agent to stop its current turn. The agent confirms by
// emitting a result frame.
type Interrupt struct {
	Type string `json:"type"`
}

// UpdateSettings forwards the agent-observable settings fields.
type UpdateSettings struct {
	Type           string             `json:"type"`
	PermissionMode *v1.PermissionMode `json:"permissionMode,omitempty"`
}

// SetModel switches the model the agent should use from the next turn on.
type SetModel struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// GetModels asks the agent to report its usable models via ModelsList.
type GetModels struct {
	Type string `json:"type"`
}

// TokenUpdate pushes a refreshed OAuth token into the running agent.
type TokenUpdate struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (*AuthOK) masterFrame()           {}
func (*UserMessage) masterFrame()      {}
func (*ApprovalResponse) masterFrame() {}
func (*QuestionResponse) masterFrame() {}
func (*Interrupt) masterFrame()        {}
func (*UpdateSettings) masterFrame()   {}
func (*SetModel) masterFrame()         {}
func (*GetModels) masterFrame()        {}
func (*TokenUpdate) masterFrame()      {}

// DecodeMasterFrame decodes one frame received by the in-container agent.
func DecodeMasterFrame(data []byte) (MasterFrame, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAuthOK:
		return decodeAs[AuthOK](data)
	case TypeUserMessage:
		return decodeAs[UserMessage](data)
	case TypeApprovalResponse:
		return decodeAs[ApprovalResponse](data)
	case TypeQuestionResponse:
		return decodeAs[QuestionResponse](data)
	case TypeInterrupt:
		return decodeAs[Interrupt](data)
	case TypeUpdateSettings:
		return decodeAs[UpdateSettings](data)
	case TypeSetModel:
		return decodeAs[SetModel](data)
	case TypeGetModels:
		return decodeAs[GetModels](data)
	case TypeTokenUpdate:
		return decodeAs[TokenUpdate](data)
	default:
		return nil, fmt.Errorf("unknown master frame type %q", t)
	}
}
