// Package protocol defines the JSON frame sets spoken on clawd's two
// WebSocket channels: the internal agent channel (master <-> in-container
// agent) and the public client channel (master <-> user clients).
//
// Every frame is a flat JSON object whose "type" field selects the variant.
// Decoding is exhaustive: unknown types are an error, so each side can
// type-switch over a sealed set.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Agent -> master frame types.
const (
	TypeAuth              = "auth"
	TypeReady             = "ready"
	TypeSetupProgress     = "setup_progress"
	TypeSDKMessage        = "sdk_message"
	TypeStream            = "stream"
	TypeApprovalRequest   = "approval_request"
	TypeQuestion          = "question"
	TypeResult            = "result"
	TypeStatusUpdate      = "status_update"
	TypeSessionInfoUpdate = "session_info_update"
	TypeModelsList        = "models_list"
	TypeError             = "error"
)

// Master -> agent frame types.
const (
	TypeAuthOK           = "auth_ok"
	TypeUserMessage      = "user_message"
	TypeApprovalResponse = "approval_response"
	TypeQuestionResponse = "question_response"
	TypeInterrupt        = "interrupt"
	TypeUpdateSettings   = "update_settings"
	TypeSetModel         = "set_model"
	TypeGetModels        = "get_models"
	TypeTokenUpdate      = "token_update"
)

// Client -> master frame types (auth and get_models reuse the names above).
const (
	TypeSubscribe      = "subscribe"
	TypeUnsubscribe    = "unsubscribe"
	TypeSendPrompt     = "send_prompt"
	TypeApproveTool    = "approve_tool"
	TypeAnswerQuestion = "answer_question"
)

// Master -> client frame types (session events reuse the agent names).
const (
	TypeSessionUpdate = "session_update"
	TypeMessages      = "messages"
	TypeAuthAlert     = "auth_alert"
	TypeAuthError     = "auth_error"
)

// CloseUnauthorized is the WebSocket close code sent when authentication
// fails or times out on either channel.
const CloseUnauthorized = 4001

type envelope struct {
	Type string `json:"type"`
}

// peekType extracts the discriminant without decoding the full frame.
func peekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("frame has no type")
	}
	return env.Type, nil
}

func decodeAs[T any](data []byte) (*T, error) {
	f := new(T)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return f, nil
}
