package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/events/bus"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

// HandleAgentMessage applies one authenticated agent frame to its session.
// Frames for unknown or terminated sessions are dropped. The switch is
// exhaustive over the agent frame set; Auth never reaches here because the
// hub consumes it during the handshake.
func (m *Manager) HandleAgentMessage(sessionID string, frame protocol.AgentFrame) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.info.Status == v1.SessionStatusTerminated {
		m.mu.Unlock()
		m.logger.WithSessionID(sessionID).Debug("dropping frame for inactive session")
		return
	}

	var events []*bus.Event
	emitInfo := false

	switch f := frame.(type) {
	case *protocol.Ready:
		// Agents re-emit ready after reconnecting. Only the initial boot, or
		// a reconnect with nothing pending, lands in idle; a restored
		// awaiting_approval or awaiting_answer stays put.
		switch {
		case sess.info.Status == v1.SessionStatusStarting:
			sess.info.Status = v1.SessionStatusIdle
			emitInfo = true
		case sess.info.Status == v1.SessionStatusReconnecting &&
			sess.pendingApproval == nil && sess.pendingQuestion == nil:
			sess.info.Status = v1.SessionStatusIdle
			emitInfo = true
		default:
			m.logger.WithSessionID(sessionID).Debug("ready frame in non-starting state, keeping status",
				zap.String("status", string(sess.info.Status)))
		}

	case *protocol.SetupProgress:
		msg := sess.appendMessage(v1.SessionMessage{
			Kind:    v1.MessageKindSystem,
			Content: f.Message,
		})
		events = append(events, messagesEvent(sessionID, msg))

	case *protocol.SDKMessage:
		sess.finishStreaming()
		msg := sess.appendMessage(v1.SessionMessage{
			Kind:        f.Message.Kind,
			Content:     f.Message.Content,
			ToolName:    f.Message.ToolName,
			ToolInput:   f.Message.ToolInput,
			IsStreaming: f.Message.IsStreaming,
		})
		events = append(events, messagesEvent(sessionID, msg))
		if sess.info.Status == v1.SessionStatusIdle {
			sess.info.Status = v1.SessionStatusRunning
			emitInfo = true
		}

	case *protocol.Stream:
		// Streaming tokens are relay-only; the durable log sees the final
		// message via sdk_message.
		events = append(events, bus.NewEvent(protocol.TypeStream, sessionID, &protocol.StreamEvent{
			Type:      protocol.TypeStream,
			SessionID: sessionID,
			MessageID: f.MessageID,
			Token:     f.Token,
		}))

	case *protocol.ApprovalRequest:
		if sess.pendingQuestion != nil {
			m.logger.WithSessionID(sessionID).Warn("approval request while a question is pending, dropping the question")
			sess.pendingQuestion = nil
		}
		sess.pendingApproval = &v1.PendingApproval{
			ID:        f.ID,
			ToolName:  f.ToolName,
			ToolInput: f.ToolInput,
			Reason:    f.Reason,
		}
		sess.info.Status = v1.SessionStatusAwaitingApproval
		emitInfo = true
		events = append(events, bus.NewEvent(protocol.TypeApprovalRequest, sessionID, &protocol.ApprovalRequestEvent{
			Type:      protocol.TypeApprovalRequest,
			SessionID: sessionID,
			Approval:  *sess.pendingApproval,
		}))

	case *protocol.Question:
		if sess.pendingApproval != nil {
			m.logger.WithSessionID(sessionID).Warn("question while an approval is pending, dropping the approval")
			sess.pendingApproval = nil
		}
		sess.pendingQuestion = &v1.PendingQuestion{
			ID:        f.ID,
			Questions: f.Questions,
		}
		sess.info.Status = v1.SessionStatusAwaitingAnswer
		emitInfo = true
		events = append(events, bus.NewEvent(protocol.TypeQuestion, sessionID, &protocol.QuestionEvent{
			Type:      protocol.TypeQuestion,
			SessionID: sessionID,
			Question:  *sess.pendingQuestion,
		}))

	case *protocol.Result:
		sess.finishStreaming()
		sess.clearPending()
		applyResult(sess, f)
		sess.info.Status = v1.SessionStatusIdle
		emitInfo = true
		events = append(events, bus.NewEvent(protocol.TypeResult, sessionID, &protocol.ResultEvent{
			Type:         protocol.TypeResult,
			SessionID:    sessionID,
			TotalCostUSD: sess.info.TotalCostUSD,
			NumTurns:     f.NumTurns,
			DurationMs:   f.DurationMs,
			IsError:      f.IsError,
		}))

	case *protocol.StatusUpdate:
		status := v1.SessionStatus(f.Status)
		if !status.Valid() || status == v1.SessionStatusTerminated {
			m.logger.WithSessionID(sessionID).Warn("ignoring invalid agent status",
				zap.String("status", f.Status))
			break
		}
		if sess.info.Status != status {
			sess.info.Status = status
			emitInfo = true
		}

	case *protocol.SessionInfoUpdate:
		if f.Model != nil {
			sess.info.Model = *f.Model
		}
		if f.PermissionMode != nil && f.PermissionMode.Valid() {
			sess.info.PermissionMode = *f.PermissionMode
		}
		if f.TotalCostUSD != nil {
			sess.info.TotalCostUSD = *f.TotalCostUSD
		}
		if f.ContextUsage != nil {
			sess.info.ContextUsage = *f.ContextUsage
		}
		emitInfo = true

	case *protocol.ModelsList:
		events = append(events, bus.NewEvent(protocol.TypeModelsList, sessionID, &protocol.ModelsListEvent{
			Type:      protocol.TypeModelsList,
			SessionID: sessionID,
			Models:    f.Models,
		}))

	case *protocol.AgentError:
		m.logger.WithSessionID(sessionID).Error("agent reported fatal error",
			zap.String("message", f.Message))
		sess.finishStreaming()
		sess.clearPending()
		msg := sess.appendMessage(v1.SessionMessage{
			Kind:    v1.MessageKindError,
			Content: f.Message,
		})
		sess.info.Status = v1.SessionStatusError
		sess.info.ContainerID = nil
		emitInfo = true
		events = append(events, messagesEvent(sessionID, msg))

	default:
		m.logger.WithSessionID(sessionID).Warn("unhandled agent frame")
	}

	if emitInfo {
		events = append(events, sessionUpdateEvent(sess.info))
	}
	isError := sess.info.Status == v1.SessionStatusError
	m.markDirtyLocked()
	m.mu.Unlock()

	m.publish(events...)

	if isError {
		if _, ok := frame.(*protocol.AgentError); ok {
			if err := m.containers.StopAndRemove(context.Background(), sessionID); err != nil {
				m.logger.WithSessionID(sessionID).Warn("container removal after agent error failed",
					zap.Error(err))
			}
		}
	}
}

// applyResult folds a result frame's counters into the session info. Cost is
// cumulative as reported by the agent; durations and turns accumulate.
func applyResult(sess *session, f *protocol.Result) {
	if f.TotalCostUSD > 0 {
		sess.info.TotalCostUSD = f.TotalCostUSD
	}
	cu := &sess.info.ContextUsage
	if f.Usage != nil {
		cu.LastTurn = *f.Usage
		cu.Total.Add(*f.Usage)
	}
	if f.MaxOutputTokens > 0 {
		cu.MaxOutputTokens = f.MaxOutputTokens
	}
	if f.NumTurns > 0 {
		cu.NumTurns += f.NumTurns
	} else {
		cu.NumTurns++
	}
	cu.WallDurationMs += f.DurationMs
	cu.APIDurationMs += f.DurationAPIMs
}

func messagesEvent(sessionID string, msgs ...v1.SessionMessage) *bus.Event {
	return bus.NewEvent(protocol.TypeMessages, sessionID, &protocol.MessagesEvent{
		Type:      protocol.TypeMessages,
		SessionID: sessionID,
		Messages:  msgs,
	})
}
