package agentlink

import (
	"context"

	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

// promptQueueLimit bounds prompts waiting for the driver. The master
// serializes turns, so the queue only fills when something is badly wrong.
const promptQueueLimit = 64

// Emitter sends agent frames to the master.
type Emitter interface {
	Emit(frame protocol.AgentFrame)
}

// Driver is the actual agent. Prompt runs one full turn synchronously and
// emits its frames (messages, approvals, questions, final result) through
// the emitter; the remaining methods are called from the link's read loop
// while a turn may be in flight.
type Driver interface {
	Start(ctx context.Context, emit Emitter) error
	Prompt(ctx context.Context, prompt Prompt, emit Emitter) error
	Approve(id string, allow bool, message string)
	Answer(id string, answers []string)
	Interrupt()
	SetModel(model string)
	Models() []v1.ModelInfo
}

// Sender carries agent frames to the master. *Link implements it.
type Sender interface {
	Send(frame protocol.AgentFrame)
}

// Runner wires a Link to a Driver: master frames in, driver frames out.
type Runner struct {
	link    Sender
	driver  Driver
	prompts *PromptQueue
	logger  *logger.Logger
}

// NewRunner creates a runner. Wire its HandleFrame into the link's handler.
func NewRunner(driver Driver, log *logger.Logger) *Runner {
	return &Runner{
		driver:  driver,
		prompts: NewPromptQueue(promptQueueLimit),
		logger:  log.WithFields(zap.String("component", "agent_runner")),
	}
}

// Bind attaches the link the runner emits through.
func (r *Runner) Bind(link Sender) {
	r.link = link
}

// Emit implements Emitter.
func (r *Runner) Emit(frame protocol.AgentFrame) {
	if r.link != nil {
		r.link.Send(frame)
	}
}

// HandleFrame routes one master frame. Called from the link's read loop.
func (r *Runner) HandleFrame(frame protocol.MasterFrame) {
	switch f := frame.(type) {
	case *protocol.UserMessage:
		if err := r.prompts.Push(Prompt{Content: f.Content, Source: f.Source}); err != nil {
			r.logger.Error("dropping user message", zap.Error(err))
			r.Emit(&protocol.AgentError{
				Type:    protocol.TypeError,
				Message: "prompt queue overflow",
			})
		}

	case *protocol.ApprovalResponse:
		r.driver.Approve(f.ApprovalID, f.Allow, f.Message)

	case *protocol.QuestionResponse:
		r.driver.Answer(f.QuestionID, f.Answers)

	case *protocol.Interrupt:
		r.driver.Interrupt()

	case *protocol.UpdateSettings:
		if f.PermissionMode != nil {
			r.Emit(&protocol.SessionInfoUpdate{
				Type:           protocol.TypeSessionInfoUpdate,
				PermissionMode: f.PermissionMode,
			})
		}

	case *protocol.SetModel:
		r.driver.SetModel(f.Model)
		model := f.Model
		r.Emit(&protocol.SessionInfoUpdate{
			Type:  protocol.TypeSessionInfoUpdate,
			Model: &model,
		})

	case *protocol.GetModels:
		r.Emit(&protocol.ModelsList{
			Type:   protocol.TypeModelsList,
			Models: r.driver.Models(),
		})

	case *protocol.TokenUpdate:
		// Credential rotation is handled by the refresher sidecar writing
		// the credentials file; nothing to do in-process.
		r.logger.Info("received token update")

	case *protocol.AuthOK:
		// Consumed during the handshake.
	}
}

// Run starts the driver and consumes prompts until ctx is done or the queue
// closes. Emits ready once the driver is up.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.driver.Start(ctx, r); err != nil {
		r.Emit(&protocol.AgentError{Type: protocol.TypeError, Message: err.Error()})
		return err
	}
	r.Emit(&protocol.Ready{Type: protocol.TypeReady})

	for {
		prompt, ok := r.prompts.Pull(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := r.driver.Prompt(ctx, prompt, r); err != nil {
			r.logger.Error("turn failed", zap.Error(err))
			r.Emit(&protocol.Result{Type: protocol.TypeResult, IsError: true})
		}
	}
}

// Close ends the prompt stream.
func (r *Runner) Close() {
	r.prompts.Close()
}
