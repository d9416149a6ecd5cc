// Package mockdriver implements a scripted agent driver. It speaks the full
// agent protocol without any SDK behind it, which makes it the workhorse for
// tests and local development: prompts select scenarios, approvals and
// questions block on real master round-trips.
package mockdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lmdudester/Clawd-sub001/internal/agentlink"
	v1 "github.com/Lmdudester/Clawd-sub001/pkg/api/v1"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

type decision struct {
	allow   bool
	message string
}

// Driver is a scripted agentlink.Driver.
//
// Prompt scenarios: "/approve" requests a tool-use approval and acts on the
// verdict, "/ask" poses a question, "/error" fails the session, "/stream"
// streams tokens; anything else echoes.
type Driver struct {
	mu        sync.Mutex
	model     string
	costUSD   float64
	turn      int
	approvals map[string]chan decision
	answers   map[string]chan []string
	interrupt context.CancelFunc
}

// New creates the driver.
func New() *Driver {
	return &Driver{
		model:     "opus",
		approvals: make(map[string]chan decision),
		answers:   make(map[string]chan []string),
	}
}

// Start reports container setup progress. The mock has nothing to set up.
func (d *Driver) Start(_ context.Context, emit agentlink.Emitter) error {
	emit.Emit(&protocol.SetupProgress{Type: protocol.TypeSetupProgress, Message: "workspace ready"})
	return nil
}

// Prompt runs one scripted turn.
func (d *Driver) Prompt(ctx context.Context, prompt agentlink.Prompt, emit agentlink.Emitter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.interrupt = cancel
	d.mu.Unlock()

	text := strings.TrimSpace(prompt.Content)
	switch {
	case strings.HasPrefix(text, "/approve"):
		d.approvalTurn(ctx, emit)
	case strings.HasPrefix(text, "/ask"):
		d.questionTurn(ctx, emit)
	case strings.HasPrefix(text, "/error"):
		emit.Emit(&protocol.AgentError{Type: protocol.TypeError, Message: "scripted failure"})
		return nil
	case strings.HasPrefix(text, "/stream"):
		d.streamTurn(ctx, emit)
	default:
		d.say(emit, fmt.Sprintf("echo: %s", text))
	}

	d.result(emit, false)
	return nil
}

func (d *Driver) say(emit agentlink.Emitter, content string) {
	emit.Emit(&protocol.SDKMessage{
		Type: protocol.TypeSDKMessage,
		Message: protocol.AgentMessage{
			Kind:    v1.MessageKindAssistant,
			Content: content,
		},
	})
}

func (d *Driver) approvalTurn(ctx context.Context, emit agentlink.Emitter) {
	id := uuid.New().String()
	ch := make(chan decision, 1)
	d.mu.Lock()
	d.approvals[id] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.approvals, id)
		d.mu.Unlock()
	}()

	input, _ := json.Marshal(map[string]string{"command": "rm -rf build"})
	emit.Emit(&protocol.ApprovalRequest{
		Type:      protocol.TypeApprovalRequest,
		ID:        id,
		ToolName:  "bash",
		ToolInput: input,
		Reason:    "runs a shell command",
	})

	select {
	case <-ctx.Done():
		return
	case verdict := <-ch:
		if verdict.allow {
			d.say(emit, "tool ran successfully")
		} else {
			d.say(emit, "tool use denied: "+verdict.message)
		}
	}
}

func (d *Driver) questionTurn(ctx context.Context, emit agentlink.Emitter) {
	id := uuid.New().String()
	ch := make(chan []string, 1)
	d.mu.Lock()
	d.answers[id] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.answers, id)
		d.mu.Unlock()
	}()

	emit.Emit(&protocol.Question{
		Type: protocol.TypeQuestion,
		ID:   id,
		Questions: []v1.QuestionBlock{{
			Question: "Which approach should I take?",
			Options: []v1.QuestionOption{
				{Label: "quick", Description: "patch it in place"},
				{Label: "thorough", Description: "refactor properly"},
			},
		}},
	})

	select {
	case <-ctx.Done():
		return
	case answers := <-ch:
		d.say(emit, "proceeding with: "+strings.Join(answers, ", "))
	}
}

func (d *Driver) streamTurn(ctx context.Context, emit agentlink.Emitter) {
	const text = "streaming a longer answer one token at a time"
	for i, token := range strings.SplitAfter(text, " ") {
		if ctx.Err() != nil {
			return
		}
		emit.Emit(&protocol.Stream{
			Type:      protocol.TypeStream,
			MessageID: int64(i),
			Token:     token,
		})
		time.Sleep(5 * time.Millisecond)
	}
	d.say(emit, text)
}

func (d *Driver) result(emit agentlink.Emitter, isError bool) {
	d.mu.Lock()
	d.turn++
	d.costUSD += 0.01
	cost := d.costUSD
	d.mu.Unlock()

	emit.Emit(&protocol.Result{
		Type:          protocol.TypeResult,
		TotalCostUSD:  cost,
		Usage:         &v1.TokenUsage{InputTokens: 120, OutputTokens: 60},
		NumTurns:      1,
		DurationMs:    40,
		DurationAPIMs: 25,
		IsError:       isError,
	})
}

// Approve resolves a pending approval.
func (d *Driver) Approve(id string, allow bool, message string) {
	d.mu.Lock()
	ch, ok := d.approvals[id]
	d.mu.Unlock()
	if ok {
		ch <- decision{allow: allow, message: message}
	}
}

// Answer resolves a pending question.
func (d *Driver) Answer(id string, answers []string) {
	d.mu.Lock()
	ch, ok := d.answers[id]
	d.mu.Unlock()
	if ok {
		ch <- answers
	}
}

// Interrupt cancels the turn in flight.
func (d *Driver) Interrupt() {
	d.mu.Lock()
	cancel := d.interrupt
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetModel records the selected model.
func (d *Driver) SetModel(model string) {
	d.mu.Lock()
	d.model = model
	d.mu.Unlock()
}

// Models lists the models the mock pretends to support.
func (d *Driver) Models() []v1.ModelInfo {
	return []v1.ModelInfo{
		{ID: "opus", Name: "Opus"},
		{ID: "sonnet", Name: "Sonnet"},
		{ID: "haiku", Name: "Haiku"},
	}
}
