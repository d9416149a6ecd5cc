package mockdriver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lmdudester/Clawd-sub001/internal/agentlink"
	"github.com/Lmdudester/Clawd-sub001/pkg/protocol"
)

type captureEmitter struct {
	mu     sync.Mutex
	frames []protocol.AgentFrame
}

func (c *captureEmitter) Emit(frame protocol.AgentFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *captureEmitter) all() []protocol.AgentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.AgentFrame(nil), c.frames...)
}

func (c *captureEmitter) find(match func(protocol.AgentFrame) bool) protocol.AgentFrame {
	for _, f := range c.all() {
		if match(f) {
			return f
		}
	}
	return nil
}

func TestEchoTurn(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	require.NoError(t, d.Prompt(context.Background(), agentlink.Prompt{Content: "hi there"}, emit))

	frames := emit.all()
	require.Len(t, frames, 2)

	msg, ok := frames[0].(*protocol.SDKMessage)
	require.True(t, ok)
	assert.Equal(t, "echo: hi there", msg.Message.Content)

	result, ok := frames[1].(*protocol.Result)
	require.True(t, ok)
	assert.InDelta(t, 0.01, result.TotalCostUSD, 1e-9)
	assert.False(t, result.IsError)
}

func TestCostAccumulatesAcrossTurns(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	require.NoError(t, d.Prompt(context.Background(), agentlink.Prompt{Content: "one"}, emit))
	require.NoError(t, d.Prompt(context.Background(), agentlink.Prompt{Content: "two"}, emit))

	var last *protocol.Result
	for _, f := range emit.all() {
		if r, ok := f.(*protocol.Result); ok {
			last = r
		}
	}
	require.NotNil(t, last)
	assert.InDelta(t, 0.02, last.TotalCostUSD, 1e-9)
}

func TestApprovalAllowed(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Prompt(context.Background(), agentlink.Prompt{Content: "/approve"}, emit)
	}()

	var req *protocol.ApprovalRequest
	require.Eventually(t, func() bool {
		f := emit.find(func(f protocol.AgentFrame) bool {
			_, ok := f.(*protocol.ApprovalRequest)
			return ok
		})
		if f == nil {
			return false
		}
		req = f.(*protocol.ApprovalRequest)
		return true
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "bash", req.ToolName)

	d.Approve(req.ID, true, "")
	<-done

	msg := emit.find(func(f protocol.AgentFrame) bool {
		m, ok := f.(*protocol.SDKMessage)
		return ok && m.Message.Content == "tool ran successfully"
	})
	assert.NotNil(t, msg)
}

func TestApprovalDenied(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Prompt(context.Background(), agentlink.Prompt{Content: "/approve"}, emit)
	}()

	var id string
	require.Eventually(t, func() bool {
		f := emit.find(func(f protocol.AgentFrame) bool {
			_, ok := f.(*protocol.ApprovalRequest)
			return ok
		})
		if f == nil {
			return false
		}
		id = f.(*protocol.ApprovalRequest).ID
		return true
	}, time.Second, 5*time.Millisecond)

	d.Approve(id, false, "too risky")
	<-done

	msg := emit.find(func(f protocol.AgentFrame) bool {
		m, ok := f.(*protocol.SDKMessage)
		return ok && m.Message.Content == "tool use denied: too risky"
	})
	assert.NotNil(t, msg)
}

func TestQuestionAnswered(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Prompt(context.Background(), agentlink.Prompt{Content: "/ask"}, emit)
	}()

	var q *protocol.Question
	require.Eventually(t, func() bool {
		f := emit.find(func(f protocol.AgentFrame) bool {
			_, ok := f.(*protocol.Question)
			return ok
		})
		if f == nil {
			return false
		}
		q = f.(*protocol.Question)
		return true
	}, time.Second, 5*time.Millisecond)
	require.Len(t, q.Questions, 1)
	assert.Len(t, q.Questions[0].Options, 2)

	d.Answer(q.ID, []string{"thorough"})
	<-done

	msg := emit.find(func(f protocol.AgentFrame) bool {
		m, ok := f.(*protocol.SDKMessage)
		return ok && m.Message.Content == "proceeding with: thorough"
	})
	assert.NotNil(t, msg)
}

func TestInterruptUnblocksPendingApproval(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Prompt(context.Background(), agentlink.Prompt{Content: "/approve"}, emit)
	}()

	require.Eventually(t, func() bool {
		return emit.find(func(f protocol.AgentFrame) bool {
			_, ok := f.(*protocol.ApprovalRequest)
			return ok
		}) != nil
	}, time.Second, 5*time.Millisecond)

	d.Interrupt()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interrupt did not unblock the turn")
	}

	// the interrupted turn still closes with a result
	result := emit.find(func(f protocol.AgentFrame) bool {
		_, ok := f.(*protocol.Result)
		return ok
	})
	assert.NotNil(t, result)
}

func TestErrorScenario(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	require.NoError(t, d.Prompt(context.Background(), agentlink.Prompt{Content: "/error"}, emit))

	frames := emit.all()
	require.Len(t, frames, 1)
	errFrame, ok := frames[0].(*protocol.AgentError)
	require.True(t, ok)
	assert.Equal(t, "scripted failure", errFrame.Message)
}

func TestStreamScenario(t *testing.T) {
	d := New()
	emit := &captureEmitter{}

	require.NoError(t, d.Prompt(context.Background(), agentlink.Prompt{Content: "/stream"}, emit))

	var tokens int
	var final *protocol.SDKMessage
	for _, f := range emit.all() {
		switch f := f.(type) {
		case *protocol.Stream:
			tokens++
		case *protocol.SDKMessage:
			final = f
		}
	}
	assert.Greater(t, tokens, 1)
	require.NotNil(t, final)
	assert.Contains(t, final.Message.Content, "streaming")
}

func TestStaleResolutionsIgnored(t *testing.T) {
	d := New()
	// resolving ids that were never issued must not panic or block
	d.Approve("unknown", true, "")
	d.Answer("unknown", []string{"x"})
	d.Interrupt()
}

func TestModels(t *testing.T) {
	d := New()
	models := d.Models()
	require.NotEmpty(t, models)

	d.SetModel("sonnet")
	d.mu.Lock()
	assert.Equal(t, "sonnet", d.model)
	d.mu.Unlock()
}
