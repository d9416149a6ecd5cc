package agentlink

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned when a prompt arrives faster than the driver
// consumes them.
var ErrQueueFull = errors.New("prompt queue full")

// ErrQueueClosed is returned when pushing after Close.
var ErrQueueClosed = errors.New("prompt queue closed")

// Prompt is one queued user message.
type Prompt struct {
	Content string
	Source  string
}

// PromptQueue is a bounded FIFO between the link's read loop (producer) and
// the driver loop (consumer). Close signals end-of-stream.
type PromptQueue struct {
	mu      sync.Mutex
	wakeup  chan struct{}
	prompts []Prompt
	limit   int
	closed  bool
}

// NewPromptQueue creates a queue holding at most limit prompts.
func NewPromptQueue(limit int) *PromptQueue {
	return &PromptQueue{
		wakeup: make(chan struct{}, 1),
		limit:  limit,
	}
}

// Push appends a prompt and wakes the consumer.
func (q *PromptQueue) Push(p Prompt) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.prompts) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.prompts = append(q.prompts, p)
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// Pull blocks for the next prompt. ok is false when the queue is closed and
// drained, or the context is done.
func (q *PromptQueue) Pull(ctx context.Context) (Prompt, bool) {
	for {
		q.mu.Lock()
		if len(q.prompts) > 0 {
			p := q.prompts[0]
			q.prompts = q.prompts[1:]
			q.mu.Unlock()
			return p, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Prompt{}, false
		}
		select {
		case <-ctx.Done():
			return Prompt{}, false
		case <-q.wakeup:
		}
	}
}

// Close marks end-of-stream. Queued prompts still drain.
func (q *PromptQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}
