package agentlink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptQueueFIFO(t *testing.T) {
	q := NewPromptQueue(4)
	require.NoError(t, q.Push(Prompt{Content: "one"}))
	require.NoError(t, q.Push(Prompt{Content: "two"}))

	p, ok := q.Pull(context.Background())
	require.True(t, ok)
	assert.Equal(t, "one", p.Content)

	p, ok = q.Pull(context.Background())
	require.True(t, ok)
	assert.Equal(t, "two", p.Content)
}

func TestPromptQueuePullBlocksUntilPush(t *testing.T) {
	q := NewPromptQueue(4)
	got := make(chan Prompt, 1)
	go func() {
		p, ok := q.Pull(context.Background())
		if ok {
			got <- p
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(Prompt{Content: "late"}))

	select {
	case p := <-got:
		assert.Equal(t, "late", p.Content)
	case <-time.After(time.Second):
		t.Fatal("pull never woke up")
	}
}

func TestPromptQueueFull(t *testing.T) {
	q := NewPromptQueue(2)
	require.NoError(t, q.Push(Prompt{Content: "a"}))
	require.NoError(t, q.Push(Prompt{Content: "b"}))
	assert.ErrorIs(t, q.Push(Prompt{Content: "c"}), ErrQueueFull)

	_, ok := q.Pull(context.Background())
	require.True(t, ok)
	assert.NoError(t, q.Push(Prompt{Content: "c"}))
}

func TestPromptQueueCloseDrainsThenEnds(t *testing.T) {
	q := NewPromptQueue(4)
	require.NoError(t, q.Push(Prompt{Content: "queued"}))
	q.Close()

	assert.ErrorIs(t, q.Push(Prompt{Content: "rejected"}), ErrQueueClosed)

	p, ok := q.Pull(context.Background())
	require.True(t, ok)
	assert.Equal(t, "queued", p.Content)

	_, ok = q.Pull(context.Background())
	assert.False(t, ok)
}

func TestPromptQueuePullHonorsContext(t *testing.T) {
	q := NewPromptQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pull(ctx)
	assert.False(t, ok)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, Backoff(attempt), "attempt %d", attempt)
	}
}
