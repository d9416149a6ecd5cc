package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("session.s1.result", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("result", "s1", map[string]any{"totalCostUsd": 0.01})
	if err := bus.Publish(ctx, SessionSubject("s1", "result"), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != "result" || got.SessionID != "s1" {
			t.Errorf("got event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var got []string

	_, err := bus.Subscribe(SessionWildcard, func(ctx context.Context, event *Event) error {
		got = append(got, event.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(ctx, SessionSubject("s1", "messages"), NewEvent("messages", "s1", nil))
	_ = bus.Publish(ctx, SessionSubject("s2", "session_update"), NewEvent("session_update", "s2", nil))
	_ = bus.Publish(ctx, "unrelated.subject", NewEvent("noise", "", nil))

	if len(got) != 2 {
		t.Fatalf("wildcard matched %d events, want 2: %v", len(got), got)
	}

	var single []string
	_, err = bus.Subscribe("session.*.result", func(ctx context.Context, event *Event) error {
		single = append(single, event.SessionID)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_ = bus.Publish(ctx, SessionSubject("s3", "result"), NewEvent("result", "s3", nil))
	_ = bus.Publish(ctx, SessionSubject("s3", "messages"), NewEvent("messages", "s3", nil))

	if len(single) != 1 || single[0] != "s3" {
		t.Errorf("single-token wildcard matched %v", single)
	}
}

// TestMemoryEventBus_MessageOrdering verifies that events are delivered to
// handlers in the exact order they are published, which streaming message
// content depends on. With per-handler goroutines this fails; dispatch must
// stay synchronous.
func TestMemoryEventBus_MessageOrdering(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	const numEvents = 200
	receivedOrder := make([]int, 0, numEvents)

	sub, err := bus.Subscribe("session.s1.stream", func(ctx context.Context, event *Event) error {
		receivedOrder = append(receivedOrder, event.Data.(int))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for i := 0; i < numEvents; i++ {
		if err := bus.Publish(ctx, SessionSubject("s1", "stream"), NewEvent("stream", "s1", i)); err != nil {
			t.Fatalf("Publish failed at seq %d: %v", i, err)
		}
	}

	if len(receivedOrder) != numEvents {
		t.Fatalf("received %d events, want %d", len(receivedOrder), numEvents)
	}
	for i, seq := range receivedOrder {
		if seq != i {
			t.Fatalf("event %d received out of order: got seq %d", i, seq)
		}
	}
}

func TestMemoryEventBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	delivered := 0

	_, _ = bus.Subscribe("session.s1.error", func(ctx context.Context, event *Event) error {
		return fmt.Errorf("handler failure")
	})
	_, _ = bus.Subscribe("session.s1.error", func(ctx context.Context, event *Event) error {
		delivered++
		return nil
	})

	if err := bus.Publish(ctx, "session.s1.error", NewEvent("error", "s1", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if delivered != 1 {
		t.Error("second handler not reached after first errored")
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	count := 0

	sub, err := bus.Subscribe("session.s1.messages", func(ctx context.Context, event *Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	_ = bus.Publish(ctx, "session.s1.messages", NewEvent("messages", "s1", nil))
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("subscription still valid after Unsubscribe")
	}
	_ = bus.Publish(ctx, "session.s1.messages", NewEvent("messages", "s1", nil))

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestMemoryEventBus_SubscriberAddedDuringDispatch(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()

	// Handlers run outside the bus lock, so subscribing from inside a
	// handler must not deadlock.
	done := make(chan struct{})
	_, _ = bus.Subscribe("session.s1.ready", func(ctx context.Context, event *Event) error {
		_, err := bus.Subscribe("session.s1.followup", func(context.Context, *Event) error { return nil })
		if err != nil {
			t.Errorf("nested Subscribe failed: %v", err)
		}
		close(done)
		return nil
	})

	if err := bus.Publish(ctx, "session.s1.ready", NewEvent("ready", "s1", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not complete")
	}
}

func TestMirrorRepublishesOnValidSubjects(t *testing.T) {
	src := NewMemoryEventBus(newTestLogger(t))
	dst := NewMemoryEventBus(newTestLogger(t))
	defer src.Close()
	defer dst.Close()

	if _, err := Mirror(src, dst, SessionWildcard, newTestLogger(t)); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	results := 0
	_, err := dst.Subscribe("session.s1.result", func(ctx context.Context, event *Event) error {
		results++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	alerts := 0
	_, err = dst.Subscribe(SubjectAuthAlert, func(ctx context.Context, event *Event) error {
		alerts++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	_ = src.Publish(ctx, SessionSubject("s1", "result"), NewEvent("result", "s1", nil))
	// Auth alerts carry no session id; they must land on the global subject,
	// not an empty-token one.
	_ = src.Publish(ctx, SubjectAuthAlert, NewEvent("auth_alert", "", nil))

	if results != 1 {
		t.Errorf("session event mirrored %d times on session.s1.result, want 1", results)
	}
	if alerts != 1 {
		t.Errorf("auth alert mirrored %d times on the global subject, want 1", alerts)
	}
}

func TestSessionSubjectGlobalFallback(t *testing.T) {
	if got := SessionSubject("", "auth_alert"); got != SubjectAuthAlert {
		t.Errorf("SessionSubject(\"\") = %q, want %q", got, SubjectAuthAlert)
	}
	if got := SessionSubject("s1", "messages"); got != "session.s1.messages" {
		t.Errorf("SessionSubject(s1) = %q", got)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	bus.Close()

	if bus.IsConnected() {
		t.Error("bus still connected after Close")
	}
	if err := bus.Publish(context.Background(), "session.s1.result", NewEvent("result", "s1", nil)); err == nil {
		t.Error("Publish on closed bus should fail")
	}
	if _, err := bus.Subscribe("session.>", func(context.Context, *Event) error { return nil }); err == nil {
		t.Error("Subscribe on closed bus should fail")
	}
}
