package comms

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()

	var got []*Event
	unsub := bus.Subscribe(func(_ context.Context, ev *Event) error {
		got = append(got, ev)
		return nil
	})

	ev := &Event{Type: TypeExchange, Handler: "general_assistant", Query: "hi", Response: "hello"}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || got[0].Handler != "general_assistant" {
		t.Fatalf("subscriber got %v", got)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Publish did not stamp the event")
	}

	unsub()
	if err := bus.Publish(context.Background(), &Event{Type: TypeExchange}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 {
		t.Error("unsubscribed subscriber still invoked")
	}
}

func TestInMemoryBus_SubscriberError(t *testing.T) {
	bus := NewInMemoryBus()
	bus.Subscribe(func(context.Context, *Event) error { return errors.New("boom") })

	if err := bus.Publish(context.Background(), &Event{Type: TypeNotification}); err == nil {
		t.Error("Publish swallowed subscriber error")
	}
}

func TestInMemoryBus_Recent(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		bus.Publish(ctx, &Event{Type: TypeExchange, Query: fmt.Sprintf("q%d", i)}) //nolint:errcheck
	}
	bus.Publish(ctx, &Event{Type: TypeNotification, Message: "heads up"}) //nolint:errcheck

	recent := bus.Recent(TypeExchange, 3)
	if len(recent) != 3 {
		t.Fatalf("Recent = %d events, want 3", len(recent))
	}
	// Most recent first.
	if recent[0].Query != "q4" || recent[2].Query != "q2" {
		t.Errorf("Recent order wrong: %q ... %q", recent[0].Query, recent[2].Query)
	}

	all := bus.Recent("", 0)
	if len(all) != 6 {
		t.Errorf("Recent all = %d, want 6", len(all))
	}
}

func TestInMemoryBus_HistoryBounded(t *testing.T) {
	bus := NewInMemoryBus()
	bus.maxHist = 10
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		bus.Publish(ctx, &Event{Type: TypeExchange, Query: fmt.Sprintf("q%d", i)}) //nolint:errcheck
	}
	all := bus.Recent(TypeExchange, 0)
	if len(all) != 10 {
		t.Fatalf("history = %d events, want 10", len(all))
	}
	if all[0].Query != "q24" {
		t.Errorf("newest = %q, want q24", all[0].Query)
	}
}
