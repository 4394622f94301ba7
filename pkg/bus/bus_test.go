package bus

import (
	"context"
	"testing"
)

func TestEventBus_PublishDropsWhenBufferFull(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	for i := 0; i < cap(eb.events); i++ {
		eb.Publish(Event{Type: EventScanProgress, Message: "msg"})
	}

	eb.Publish(Event{Type: EventScanProgress, Message: "overflow"})
	if eb.Dropped() != 1 {
		t.Fatalf("expected dropped count 1, got %d", eb.Dropped())
	}
}

func TestEventBus_SubscribeReceivesInOrder(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	eb.Publish(Event{Type: EventCycleStart})
	eb.Publish(Event{Type: EventCycleEnd})

	ctx := context.Background()
	first, ok := eb.Subscribe(ctx)
	if !ok || first.Type != EventCycleStart {
		t.Fatalf("expected cycle-start first, got %+v ok=%v", first, ok)
	}
	if first.Time.IsZero() {
		t.Fatalf("expected publish to stamp event time")
	}
	second, ok := eb.Subscribe(ctx)
	if !ok || second.Type != EventCycleEnd {
		t.Fatalf("expected cycle-end second, got %+v ok=%v", second, ok)
	}
}

func TestEventBus_ClosedReturnsFalse(t *testing.T) {
	eb := NewEventBus()
	eb.Close()

	if _, ok := eb.Subscribe(context.Background()); ok {
		t.Fatalf("expected closed subscribe to return ok=false")
	}
}
