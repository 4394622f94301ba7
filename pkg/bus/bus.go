package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the orchestrator. Delivery is fire-and-forget:
// a slow or absent subscriber never blocks a scan cycle.
const (
	EventModeChanged    = "mode-changed"
	EventCycleStart     = "cycle-start"
	EventCycleEnd       = "cycle-end"
	EventScanProgress   = "scan-progress"
	EventActionPending  = "action-pending"
	EventActionExecuted = "action-executed"
	EventLimitReached   = "limit-reached"
	EventEmergencyStop  = "emergency-stop"
)

type Event struct {
	Type    string
	Message string
	Fields  map[string]interface{}
	Time    time.Time
}

type EventBus struct {
	events  chan Event
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

const publishTimeout = 100 * time.Millisecond

func NewEventBus() *EventBus {
	return &EventBus{
		events: make(chan Event, 100),
	}
}

func (eb *EventBus) Publish(evt Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	select {
	case eb.events <- evt:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case eb.events <- evt:
		case <-timer.C:
			eb.dropped.Add(1)
		}
	}
}

// Subscribe blocks until an event is available or ctx is cancelled.
// The second return is false once the bus is closed or ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context) (Event, bool) {
	select {
	case evt, ok := <-eb.events:
		if !ok {
			return Event{}, false
		}
		return evt, true
	case <-ctx.Done():
		return Event{}, false
	}
}

func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.events)
}
