package orchestrator

import (
	"context"
	"fmt"

	"github.com/marcho78/moltvision/pkg/bus"
	"github.com/marcho78/moltvision/pkg/logger"
)

// EmergencyStop sets the sticky stop flag, halts the timer, cancels the
// in-flight cycle, and bulk-rejects pending actions. Only Reset clears
// the flag; until then SetMode to anything but off fails.
func (o *Orchestrator) EmergencyStop(ctx context.Context) error {
	if !o.stopped.CompareAndSwap(false, true) {
		return nil
	}
	logger.WarnC("orchestrator", "EMERGENCY STOP")

	o.mu.Lock()
	o.mode = ModeOff
	o.stopTimerLocked()
	if o.cancelCycle != nil {
		o.cancelCycle()
	}
	o.mu.Unlock()

	n, err := o.store.RejectAllPending(ctx)
	if err != nil {
		return fmt.Errorf("reject pending on stop: %w", err)
	}
	if auditErr := o.store.AppendAudit(ctx, "emergency_stop", fmt.Sprintf("rejected %d pending actions", n)); auditErr != nil {
		logger.WarnCF("orchestrator", "audit append failed", map[string]interface{}{"error": auditErr.Error()})
	}
	o.events.Publish(bus.Event{Type: bus.EventEmergencyStop, Fields: map[string]interface{}{"rejected": n}})
	return nil
}

// Stopped reports whether an emergency stop is in effect.
func (o *Orchestrator) Stopped() bool {
	return o.stopped.Load()
}

// Reset clears the stop flag. Idempotent; the mode stays off until the
// operator chooses a new one.
func (o *Orchestrator) Reset() {
	if o.stopped.CompareAndSwap(true, false) {
		logger.InfoC("orchestrator", "emergency stop cleared")
	}
}
