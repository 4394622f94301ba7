package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/marcho78/moltvision/pkg/bus"
	"github.com/marcho78/moltvision/pkg/logger"
	"github.com/marcho78/moltvision/pkg/moltbook"
	"github.com/marcho78/moltvision/pkg/persona"
	"github.com/marcho78/moltvision/pkg/providers"
	"github.com/marcho78/moltvision/pkg/store"
)

// Mode controls what the scheduler does with planned actions.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeSemiAuto  Mode = "semi-auto"
	ModeAutopilot Mode = "autopilot"
)

// ErrEmergencyStopActive is returned by SetMode while a stop is in
// effect and the requested mode is not off.
var ErrEmergencyStopActive = errors.New("emergency stop active, reset before changing mode")

// ErrUnknownMode is returned for a mode string outside the known set.
var ErrUnknownMode = errors.New("unknown mode")

// PlatformAPI is the subset of the platform client the orchestrator
// drives. *moltbook.Client satisfies it.
type PlatformAPI interface {
	Username() string
	Feed(ctx context.Context, sort string, limit int) ([]moltbook.Post, error)
	SubmoltPosts(ctx context.Context, name, sort string, limit int) ([]moltbook.Post, error)
	SearchPosts(ctx context.Context, query string, limit int) ([]moltbook.SearchResult, error)
	PostComments(ctx context.Context, postID string) ([]*moltbook.Comment, error)
	CreatePost(ctx context.Context, submolt, title, content string) (*moltbook.Post, error)
	CreateComment(ctx context.Context, postID, parentCommentID, content string) (*moltbook.Comment, error)
	VotePost(ctx context.Context, postID string, direction moltbook.VoteDirection) error
	VoteComment(ctx context.Context, commentID string, direction moltbook.VoteDirection) error
	Follow(ctx context.Context, username string) error
	Unfollow(ctx context.Context, username string) error
	Subscribe(ctx context.Context, submolt string) error
	Unsubscribe(ctx context.Context, submolt string) error
}

// Options bundles the knobs the orchestrator reads from config.
type Options struct {
	ScanInterval     time.Duration
	ActiveCron       string
	MaxActionsPerDay int
	PersonaID        string
}

// Orchestrator owns the scan cycle: aggregate, filter, decide, queue,
// execute, monitor replies. One instance per process.
type Orchestrator struct {
	store    *store.Store
	personas *persona.Store
	platform PlatformAPI
	llm      providers.LLMProvider
	events   *bus.EventBus
	opts     Options

	mu          sync.Mutex
	mode        Mode
	stopped     atomic.Bool
	running     atomic.Bool
	ticker      *time.Ticker
	loopDone    chan struct{}
	cancelCycle context.CancelFunc

	cron *gronx.Gronx

	// injectable for tests
	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the orchestrator with its collaborators injected.
func New(st *store.Store, ps *persona.Store, platform PlatformAPI, llm providers.LLMProvider, events *bus.EventBus, opts Options) *Orchestrator {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 15 * time.Minute
	}
	if opts.MaxActionsPerDay <= 0 {
		opts.MaxActionsPerDay = 50
	}
	if opts.PersonaID == "" {
		opts.PersonaID = persona.DefaultID
	}
	return &Orchestrator{
		store:    st,
		personas: ps,
		platform: platform,
		llm:      llm,
		events:   events,
		opts:     opts,
		mode:     ModeOff,
		cron:     gronx.New(),
		now:      time.Now,
		rand:     rand.Float64,
		sleep:    sleepCtx,
	}
}

func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetMode switches the scheduler between off, semi-auto, and autopilot.
// Entering an active mode starts the timer and triggers one cycle
// immediately.
func (o *Orchestrator) SetMode(mode Mode) error {
	switch mode {
	case ModeOff, ModeSemiAuto, ModeAutopilot:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	if o.stopped.Load() && mode != ModeOff {
		return ErrEmergencyStopActive
	}

	o.mu.Lock()
	prev := o.mode
	o.mode = mode
	if mode == ModeOff {
		o.stopTimerLocked()
	} else if o.ticker == nil {
		o.startTimerLocked()
	}
	o.mu.Unlock()

	if prev != mode {
		logger.InfoCF("orchestrator", "mode changed", map[string]interface{}{"from": string(prev), "to": string(mode)})
		o.events.Publish(bus.Event{Type: bus.EventModeChanged, Message: string(mode)})
	}
	if mode != ModeOff {
		go o.TriggerCycle()
	}
	return nil
}

func (o *Orchestrator) startTimerLocked() {
	o.ticker = time.NewTicker(o.opts.ScanInterval)
	done := make(chan struct{})
	o.loopDone = done
	ticks := o.ticker.C
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticks:
				o.TriggerCycle()
			}
		}
	}()
}

func (o *Orchestrator) stopTimerLocked() {
	if o.ticker != nil {
		o.ticker.Stop()
		o.ticker = nil
	}
	if o.loopDone != nil {
		close(o.loopDone)
		o.loopDone = nil
	}
}

// TriggerCycle runs one scan cycle unless another is already in flight,
// the mode is off, or the active window excludes the current minute.
// Overlapping ticks are skipped, never queued.
func (o *Orchestrator) TriggerCycle() {
	if o.Mode() == ModeOff || o.stopped.Load() {
		return
	}
	if !o.inActiveWindow() {
		logger.DebugC("orchestrator", "tick outside active window, skipping")
		return
	}
	if !o.running.CompareAndSwap(false, true) {
		logger.WarnC("orchestrator", "previous cycle still running, skipping tick")
		return
	}
	defer o.running.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancelCycle = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancelCycle = nil
		o.mu.Unlock()
	}()

	o.events.Publish(bus.Event{Type: bus.EventCycleStart})
	start := o.now()
	if err := o.runCycle(ctx); err != nil {
		logger.ErrorCF("orchestrator", "scan_error", map[string]interface{}{"error": err.Error()})
	}
	o.events.Publish(bus.Event{Type: bus.EventCycleEnd, Fields: map[string]interface{}{
		"duration_ms": o.now().Sub(start).Milliseconds(),
	}})
}

func (o *Orchestrator) inActiveWindow() bool {
	expr := o.opts.ActiveCron
	if expr == "" {
		return true
	}
	due, err := o.cron.IsDue(expr, o.now())
	if err != nil {
		logger.WarnCF("orchestrator", "bad active_cron expression, ignoring gate", map[string]interface{}{"expr": expr, "error": err.Error()})
		return true
	}
	return due
}

// haltCheck reports whether the cycle should abort. Called between
// every external call.
func (o *Orchestrator) haltCheck(ctx context.Context) bool {
	return o.stopped.Load() || ctx.Err() != nil
}

func (o *Orchestrator) progress(phase, message string) {
	o.events.Publish(bus.Event{Type: bus.EventScanProgress, Message: message, Fields: map[string]interface{}{"phase": phase}})
}

// runCycle is one full pass. The persona is loaded fresh each cycle so
// edits take effect on the next tick.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	p, err := o.personas.Load(ctx, o.opts.PersonaID)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	ok, err := o.checkDailyLimit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	o.progress("aggregate", "gathering candidates")
	candidates := o.aggregate(ctx, p)
	if o.haltCheck(ctx) {
		return ctx.Err()
	}

	o.progress("filter", fmt.Sprintf("%d candidates before filters", len(candidates)))
	candidates, err = o.filterCandidates(ctx, candidates, p)
	if err != nil {
		return fmt.Errorf("filter candidates: %w", err)
	}
	logger.InfoCF("orchestrator", "candidates selected", map[string]interface{}{"count": len(candidates)})

	o.progress("decide", "evaluating candidates")
	for _, c := range candidates {
		if o.haltCheck(ctx) {
			return ctx.Err()
		}
		if err := o.processCandidate(ctx, c, p); err != nil {
			logger.WarnCF("orchestrator", "candidate skipped", map[string]interface{}{"post": c.ID, "error": err.Error()})
		}
	}

	if o.haltCheck(ctx) {
		return ctx.Err()
	}
	o.progress("originate", "considering a new post")
	if err := o.considerCreatingPost(ctx, p); err != nil {
		logger.WarnCF("orchestrator", "post origination failed", map[string]interface{}{"error": err.Error()})
	}

	if o.haltCheck(ctx) {
		return ctx.Err()
	}
	o.progress("monitor", "checking replies")
	if err := o.monitorReplies(ctx, p); err != nil {
		logger.WarnCF("orchestrator", "reply monitor failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// processCandidate evaluates one candidate and, if warranted, plans and
// enqueues an action. Per-candidate failures never abort the cycle.
func (o *Orchestrator) processCandidate(ctx context.Context, c Candidate, p *persona.Persona) error {
	var u callUsage
	eval, err := o.evaluatePost(ctx, c, p, &u)
	if err != nil {
		return err
	}
	if eval.Verdict != "engage" {
		logger.DebugCF("orchestrator", "skip verdict", map[string]interface{}{"post": c.ID})
		return nil
	}

	payload, err := o.planAction(ctx, c, eval, p, &u)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	return o.enqueueAction(ctx, *payload, eval.Reasoning, c.Title, eval.Priority, u)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
