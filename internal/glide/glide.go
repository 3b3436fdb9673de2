// Package glide moves the theremin's fundamental smoothly from one pitch to
// the next.
//
// The [Controller] is the single owner of the current fundamental. Targets
// arrive from the depth pipeline; the controller either applies them
// directly or schedules a cancellable task that walks the fundamental toward
// the target in fixed steps. Every change, whether direct or ticked, reaches
// the [Sink] while the controller's lock is held, so the sink sees one
// totally ordered stream of updates.
package glide

import (
	"errors"
	"math"
	"sync"
	"time"
)

// State is the controller's glide state.
type State int

const (
	// Idle means no glide task is scheduled.
	Idle State = iota

	// Transitioning means a glide task is walking toward a target.
	Transitioning
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Transitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// Event classifies glide lifecycle notifications passed to an observer
// registered with [WithObserver].
type Event int

const (
	// EventStarted is emitted when a glide task is scheduled.
	EventStarted Event = iota

	// EventCancelled is emitted when a newer target preempts a glide.
	EventCancelled

	// EventCompleted is emitted when a glide reaches its target.
	EventCompleted

	// EventDirect is emitted when a target is applied in one jump.
	EventDirect
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventCancelled:
		return "cancelled"
	case EventCompleted:
		return "completed"
	case EventDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// Sink receives fundamental updates. Methods are called with the
// controller's lock held and must not call back into the controller.
type Sink interface {
	// Fundamental retunes and unmutes the voices to hz.
	Fundamental(hz float64)

	// Silence mutes the voices.
	Silence()
}

// Ticker is the subset of [time.Ticker] the controller needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a [Ticker] firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps [time.NewTicker].
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithStepSize sets the frequency change per tick in Hz.
func WithStepSize(hz float64) Option {
	return func(c *Controller) { c.stepSize = hz }
}

// WithEpsilon sets the smallest target change that triggers an update.
func WithEpsilon(hz float64) Option {
	return func(c *Controller) { c.epsilon = hz }
}

// WithTable sets the jump-size to duration table.
func WithTable(t Table) Option {
	return func(c *Controller) { c.table = t }
}

// WithEnabled turns gliding on or off. When off, every target is applied
// directly. Gliding is on by default.
func WithEnabled(enabled bool) Option {
	return func(c *Controller) { c.enabled = enabled }
}

// WithTicker replaces the ticker factory. Tests use this to drive ticks by
// hand.
func WithTicker(fn TickerFunc) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newTicker = fn
		}
	}
}

// WithObserver registers fn to receive lifecycle events. fn is called with
// the controller's lock held and must not block.
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) { c.observe = fn }
}

// Controller owns the current fundamental and at most one glide task.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	sink      Sink
	stepSize  float64
	epsilon   float64
	table     Table
	newTicker TickerFunc
	observe   func(Event)

	mu       sync.Mutex
	enabled  bool
	current  float64
	silenced bool
	closed   bool
	gen      uint64
	task     *task
}

// task is one scheduled glide. It is owned by the controller while
// c.task == t; once replaced, its goroutine exits without touching state.
type task struct {
	gen     uint64
	plan    Plan
	elapsed int
	stop    chan struct{}
}

// New creates a [Controller] that pushes updates to sink. The controller
// starts idle and silenced with no fundamental.
func New(sink Sink, opts ...Option) (*Controller, error) {
	if sink == nil {
		return nil, errors.New("glide: sink must not be nil")
	}
	c := &Controller{
		sink:      sink,
		stepSize:  DefaultStepSize,
		epsilon:   DefaultEpsilon,
		table:     DefaultTable,
		newTicker: NewRealTicker,
		enabled:   true,
		silenced:  true,
	}
	for _, o := range opts {
		o(c)
	}
	if !(c.stepSize > 0) || math.IsInf(c.stepSize, 0) {
		return nil, errors.New("glide: step size must be positive")
	}
	if !(c.epsilon >= 0) {
		return nil, errors.New("glide: epsilon must not be negative")
	}
	if err := c.table.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetTarget moves the fundamental toward target, replacing any glide in
// flight. The new glide starts from the current, possibly mid-glide,
// fundamental.
//
// The target is applied directly when gliding is disabled, when nothing is
// sounding yet (no previous fundamental, or the voices were released), or
// when the duration table maps the jump to zero.
func (c *Controller) SetTarget(target float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !(target > 0) || math.IsInf(target, 0) {
		return
	}

	diff := math.Abs(target - c.current)
	if c.task == nil && !c.silenced && diff <= c.epsilon {
		return
	}
	c.cancelLocked()

	if !c.enabled || c.silenced || c.current == 0 || diff <= c.epsilon {
		c.setLocked(target)
		c.emit(EventDirect)
		return
	}

	plan := NewPlan(c.current, target, c.stepSize, c.table)
	if plan.Instant() {
		c.setLocked(target)
		c.emit(EventDirect)
		return
	}

	c.gen++
	t := &task{gen: c.gen, plan: plan, stop: make(chan struct{})}
	c.task = t
	ticker := c.newTicker(plan.Interval)
	c.emit(EventStarted)
	go c.run(t, ticker)
}

// Release cancels any glide in flight and silences the sink. The next
// target after a release is applied directly.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cancelLocked()
	if !c.silenced {
		c.silenced = true
		c.sink.Silence()
	}
}

// Cancel stops any glide in flight, leaving the fundamental wherever the
// glide had reached. Cancelling when idle is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

// SetEnabled turns gliding on or off at runtime. Disabling mid-glide jumps
// straight to the glide's target.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
	if enabled || c.task == nil {
		return
	}
	end := c.task.plan.End
	c.cancelLocked()
	c.setLocked(end)
	c.emit(EventDirect)
}

// Enabled reports whether gliding is on.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Close cancels any glide in flight and makes further calls no-ops. It does
// not silence the sink; call [Controller.Release] first for that.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.closed = true
}

// Current returns the fundamental most recently pushed to the sink, or zero
// before the first update.
func (c *Controller) Current() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State reports whether a glide is in flight.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return Transitioning
	}
	return Idle
}

// Generation returns the number of glide tasks scheduled so far.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// run drives one task until it completes or is cancelled.
func (c *Controller) run(t *task, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C():
			if !c.tick(t) {
				return
			}
		}
	}
}

// tick advances t by one step. It reports whether the task should keep
// running.
func (c *Controller) tick(t *task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A tick can race with cancellation; only the current task may write.
	if c.task == nil || c.task.gen != t.gen {
		return false
	}

	t.elapsed++
	next := c.current + t.plan.Step
	done := t.elapsed >= t.plan.TotalSteps ||
		(t.plan.Step > 0 && next >= t.plan.End) ||
		(t.plan.Step < 0 && next <= t.plan.End)
	if done {
		next = t.plan.End
	}

	c.current = next
	c.silenced = false
	c.sink.Fundamental(next)

	if done {
		c.task = nil
		c.emit(EventCompleted)
		return false
	}
	return true
}

func (c *Controller) cancelLocked() {
	if c.task == nil {
		return
	}
	close(c.task.stop)
	c.task = nil
	c.emit(EventCancelled)
}

func (c *Controller) setLocked(hz float64) {
	c.current = hz
	c.silenced = false
	c.sink.Fundamental(hz)
}

func (c *Controller) emit(e Event) {
	if c.observe != nil {
		c.observe(e)
	}
}
