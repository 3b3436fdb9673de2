// Package pipeline turns depth frames into pitch targets.
//
// A [Pipeline] is the [depth.Handler] a depth source drives. For every frame
// it reduces the pixels to a mean distance, gates that distance against the
// playing range, maps the resulting level to a quantized frequency, and hands
// the frequency to a [Target] (normally a glide controller). Frames the
// pipeline cannot use are counted and dropped; they never stop the source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/theremin/internal/observe"
	"github.com/MrWong99/theremin/internal/pitch"
	"github.com/MrWong99/theremin/pkg/depth"
)

// Outcome classifies what the pipeline did with a frame.
type Outcome int

const (
	// OutcomeUpdated means a new target was handed to the [Target].
	OutcomeUpdated Outcome = iota

	// OutcomeUnchanged means the frame quantized to the pitch already
	// targeted, so the [Target] was left alone.
	OutcomeUnchanged

	// OutcomeOutOfRange means the hand was outside the playing range.
	OutcomeOutOfRange

	// OutcomeUnsupported means the frame's pixel format is not a depth or
	// disparity format.
	OutcomeUnsupported

	// OutcomeMalformed means the frame's geometry does not match its buffer.
	OutcomeMalformed

	// OutcomePaused means the pipeline is disabled and ignored the frame.
	OutcomePaused
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeOutOfRange:
		return "out_of_range"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeMalformed:
		return "malformed"
	case OutcomePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// OutOfRangePolicy decides what happens to the sound when the hand leaves
// the playing range.
type OutOfRangePolicy string

const (
	// PolicyMute releases the voices until the hand returns.
	PolicyMute OutOfRangePolicy = "mute"

	// PolicyHold keeps sounding the last in-range pitch.
	PolicyHold OutOfRangePolicy = "hold"
)

// IsValid reports whether p is a known policy.
func (p OutOfRangePolicy) IsValid() bool {
	return p == PolicyMute || p == PolicyHold
}

// Target receives the pitch decisions made by the pipeline.
// [glide.Controller] implements Target.
type Target interface {
	// SetTarget moves the fundamental toward hz.
	SetTarget(hz float64)

	// Release silences the voices.
	Release()
}

// Option configures a [Pipeline] during construction.
type Option func(*Pipeline)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithOutOfRangePolicy sets the initial out-of-range policy.
func WithOutOfRangePolicy(policy OutOfRangePolicy) Option {
	return func(p *Pipeline) { p.policy.Store(&policy) }
}

// WithClock replaces time.Now for frame bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline is safe for concurrent use, although sources normally deliver
// frames from a single goroutine.
type Pipeline struct {
	reducer depth.Reducer
	gate    pitch.Gate
	mapper  pitch.Mapper
	target  Target
	metrics *observe.Metrics
	now     func() time.Time

	policy    atomic.Pointer[OutOfRangePolicy]
	disabled  atomic.Bool
	lastFrame atomic.Int64

	// targetMu guards lastTarget, the pitch most recently handed to the
	// target. Zero means the voices are released.
	targetMu   sync.Mutex
	lastTarget float64

	// warned remembers the pixel formats already reported, so a camera
	// stuck on the wrong format logs once instead of at frame rate. It
	// holds at most maxWarnedFormats entries; past that, warnMuted is set
	// and unknown formats are only counted in the frame outcome metric.
	warnMu    sync.Mutex
	warned    map[depth.PixelFormat]bool
	warnMuted bool
}

// Compile-time assertion that Pipeline satisfies depth.Handler.
var _ depth.Handler = (*Pipeline)(nil)

// New creates a [Pipeline] feeding target.
func New(gate pitch.Gate, mapper pitch.Mapper, target Target, opts ...Option) (*Pipeline, error) {
	if target == nil {
		return nil, errors.New("pipeline: target must not be nil")
	}
	if mapper.Scale == nil {
		return nil, errors.New("pipeline: mapper has no scale")
	}
	p := &Pipeline{
		gate:    gate,
		mapper:  mapper,
		target:  target,
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
		warned:  make(map[depth.PixelFormat]bool),
	}
	mute := PolicyMute
	p.policy.Store(&mute)
	for _, o := range opts {
		o(p)
	}
	if pol := p.OutOfRangePolicy(); !pol.IsValid() {
		return nil, fmt.Errorf("pipeline: unknown out-of-range policy %q", pol)
	}
	return p, nil
}

// OnFrame implements [depth.Handler].
func (p *Pipeline) OnFrame(f depth.Frame) {
	p.Process(context.Background(), f)
}

// Process runs one frame through the pipeline and reports what happened.
func (p *Pipeline) Process(ctx context.Context, f depth.Frame) Outcome {
	p.lastFrame.Store(p.now().UnixNano())
	o := p.process(ctx, f)
	p.metrics.RecordFrame(ctx, o.String())
	return o
}

func (p *Pipeline) process(ctx context.Context, f depth.Frame) Outcome {
	if p.disabled.Load() {
		return OutcomePaused
	}

	start := time.Now()
	d, err := p.reducer.Reduce(f)
	p.metrics.ReduceDuration.Record(ctx, time.Since(start).Seconds())
	switch {
	case errors.Is(err, depth.ErrUnsupportedFormat):
		p.warnFormat(f.Format)
		return OutcomeUnsupported
	case err != nil:
		slog.Debug("pipeline: dropping frame", "err", err)
		return OutcomeMalformed
	}

	level, ok := p.gate.Level(d)
	if !ok {
		if p.OutOfRangePolicy() == PolicyMute {
			p.release()
		}
		return OutcomeOutOfRange
	}

	hz := p.mapper.Map(level)
	p.targetMu.Lock()
	defer p.targetMu.Unlock()
	if hz == p.lastTarget {
		return OutcomeUnchanged
	}
	p.lastTarget = hz
	p.target.SetTarget(hz)
	return OutcomeUpdated
}

func (p *Pipeline) release() {
	p.targetMu.Lock()
	defer p.targetMu.Unlock()
	p.lastTarget = 0
	p.target.Release()
}

// SetEnabled resumes (true) or pauses (false) frame processing. Pausing
// releases the voices; resuming waits for the next in-range frame.
func (p *Pipeline) SetEnabled(enabled bool) {
	if p.disabled.Swap(!enabled) == !enabled {
		return
	}
	if !enabled {
		p.release()
	}
	slog.Info("pipeline: rendering state changed", "enabled", enabled)
}

// Enabled reports whether frames are being processed.
func (p *Pipeline) Enabled() bool { return !p.disabled.Load() }

// SetOutOfRangePolicy replaces the out-of-range policy at runtime. Unknown
// policies are ignored.
func (p *Pipeline) SetOutOfRangePolicy(policy OutOfRangePolicy) {
	if !policy.IsValid() {
		slog.Warn("pipeline: ignoring unknown out-of-range policy", "policy", policy)
		return
	}
	p.policy.Store(&policy)
}

// OutOfRangePolicy returns the active out-of-range policy.
func (p *Pipeline) OutOfRangePolicy() OutOfRangePolicy {
	return *p.policy.Load()
}

// LastFrame returns when the most recent frame arrived, or the zero time if
// none has.
func (p *Pipeline) LastFrame() time.Time {
	ns := p.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// FreshnessCheck returns a readiness check that fails unless a frame arrived
// within maxAge.
func (p *Pipeline) FreshnessCheck(maxAge time.Duration) func(context.Context) error {
	return func(context.Context) error {
		last := p.LastFrame()
		if last.IsZero() {
			return errors.New("no depth frames received yet")
		}
		if age := p.now().Sub(last); age > maxAge {
			return fmt.Errorf("last depth frame %s ago", age.Round(time.Millisecond))
		}
		return nil
	}
}

// Range returns the playing range and the frequency range, for logging.
func (p *Pipeline) Range() (minDepth, maxDepth, minHz, maxHz float64) {
	return p.gate.MinDepth, p.gate.MaxDepth, p.mapper.MinFreq, p.mapper.MaxFreq
}

// maxWarnedFormats caps the distinct pixel formats warned about. Formats
// arrive from the network as raw integers.
const maxWarnedFormats = 8

func (p *Pipeline) warnFormat(f depth.PixelFormat) {
	p.warnMu.Lock()
	defer p.warnMu.Unlock()
	if p.warned[f] || p.warnMuted {
		return
	}
	if len(p.warned) >= maxWarnedFormats {
		p.warnMuted = true
		slog.Warn("pipeline: too many unsupported pixel formats, no longer logging new ones", "distinct", len(p.warned))
		return
	}
	p.warned[f] = true
	slog.Warn("pipeline: unsupported pixel format, frames will be dropped", "format", f.String())
}
