// Package synthetic provides a [depth.Source] that simulates a hand moving
// in front of the sensor. It is used for dry runs without a camera and for
// exercising the full pipeline end to end.
package synthetic

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/MrWong99/theremin/pkg/depth"
)

// Reference motion parameters.
const (
	DefaultRate     = 30
	DefaultPeriod   = 8 * time.Second
	DefaultWidth    = 32
	DefaultHeight   = 24
	DefaultNearest  = 0.05
	DefaultFarthest = 3.2
)

// Option configures a [Source].
type Option func(*Source)

// WithRate sets the frame rate in frames per second.
func WithRate(fps float64) Option {
	return func(s *Source) { s.rate = fps }
}

// WithPeriod sets the time for one full near-far-near sweep.
func WithPeriod(d time.Duration) Option {
	return func(s *Source) { s.period = d }
}

// WithSize sets the frame dimensions.
func WithSize(width, height int) Option {
	return func(s *Source) { s.width, s.height = width, height }
}

// WithSweep sets the nearest and farthest simulated hand distance in metres.
// Choosing bounds slightly outside the playing range exercises the
// out-of-range handling at both ends of every sweep.
func WithSweep(nearest, farthest float64) Option {
	return func(s *Source) { s.nearest, s.farthest = nearest, farthest }
}

// WithFormat selects the pixel format of emitted frames. Disparity formats
// carry 1/distance.
func WithFormat(f depth.PixelFormat) Option {
	return func(s *Source) { s.format = f }
}

// Source emits uniform frames whose distance follows a cosine sweep.
type Source struct {
	rate              float64
	period            time.Duration
	width, height     int
	nearest, farthest float64
	format            depth.PixelFormat
}

var _ depth.Source = (*Source)(nil)

// New creates a synthetic source. It returns an error for non-positive
// rates, periods or dimensions and for an empty sweep.
func New(opts ...Option) (*Source, error) {
	s := &Source{
		rate:     DefaultRate,
		period:   DefaultPeriod,
		width:    DefaultWidth,
		height:   DefaultHeight,
		nearest:  DefaultNearest,
		farthest: DefaultFarthest,
		format:   depth.DepthFloat32,
	}
	for _, o := range opts {
		o(s)
	}
	var errs []error
	if !(s.rate > 0) || math.IsInf(s.rate, 0) {
		errs = append(errs, errors.New("synthetic: rate must be positive"))
	}
	if s.period <= 0 {
		errs = append(errs, errors.New("synthetic: period must be positive"))
	}
	if s.width <= 0 || s.height <= 0 {
		errs = append(errs, errors.New("synthetic: frame size must be positive"))
	}
	if !(s.nearest > 0) || !(s.farthest > s.nearest) {
		errs = append(errs, errors.New("synthetic: sweep must satisfy 0 < nearest < farthest"))
	}
	if s.format.BytesPerSample() == 0 {
		errs = append(errs, errors.New("synthetic: unsupported pixel format"))
	}
	return s, errors.Join(errs...)
}

// DistanceAt returns the simulated hand distance t into the stream. The sweep
// starts at the nearest point.
func (s *Source) DistanceAt(t time.Duration) float64 {
	phase := 2 * math.Pi * float64(t%s.period) / float64(s.period)
	mid := (s.nearest + s.farthest) / 2
	amp := (s.farthest - s.nearest) / 2
	return mid - amp*math.Cos(phase)
}

// Frame renders the frame captured t into the stream.
func (s *Source) Frame(t time.Duration) depth.Frame {
	d := s.DistanceAt(t)
	v := float32(d)
	if s.format.IsDisparity() {
		v = float32(1 / d)
	}
	samples := make([]float32, s.width*s.height)
	for i := range samples {
		samples[i] = v
	}
	var f depth.Frame
	if s.format.BytesPerSample() == 2 {
		f = depth.NewFrame16(s.format, s.width, s.height, samples)
	} else {
		f = depth.NewFrame32(s.format, s.width, s.height, samples)
	}
	f.Timestamp = t
	return f
}

// Run emits frames at the configured rate until ctx is done.
func (s *Source) Run(ctx context.Context, h depth.Handler) error {
	if h == nil {
		return errors.New("synthetic: handler must not be nil")
	}
	interval := time.Duration(float64(time.Second) / s.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	h.OnFrame(s.Frame(0))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			h.OnFrame(s.Frame(now.Sub(start)))
		}
	}
}
