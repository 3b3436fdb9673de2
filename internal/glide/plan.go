package glide

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Reference glide parameters.
const (
	DefaultStepSize = 20.0
	DefaultEpsilon  = 0.01

	// minInterval is the shortest tick interval a plan will schedule.
	minInterval = time.Millisecond
)

// Step is one row of a duration [Table]: jumps smaller than Below hertz
// glide over Duration.
type Step struct {
	Below    float64       `yaml:"below_hz"`
	Duration time.Duration `yaml:"duration"`
}

// Table maps the size of a pitch jump to a glide duration. Rows are ordered
// by ascending Below; jumps at or above the last row's threshold are applied
// instantly.
type Table []Step

// DefaultTable is the reference duration table.
var DefaultTable = Table{
	{Below: 100, Duration: 100 * time.Millisecond},
	{Below: 500, Duration: 150 * time.Millisecond},
	{Below: 2500, Duration: 300 * time.Millisecond},
	{Below: 5000, Duration: 600 * time.Millisecond},
}

// Duration returns the glide duration for a jump of diff hertz. Zero means
// the jump should be applied instantly.
func (t Table) Duration(diff float64) time.Duration {
	diff = math.Abs(diff)
	for _, s := range t {
		if diff < s.Below {
			return s.Duration
		}
	}
	return 0
}

// Validate checks that thresholds strictly increase and durations never
// decrease, so larger jumps never glide faster than smaller ones.
func (t Table) Validate() error {
	var errs []error
	for i, s := range t {
		if !(s.Below > 0) || math.IsInf(s.Below, 0) {
			errs = append(errs, fmt.Errorf("glide: durations[%d].below_hz %v must be positive", i, s.Below))
		}
		if s.Duration < 0 {
			errs = append(errs, fmt.Errorf("glide: durations[%d].duration %v is negative", i, s.Duration))
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if s.Below <= prev.Below {
			errs = append(errs, fmt.Errorf("glide: durations[%d].below_hz %v must exceed %v", i, s.Below, prev.Below))
		}
		if s.Duration < prev.Duration {
			errs = append(errs, fmt.Errorf("glide: durations[%d].duration %v is shorter than %v", i, s.Duration, prev.Duration))
		}
	}
	return errors.Join(errs...)
}

// Plan describes one glide from Start to End.
type Plan struct {
	Start float64
	End   float64

	// Step is the signed frequency change applied per tick.
	Step float64

	// TotalSteps is the number of ticks after which the glide is pinned to
	// End. Zero means the plan is instant.
	TotalSteps int

	// Duration is the nominal glide time taken from the table.
	Duration time.Duration

	// Interval is the time between ticks.
	Interval time.Duration
}

// Instant reports whether the plan should be applied as a single jump.
func (p Plan) Instant() bool { return p.TotalSteps == 0 }

// NewPlan derives a glide from start to end. stepSize must be positive.
//
// The tick interval is duration / (|end-start| / stepSize), rounded to the
// microsecond and never shorter than one millisecond. TotalSteps is the
// number of whole or partial steps needed to cover the distance.
func NewPlan(start, end, stepSize float64, table Table) Plan {
	p := Plan{Start: start, End: end}
	diff := math.Abs(end - start)
	p.Duration = table.Duration(diff)
	if p.Duration <= 0 || diff == 0 || !(stepSize > 0) {
		p.Duration = 0
		return p
	}

	p.Step = math.Copysign(stepSize, end-start)
	ratio := diff / stepSize
	p.TotalSteps = int(math.Ceil(ratio))
	p.Interval = time.Duration(float64(p.Duration) / ratio).Round(time.Microsecond)
	if p.Interval < minInterval {
		p.Interval = minInterval
	}
	return p
}
