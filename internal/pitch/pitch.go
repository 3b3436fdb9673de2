// Package pitch turns a distance reading into a quantized fundamental
// frequency.
//
// [Gate] rejects readings outside the usable distance band and normalizes
// the rest into (0,1). [Mapper] rescales a normalized level onto a frequency
// band and snaps it to a [scale.Quantizer].
package pitch

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/theremin/pkg/scale"
)

// ErrInvalidConfiguration is returned by the constructors when the bounds do
// not describe a usable interval.
var ErrInvalidConfiguration = errors.New("pitch: invalid configuration")

// Reference bounds.
const (
	DefaultMinDepth = 0.1
	DefaultMaxDepth = 3.0
	DefaultMinFreq  = 100.0
	DefaultMaxFreq  = 3000.0
)

// Gate accepts distances strictly inside (MinDepth, MaxDepth).
type Gate struct {
	MinDepth float64
	MaxDepth float64
}

// NewGate validates the bounds and returns a [Gate].
func NewGate(minDepth, maxDepth float64) (Gate, error) {
	if !finite(minDepth) || !finite(maxDepth) {
		return Gate{}, fmt.Errorf("%w: depth bounds must be finite (min=%v, max=%v)", ErrInvalidConfiguration, minDepth, maxDepth)
	}
	if minDepth < 0 {
		return Gate{}, fmt.Errorf("%w: min depth %v is negative", ErrInvalidConfiguration, minDepth)
	}
	if minDepth >= maxDepth {
		return Gate{}, fmt.Errorf("%w: min depth %v must be below max depth %v", ErrInvalidConfiguration, minDepth, maxDepth)
	}
	return Gate{MinDepth: minDepth, MaxDepth: maxDepth}, nil
}

// Level normalizes d into the open interval (0,1). It reports false when d
// is at or beyond either bound, or is not a finite number; the caller should
// treat that as "out of range".
func (g Gate) Level(d float64) (float64, bool) {
	if !finite(d) || d <= g.MinDepth || d >= g.MaxDepth {
		return 0, false
	}
	level := (d - g.MinDepth) / (g.MaxDepth - g.MinDepth)
	// Guard against rounding pushing a value next to a bound onto it.
	if level <= 0 || level >= 1 {
		return 0, false
	}
	return level, true
}

// Mapper rescales a normalized level to [MinFreq, MaxFreq] and quantizes it.
type Mapper struct {
	MinFreq float64
	MaxFreq float64
	Scale   scale.Quantizer
}

// NewMapper validates the frequency band and returns a [Mapper].
func NewMapper(minFreq, maxFreq float64, q scale.Quantizer) (Mapper, error) {
	if q == nil {
		return Mapper{}, fmt.Errorf("%w: no scale quantizer", ErrInvalidConfiguration)
	}
	if !finite(minFreq) || !finite(maxFreq) || minFreq <= 0 {
		return Mapper{}, fmt.Errorf("%w: frequency bounds must be positive and finite (min=%v, max=%v)", ErrInvalidConfiguration, minFreq, maxFreq)
	}
	if minFreq >= maxFreq {
		return Mapper{}, fmt.Errorf("%w: min frequency %v must be below max frequency %v", ErrInvalidConfiguration, minFreq, maxFreq)
	}
	return Mapper{MinFreq: minFreq, MaxFreq: maxFreq, Scale: q}, nil
}

// Raw returns the unquantized frequency for level. It is monotonic
// non-decreasing in level.
func (m Mapper) Raw(level float64) float64 {
	return m.MinFreq + level*(m.MaxFreq-m.MinFreq)
}

// Map returns the scale note nearest to Raw(level).
func (m Mapper) Map(level float64) float64 {
	return m.Scale.Nearest(m.Raw(level))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
