package voice

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ratio is a harmonic multiplier expressed as a fraction Num/Den. The zero
// value is not valid; use [Unison] for 1/1.
type Ratio struct {
	Num int
	Den int
}

// Reference ratios.
var (
	Unison       = Ratio{1, 1}
	MajorThird   = Ratio{5, 4}
	PerfectFifth = Ratio{3, 2}
	Octave       = Ratio{2, 1}
)

// DefaultRatios is the voice ratio table used when none is configured:
// unison, major third, perfect fifth. Voices beyond the table play unison.
var DefaultRatios = []Ratio{Unison, MajorThird, PerfectFifth}

// ParseRatio parses "5/4", "2" or a whitespace-padded variant of either.
func ParseRatio(s string) (Ratio, error) {
	s = strings.TrimSpace(s)
	numStr, denStr, hasDen := strings.Cut(s, "/")
	num, err := strconv.Atoi(strings.TrimSpace(numStr))
	if err != nil {
		return Ratio{}, fmt.Errorf("voice: parse ratio %q: %w", s, err)
	}
	den := 1
	if hasDen {
		if den, err = strconv.Atoi(strings.TrimSpace(denStr)); err != nil {
			return Ratio{}, fmt.Errorf("voice: parse ratio %q: %w", s, err)
		}
	}
	r := Ratio{Num: num, Den: den}
	if !r.IsValid() {
		return Ratio{}, fmt.Errorf("voice: ratio %q must be positive", s)
	}
	return r, nil
}

// IsValid reports whether both terms are positive.
func (r Ratio) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float returns the ratio as a multiplier.
func (r Ratio) Float() float64 {
	return float64(r.Num) / float64(r.Den)
}

// Apply returns hz scaled by the ratio.
func (r Ratio) Apply(hz float64) float64 {
	return hz * float64(r.Num) / float64(r.Den)
}

// String formats the ratio as "n/d", or "n" when d is 1.
func (r Ratio) String() string {
	if r.Den == 1 {
		return strconv.Itoa(r.Num)
	}
	return strconv.Itoa(r.Num) + "/" + strconv.Itoa(r.Den)
}

// UnmarshalYAML accepts either a scalar string ("3/2") or an integer.
func (r *Ratio) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("voice: ratio must be a scalar, got line %d", node.Line)
	}
	parsed, err := ParseRatio(node.Value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalYAML encodes the ratio in its string form.
func (r Ratio) MarshalYAML() (any, error) {
	return r.String(), nil
}
