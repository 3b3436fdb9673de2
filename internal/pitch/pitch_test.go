package pitch

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/theremin/pkg/scale"
)

func defaultGate(t *testing.T) Gate {
	t.Helper()
	g, err := NewGate(DefaultMinDepth, DefaultMaxDepth)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestGate_InsideIsOpenUnitInterval(t *testing.T) {
	g := defaultGate(t)
	for d := 0.1001; d < 3.0; d += 0.0137 {
		level, ok := g.Level(d)
		if !ok {
			t.Fatalf("Level(%v) rejected an in-range distance", d)
		}
		if level <= 0 || level >= 1 {
			t.Fatalf("Level(%v) = %v, want strictly inside (0,1)", d, level)
		}
	}
}

func TestGate_BoundsAreExclusive(t *testing.T) {
	g := defaultGate(t)
	for _, d := range []float64{0.1, 3.0, 0.05, 3.5, -1, 0, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if level, ok := g.Level(d); ok {
			t.Errorf("Level(%v) = %v, want out of range", d, level)
		}
	}
}

func TestGate_Midpoint(t *testing.T) {
	g := defaultGate(t)
	level, ok := g.Level(1.55)
	if !ok {
		t.Fatal("Level(1.55) rejected")
	}
	if math.Abs(level-0.5) > 1e-12 {
		t.Errorf("Level(1.55) = %v, want 0.5", level)
	}
}

func TestNewGate_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		min, max float64
	}{
		{"equal", 1, 1},
		{"inverted", 3, 0.1},
		{"negative", -1, 2},
		{"nan", math.NaN(), 2},
		{"inf", 0.1, math.Inf(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGate(tc.min, tc.max)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("err = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestMapper_RawIsMonotonic(t *testing.T) {
	m, err := NewMapper(DefaultMinFreq, DefaultMaxFreq, mustScale(t))
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	prev := math.Inf(-1)
	for level := 0.0; level <= 1.0; level += 0.001 {
		raw := m.Raw(level)
		if raw < prev {
			t.Fatalf("Raw(%v) = %v decreased from %v", level, raw, prev)
		}
		prev = raw
	}
	if got := m.Raw(0.5); got != 1550 {
		t.Errorf("Raw(0.5) = %v, want 1550", got)
	}
}

func TestMapper_MapReturnsScaleMember(t *testing.T) {
	s := mustScale(t)
	m, err := NewMapper(DefaultMinFreq, DefaultMaxFreq, s)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	prev := 0.0
	for level := 0.01; level < 1; level += 0.01 {
		hz := m.Map(level)
		if !s.Contains(hz) {
			t.Fatalf("Map(%v) = %v is not in %s", level, hz, s.Name())
		}
		if hz < prev {
			t.Fatalf("Map(%v) = %v decreased from %v", level, hz, prev)
		}
		prev = hz
	}
}

func TestEndToEnd_Midpoint(t *testing.T) {
	g := defaultGate(t)
	s := mustScale(t)
	m, err := NewMapper(DefaultMinFreq, DefaultMaxFreq, s)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	level, ok := g.Level(1.55)
	if !ok {
		t.Fatal("Level(1.55) rejected")
	}
	if got, want := m.Map(level), scale.MIDIToHz(91, scale.DefaultReference); got != want {
		t.Errorf("Map(Level(1.55)) = %v, want G6 = %v", got, want)
	}
}

func TestNewMapper_Invalid(t *testing.T) {
	s := mustScale(t)
	if _, err := NewMapper(100, 3000, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("nil quantizer: err = %v", err)
	}
	if _, err := NewMapper(3000, 100, s); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("inverted: err = %v", err)
	}
	if _, err := NewMapper(0, 100, s); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("zero min: err = %v", err)
	}
}

func mustScale(t *testing.T) *scale.Scale {
	t.Helper()
	s, err := scale.New(0, scale.ModeMajor, 0)
	if err != nil {
		t.Fatalf("scale.New: %v", err)
	}
	return s
}
