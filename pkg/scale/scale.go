// Package scale snaps arbitrary frequencies onto the notes of a musical scale.
//
// [Quantizer] is the narrow interface consumed by the pitch mapper. [Scale]
// is the built-in implementation: an equal-tempered note table for a [Key]
// and [Mode] spanning MIDI notes 0–127, or an arbitrary frequency list.
package scale

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
)

// ErrEmptyScale is returned when a scale would contain no notes.
var ErrEmptyScale = errors.New("scale: empty scale")

// DefaultReference is the frequency of A4 (MIDI note 69) in Hz.
const DefaultReference = 440.0

// Quantizer snaps a frequency to the nearest member of a fixed note set.
//
// Implementations must be safe for concurrent use.
type Quantizer interface {
	// Nearest returns the member frequency whose pitch distance to hz is
	// smallest. Ties resolve toward the lower frequency.
	Nearest(hz float64) float64
}

// Key is a pitch class, 0 = C through 11 = B.
type Key int

var keyNames = map[string]Key{
	"c": 0, "b#": 0,
	"c#": 1, "db": 1,
	"d":  2,
	"d#": 3, "eb": 3,
	"e": 4, "fb": 4,
	"f": 5, "e#": 5,
	"f#": 6, "gb": 6,
	"g":  7,
	"g#": 8, "ab": 8,
	"a":  9,
	"a#": 10, "bb": 10,
	"b": 11, "cb": 11,
}

var keyLabels = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// ParseKey parses a note name such as "C", "F#" or "Bb".
func ParseKey(s string) (Key, error) {
	k, ok := keyNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("scale: unknown key %q", s)
	}
	return k, nil
}

// String returns the sharp spelling of the key.
func (k Key) String() string {
	return keyLabels[((int(k)%12)+12)%12]
}

// Mode names an interval pattern within an octave.
type Mode string

const (
	ModeMajor           Mode = "major"
	ModeMinor           Mode = "minor"
	ModeHarmonicMinor   Mode = "harmonic-minor"
	ModePentatonicMajor Mode = "pentatonic-major"
	ModePentatonicMinor Mode = "pentatonic-minor"
	ModeBlues           Mode = "blues"
	ModeChromatic       Mode = "chromatic"
)

var modeDegrees = map[Mode][]int{
	ModeMajor:           {0, 2, 4, 5, 7, 9, 11},
	ModeMinor:           {0, 2, 3, 5, 7, 8, 10},
	ModeHarmonicMinor:   {0, 2, 3, 5, 7, 8, 11},
	ModePentatonicMajor: {0, 2, 4, 7, 9},
	ModePentatonicMinor: {0, 3, 5, 7, 10},
	ModeBlues:           {0, 3, 5, 6, 7, 10},
	ModeChromatic:       {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	_, ok := modeDegrees[m]
	return ok
}

// Modes returns all recognised modes in a stable order.
func Modes() []Mode {
	ms := make([]Mode, 0, len(modeDegrees))
	for m := range modeDegrees {
		ms = append(ms, m)
	}
	slices.Sort(ms)
	return ms
}

// Scale is a sorted, immutable set of note frequencies. It implements
// [Quantizer] and is safe for concurrent use.
type Scale struct {
	name  string
	notes []float64
}

var _ Quantizer = (*Scale)(nil)

// New builds the equal-tempered scale for key and mode over MIDI notes 0–127.
// reference is the frequency of A4; zero selects [DefaultReference].
func New(key Key, mode Mode, reference float64) (*Scale, error) {
	degrees, ok := modeDegrees[mode]
	if !ok {
		return nil, fmt.Errorf("scale: unknown mode %q", mode)
	}
	if reference == 0 {
		reference = DefaultReference
	}
	if reference < 0 || math.IsNaN(reference) || math.IsInf(reference, 0) {
		return nil, fmt.Errorf("scale: invalid reference frequency %v", reference)
	}

	inScale := make([]bool, 12)
	for _, d := range degrees {
		inScale[(int(key)+d)%12] = true
	}

	notes := make([]float64, 0, 128)
	for midi := range 128 {
		if inScale[midi%12] {
			notes = append(notes, MIDIToHz(midi, reference))
		}
	}
	return &Scale{name: key.String() + " " + string(mode), notes: notes}, nil
}

// FromFrequencies builds a scale from an explicit list of positive
// frequencies. Duplicates are removed.
func FromFrequencies(name string, hz []float64) (*Scale, error) {
	notes := make([]float64, 0, len(hz))
	for _, f := range hz {
		if !(f > 0) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("scale: invalid frequency %v", f)
		}
		notes = append(notes, f)
	}
	if len(notes) == 0 {
		return nil, ErrEmptyScale
	}
	slices.Sort(notes)
	notes = slices.Compact(notes)
	return &Scale{name: name, notes: notes}, nil
}

// MIDIToHz converts a MIDI note number to its equal-tempered frequency.
func MIDIToHz(note int, reference float64) float64 {
	return reference * math.Pow(2, float64(note-69)/12)
}

// Name returns a human-readable label such as "C major".
func (s *Scale) Name() string { return s.name }

// Len returns the number of notes in the scale.
func (s *Scale) Len() int { return len(s.notes) }

// Notes returns a copy of the scale's frequencies in ascending order.
func (s *Scale) Notes() []float64 { return slices.Clone(s.notes) }

// Contains reports whether hz is exactly a member of the scale.
func (s *Scale) Contains(hz float64) bool {
	_, found := slices.BinarySearch(s.notes, hz)
	return found
}

// Nearest returns the scale note closest to hz in pitch, i.e. by the absolute
// log-frequency ratio. Exact ties go to the lower note. Inputs outside the
// table clamp to its lowest or highest note; non-positive inputs return the
// lowest note.
func (s *Scale) Nearest(hz float64) float64 {
	if !(hz > 0) {
		return s.notes[0]
	}
	i := sort.SearchFloat64s(s.notes, hz)
	switch {
	case i == 0:
		return s.notes[0]
	case i == len(s.notes):
		return s.notes[len(s.notes)-1]
	case s.notes[i] == hz:
		return hz
	}
	lower, upper := s.notes[i-1], s.notes[i]
	if math.Log2(upper/hz) < math.Log2(hz/lower) {
		return upper
	}
	return lower
}
