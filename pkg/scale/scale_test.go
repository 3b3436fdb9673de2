package scale

import (
	"errors"
	"math"
	"testing"
)

func cMajor(t *testing.T) *Scale {
	t.Helper()
	s, err := New(0, ModeMajor, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_CMajorContents(t *testing.T) {
	s := cMajor(t)

	// 128 MIDI notes, 7 of 12 pitch classes: 10 full octaves (70) + C..G of
	// the 11th (MIDI 120–127 covers C, D, E, F, G).
	if got := s.Len(); got != 75 {
		t.Errorf("Len() = %d, want 75", got)
	}
	if !s.Contains(440) {
		t.Error("C major should contain A4 = 440 Hz")
	}
	if s.Contains(MIDIToHz(70, DefaultReference)) {
		t.Error("C major should not contain A#4")
	}
	if got := s.Name(); got != "C major" {
		t.Errorf("Name() = %q", got)
	}
}

func TestNearest_MembersAreFixedPoints(t *testing.T) {
	for _, mode := range Modes() {
		s, err := New(2, mode, 0)
		if err != nil {
			t.Fatalf("New(%s): %v", mode, err)
		}
		for _, n := range s.Notes() {
			if got := s.Nearest(n); got != n {
				t.Fatalf("%s: Nearest(%v) = %v, want unchanged", mode, n, got)
			}
		}
	}
}

func TestNearest_AlwaysReturnsMember(t *testing.T) {
	s := cMajor(t)
	for hz := 20.0; hz < 12000; hz *= 1.013 {
		if got := s.Nearest(hz); !s.Contains(got) {
			t.Fatalf("Nearest(%v) = %v is not a scale member", hz, got)
		}
	}
}

func TestNearest_Midpoint1550(t *testing.T) {
	s := cMajor(t)
	// F6 ≈ 1396.9 Hz, G6 ≈ 1568.0 Hz; 1550 Hz is closer to G6.
	want := MIDIToHz(91, DefaultReference)
	if got := s.Nearest(1550); got != want {
		t.Errorf("Nearest(1550) = %v, want %v (G6)", got, want)
	}
}

func TestNearest_PitchDistanceNotHertz(t *testing.T) {
	s, err := FromFrequencies("octave", []float64{100, 200})
	if err != nil {
		t.Fatalf("FromFrequencies: %v", err)
	}
	// 145 Hz is closer to 100 Hz in Hz, but closer to 200 Hz in pitch
	// (geometric midpoint is ~141.4 Hz).
	if got := s.Nearest(145); got != 200 {
		t.Errorf("Nearest(145) = %v, want 200", got)
	}
}

func TestNearest_TieGoesLower(t *testing.T) {
	s, err := FromFrequencies("two octaves", []float64{400, 100})
	if err != nil {
		t.Fatalf("FromFrequencies: %v", err)
	}
	if got := s.Nearest(200); got != 100 {
		t.Errorf("Nearest(200) = %v, want 100", got)
	}
}

func TestNearest_Clamps(t *testing.T) {
	s, err := FromFrequencies("triad", []float64{261.63, 329.63, 392})
	if err != nil {
		t.Fatalf("FromFrequencies: %v", err)
	}
	tests := []struct {
		in, want float64
	}{
		{1, 261.63},
		{0, 261.63},
		{-5, 261.63},
		{math.NaN(), 261.63},
		{20000, 392},
	}
	for _, tc := range tests {
		if got := s.Nearest(tc.in); got != tc.want {
			t.Errorf("Nearest(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFromFrequencies_Errors(t *testing.T) {
	if _, err := FromFrequencies("empty", nil); !errors.Is(err, ErrEmptyScale) {
		t.Errorf("err = %v, want ErrEmptyScale", err)
	}
	if _, err := FromFrequencies("bad", []float64{100, -1}); err == nil {
		t.Error("expected error for negative frequency")
	}
}

func TestNew_InvalidMode(t *testing.T) {
	if _, err := New(0, Mode("lydian-dominant"), 0); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want Key
	}{
		{"C", 0},
		{"f#", 6},
		{"Bb", 10},
		{" eb ", 3},
	}
	for _, tc := range tests {
		got, err := ParseKey(tc.in)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseKey(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if _, err := ParseKey("H"); err == nil {
		t.Error("expected error for unknown key")
	}
}
