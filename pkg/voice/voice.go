// Package voice defines the oscillator interface driven by the theremin and
// the [Bank] that spreads one fundamental across several voices at fixed
// harmonic ratios.
//
// Concrete [Voice] implementations live outside the control engine: the
// voice/remote package forwards commands to a synthesiser over a websocket,
// and voice/mock records calls for tests.
package voice

import (
	"fmt"
	"math"
	"strings"
)

// Waveform selects the oscillator shape.
type Waveform string

const (
	Sine     Waveform = "sine"
	Sawtooth Waveform = "sawtooth"
	Square   Waveform = "square"
	Triangle Waveform = "triangle"
)

// Waveforms lists the supported shapes in selector order.
var Waveforms = []Waveform{Sine, Sawtooth, Square, Triangle}

// IsValid reports whether w is a recognised waveform.
func (w Waveform) IsValid() bool {
	switch w {
	case Sine, Sawtooth, Square, Triangle:
		return true
	}
	return false
}

// WaveformFromLevel maps a selector position in [0,1] onto [Waveforms] by
// dividing the range into equal bands. It reports false for positions at or
// beyond 1 and for negative or NaN input, in which case the caller should
// keep the current waveform.
func WaveformFromLevel(level float64) (Waveform, bool) {
	if !(level >= 0) {
		return "", false
	}
	i := int(math.Floor(float64(len(Waveforms)) * level))
	if i >= len(Waveforms) {
		return "", false
	}
	return Waveforms[i], true
}

// ParseWaveform parses a waveform name case-insensitively.
func ParseWaveform(s string) (Waveform, error) {
	w := Waveform(strings.ToLower(strings.TrimSpace(s)))
	if !w.IsValid() {
		return "", fmt.Errorf("voice: unknown waveform %q; valid values: sine, sawtooth, square, triangle", s)
	}
	return w, nil
}

// Voice is a single stereo oscillator owned by a synthesiser.
//
// Implementations must be safe for concurrent use, and must not block: the
// methods are called while the [Bank] holds its lock.
type Voice interface {
	// SetFrequencyLeft sets the left-channel frequency in Hz.
	SetFrequencyLeft(hz float64)

	// SetFrequencyRight sets the right-channel frequency in Hz.
	SetFrequencyRight(hz float64)

	// SetMuted silences or restores the voice without changing its pitch.
	SetMuted(muted bool)

	// SetWaveform selects the oscillator shape.
	SetWaveform(w Waveform)

	// SetAmplitude sets the output gain in [0,1].
	SetAmplitude(a float64)
}

// Committer is implemented by voices that buffer settings and publish them
// in batches. After each update the [Bank] calls Commit on every voice that
// implements it, once all voices have received their new settings.
type Committer interface {
	Commit()
}

// Grouped is implemented by Committers whose batch spans several voices,
// such as the voices of one synthesiser connection. The [Bank] commits each
// distinct Group once per update instead of once per voice.
type Grouped interface {
	Group() Committer
}

// Backend owns a fixed set of voices, typically one synthesiser connection
// or audio engine.
type Backend interface {
	Voices() []Voice
}
