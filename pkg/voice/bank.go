package voice

import (
	"errors"
	"fmt"
	"sync"
)

// Initial voice settings applied by [Bank.Init] before the first fundamental
// arrives.
const (
	DefaultAmplitude = 0.2
	DefaultFrequency = 100.0
)

// Bank drives a fixed, ordered set of voices from one fundamental frequency.
// Each voice has an immutable harmonic [Ratio]; on every update the bank
// pushes fundamental × ratio to each voice.
//
// All exported methods are safe for concurrent use. Updates are applied to
// every voice under a single lock, so no voice ever observes a fundamental
// that its siblings have not also received.
type Bank struct {
	mu          sync.Mutex
	slots       []slot
	fundamental float64
	muted       bool
	waveform    Waveform
	amplitude   float64
}

type slot struct {
	voice Voice
	ratio Ratio
}

// State is a point-in-time view of a [Bank].
type State struct {
	Fundamental float64
	Muted       bool
	Waveform    Waveform
	Amplitude   float64
	Targets     []float64
}

// NewBank creates a bank over voices. ratios assigns a harmonic ratio by
// voice index; voices beyond len(ratios) play at unison. The bank starts
// muted with no fundamental.
func NewBank(voices []Voice, ratios []Ratio) (*Bank, error) {
	if len(voices) == 0 {
		return nil, errors.New("voice: bank needs at least one voice")
	}
	if len(ratios) > len(voices) {
		return nil, fmt.Errorf("voice: %d ratios configured for %d voices", len(ratios), len(voices))
	}
	slots := make([]slot, len(voices))
	for i, v := range voices {
		if v == nil {
			return nil, fmt.Errorf("voice: voice %d is nil", i)
		}
		r := Unison
		if i < len(ratios) {
			r = ratios[i]
			if !r.IsValid() {
				return nil, fmt.Errorf("voice: voice %d has invalid ratio %d/%d", i, r.Num, r.Den)
			}
		}
		slots[i] = slot{voice: v, ratio: r}
	}
	return &Bank{slots: slots, muted: true}, nil
}

// Init pushes the starting amplitude, waveform and a placeholder frequency to
// every voice and mutes them. Call once before the bank is shared.
func (b *Bank) Init(hz, amplitude float64, w Waveform) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.waveform = w
	b.amplitude = amplitude
	b.muted = true
	for _, s := range b.slots {
		s.voice.SetMuted(true)
		s.voice.SetWaveform(w)
		s.voice.SetAmplitude(amplitude)
		s.voice.SetFrequencyLeft(hz)
		s.voice.SetFrequencyRight(hz)
	}
	b.commitLocked()
}

// Fundamental retunes every voice to hz × ratio and unmutes it.
func (b *Bank) Fundamental(hz float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fundamental = hz
	b.muted = false
	for _, s := range b.slots {
		target := s.ratio.Apply(hz)
		s.voice.SetMuted(false)
		s.voice.SetFrequencyLeft(target)
		s.voice.SetFrequencyRight(target)
	}
	b.commitLocked()
}

// Silence mutes every voice. Calling Silence on an already silent bank is a
// no-op.
func (b *Bank) Silence() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.muted {
		return
	}
	b.muted = true
	for _, s := range b.slots {
		s.voice.SetMuted(true)
	}
	b.commitLocked()
}

// SetWaveform forwards w to every voice.
func (b *Bank) SetWaveform(w Waveform) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w == b.waveform {
		return
	}
	b.waveform = w
	for _, s := range b.slots {
		s.voice.SetWaveform(w)
	}
	b.commitLocked()
}

// SetAmplitude forwards a to every voice.
func (b *Bank) SetAmplitude(a float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.amplitude = a
	for _, s := range b.slots {
		s.voice.SetAmplitude(a)
	}
	b.commitLocked()
}

// commitLocked flushes batched voices. Voices reporting the same
// [Grouped.Group] are flushed once.
func (b *Bank) commitLocked() {
	var seen map[Committer]bool
	for _, s := range b.slots {
		c, ok := s.voice.(Committer)
		if !ok {
			continue
		}
		if g, ok := c.(Grouped); ok {
			c = g.Group()
		}
		if seen[c] {
			continue
		}
		if seen == nil {
			seen = make(map[Committer]bool, 1)
		}
		seen[c] = true
		c.Commit()
	}
}

// Ratios returns the per-voice ratio table, one entry per voice.
func (b *Bank) Ratios() []Ratio {
	rs := make([]Ratio, len(b.slots))
	for i, s := range b.slots {
		rs[i] = s.ratio
	}
	return rs
}

// Len returns the number of voices.
func (b *Bank) Len() int { return len(b.slots) }

// State returns a snapshot of the bank.
func (b *Bank) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	targets := make([]float64, len(b.slots))
	for i, s := range b.slots {
		targets[i] = s.ratio.Apply(b.fundamental)
	}
	return State{
		Fundamental: b.fundamental,
		Muted:       b.muted,
		Waveform:    b.waveform,
		Amplitude:   b.amplitude,
		Targets:     targets,
	}
}
