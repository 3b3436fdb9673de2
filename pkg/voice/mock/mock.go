// Package mock provides an in-memory [voice.Voice] for unit tests.
//
// The mock is safe for concurrent use. It records the latest value of every
// setting alongside a per-method call log, so tests can assert both on the
// final state and on how it was reached.
//
// Typical usage:
//
//	v0, v1 := &mock.Voice{}, &mock.Voice{}
//	bank, _ := voice.NewBank([]voice.Voice{v0, v1}, voice.DefaultRatios[:2])
//	bank.Fundamental(200)
//	// v1.Left() == 250
package mock

import (
	"sync"

	"github.com/MrWong99/theremin/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Voice = (*Voice)(nil)

// Voice is a mock implementation of [voice.Voice].
type Voice struct {
	mu sync.Mutex

	left, right float64
	muted       bool
	waveform    voice.Waveform
	amplitude   float64

	// LeftCalls and RightCalls record every frequency pushed to each channel.
	LeftCalls  []float64
	RightCalls []float64

	// MuteCalls records every SetMuted argument in order.
	MuteCalls []bool

	// WaveformCalls records every SetWaveform argument in order.
	WaveformCalls []voice.Waveform

	// CallCountSetAmplitude records how many times SetAmplitude was called.
	CallCountSetAmplitude int
}

// SetFrequencyLeft implements [voice.Voice].
func (v *Voice) SetFrequencyLeft(hz float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.left = hz
	v.LeftCalls = append(v.LeftCalls, hz)
}

// SetFrequencyRight implements [voice.Voice].
func (v *Voice) SetFrequencyRight(hz float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.right = hz
	v.RightCalls = append(v.RightCalls, hz)
}

// SetMuted implements [voice.Voice].
func (v *Voice) SetMuted(muted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muted = muted
	v.MuteCalls = append(v.MuteCalls, muted)
}

// SetWaveform implements [voice.Voice].
func (v *Voice) SetWaveform(w voice.Waveform) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.waveform = w
	v.WaveformCalls = append(v.WaveformCalls, w)
}

// SetAmplitude implements [voice.Voice].
func (v *Voice) SetAmplitude(a float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.amplitude = a
	v.CallCountSetAmplitude++
}

// Left returns the most recent left-channel frequency.
func (v *Voice) Left() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.left
}

// Right returns the most recent right-channel frequency.
func (v *Voice) Right() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.right
}

// Muted reports the most recent mute state.
func (v *Voice) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

// Waveform returns the most recent waveform.
func (v *Voice) Waveform() voice.Waveform {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.waveform
}

// Amplitude returns the most recent amplitude.
func (v *Voice) Amplitude() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.amplitude
}

// LeftCount returns how many left-channel updates were received.
func (v *Voice) LeftCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.LeftCalls)
}

// NewVoices returns n fresh mocks together with the same values typed as
// [voice.Voice] for passing to [voice.NewBank].
func NewVoices(n int) ([]*Voice, []voice.Voice) {
	mocks := make([]*Voice, n)
	vs := make([]voice.Voice, n)
	for i := range mocks {
		mocks[i] = &Voice{}
		vs[i] = mocks[i]
	}
	return mocks, vs
}
