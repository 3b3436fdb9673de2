package config

import (
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/theremin/internal/pipeline"
	"github.com/MrWong99/theremin/pkg/voice"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded carry their new value; changes
// to anything else are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	WaveformChanged bool
	NewWaveform     voice.Waveform

	AmplitudeChanged bool
	NewAmplitude     float64

	GlideEnabledChanged bool
	NewGlideEnabled     bool

	OutOfRangeChanged bool
	NewOutOfRange     pipeline.OutOfRangePolicy

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.WaveformChanged && !d.AmplitudeChanged &&
		!d.GlideEnabledChanged && !d.OutOfRangeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voices.Waveform != new.Voices.Waveform {
		d.WaveformChanged = true
		d.NewWaveform = new.Voices.Waveform
	}
	if old.Voices.Amplitude != new.Voices.Amplitude {
		d.AmplitudeChanged = true
		d.NewAmplitude = new.Voices.Amplitude
	}
	if old.Glide.IsEnabled() != new.Glide.IsEnabled() {
		d.GlideEnabledChanged = true
		d.NewGlideEnabled = new.Glide.IsEnabled()
	}
	if old.Range.OutOfRange != new.Range.OutOfRange {
		d.OutOfRangeChanged = true
		d.NewOutOfRange = new.Range.OutOfRange
	}

	// Everything else is structural. Compare with the hot fields masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Voices.Waveform, n.Voices.Waveform = "", ""
	o.Voices.Amplitude, n.Voices.Amplitude = 0, 0
	o.Glide.Enabled, n.Glide.Enabled = nil, nil
	o.Range.OutOfRange, n.Range.OutOfRange = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"source", o.Source, n.Source},
		{"voices", o.Voices, n.Voices},
		{"range", o.Range, n.Range},
		{"frequency", o.Frequency, n.Frequency},
		{"scale", o.Scale, n.Scale},
		{"glide", o.Glide, n.Glide},
	}
	for _, s := range sections {
		if !cmp.Equal(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
