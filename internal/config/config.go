// Package config provides the configuration schema, loader, file watcher and
// backend registry for the theremin server.
package config

import (
	"log/slog"

	"github.com/MrWong99/theremin/internal/glide"
	"github.com/MrWong99/theremin/internal/pipeline"
	"github.com/MrWong99/theremin/internal/pitch"
	"github.com/MrWong99/theremin/pkg/scale"
	"github.com/MrWong99/theremin/pkg/voice"
)

// LogLevel controls log verbosity for the theremin server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog converts l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Source    BackendEntry    `yaml:"source"`
	Voices    VoicesConfig    `yaml:"voices"`
	Range     RangeConfig     `yaml:"range"`
	Frequency FrequencyConfig `yaml:"frequency"`
	Scale     ScaleConfig     `yaml:"scale"`
	Glide     GlideConfig     `yaml:"glide"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns browsers may open websockets from.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendEntry selects a registered implementation by name. Options carries
// implementation-specific values.
type BackendEntry struct {
	// Name selects the registered implementation (e.g., "websocket").
	Name string `yaml:"name"`

	// Options holds implementation-specific configuration values. Values may
	// be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// VoicesConfig describes the voice bank.
type VoicesConfig struct {
	BackendEntry `yaml:",inline"`

	// Count is the number of voices in the bank.
	Count int `yaml:"count"`

	// Ratios assigns a harmonic ratio by voice index, written "5/4" or "1".
	// Voices beyond the list play at unison.
	Ratios []voice.Ratio `yaml:"ratios"`

	// Waveform is the oscillator shape. Hot-reloadable.
	Waveform voice.Waveform `yaml:"waveform"`

	// Amplitude is the output gain in (0,1]. Hot-reloadable.
	Amplitude float64 `yaml:"amplitude"`
}

// RangeConfig is the playing range in front of the sensor.
type RangeConfig struct {
	MinDepth float64 `yaml:"min_depth"`
	MaxDepth float64 `yaml:"max_depth"`

	// OutOfRange selects what happens when the hand leaves the range.
	// Hot-reloadable.
	OutOfRange pipeline.OutOfRangePolicy `yaml:"out_of_range"`
}

// FrequencyConfig is the unquantized frequency span the range maps onto.
type FrequencyConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ScaleConfig selects the notes output pitches snap to.
type ScaleConfig struct {
	// Key is the tonic, e.g. "C", "F#", "Bb".
	Key string `yaml:"key"`

	// Mode is the interval pattern, e.g. "major".
	Mode scale.Mode `yaml:"mode"`

	// Reference is the frequency of A4 in Hz.
	Reference float64 `yaml:"reference"`

	// Notes, when set, replaces Key and Mode with an explicit list of
	// frequencies in Hz.
	Notes []float64 `yaml:"notes"`
}

// GlideConfig configures portamento between notes.
type GlideConfig struct {
	// Enabled turns gliding on. A nil value means enabled. Hot-reloadable.
	Enabled *bool `yaml:"enabled"`

	// StepHz is the frequency change per tick.
	StepHz float64 `yaml:"step_hz"`

	// EpsilonHz is the smallest target change that is acted upon.
	EpsilonHz float64 `yaml:"epsilon_hz"`

	// Durations maps jump size to glide time. Jumps at or beyond the last
	// threshold are applied instantly.
	Durations glide.Table `yaml:"durations"`
}

// IsEnabled reports whether gliding is on.
func (g GlideConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultSource     = "synthetic"
	DefaultVoices     = "remote"
	DefaultVoiceCount = 4
	DefaultKey        = "C"
)

// ApplyDefaults fills unset fields with the reference configuration.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Source.Name == "" {
		cfg.Source.Name = DefaultSource
	}
	if cfg.Voices.Name == "" {
		cfg.Voices.Name = DefaultVoices
	}
	if cfg.Voices.Count == 0 {
		cfg.Voices.Count = DefaultVoiceCount
	}
	if cfg.Voices.Ratios == nil && cfg.Voices.Count > 0 {
		n := min(cfg.Voices.Count, len(voice.DefaultRatios))
		cfg.Voices.Ratios = append([]voice.Ratio(nil), voice.DefaultRatios[:n]...)
	}
	if cfg.Voices.Waveform == "" {
		cfg.Voices.Waveform = voice.Sine
	}
	if cfg.Voices.Amplitude == 0 {
		cfg.Voices.Amplitude = voice.DefaultAmplitude
	}
	if cfg.Range.MinDepth == 0 && cfg.Range.MaxDepth == 0 {
		cfg.Range.MinDepth = pitch.DefaultMinDepth
		cfg.Range.MaxDepth = pitch.DefaultMaxDepth
	}
	if cfg.Range.OutOfRange == "" {
		cfg.Range.OutOfRange = pipeline.PolicyMute
	}
	if cfg.Frequency.Min == 0 && cfg.Frequency.Max == 0 {
		cfg.Frequency.Min = pitch.DefaultMinFreq
		cfg.Frequency.Max = pitch.DefaultMaxFreq
	}
	if cfg.Scale.Key == "" {
		cfg.Scale.Key = DefaultKey
	}
	if cfg.Scale.Mode == "" {
		cfg.Scale.Mode = scale.ModeMajor
	}
	if cfg.Scale.Reference == 0 {
		cfg.Scale.Reference = scale.DefaultReference
	}
	if cfg.Glide.StepHz == 0 {
		cfg.Glide.StepHz = glide.DefaultStepSize
	}
	if cfg.Glide.EpsilonHz == 0 {
		cfg.Glide.EpsilonHz = glide.DefaultEpsilon
	}
	if cfg.Glide.Durations == nil {
		cfg.Glide.Durations = append(glide.Table(nil), glide.DefaultTable...)
	}
}

// BuildScale constructs the quantizer described by the scale section.
func (c *Config) BuildScale() (*scale.Scale, error) {
	if len(c.Scale.Notes) > 0 {
		return scale.FromFrequencies("custom", c.Scale.Notes)
	}
	key, err := scale.ParseKey(c.Scale.Key)
	if err != nil {
		return nil, err
	}
	return scale.New(key, c.Scale.Mode, c.Scale.Reference)
}
