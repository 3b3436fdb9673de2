package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/theremin/internal/pitch"
	"github.com/MrWong99/theremin/pkg/scale"
)

// ValidBackendNames lists the built-in implementation names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"source": {"websocket", "synthetic"},
	"voices": {"remote"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Backends
	if cfg.Source.Name == "" {
		errs = append(errs, errors.New("source.name is required"))
	}
	if cfg.Voices.Name == "" {
		errs = append(errs, errors.New("voices.name is required"))
	}
	validateBackendName("source", cfg.Source.Name)
	validateBackendName("voices", cfg.Voices.Name)

	// Voices
	v := cfg.Voices
	if v.Count < 1 {
		errs = append(errs, fmt.Errorf("voices.count %d must be at least 1", v.Count))
	}
	if len(v.Ratios) > v.Count {
		errs = append(errs, fmt.Errorf("voices.ratios lists %d ratios for %d voices", len(v.Ratios), v.Count))
	}
	for i, r := range v.Ratios {
		if !r.IsValid() {
			errs = append(errs, fmt.Errorf("voices.ratios[%d] %s is invalid", i, r))
		}
	}
	if !v.Waveform.IsValid() {
		errs = append(errs, fmt.Errorf("voices.waveform %q is invalid; valid values: sine, sawtooth, square, triangle", v.Waveform))
	}
	if !(v.Amplitude > 0 && v.Amplitude <= 1) {
		errs = append(errs, fmt.Errorf("voices.amplitude %v is out of range (0, 1]", v.Amplitude))
	}

	// Range
	if _, err := pitch.NewGate(cfg.Range.MinDepth, cfg.Range.MaxDepth); err != nil {
		errs = append(errs, fmt.Errorf("range: %w", err))
	}
	if !cfg.Range.OutOfRange.IsValid() {
		errs = append(errs, fmt.Errorf("range.out_of_range %q is invalid; valid values: mute, hold", cfg.Range.OutOfRange))
	}

	// Frequency
	f := cfg.Frequency
	if !(f.Min > 0) || !(f.Max > f.Min) || math.IsInf(f.Max, 0) {
		errs = append(errs, fmt.Errorf("frequency: need 0 < min < max, got min=%v max=%v", f.Min, f.Max))
	}

	// Scale
	if len(cfg.Scale.Notes) == 0 {
		if _, err := scale.ParseKey(cfg.Scale.Key); err != nil {
			errs = append(errs, fmt.Errorf("scale.key: %w", err))
		}
		if !cfg.Scale.Mode.IsValid() {
			errs = append(errs, fmt.Errorf("scale.mode %q is invalid; valid values: %v", cfg.Scale.Mode, scale.Modes()))
		}
	} else if cfg.Scale.Key != DefaultKey || cfg.Scale.Mode != scale.ModeMajor {
		slog.Warn("scale.notes is set; scale.key and scale.mode are ignored")
	}
	if !(cfg.Scale.Reference > 0) || math.IsInf(cfg.Scale.Reference, 0) {
		errs = append(errs, fmt.Errorf("scale.reference %v must be positive", cfg.Scale.Reference))
	}
	for i, hz := range cfg.Scale.Notes {
		if !(hz > 0) || math.IsInf(hz, 0) {
			errs = append(errs, fmt.Errorf("scale.notes[%d] %v must be positive", i, hz))
		}
	}
	if len(cfg.Scale.Notes) > 0 && len(cfg.Scale.Notes) < 2 {
		slog.Warn("scale.notes has a single note; every hand position will play it")
	}

	// Glide
	g := cfg.Glide
	if !(g.StepHz > 0) || math.IsInf(g.StepHz, 0) {
		errs = append(errs, fmt.Errorf("glide.step_hz %v must be positive", g.StepHz))
	}
	if g.EpsilonHz < 0 || math.IsNaN(g.EpsilonHz) {
		errs = append(errs, fmt.Errorf("glide.epsilon_hz %v must not be negative", g.EpsilonHz))
	}
	if err := g.Durations.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
