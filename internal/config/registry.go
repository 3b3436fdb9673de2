package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/theremin/pkg/depth"
	"github.com/MrWong99/theremin/pkg/voice"
)

// ErrUnknownKind is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrUnknownKind = errors.New("config: backend not registered")

// SourceFactory builds a depth source from its config entry.
type SourceFactory func(BackendEntry) (depth.Source, error)

// VoiceFactory builds a voice backend from the voices section.
type VoiceFactory func(VoicesConfig) (voice.Backend, error)

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	voices  map[string]VoiceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		voices:  make(map[string]VoiceFactory),
	}
}

// RegisterSource registers a depth source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// RegisterVoices registers a voice backend factory under name.
func (r *Registry) RegisterVoices(name string, factory VoiceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices[name] = factory
}

// CreateSource instantiates the depth source registered under entry.Name.
// Returns [ErrUnknownKind] if no factory has been registered for that name.
func (r *Registry) CreateSource(entry BackendEntry) (depth.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q (known: %v)", ErrUnknownKind, entry.Name, r.SourceNames())
	}
	return factory(entry)
}

// CreateVoices instantiates the voice backend registered under cfg.Name.
func (r *Registry) CreateVoices(cfg VoicesConfig) (voice.Backend, error) {
	r.mu.RLock()
	factory, ok := r.voices[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voices/%q (known: %v)", ErrUnknownKind, cfg.Name, r.VoiceNames())
	}
	return factory(cfg)
}

// SourceNames returns the registered source names in sorted order.
func (r *Registry) SourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// VoiceNames returns the registered voice backend names in sorted order.
func (r *Registry) VoiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.voices)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// OptString returns opts[key] as a string, or "" when absent or not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptFloat returns opts[key] as a float64. YAML integers are accepted.
func OptFloat(opts map[string]any, key string, def float64) (float64, error) {
	switch v := opts[key].(type) {
	case nil:
		return def, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("option %q: expected a number, got %T", key, v)
	}
}

// OptInt returns opts[key] as an int.
func OptInt(opts map[string]any, key string, def int) (int, error) {
	switch v := opts[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("option %q: expected an integer, got %T", key, v)
	}
}

// OptDuration returns opts[key] parsed as a duration string such as "8s".
func OptDuration(opts map[string]any, key string, def time.Duration) (time.Duration, error) {
	switch v := opts[key].(type) {
	case nil:
		return def, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("option %q: expected a duration string, got %T", key, v)
	}
}
