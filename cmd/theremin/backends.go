package main

import (
	"context"
	"fmt"

	"github.com/MrWong99/theremin/internal/config"
	"github.com/MrWong99/theremin/internal/observe"
	"github.com/MrWong99/theremin/pkg/depth"
	"github.com/MrWong99/theremin/pkg/depth/synthetic"
	"github.com/MrWong99/theremin/pkg/depth/wsource"
	"github.com/MrWong99/theremin/pkg/voice"
	"github.com/MrWong99/theremin/pkg/voice/remote"
)

// registerBuiltinBackends registers the depth sources and voice backends
// that ship with the theremin. Connection counts feed the client gauges.
func registerBuiltinBackends(reg *config.Registry, cfg *config.Config, m *observe.Metrics) {
	origins := cfg.Server.AllowedOrigins

	reg.RegisterSource("websocket", func(e config.BackendEntry) (depth.Source, error) {
		opts := []wsource.Option{
			wsource.WithOriginPatterns(origins...),
			wsource.WithConnHook(func(delta int64) { m.DepthClients.Add(context.Background(), delta) }),
		}
		limit, err := config.OptInt(e.Options, "read_limit", 0)
		if err != nil {
			return nil, fmt.Errorf("source websocket: %w", err)
		}
		if limit > 0 {
			opts = append(opts, wsource.WithReadLimit(int64(limit)))
		}
		return wsource.New(opts...), nil
	})

	reg.RegisterSource("synthetic", func(e config.BackendEntry) (depth.Source, error) {
		opts, err := syntheticOptions(e.Options)
		if err != nil {
			return nil, fmt.Errorf("source synthetic: %w", err)
		}
		return synthetic.New(opts...)
	})

	reg.RegisterVoices("remote", func(c config.VoicesConfig) (voice.Backend, error) {
		opts := []remote.Option{
			remote.WithOriginPatterns(origins...),
			remote.WithConnHook(func(delta int64) { m.SynthClients.Add(context.Background(), delta) }),
		}
		q, err := config.OptInt(c.Options, "queue_size", 0)
		if err != nil {
			return nil, fmt.Errorf("voices remote: %w", err)
		}
		if q > 0 {
			opts = append(opts, remote.WithQueueSize(q))
		}
		wt, err := config.OptDuration(c.Options, "write_timeout", 0)
		if err != nil {
			return nil, fmt.Errorf("voices remote: %w", err)
		}
		if wt > 0 {
			opts = append(opts, remote.WithWriteTimeout(wt))
		}
		return remote.New(c.Count, opts...)
	})
}

func syntheticOptions(o map[string]any) ([]synthetic.Option, error) {
	rate, err := config.OptFloat(o, "rate", synthetic.DefaultRate)
	if err != nil {
		return nil, err
	}
	period, err := config.OptDuration(o, "period", synthetic.DefaultPeriod)
	if err != nil {
		return nil, err
	}
	nearest, err := config.OptFloat(o, "nearest", synthetic.DefaultNearest)
	if err != nil {
		return nil, err
	}
	farthest, err := config.OptFloat(o, "farthest", synthetic.DefaultFarthest)
	if err != nil {
		return nil, err
	}
	width, err := config.OptInt(o, "width", synthetic.DefaultWidth)
	if err != nil {
		return nil, err
	}
	height, err := config.OptInt(o, "height", synthetic.DefaultHeight)
	if err != nil {
		return nil, err
	}

	opts := []synthetic.Option{
		synthetic.WithRate(rate),
		synthetic.WithPeriod(period),
		synthetic.WithSweep(nearest, farthest),
		synthetic.WithSize(width, height),
	}
	if name := config.OptString(o, "format"); name != "" {
		f, err := depth.ParsePixelFormat(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, synthetic.WithFormat(f))
	}
	return opts, nil
}
