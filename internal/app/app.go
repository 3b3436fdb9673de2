// Package app wires the theremin subsystems into a running server.
//
// New builds the chain depth source → pipeline → glide controller → voice
// bank → voice backend from the config, Run serves HTTP and drives the
// source until the context ends, and Shutdown silences the voices and
// releases everything in order.
//
// For testing, inject the source, backend, metrics or glide ticker via
// functional options. When an option is not provided, New creates the
// component from the config through the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/theremin/internal/config"
	"github.com/MrWong99/theremin/internal/glide"
	"github.com/MrWong99/theremin/internal/health"
	"github.com/MrWong99/theremin/internal/observe"
	"github.com/MrWong99/theremin/internal/pipeline"
	"github.com/MrWong99/theremin/internal/pitch"
	"github.com/MrWong99/theremin/pkg/depth"
	"github.com/MrWong99/theremin/pkg/voice"
)

const (
	// readyMaxAge is how recent the last depth frame must be for /readyz.
	readyMaxAge = 5 * time.Second

	// serverShutdownTimeout bounds the graceful HTTP shutdown inside Run.
	serverShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	source  depth.Source
	backend voice.Backend
	bank    *voice.Bank
	glide   *glide.Controller
	pipe    *pipeline.Pipeline

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	configPath     string
	watchInterval  time.Duration
	ticker         glide.TickerFunc

	mu       sync.Mutex
	addr     net.Addr
	listened chan struct{}

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithSource injects a depth source instead of creating one from config.
func WithSource(s depth.Source) Option {
	return func(a *App) { a.source = s }
}

// WithBackend injects a voice backend instead of creating one from config.
func WithBackend(b voice.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics sets the metrics instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithConfigWatch makes Run poll path and hot-apply changes. A zero
// interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithGlideTicker replaces the glide controller's ticker, for tests.
func WithGlideTicker(fn glide.TickerFunc) Option {
	return func(a *App) { a.ticker = fn }
}

// New creates an App from cfg. reg may be nil when both the source and the
// backend are injected.
func New(_ context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		listened: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initBackends(reg); err != nil {
		return nil, err
	}
	if err := a.initVoices(); err != nil {
		return nil, fmt.Errorf("app: init voices: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	slog.Info("instrument ready",
		"source", a.cfg.Source.Name,
		"voices", a.bank.Len(),
		"scale", a.cfg.Scale.Key+" "+string(a.cfg.Scale.Mode),
		"glide", a.glide.Enabled(),
	)
	return a, nil
}

func (a *App) initBackends(reg *config.Registry) error {
	if (a.source == nil || a.backend == nil) && reg == nil {
		return errors.New("app: a registry is required unless source and backend are injected")
	}
	if a.source == nil {
		src, err := reg.CreateSource(a.cfg.Source)
		if err != nil {
			return fmt.Errorf("app: create source: %w", err)
		}
		a.source = src
	}
	if a.backend == nil {
		b, err := reg.CreateVoices(a.cfg.Voices)
		if err != nil {
			return fmt.Errorf("app: create voices: %w", err)
		}
		a.backend = b
	}
	if c, ok := a.backend.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	return nil
}

func (a *App) initVoices() error {
	bank, err := voice.NewBank(a.backend.Voices(), a.cfg.Voices.Ratios)
	if err != nil {
		return err
	}
	bank.Init(voice.DefaultFrequency, a.cfg.Voices.Amplitude, a.cfg.Voices.Waveform)
	a.bank = bank
	return nil
}

func (a *App) initPipeline() error {
	sc, err := a.cfg.BuildScale()
	if err != nil {
		return err
	}
	gate, err := pitch.NewGate(a.cfg.Range.MinDepth, a.cfg.Range.MaxDepth)
	if err != nil {
		return err
	}
	mapper, err := pitch.NewMapper(a.cfg.Frequency.Min, a.cfg.Frequency.Max, sc)
	if err != nil {
		return err
	}

	gopts := []glide.Option{
		glide.WithStepSize(a.cfg.Glide.StepHz),
		glide.WithEpsilon(a.cfg.Glide.EpsilonHz),
		glide.WithTable(a.cfg.Glide.Durations),
		glide.WithEnabled(a.cfg.Glide.IsEnabled()),
		glide.WithObserver(func(e glide.Event) {
			a.metrics.RecordGlide(context.Background(), e.String())
		}),
	}
	if a.ticker != nil {
		gopts = append(gopts, glide.WithTicker(a.ticker))
	}
	a.glide, err = glide.New(&meteredSink{bank: a.bank, metrics: a.metrics}, gopts...)
	if err != nil {
		return err
	}

	a.pipe, err = pipeline.New(gate, mapper, a.glide,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithOutOfRangePolicy(a.cfg.Range.OutOfRange),
	)
	return err
}

// meteredSink forwards glide output to the bank and counts it.
type meteredSink struct {
	bank    *voice.Bank
	metrics *observe.Metrics
}

func (s *meteredSink) Fundamental(hz float64) {
	s.bank.Fundamental(hz)
	s.metrics.RecordRetune(context.Background(), hz)
}

func (s *meteredSink) Silence() {
	s.bank.Silence()
	s.metrics.RecordSilence(context.Background())
}

// Pipeline returns the frame pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Bank returns the voice bank.
func (a *App) Bank() *voice.Bank { return a.bank }

// Glide returns the glide controller.
func (a *App) Glide() *glide.Controller { return a.glide }

// Handler returns the HTTP routes wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(
		[]health.Checker{{Name: "depth", Check: a.pipe.FreshnessCheck(readyMaxAge)}},
		health.WithStatus(func() any { return a.Status() }),
	).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	if h, ok := a.source.(http.Handler); ok {
		mux.Handle("GET /frames", h)
	}
	if h, ok := a.backend.(http.Handler); ok {
		mux.Handle("GET /voices", h)
	}
	a.registerControl(mux)

	return observe.Middleware(a.metrics)(mux)
}

// Addr returns the address the server is listening on once Run has bound
// it, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Listening is closed once Run has bound its listener.
func (a *App) Listening() <-chan struct{} { return a.listened }

// Run serves HTTP, drives the depth source and, when configured, watches the
// config file. It blocks until ctx is cancelled or a component fails, and
// returns the first failure or ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	close(a.listened)

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error {
		err := a.source.Run(gctx, a.pipe)
		if err == nil || gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("app: depth source: %w", err)
	})

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error {
				if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("config watcher stopped", "path", a.configPath, "err", err)
				}
				return nil
			})
		}
	}

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown silences the voices, stops the glide controller and runs the
// closers. If ctx expires first, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.glide.Release()
		a.glide.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
