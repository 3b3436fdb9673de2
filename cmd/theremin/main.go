// Command theremin runs the depth-sensor theremin control server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/theremin/internal/app"
	"github.com/MrWong99/theremin/internal/config"
	"github.com/MrWong99/theremin/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "theremin: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "theremin: %v\n", err)
		}
		return 1
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("theremin starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinBackends(reg, cfg, metrics)

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.Handler()),
		app.WithLevelVar(levelVar),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config) {
	scaleName := cfg.Scale.Key + " " + string(cfg.Scale.Mode)
	if len(cfg.Scale.Notes) > 0 {
		scaleName = fmt.Sprintf("custom (%d notes)", len(cfg.Scale.Notes))
	}
	glide := "off"
	if cfg.Glide.IsEnabled() {
		glide = fmt.Sprintf("%g Hz steps", cfg.Glide.StepHz)
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Theremin, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Depth source", cfg.Source.Name)
	printRow("Voices", fmt.Sprintf("%s × %d", cfg.Voices.Name, cfg.Voices.Count))
	printRow("Waveform", string(cfg.Voices.Waveform))
	printRow("Range", fmt.Sprintf("%g-%g m", cfg.Range.MinDepth, cfg.Range.MaxDepth))
	printRow("Frequency", fmt.Sprintf("%g-%g Hz", cfg.Frequency.Min, cfg.Frequency.Max))
	printRow("Scale", scaleName)
	printRow("Glide", glide)
	printRow("Out of range", string(cfg.Range.OutOfRange))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}
