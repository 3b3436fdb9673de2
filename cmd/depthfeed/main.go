// Command depthfeed streams simulated depth frames to a running theremin's
// /frames endpoint. It stands in for a camera when the theremin is
// configured with the websocket source.
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

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/theremin/pkg/depth"
	"github.com/MrWong99/theremin/pkg/depth/synthetic"
	"github.com/MrWong99/theremin/pkg/depth/wsource"
)

func main() {
	os.Exit(run())
}

func run() int {
	url := flag.String("url", "ws://localhost:8080/frames", "theremin frame endpoint")
	rate := flag.Float64("rate", synthetic.DefaultRate, "frames per second")
	period := flag.Duration("period", synthetic.DefaultPeriod, "duration of one near-far-near sweep")
	nearest := flag.Float64("nearest", synthetic.DefaultNearest, "nearest simulated distance in metres")
	farthest := flag.Float64("farthest", synthetic.DefaultFarthest, "farthest simulated distance in metres")
	format := flag.String("format", depth.DepthFloat32.String(), "pixel format of emitted frames")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	pf, err := depth.ParsePixelFormat(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthfeed: %v\n", err)
		return 2
	}
	src, err := synthetic.New(
		synthetic.WithRate(*rate),
		synthetic.WithPeriod(*period),
		synthetic.WithSweep(*nearest, *farthest),
		synthetic.WithFormat(pf),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthfeed: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := wsource.NewRelay(wsource.RelayConfig{URL: *url})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return src.Run(gctx, relay) })
	g.Go(func() error {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				sent, dropped := relay.Stats()
				slog.Info("depthfeed: progress", "sent", sent, "dropped", dropped, "connected", relay.Connected())
			}
		}
	})

	err = g.Wait()
	sent, dropped := relay.Stats()
	slog.Info("depthfeed: stopped", "sent", sent, "dropped", dropped)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("depthfeed failed", "err", err)
		return 1
	}
	return 0
}
