package wsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/theremin/pkg/depth"
)

// Default reconnection parameters.
const (
	defaultMaxRetries  = 10
	defaultBackoff     = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultSendTimeout = 1 * time.Second
)

// RelayConfig configures a [Relay].
type RelayConfig struct {
	// URL is the remote frame endpoint, e.g. ws://host:8080/frames.
	URL string

	// MaxRetries is the number of consecutive failed dials before Run gives
	// up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the delay after the first failed dial. It doubles on each
	// further failure up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the dial backoff. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// SendTimeout bounds a single frame write. Defaults to 1s if zero.
	SendTimeout time.Duration

	// OnConnect is called after every successful dial. May be nil.
	OnConnect func(attempt int)
}

// Relay forwards frames to a remote [Source] over a websocket and redials
// with exponential backoff whenever the connection drops. It implements
// [depth.Handler], so any local source can feed it. Frames arriving while
// disconnected are dropped rather than queued.
type Relay struct {
	url         string
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	sendTimeout time.Duration
	onConnect   func(int)

	mu           sync.Mutex
	pub          *Publisher
	disconnected chan struct{}

	sent, dropped atomic.Uint64
}

var _ depth.Handler = (*Relay)(nil)

// NewRelay creates a relay. Call [Relay.Run] to connect.
func NewRelay(cfg RelayConfig) *Relay {
	r := &Relay{
		url:          cfg.URL,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		sendTimeout:  cfg.SendTimeout,
		onConnect:    cfg.OnConnect,
		disconnected: make(chan struct{}, 1),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = defaultSendTimeout
	}
	return r
}

// Run dials the remote endpoint and keeps the connection alive until ctx is
// cancelled. It returns ctx.Err() on cancellation, or an error once
// MaxRetries consecutive dials have failed.
func (r *Relay) Run(ctx context.Context) error {
	defer r.swap(nil)

	for {
		pub, err := r.dial(ctx)
		if err != nil {
			return err
		}
		r.swap(pub)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.disconnected:
			slog.Warn("wsource relay: connection lost, redialling", "url", r.url)
		}
	}
}

// OnFrame implements [depth.Handler].
func (r *Relay) OnFrame(f depth.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pub == nil {
		r.dropped.Add(1)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()
	if err := r.pub.Send(ctx, f); err != nil {
		r.dropped.Add(1)
		slog.Debug("wsource relay: send failed", "err", err)
		_ = r.pub.Close()
		r.pub = nil
		select {
		case r.disconnected <- struct{}{}:
		default:
		}
		return
	}
	r.sent.Add(1)
}

// Connected reports whether the relay currently holds a connection.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub != nil
}

// Stats returns the number of frames sent and dropped so far.
func (r *Relay) Stats() (sent, dropped uint64) {
	return r.sent.Load(), r.dropped.Load()
}

func (r *Relay) swap(pub *Publisher) {
	r.mu.Lock()
	old := r.pub
	r.pub = pub
	r.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// dial tries to connect with exponential backoff.
func (r *Relay) dial(ctx context.Context) (*Publisher, error) {
	backoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		pub, err := Dial(ctx, r.url)
		if err == nil {
			slog.Info("wsource relay: connected", "url", r.url, "attempt", attempt)
			if r.onConnect != nil {
				r.onConnect(attempt)
			}
			return pub, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Warn("wsource relay: dial failed",
			"url", r.url,
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", backoff,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
	return nil, fmt.Errorf("wsource relay: giving up on %s after %d attempts", r.url, r.maxRetries)
}
