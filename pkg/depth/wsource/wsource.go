// Package wsource implements a [depth.Source] fed over websocket.
//
// A capture client (a phone or a desktop process attached to a depth camera)
// connects to the [Source]'s HTTP handler and sends one msgpack-encoded
// [Message] per binary websocket message. Frames are handed to the running
// handler in arrival order; frames that arrive while no handler is running
// are rejected at the HTTP layer.
package wsource

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/theremin/pkg/depth"
)

// DefaultReadLimit bounds a single frame message. 640×480 float32 plus
// envelope fits comfortably.
const DefaultReadLimit = 4 << 20

// ErrAlreadyRunning is returned by [Source.Run] when called twice
// concurrently.
var ErrAlreadyRunning = errors.New("wsource: source already running")

// Option configures a [Source].
type Option func(*Source)

// WithReadLimit sets the maximum accepted message size in bytes.
func WithReadLimit(n int64) Option {
	return func(s *Source) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithOriginPatterns sets the host patterns allowed to connect from a
// browser. See [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Source) { s.originPatterns = patterns }
}

// WithConnHook registers fn to be called with +1 when a publisher connects
// and -1 when it disconnects.
func WithConnHook(fn func(delta int64)) Option {
	return func(s *Source) { s.connHook = fn }
}

// Source accepts depth frames from websocket publishers. It implements both
// [depth.Source] and [http.Handler].
type Source struct {
	readLimit      int64
	originPatterns []string
	connHook       func(delta int64)

	mu      sync.Mutex
	handler depth.Handler
	runCtx  context.Context

	// deliver serialises OnFrame across publishers.
	deliver sync.Mutex

	clients  atomic.Int64
	received atomic.Uint64
	dropped  atomic.Uint64
}

var (
	_ depth.Source = (*Source)(nil)
	_ http.Handler = (*Source)(nil)
)

// New creates a websocket frame source.
func New(opts ...Option) *Source {
	s := &Source{readLimit: DefaultReadLimit}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run installs h as the frame handler and blocks until ctx is done. Open
// publisher connections are closed when Run returns.
func (s *Source) Run(ctx context.Context, h depth.Handler) error {
	if h == nil {
		return errors.New("wsource: handler must not be nil")
	}
	s.mu.Lock()
	if s.handler != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.handler = h
	s.runCtx = ctx
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.handler = nil
	s.runCtx = nil
	s.mu.Unlock()
	return ctx.Err()
}

// ServeHTTP upgrades the request to a websocket and streams frames from it
// until the publisher disconnects or Run returns.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		http.Error(w, "depth source not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Warn("wsource: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	s.clients.Add(1)
	s.hook(1)
	defer func() {
		s.clients.Add(-1)
		s.hook(-1)
	}()

	log := slog.With("remote", r.RemoteAddr)
	log.Info("wsource: publisher connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				log.Info("wsource: publisher disconnected")
			} else {
				log.Warn("wsource: read failed", "err", err)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageBinary {
			conn.Close(websocket.StatusUnsupportedData, "frames must be binary msgpack")
			return
		}
		f, err := Decode(data)
		if err != nil {
			s.dropped.Add(1)
			log.Debug("wsource: dropping undecodable message", "err", err)
			continue
		}
		s.received.Add(1)
		s.dispatch(f)
	}
}

func (s *Source) dispatch(f depth.Frame) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		s.dropped.Add(1)
		return
	}
	s.deliver.Lock()
	defer s.deliver.Unlock()
	h.OnFrame(f)
}

func (s *Source) hook(delta int64) {
	if s.connHook != nil {
		s.connHook(delta)
	}
}

// Clients returns the number of connected publishers.
func (s *Source) Clients() int64 { return s.clients.Load() }

// Stats returns the number of frames delivered and dropped so far.
func (s *Source) Stats() (received, dropped uint64) {
	return s.received.Load(), s.dropped.Load()
}
