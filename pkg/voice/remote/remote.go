// Package remote drives voices that live in synthesiser clients connected
// over websocket.
//
// A [Hub] owns the authoritative state of N voices. The [voice.Voice] values
// returned by [Hub.Voices] buffer settings; when the [voice.Bank] commits an
// update the hub publishes every changed voice in one JSON message, so a
// client never sees a fundamental applied to some voices but not others.
// Newly connected clients first receive a snapshot of all voices.
//
// Clients that cannot keep up are disconnected rather than allowed to stall
// the bank.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/theremin/pkg/voice"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeUpdate   = "update"
)

const (
	// DefaultQueueSize is the number of messages buffered per client before
	// it is considered too slow.
	DefaultQueueSize = 64

	// DefaultWriteTimeout bounds a single message write.
	DefaultWriteTimeout = 2 * time.Second
)

// State is one voice's settings as sent to clients.
type State struct {
	Index     int            `json:"index"`
	Left      float64        `json:"left"`
	Right     float64        `json:"right"`
	Muted     bool           `json:"muted"`
	Waveform  voice.Waveform `json:"waveform"`
	Amplitude float64        `json:"amplitude"`
}

// Message is the JSON envelope sent to synthesiser clients.
type Message struct {
	Type   string  `json:"type"`
	Seq    uint64  `json:"seq"`
	Voices []State `json:"voices"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the per-client message buffer.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWriteTimeout sets the per-message write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns sets the host patterns allowed to connect from a
// browser.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// WithConnHook registers fn to be called with +1 when a client connects and
// -1 when it disconnects.
func WithConnHook(fn func(delta int64)) Option {
	return func(h *Hub) { h.connHook = fn }
}

// Hub fans voice state out to websocket clients. It implements
// [http.Handler].
type Hub struct {
	queueSize      int
	writeTimeout   time.Duration
	originPatterns []string
	connHook       func(delta int64)

	mu        sync.Mutex
	pending   []State
	committed []State
	seq       uint64
	clients   map[*client]struct{}
	closed    bool

	voices []voice.Voice
}

type client struct {
	send chan Message

	// gone is closed when the client is removed from the hub.
	gone     chan struct{}
	goneOnce sync.Once
}

func (c *client) drop() { c.goneOnce.Do(func() { close(c.gone) }) }

var _ http.Handler = (*Hub)(nil)

// New creates a hub for n voices.
func New(n int, opts ...Option) (*Hub, error) {
	if n <= 0 {
		return nil, errors.New("remote: hub needs at least one voice")
	}
	h := &Hub{
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		pending:      make([]State, n),
		committed:    make([]State, n),
		clients:      make(map[*client]struct{}),
		voices:       make([]voice.Voice, n),
	}
	for _, o := range opts {
		o(h)
	}
	for i := range n {
		h.pending[i] = State{Index: i, Muted: true}
		h.committed[i] = h.pending[i]
		h.voices[i] = &remoteVoice{hub: h, index: i}
	}
	return h, nil
}

// Voices returns one [voice.Voice] per hub slot, in index order.
func (h *Hub) Voices() []voice.Voice {
	return append([]voice.Voice(nil), h.voices...)
}

// Snapshot returns the last committed state of every voice.
func (h *Hub) Snapshot() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.committed...)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later commits are still recorded but not
// sent, and new connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.drop()
	}
	return nil
}

func (h *Hub) update(i int, fn func(*State)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.pending[i])
}

// Commit publishes every voice whose pending state differs from what
// clients last saw, as one update message.
func (h *Hub) Commit() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var changed []State
	for i, s := range h.pending {
		if s != h.committed[i] {
			h.committed[i] = s
			changed = append(changed, s)
		}
	}
	if len(changed) == 0 {
		return
	}
	h.seq++
	h.broadcastLocked(Message{Type: TypeUpdate, Seq: h.seq, Voices: changed})
}

func (h *Hub) broadcastLocked(m Message) {
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			// Too slow: drop the client instead of blocking the bank.
			delete(h.clients, c)
			c.drop()
			slog.Warn("remote: dropping slow synth client")
		}
	}
}

// ServeHTTP accepts a synthesiser client and streams voice messages to it
// until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("remote: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan Message, h.queueSize), gone: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	// The snapshot is queued under the same lock as registration so no
	// update can slip in between.
	c.send <- Message{Type: TypeSnapshot, Seq: h.seq, Voices: append([]State(nil), h.committed...)}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.hook(1)
	defer h.hook(-1)
	defer h.remove(c)

	log := slog.With("remote", r.RemoteAddr)
	log.Info("remote: synth client connected")

	// Clients never send; CloseRead handles pings and close frames.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			log.Info("remote: synth client disconnected")
			return
		case <-c.gone:
			conn.Close(websocket.StatusPolicyViolation, "too slow or shutting down")
			return
		case m := <-c.send:
			if err := h.write(ctx, conn, m); err != nil {
				log.Warn("remote: write failed", "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.drop()
}

func (h *Hub) hook(delta int64) {
	if h.connHook != nil {
		h.connHook(delta)
	}
}

// remoteVoice is the [voice.Voice] view of one hub slot.
type remoteVoice struct {
	hub   *Hub
	index int
}

var (
	_ voice.Voice     = (*remoteVoice)(nil)
	_ voice.Committer = (*remoteVoice)(nil)
	_ voice.Grouped   = (*remoteVoice)(nil)
)

func (v *remoteVoice) SetFrequencyLeft(hz float64) {
	v.hub.update(v.index, func(s *State) { s.Left = hz })
}

func (v *remoteVoice) SetFrequencyRight(hz float64) {
	v.hub.update(v.index, func(s *State) { s.Right = hz })
}

func (v *remoteVoice) SetMuted(muted bool) {
	v.hub.update(v.index, func(s *State) { s.Muted = muted })
}

func (v *remoteVoice) SetWaveform(w voice.Waveform) {
	v.hub.update(v.index, func(s *State) { s.Waveform = w })
}

func (v *remoteVoice) SetAmplitude(a float64) {
	v.hub.update(v.index, func(s *State) { s.Amplitude = a })
}

func (v *remoteVoice) Commit() { v.hub.Commit() }

// Group makes the bank commit the whole hub once per update.
func (v *remoteVoice) Group() voice.Committer { return v.hub }

var _ voice.Backend = (*Hub)(nil)
