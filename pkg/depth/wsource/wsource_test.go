package wsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/theremin/pkg/depth"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startSource runs s until the test ends and returns an httptest server
// exposing it, along with a channel of delivered frames.
func startSource(t *testing.T, s *Source) (*httptest.Server, <-chan depth.Frame, context.CancelFunc) {
	t.Helper()
	frames := make(chan depth.Frame, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, depth.HandlerFunc(func(f depth.Frame) { frames <- f }))
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		s.mu.Lock()
		running := s.runCtx != nil
		s.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("source never started")
		}
		time.Sleep(time.Millisecond)
	}

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv, frames, cancel
}

func recv(t *testing.T, ch <-chan depth.Frame) depth.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return depth.Frame{}
	}
}

func TestEncodeDecode_PreservesFrame(t *testing.T) {
	f := depth.NewFrame16(depth.DisparityFloat16, 3, 2, []float32{1, 2, 3, 4, 5, 6})
	f.Stride = 6
	f.Timestamp = 42 * time.Millisecond

	b, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Format != f.Format || got.Width != 3 || got.Height != 2 || got.Stride != 6 || got.Timestamp != f.Timestamp {
		t.Errorf("Decode = %+v, want %+v", got, f)
	}
	if string(got.Data) != string(f.Data) {
		t.Error("pixel data changed in transit")
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Error("expected error for invalid msgpack")
	}
}

func TestSource_DeliversFramesInOrder(t *testing.T) {
	var conns atomic.Int64
	s := New(WithConnHook(func(d int64) { conns.Add(d) }))
	srv, frames, _ := startSource(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pub, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer pub.Close()

	for _, d := range []float32{0.5, 1.0, 1.5} {
		if err := pub.Send(ctx, depth.Uniform(2, 2, d)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	var r depth.Reducer
	for _, want := range []float64{0.5, 1.0, 1.5} {
		f := recv(t, frames)
		got, err := r.Reduce(f)
		if err != nil {
			t.Fatalf("Reduce: %v", err)
		}
		if got != want {
			t.Errorf("frame depth = %v, want %v", got, want)
		}
	}
	if n := conns.Load(); n != 1 {
		t.Errorf("connection hook balance = %d, want 1", n)
	}
	if received, _ := s.Stats(); received != 3 {
		t.Errorf("received = %d, want 3", received)
	}
}

func TestSource_SkipsUndecodableMessages(t *testing.T) {
	s := New()
	srv, frames, _ := startSource(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0xc1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	good, _ := Encode(depth.Uniform(1, 1, 2))
	if err := conn.Write(ctx, websocket.MessageBinary, good); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f := recv(t, frames)
	if f.Width != 1 || f.Height != 1 {
		t.Errorf("unexpected frame %+v", f)
	}
	if _, dropped := s.Stats(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestSource_RejectsTextMessages(t *testing.T) {
	s := New()
	srv, _, _ := startSource(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"format":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusUnsupportedData {
		t.Errorf("close status = %v, want %v (err=%v)", got, websocket.StatusUnsupportedData, err)
	}
}

func TestSource_NotRunning(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSource_RunTwice(t *testing.T) {
	s := New()
	startSource(t, s)

	err := s.Run(context.Background(), depth.HandlerFunc(func(depth.Frame) {}))
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

func TestSource_CancelDisconnectsPublishers(t *testing.T) {
	s := New()
	srv, _, stop := startSource(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	stop()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected read error after source stopped")
	}
	if ctx.Err() != nil {
		t.Error("publisher was not disconnected before the test deadline")
	}
}
