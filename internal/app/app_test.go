package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/theremin/internal/app"
	"github.com/MrWong99/theremin/internal/config"
	"github.com/MrWong99/theremin/internal/observe"
	"github.com/MrWong99/theremin/internal/pitch"
	"github.com/MrWong99/theremin/pkg/depth"
	"github.com/MrWong99/theremin/pkg/depth/mock"
	"github.com/MrWong99/theremin/pkg/depth/wsource"
	"github.com/MrWong99/theremin/pkg/scale"
	"github.com/MrWong99/theremin/pkg/voice"
	voicemock "github.com/MrWong99/theremin/pkg/voice/mock"
	"github.com/MrWong99/theremin/pkg/voice/remote"
)

type testBackend struct {
	voices []voice.Voice
	closed atomic.Int32
}

func (b *testBackend) Voices() []voice.Voice { return b.voices }
func (b *testBackend) Close() error          { b.closed.Add(1); return nil }

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: 127.0.0.1:0\n" + yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config, src depth.Source, opts ...app.Option) (*app.App, []*voicemock.Voice, *testBackend) {
	t.Helper()
	mocks, vs := voicemock.NewVoices(cfg.Voices.Count)
	backend := &testBackend{voices: vs}
	opts = append([]app.Option{
		app.WithSource(src),
		app.WithBackend(backend),
		app.WithMetrics(testMetrics(t)),
	}, opts...)

	a, err := app.New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, mocks, backend
}

func TestNew_InitialisesVoices(t *testing.T) {
	t.Parallel()

	a, mocks, _ := newTestApp(t, testConfig(t, ""), &mock.Source{})

	if len(mocks) != config.DefaultVoiceCount {
		t.Fatalf("voices = %d, want %d", len(mocks), config.DefaultVoiceCount)
	}
	for i, v := range mocks {
		if v.Left() != voice.DefaultFrequency || v.Right() != voice.DefaultFrequency {
			t.Errorf("voice %d frequency = %v/%v, want %v", i, v.Left(), v.Right(), voice.DefaultFrequency)
		}
		if v.Amplitude() != voice.DefaultAmplitude {
			t.Errorf("voice %d amplitude = %v", i, v.Amplitude())
		}
		if v.Waveform() != voice.Sine {
			t.Errorf("voice %d waveform = %q", i, v.Waveform())
		}
		if !v.Muted() {
			t.Errorf("voice %d should start muted", i)
		}
	}

	st := a.Status()
	if !st.Enabled || !st.GlideEnabled || st.OutOfRange != "mute" {
		t.Errorf("status = %+v", st)
	}
}

func TestNew_RequiresRegistry(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t, ""), nil, app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("New without registry or injected backends should fail")
	}
}

func TestNew_FromRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSource("synthetic", func(config.BackendEntry) (depth.Source, error) {
		return &mock.Source{}, nil
	})
	backend := &testBackend{}
	reg.RegisterVoices("remote", func(c config.VoicesConfig) (voice.Backend, error) {
		_, backend.voices = voicemock.NewVoices(c.Count)
		return backend, nil
	})

	a, err := app.New(context.Background(), testConfig(t, ""), reg, app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Bank().Len() != config.DefaultVoiceCount {
		t.Errorf("bank has %d voices", a.Bank().Len())
	}

	// The backend's Close is registered as a closer.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if backend.closed.Load() != 1 {
		t.Errorf("backend closed %d times, want 1", backend.closed.Load())
	}

	_, err = app.New(context.Background(), testConfig(t, "source:\n  name: websocket\n"), reg, app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, config.ErrUnknownKind) {
		t.Errorf("unregistered source error = %v, want ErrUnknownKind", err)
	}
}

func TestRun_PlaysFramesAndShutsDown(t *testing.T) {
	t.Parallel()

	src := &mock.Source{Frames: []depth.Frame{depth.Uniform(8, 6, 1.55)}}
	a, mocks, backend := newTestApp(t, testConfig(t, ""), src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-src.Delivered():
	case <-time.After(2 * time.Second):
		t.Fatal("frames not delivered")
	}
	<-a.Listening()

	// 1.55 m in the default setup maps onto G6.
	g6 := scale.MIDIToHz(91, scale.DefaultReference)
	if got := a.Bank().State().Fundamental; math.Abs(got-g6) > 1e-9 {
		t.Errorf("fundamental = %v, want %v", got, g6)
	}
	if mocks[0].Muted() {
		t.Error("voice 0 should sound after an in-range frame")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	var st app.Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Fundamental != a.Bank().State().Fundamental || st.LastFrame == nil {
		t.Errorf("status = %+v", st)
	}

	resp, err = http.Get("http://" + a.Addr().String() + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz = %d after a fresh frame, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for i, v := range mocks {
		if !v.Muted() {
			t.Errorf("voice %d still sounding after shutdown", i)
		}
	}
	if backend.closed.Load() != 1 {
		t.Errorf("backend closed %d times", backend.closed.Load())
	}
	// Shutdown is idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestRun_SourceFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("camera unplugged")
	a, _, _ := newTestApp(t, testConfig(t, ""), &mock.Source{RunErr: boom})

	err := a.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	hub, err := remote.New(cfg.Voices.Count)
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	metricsHit := false
	a, err := app.New(context.Background(), cfg, nil,
		app.WithSource(wsource.New()),
		app.WithBackend(hub),
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			metricsHit = true
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := a.Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/status", http.StatusOK},
		{"/metrics", http.StatusOK},
		// Not running, and not a websocket handshake either way.
		{"/frames", http.StatusServiceUnavailable},
		{"/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, rec.Code, tc.want)
		}
	}
	if !metricsHit {
		t.Error("metrics handler not mounted")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/voices", nil))
	if rec.Code == http.StatusNotFound {
		t.Error("/voices not mounted for a remote backend")
	}
}

func TestControl(t *testing.T) {
	t.Parallel()

	a, mocks, _ := newTestApp(t, testConfig(t, ""), &mock.Source{})
	h := a.Handler()

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", path, strings.NewReader(body)))
		return rec
	}

	if rec := post("/control/enabled", `{"enabled": false}`); rec.Code != http.StatusOK {
		t.Fatalf("enabled: %d %s", rec.Code, rec.Body)
	}
	if a.Pipeline().Enabled() {
		t.Error("pipeline should be paused")
	}

	// floor(4 × 0.6) = 2 → square.
	if rec := post("/control/waveform", `{"level": 0.6}`); rec.Code != http.StatusOK {
		t.Fatalf("waveform level: %d", rec.Code)
	}
	if got := mocks[0].Waveform(); got != voice.Square {
		t.Errorf("waveform = %q, want square", got)
	}
	// Out of the selector range: unchanged.
	post("/control/waveform", `{"level": 1}`)
	if got := mocks[0].Waveform(); got != voice.Square {
		t.Errorf("waveform after level 1 = %q, want square", got)
	}
	post("/control/waveform", `{"waveform": "Triangle"}`)
	if got := mocks[0].Waveform(); got != voice.Triangle {
		t.Errorf("waveform = %q, want triangle", got)
	}
	if rec := post("/control/waveform", `{"waveform": "noise"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad waveform: %d", rec.Code)
	}

	if rec := post("/control/amplitude", `{"amplitude": 0.5}`); rec.Code != http.StatusOK {
		t.Fatalf("amplitude: %d", rec.Code)
	}
	if got := mocks[0].Amplitude(); got != 0.5 {
		t.Errorf("amplitude = %v", got)
	}
	for _, body := range []string{`{"amplitude": 1.5}`, `{}`, `{"volume": 1}`, `nope`} {
		if rec := post("/control/amplitude", body); rec.Code != http.StatusBadRequest {
			t.Errorf("amplitude %s: %d, want 400", body, rec.Code)
		}
	}
}

func TestRun_HotReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "theremin.yaml")
	base := "server:\n  listen_addr: 127.0.0.1:0\n"
	if err := os.WriteFile(path, []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	a, mocks, _ := newTestApp(t, cfg, &mock.Source{},
		app.WithConfigWatch(path, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	<-a.Listening()

	updated := base + "voices:\n  waveform: sawtooth\n  amplitude: 0.7\nrange:\n  out_of_range: hold\nglide:\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		// The policy is applied last.
		if a.Pipeline().OutOfRangePolicy() == "hold" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := mocks[0].Waveform(); got != voice.Sawtooth {
		t.Errorf("waveform = %q, want sawtooth", got)
	}
	if got := mocks[0].Amplitude(); got != 0.7 {
		t.Errorf("amplitude = %v, want 0.7", got)
	}
	if a.Glide().Enabled() {
		t.Error("glide should be disabled")
	}
	if got := a.Pipeline().OutOfRangePolicy(); got != "hold" {
		t.Errorf("policy = %q, want hold", got)
	}
}

// Not parallel: it swaps the default logger.
func TestRun_HotReloadWarnsOnRestartOnlyEdit(t *testing.T) {
	var logs syncBuffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	path := filepath.Join(t.TempDir(), "theremin.yaml")
	base := "server:\n  listen_addr: 127.0.0.1:0\n"
	if err := os.WriteFile(path, []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	a, _, _ := newTestApp(t, cfg, &mock.Source{},
		app.WithConfigWatch(path, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()
	<-a.Listening()

	if err := os.WriteFile(path, []byte(base+"range:\n  min_depth: 0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(logs.String(), "after restart") {
		time.Sleep(10 * time.Millisecond)
	}
	out := logs.String()
	if !strings.Contains(out, "config changes take effect after restart") {
		t.Fatalf("no restart warning logged:\n%s", out)
	}
	if !strings.Contains(out, "sections=[range]") {
		t.Errorf("restart warning does not name the range section:\n%s", out)
	}
	if minDepth, _, _, _ := a.Pipeline().Range(); minDepth != pitch.DefaultMinDepth {
		t.Errorf("min depth = %v, want %v until restart", minDepth, pitch.DefaultMinDepth)
	}
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running
// app.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
