package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/theremin/internal/config"
)

const (
	sineYAML = `
server:
  log_level: info
voices:
  waveform: sine
`
	sawtoothInGYAML = `
server:
  log_level: debug
voices:
  waveform: sawtooth
scale:
  key: G
`
	brokenYAML = `
server:
  log_level: bananas
`
)

type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// watch writes content to a fresh config file and returns a watcher on it.
// Reported changes are appended to the returned slice pointer.
func watch(t *testing.T, content string) (string, *config.Watcher, *[]change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "theremin.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	var changes []change
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.ConfigDiff) {
		changes = append(changes, change{old, new, d})
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w, &changes
}

// rewrite replaces the file content and pushes its mtime forward so the
// change is visible regardless of filesystem timestamp granularity.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	touch(t, path, bump)
}

func touch(t *testing.T, path string, bump time.Duration) {
	t.Helper()
	ts := time.Now().Add(bump)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t, sineYAML)

	cur := w.Current()
	if cur == nil {
		t.Fatal("Current() = nil")
	}
	if cur.Voices.Waveform != "sine" || cur.Server.LogLevel != config.LogInfo {
		t.Errorf("initial config = %q/%q", cur.Voices.Waveform, cur.Server.LogLevel)
	}
}

func TestWatcher_ReportsDiff(t *testing.T) {
	t.Parallel()
	path, w, changes := watch(t, sineYAML)

	if w.Check() {
		t.Fatal("Check reported a change on an untouched file")
	}
	rewrite(t, path, sawtoothInGYAML, time.Second)
	if !w.Check() {
		t.Fatal("Check missed the edit")
	}
	if len(*changes) != 1 {
		t.Fatalf("callback ran %d times, want 1", len(*changes))
	}
	c := (*changes)[0]

	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q -> %q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	if !c.diff.LogLevelChanged {
		t.Error("log level change not flagged")
	}
	if !c.diff.WaveformChanged || c.diff.NewWaveform != "sawtooth" {
		t.Errorf("waveform diff = %v %q", c.diff.WaveformChanged, c.diff.NewWaveform)
	}
	if len(c.diff.RestartRequired) != 1 || c.diff.RestartRequired[0] != "scale" {
		t.Errorf("RestartRequired = %v, want [scale]", c.diff.RestartRequired)
	}
	if w.Current() != c.new {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_BrokenEditKeepsLastGood(t *testing.T) {
	t.Parallel()
	path, w, changes := watch(t, sineYAML)
	good := w.Current()

	rewrite(t, path, brokenYAML, time.Second)
	if w.Check() || len(*changes) != 0 {
		t.Fatal("broken edit was applied")
	}
	if w.Current() != good {
		t.Error("broken edit replaced the current config")
	}

	rewrite(t, path, sawtoothInGYAML, 2*time.Second)
	if !w.Check() {
		t.Fatal("fixed file was not picked up")
	}
	if (*changes)[0].old != good {
		t.Error("change should be reported against the last good config")
	}
}

func TestWatcher_TouchOnly(t *testing.T) {
	t.Parallel()
	path, w, changes := watch(t, sineYAML)

	touch(t, path, time.Second)
	if w.Check() || len(*changes) != 0 {
		t.Error("touching the file without editing it reported a change")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "theremin.yaml")
	if err := os.WriteFile(path, []byte(sineYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	reloaded := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, _ config.ConfigDiff) {
		reloaded <- struct{}{}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, sawtoothInGYAML, time.Second)
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never picked up the edit")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file should fail")
	}
}
