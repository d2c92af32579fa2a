package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/config"
)

const tunedYAML = `
server:
  log_level: info
calibration:
  lipsync_threshold: 0.035
  speech_threshold: 0.3
`

const retunedYAML = `
server:
  log_level: info
calibration:
  lipsync_threshold: 0.05
  speech_threshold: 0.45
  eye_movement_threshold: 0.02
`

// mood_window must be at least one.
const brokenCalibrationYAML = `
server:
  log_level: info
calibration:
  lipsync_threshold: 0.09
  mood_window: 0
`

type reload struct{ old, new *config.Config }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// watchCalibration writes initial to a fresh config file and watches it
// until the test ends. Every accepted reload is sent on the returned channel.
func watchCalibration(t *testing.T, initial string, opts ...config.WatcherOption) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	writeFile(t, path, initial)

	reloads := make(chan reload, 8)
	opts = append([]config.WatcherOption{config.WithInterval(50 * time.Millisecond), config.WithSettle(20 * time.Millisecond)}, opts...)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		reloads <- reload{old, new}
	}, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Let Run subscribe before the test edits the file.
	time.Sleep(50 * time.Millisecond)
	return path, w, reloads
}

func nextReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
		return reload{}
	}
}

func noReload(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload to %+v", r.new.Calibration)
	case <-time.After(300 * time.Millisecond):
	}
}

// ── Calibration reloads ─────────────────────────────────────────────────────

func TestWatcher_ReloadsCalibrationBlock(t *testing.T) {
	t.Parallel()
	path, w, reloads := watchCalibration(t, tunedYAML)

	if got := w.Current().Calibration.LipSyncThreshold; got != 0.035 {
		t.Fatalf("initial lipsync_threshold = %v", got)
	}

	writeFile(t, path, retunedYAML)
	r := nextReload(t, reloads)

	d := config.Diff(r.old, r.new)
	if !d.CalibrationChanged || d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Fatalf("diff = %+v, want a hot calibration change only", d)
	}
	want := config.DefaultCalibrationConfig()
	want.LipSyncThreshold = 0.05
	want.SpeechThreshold = 0.45
	want.EyeMovementThreshold = 0.02
	if d.NewCalibration != want {
		t.Errorf("calibration = %+v\nwant %+v", d.NewCalibration, want)
	}
	if r.old.Calibration.LipSyncThreshold != 0.035 {
		t.Errorf("old lipsync_threshold = %v", r.old.Calibration.LipSyncThreshold)
	}
	if w.Current() != r.new {
		t.Error("Current() is not the config handed to the callback")
	}
}

func TestWatcher_InvalidCalibrationKeepsCurrent(t *testing.T) {
	t.Parallel()
	path, w, reloads := watchCalibration(t, tunedYAML)

	writeFile(t, path, brokenCalibrationYAML)
	noReload(t, reloads)
	if got := w.Current().Calibration.LipSyncThreshold; got != 0.035 {
		t.Errorf("lipsync_threshold = %v after a broken edit, want 0.035 kept", got)
	}

	// Fixing the file is picked up as usual.
	writeFile(t, path, retunedYAML)
	if r := nextReload(t, reloads); r.new.Calibration.LipSyncThreshold != 0.05 {
		t.Errorf("lipsync_threshold = %v after the fix", r.new.Calibration.LipSyncThreshold)
	}
}

func TestWatcher_CommentOnlyEditIgnored(t *testing.T) {
	t.Parallel()
	path, w, reloads := watchCalibration(t, tunedYAML)
	before := w.Current()

	writeFile(t, path, "# tuned for the small interview room\n"+tunedYAML)
	noReload(t, reloads)
	if got := w.Current(); got.Calibration != before.Calibration {
		t.Errorf("calibration changed on a comment edit: %+v", got.Calibration)
	}
}

func TestWatcher_AtomicSaveByRename(t *testing.T) {
	t.Parallel()
	path, _, reloads := watchCalibration(t, tunedYAML)

	tmp := filepath.Join(filepath.Dir(path), ".vigil.yaml.swp")
	writeFile(t, tmp, retunedYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if r := nextReload(t, reloads); r.new.Calibration.SpeechThreshold != 0.45 {
		t.Errorf("speech_threshold = %v", r.new.Calibration.SpeechThreshold)
	}
}

func TestWatcher_EventsWithoutPolling(t *testing.T) {
	t.Parallel()
	path, _, reloads := watchCalibration(t, tunedYAML, config.WithInterval(time.Hour))

	writeFile(t, path, retunedYAML)
	if r := nextReload(t, reloads); r.new.Calibration.EyeMovementThreshold != 0.02 {
		t.Errorf("eye_movement_threshold = %v", r.new.Calibration.EyeMovementThreshold)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path, _, reloads := watchCalibration(t, tunedYAML)

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	noReload(t, reloads)
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}

	broken := filepath.Join(t.TempDir(), "vigil.yaml")
	writeFile(t, broken, brokenCalibrationYAML)
	if _, err := config.NewWatcher(broken, nil); err == nil {
		t.Fatal("expected error for an invalid calibration")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	writeFile(t, path, tunedYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(context.Background())
	}()

	w.Stop()
	w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
