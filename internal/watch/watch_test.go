package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startWatcher runs w until the test ends and forwards each trigger.
func startWatcher(t *testing.T, w *Watcher) <-chan []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	triggers := make(chan []string, 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx, func(_ context.Context, changed []string) {
			triggers <- changed
		})
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		w.Close()
	})
	return triggers
}

func waitTrigger(t *testing.T, triggers <-chan []string) []string {
	t.Helper()
	select {
	case changed := <-triggers:
		return changed
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for trigger")
		return nil
	}
}

func TestNew_NothingToWatch(t *testing.T) {
	_, err := New([]string{filepath.Join(t.TempDir(), "missing")}, 0, nil)
	assert.ErrorIs(t, err, ErrNothingToWatch)
}

func TestNew_FileWatchesParent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.jar")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w, err := New([]string{file, filepath.Join(dir, "missing")}, 0, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{dir}, w.Roots())
	assert.Equal(t, DefaultDebounce, w.debounce)
}

func TestRun_TriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	triggers := startWatcher(t, w)

	jar := filepath.Join(dir, "kotlinx-coroutines-core-jvm-1.8.0.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	assert.Contains(t, waitTrigger(t, triggers), jar)
}

func TestRun_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 300*time.Millisecond, nil)
	require.NoError(t, err)
	triggers := startWatcher(t, w)

	for _, name := range []string{"a.jar", "b.jar", "c.jar"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}

	changed := waitTrigger(t, triggers)
	assert.Subset(t, changed, []string{
		filepath.Join(dir, "a.jar"),
		filepath.Join(dir, "b.jar"),
		filepath.Join(dir, "c.jar"),
	})
	assert.IsIncreasing(t, changed)

	select {
	case extra := <-triggers:
		t.Fatalf("unexpected second trigger: %v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestRun_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{dir}, 50*time.Millisecond, nil)
	require.NoError(t, err)
	triggers := startWatcher(t, w)

	sub := filepath.Join(dir, "org", "jetbrains")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	waitTrigger(t, triggers)

	// The nested directory may be added after the trigger; give the
	// watcher time to register it before writing.
	time.Sleep(100 * time.Millisecond)
	jar := filepath.Join(sub, "debug.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case changed := <-triggers:
			if slices.Contains(changed, jar) {
				return
			}
		case <-deadline:
			t.Fatal("write in new subdirectory never triggered")
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	w, err := New([]string{t.TempDir()}, 0, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, w.Run(ctx, func(context.Context, []string) {
		t.Error("trigger must not run")
	}))
}

