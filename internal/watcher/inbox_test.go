package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startInbox(t *testing.T, opts Options) (*Inbox, string) {
	t.Helper()
	dir := t.TempDir()

	w, err := NewInbox(opts, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
		<-done
	})

	require.Eventually(t, func() bool { return w.Dir() != "" }, time.Second, 5*time.Millisecond)
	// fsnotify registers the directory right after Dir is set.
	time.Sleep(50 * time.Millisecond)
	return w, dir
}

// waitFor collects batches until one contains path or the timeout hits.
func waitFor(t *testing.T, w *Inbox, path string, timeout time.Duration) FileEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			for _, e := range batch {
				if e.Path == path {
					return e
				}
			}
		case <-deadline:
			t.Fatalf("no event for %s", path)
		}
	}
}

func TestInbox_ReportsRecordFiles(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a running inbox watcher
			w, dir := startInbox(t, Options{
				DebounceWindow: 20 * time.Millisecond,
				PollInterval:   20 * time.Millisecond,
				ForcePolling:   polling,
			})
			if polling {
				assert.Equal(t, "polling", w.Mode())
			}

			// When: a temp file is written and renamed to a record file
			part := filepath.Join(dir, "batch.jsonl.part")
			require.NoError(t, os.WriteFile(part, []byte(`{"id":"1"}`+"\n"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))
			require.NoError(t, os.Rename(part, filepath.Join(dir, "batch.jsonl")))

			// Then: the record file is reported by name, never the others
			e := waitFor(t, w, "batch.jsonl", 3*time.Second)
			assert.Contains(t, []Operation{OpCreate, OpModify}, e.Operation)
		})
	}
}

func TestInbox_StartOnMissingDirectory(t *testing.T) {
	w, err := NewInbox(DefaultOptions(), nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestInbox_StartOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.jsonl")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	w, err := NewInbox(DefaultOptions(), nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.ErrorContains(t, w.Start(context.Background(), file), "not a directory")
}

func TestInbox_ContextCancelStops(t *testing.T) {
	// Given: a running watcher
	w, err := NewInbox(Options{ForcePolling: true, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, t.TempDir()) }()
	require.Eventually(t, func() bool { return w.Dir() != "" }, time.Second, 5*time.Millisecond)

	// When: the context is cancelled
	cancel()

	// Then: Start returns and the channels are closed
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
	assert.NoError(t, w.Stop())
}
