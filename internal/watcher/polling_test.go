package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_Changes(t *testing.T) {
	// Given: an inbox with one record file and one unrelated file
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "processed.jsonl"), 0o755))

	p := newPoller(dir)
	require.NoError(t, p.baseline())

	// When: nothing changed
	events, err := p.changes(time.Now())

	// Then: nothing is reported
	require.NoError(t, err)
	assert.Empty(t, events)

	// When: a file is added, one grows and the old one is removed
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.ndjson"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.jsonl"), []byte("{}\n{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "more.txt"), []byte("y"), 0o644))
	events, err = p.changes(time.Now())
	require.NoError(t, err)

	// Then: only record files are reported
	ops := make(map[string]Operation)
	for _, e := range events {
		ops[e.Path] = e.Operation
	}
	assert.Equal(t, map[string]Operation{"new.ndjson": OpCreate, "old.jsonl": OpModify}, ops)

	// When: a record file is removed
	require.NoError(t, os.Remove(filepath.Join(dir, "new.ndjson")))
	events, err = p.changes(time.Now())

	// Then: a delete is reported
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, FileEvent{Path: "new.ndjson", Operation: OpDelete, Timestamp: events[0].Timestamp}, events[0])
}

func TestPoller_MissingDirectory(t *testing.T) {
	p := newPoller(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, p.baseline())
}
