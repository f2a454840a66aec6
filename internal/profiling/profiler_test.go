package profiling

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{HeapProfile: "heap.prof"}.Enabled())
}

func TestSession_AllProfiles(t *testing.T) {
	// Given: every profile requested
	tmpDir := t.TempDir()
	opts := Options{
		CPUProfile:  filepath.Join(tmpDir, "cpu.prof"),
		HeapProfile: filepath.Join(tmpDir, "heap.prof"),
		Trace:       filepath.Join(tmpDir, "trace.out"),
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	// When: running some work inside a session
	s, err := Start(opts, logger)
	require.NoError(t, err)
	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	_ = sum
	require.NoError(t, s.Stop())

	// Then: all files have content and heap usage is logged
	nonEmpty(t, opts.CPUProfile)
	nonEmpty(t, opts.HeapProfile)
	nonEmpty(t, opts.Trace)
	assert.Contains(t, logs.String(), "profile_written")
	assert.Contains(t, logs.String(), "heap_inuse_bytes")
}

func TestSession_HeapOnlyStartsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	s, err := Start(Options{HeapProfile: path}, nil)
	require.NoError(t, err)
	assert.Empty(t, s.stops)
	require.NoError(t, s.Stop())

	nonEmpty(t, path)
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPUProfile: filepath.Join(t.TempDir(), "missing", "cpu.prof")}, nil)

	assert.Error(t, err)
}

func TestStart_TraceFailureStopsCPU(t *testing.T) {
	// Given: a valid CPU path and an invalid trace path
	tmpDir := t.TempDir()
	opts := Options{
		CPUProfile: filepath.Join(tmpDir, "cpu.prof"),
		Trace:      filepath.Join(tmpDir, "missing", "trace.out"),
	}

	// When: starting
	_, err := Start(opts, nil)
	require.Error(t, err)

	// Then: the CPU profile was stopped, so a new one can start
	s, err := Start(Options{CPUProfile: filepath.Join(tmpDir, "cpu2.prof")}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Stop())
}

func TestMemStats(t *testing.T) {
	m := MemStats()

	assert.Greater(t, m.Sys, uint64(0))
}
