package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recyclix.log")
	lines := strings.Join([]string{
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"index_opened","index":"articles"}`,
		`{"time":"2026-01-02T10:00:01Z","level":"ERROR","msg":"recycle_failed","index":"articles"}`,
		`{"time":"2026-01-02T10:00:02Z","level":"INFO","msg":"index_opened","index":"events"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines+"\n"), 0o644))
	return path
}

func TestLogsCmd_Filters(t *testing.T) {
	path := writeLogFile(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"all", nil, []string{"index_opened", "recycle_failed"}, nil},
		{"level", []string{"--level", "error"}, []string{"recycle_failed"}, []string{"index_opened"}},
		{"index", []string{"--index", "events"}, []string{"index=events"}, []string{"index=articles"}},
		{"pattern", []string{"--filter", "recycle_"}, []string{"recycle_failed"}, []string{"index_opened"}},
		{"last line", []string{"-n", "1"}, []string{"index=events"}, []string{"recycle_failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"logs", "--file", path, "--no-color"}, tt.args...)
			out, err := run(t, t.TempDir(), args...)

			require.NoError(t, err)
			for _, s := range tt.want {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestLogsCmd_Errors(t *testing.T) {
	_, err := run(t, t.TempDir(), "logs", "--file", filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file not found")

	_, err = run(t, t.TempDir(), "logs", "--file", writeLogFile(t), "--filter", "(")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
