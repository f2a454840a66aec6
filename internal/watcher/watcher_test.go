package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRecordFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"orders.jsonl", true},
		{"orders.ndjson", true},
		{"ORDERS.JSONL", true},
		{"dump.jsonl.gz", true},
		{"dump.ndjson.zst", true},
		{"inbox/nested/orders.jsonl", true},
		{".orders.jsonl", false},
		{"orders.jsonl~", false},
		{"orders.jsonl.part", false},
		{"orders.json", false},
		{"orders.gz", false},
		{".jsonl", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecordFile(tt.name))
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	// Given: zero options with one field set
	opts := Options{DebounceWindow: time.Second}.WithDefaults()

	// Then: the set field is kept and the rest are defaulted
	assert.Equal(t, time.Second, opts.DebounceWindow)
	assert.Equal(t, 2*time.Second, opts.PollInterval)
	assert.Equal(t, 64, opts.EventBufferSize)
	assert.False(t, opts.ForcePolling)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
