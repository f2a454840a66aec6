package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation is what happened to an inbox file.
type Operation int

const (
	// OpCreate: a record file appeared.
	OpCreate Operation = iota
	// OpModify: a record file grew or was rewritten.
	OpModify
	// OpDelete: a record file went away.
	OpDelete
	// OpRename: a record file was renamed away from its name.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one file in the inbox.
type FileEvent struct {
	// Path is the file name relative to the inbox directory.
	Path string

	Operation Operation

	// Timestamp is when the change was seen.
	Timestamp time.Time
}

// RecordExtensions are the suffixes the inbox reacts to.
var RecordExtensions = []string{".jsonl", ".ndjson", ".jsonl.gz", ".ndjson.gz", ".jsonl.zst", ".ndjson.zst"}

// IsRecordFile reports whether name looks like a finished record file.
// Hidden files and editor or download leftovers are skipped, so producers
// can write "name.jsonl.part" or ".name.jsonl" and rename when done.
func IsRecordFile(name string) bool {
	base := filepath.Base(name)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	lower := strings.ToLower(base)
	for _, ext := range RecordExtensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}

// Options configures an Inbox.
type Options struct {
	// DebounceWindow is how long a file must be quiet before it is reported.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode.
	// Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 64
	EventBufferSize int

	// ForcePolling skips fsnotify, for network mounts and container volumes
	// where inotify events are not delivered.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
