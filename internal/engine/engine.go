// Package engine defines the search-engine boundary used by the index layer
// and provides its bleve implementation.
//
// An Index is opened once per directory. Writes go through a Writer that
// stages operations until Commit. Reads go through a Reader that hands out
// immutable point-in-time Snapshots and reloads according to a ReloadPolicy.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
)

// Errors returned by Writer implementations.
var (
	// ErrBufferFull is returned when a staged operation would exceed the
	// writer's buffer budget.
	ErrBufferFull = errors.New("writer buffer budget exceeded")

	// ErrWriterRetired is returned by a writer after Drain.
	ErrWriterRetired = errors.New("writer has been drained")

	// ErrReaderClosed is returned by a reader after Close.
	ErrReaderClosed = errors.New("reader is closed")

	// ErrNotFound is returned by Snapshot.Fetch for an unknown address.
	ErrNotFound = errors.New("document not found")
)

// Document is the engine-native representation of a record.
// ID is the canonical string form of the primary key.
type Document struct {
	ID     string
	Fields map[string]any
}

// Term is an exact-match key on a single field.
type Term struct {
	Field string
	Value any
}

// Hit is a scored search result. Address identifies the document within the
// snapshot that produced it.
type Hit struct {
	Score   float64
	Address string
}

// ReloadPolicy controls when a Reader observes new commits.
type ReloadPolicy int

const (
	// ReloadOnCommitWithDelay reloads shortly after a commit, coalescing
	// bursts of commits into one reload.
	ReloadOnCommitWithDelay ReloadPolicy = iota
	// ReloadOnCommit reloads synchronously as part of every commit.
	ReloadOnCommit
	// ReloadManual reloads only when Reload is called.
	ReloadManual
)

// DefaultReloadDelay is the coalescing delay used by ReloadOnCommitWithDelay.
const DefaultReloadDelay = 500 * time.Millisecond

// String returns the policy name used in configuration files.
func (p ReloadPolicy) String() string {
	switch p {
	case ReloadOnCommit:
		return "on_commit"
	case ReloadManual:
		return "manual"
	default:
		return "on_commit_with_delay"
	}
}

// ParseReloadPolicy parses a configuration value into a ReloadPolicy.
func ParseReloadPolicy(s string) (ReloadPolicy, error) {
	switch s {
	case "", "on_commit_with_delay", "delayed":
		return ReloadOnCommitWithDelay, nil
	case "on_commit", "immediate":
		return ReloadOnCommit, nil
	case "manual":
		return ReloadManual, nil
	default:
		return 0, errors.New("unknown reload policy: " + s)
	}
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Policy ReloadPolicy
	Delay  time.Duration
}

// Engine opens or creates indexes.
type Engine interface {
	// OpenOrCreate opens the index at path, or creates it with schema when
	// none exists. An empty path creates an in-memory index.
	OpenOrCreate(path string, schema Schema) (Index, error)
}

// Index is an opened index.
type Index interface {
	NewWriter(bufferBytes int) (Writer, error)
	NewReader(opts ReaderOptions) (Reader, error)
	DocCount() (uint64, error)
	Close() error
}

// Writer stages deletes and adds until Commit makes them durable and
// visible to readers. A Writer is not safe for concurrent use except that
// Drain may be called while a Commit is running.
type Writer interface {
	DeleteByTerm(term Term) error
	AddDocument(doc Document) error
	Commit() error
	// Rollback discards staged operations.
	Rollback()
	// Drain waits for in-flight work, discards anything still staged and
	// retires the writer. For bleve the in-flight work is a running batch
	// commit; scorch's merger and persister goroutines belong to the index
	// and keep running until Index.Close.
	Drain(ctx context.Context) error
	// Staged reports the number of staged operations.
	Staged() int
}

// Reader hands out snapshots.
type Reader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Reload(ctx context.Context) error
	Close() error
}

// Snapshot is an immutable point-in-time view. It must be closed.
type Snapshot interface {
	Search(ctx context.Context, pred query.Query, limit int) ([]Hit, error)
	Fetch(address string) (Document, error)
	Generation() uint64
	Close() error
}
