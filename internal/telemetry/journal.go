package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/Aman-CERP/recyclix/internal/index"
)

// Event kinds stored in the journal.
const (
	KindCommit  = "commit"
	KindRecycle = "recycle"
)

// Event is one journal row.
type Event struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Index    string        `json:"index"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts,omitempty"`
	Staged   int           `json:"staged,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Summary aggregates the journal. Query counters cover the current process
// only; the latency histogram includes flushed days.
type Summary struct {
	Commits          int64                   `json:"commits"`
	CommitFailures   int64                   `json:"commit_failures"`
	CommitRetries    int64                   `json:"commit_retries"`
	Recycles         int64                   `json:"recycles"`
	RecycleFailures  int64                   `json:"recycle_failures"`
	LastRecycleAt    time.Time               `json:"last_recycle_at,omitzero"`
	LastRecycleError string                  `json:"last_recycle_error,omitempty"`
	Queries          int64                   `json:"queries"`
	CachedQueries    int64                   `json:"cached_queries"`
	FailedQueries    int64                   `json:"failed_queries"`
	ZeroResults      int64                   `json:"zero_results"`
	RecentZeroResult []string                `json:"recent_zero_result,omitempty"`
	Latency          map[LatencyBucket]int64 `json:"latency"`
}

// Journal is an index.Observer that persists commit and recycle events in
// SQLite. Write failures are logged, never returned to the index.
type Journal struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	queries *queryStats
	now     func() time.Time
}

var _ index.Observer = (*Journal)(nil)

// OpenJournal opens or creates the journal database at path. An empty path
// keeps the journal in memory.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	// Single connection: an in-memory database lives only as long as its
	// connection, and SQLite has one writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{
		db:      db,
		path:    path,
		logger:  logger,
		queries: newQueryStats(50),
		now:     time.Now,
	}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		index_name TEXT NOT NULL,
		at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		staged INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind_at ON events(kind, at);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// Path returns the database path, empty for in-memory journals.
func (j *Journal) Path() string {
	return j.path
}

// CommitFinished records a commit.
func (j *Journal) CommitFinished(e index.CommitEvent) {
	j.insert(Event{
		Kind:     KindCommit,
		Index:    e.Index,
		Duration: e.Duration,
		Attempts: e.Attempts,
		Staged:   e.Staged,
		Error:    errString(e.Err),
	})
}

// RecycleFinished records a writer recycle.
func (j *Journal) RecycleFinished(e index.RecycleEvent) {
	j.insert(Event{
		Kind:     KindRecycle,
		Index:    e.Index,
		Duration: e.Duration,
		Reason:   e.Reason,
		Error:    errString(e.Err),
	})
}

// QueryFinished aggregates a query in memory.
func (j *Journal) QueryFinished(e index.QueryEvent) {
	j.queries.record(j.now(), e.Query, e.Results, e.Cached, e.Duration, e.Err)
}

func (j *Journal) insert(e Event) {
	e.ID = uuid.NewString()
	e.At = j.now()

	_, err := j.db.Exec(`
		INSERT INTO events (id, kind, index_name, at, duration_ns, attempts, staged, reason, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Kind, e.Index, e.At.UnixNano(), int64(e.Duration), e.Attempts, e.Staged, e.Reason, e.Error)
	if err != nil {
		j.logger.Warn("telemetry_write_failed",
			slog.String("kind", e.Kind),
			slog.String("index", e.Index),
			slog.String("error", err.Error()))
	}
}

// Events returns the newest events first. indexName "" matches every index;
// limit <= 0 means 50.
func (j *Journal) Events(ctx context.Context, indexName string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, index_name, at, duration_ns, attempts, staged, reason, error
		FROM events
		WHERE (? = '' OR index_name = ?)
		ORDER BY at DESC, rowid DESC
		LIMIT ?
	`, indexName, indexName, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			at, dur int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Index, &at, &dur, &e.Attempts, &e.Staged, &e.Reason, &e.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.Unix(0, at)
		e.Duration = time.Duration(dur)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Summary aggregates the journal for indexName ("" = every index).
func (j *Journal) Summary(ctx context.Context, indexName string) (Summary, error) {
	var s Summary
	err := j.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'commit' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'commit' AND error <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'commit' AND attempts > 1 THEN attempts - 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'recycle' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'recycle' AND error <> '' THEN 1 ELSE 0 END), 0)
		FROM events
		WHERE (? = '' OR index_name = ?)
	`, indexName, indexName).Scan(&s.Commits, &s.CommitFailures, &s.CommitRetries, &s.Recycles, &s.RecycleFailures)
	if err != nil {
		return s, fmt.Errorf("summarize events: %w", err)
	}

	var at int64
	err = j.db.QueryRowContext(ctx, `
		SELECT at, error FROM events
		WHERE kind = 'recycle' AND (? = '' OR index_name = ?)
		ORDER BY at DESC, rowid DESC
		LIMIT 1
	`, indexName, indexName).Scan(&at, &s.LastRecycleError)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return s, fmt.Errorf("last recycle: %w", err)
	default:
		s.LastRecycleAt = time.Unix(0, at)
	}

	s.Latency, err = j.latency(ctx)
	if err != nil {
		return s, err
	}

	q := j.queries
	q.mu.Lock()
	s.Queries, s.CachedQueries, s.FailedQueries, s.ZeroResults = q.total, q.cached, q.failed, q.zero
	for _, buckets := range q.latency {
		for b, n := range buckets {
			s.Latency[b] += n
		}
	}
	q.mu.Unlock()
	s.RecentZeroResult = q.zeroResult.Items()
	return s, nil
}

func (j *Journal) latency(ctx context.Context) (map[LatencyBucket]int64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT bucket, SUM(count) FROM query_latency_stats GROUP BY bucket`)
	if err != nil {
		return nil, fmt.Errorf("query latency: %w", err)
	}
	defer rows.Close()

	out := make(map[LatencyBucket]int64)
	for rows.Next() {
		var (
			bucket string
			n      int64
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan latency: %w", err)
		}
		out[LatencyBucket(bucket)] = n
	}
	return out, rows.Err()
}

// Flush persists the pending query latency histogram.
func (j *Journal) Flush(ctx context.Context) error {
	pending := j.queries.drainLatency()
	if len(pending) == 0 {
		return nil
	}
	if err := j.saveLatency(ctx, pending); err != nil {
		j.queries.restoreLatency(pending)
		return err
	}
	return nil
}

func (j *Journal) saveLatency(ctx context.Context, pending map[string]map[LatencyBucket]int64) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for day, buckets := range pending {
		for b, n := range buckets {
			if _, err := stmt.ExecContext(ctx, day, string(b), n); err != nil {
				return fmt.Errorf("upsert latency: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	return errors.Join(j.Flush(context.Background()), j.db.Close())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
