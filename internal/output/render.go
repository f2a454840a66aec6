package output

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/recyclix/internal/engine"
	"github.com/Aman-CERP/recyclix/internal/index"
	"github.com/Aman-CERP/recyclix/internal/ingest"
	"github.com/Aman-CERP/recyclix/internal/schema"
	"github.com/Aman-CERP/recyclix/internal/telemetry"
)

// maxValueWidth truncates long field values in result listings.
const maxValueWidth = 100

// Records prints query results, primary key and score first, then the other
// fields in schema order.
func (w *Writer) Records(records []schema.Record, sch engine.Schema) {
	if len(records) == 0 {
		w.Warning("No matching records")
		return
	}
	for i, r := range records {
		score, _ := r[schema.DefaultScoreField].(float64)
		_, _ = fmt.Fprintf(w.out, "%s %s %s\n",
			w.styles.Dim.Render(fmt.Sprintf("%2d.", i+1)),
			w.styles.Key.Render(fmt.Sprint(r[sch.PrimaryKey])),
			w.styles.Label.Render(fmt.Sprintf("score %.3f", score)))
		for _, f := range sch.Fields {
			if f.Name == sch.PrimaryKey {
				continue
			}
			v, ok := r[f.Name]
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(w.out, "    %s %s\n", w.styles.Label.Render(f.Name+":"), truncate(formatValue(v), maxValueWidth))
		}
	}
}

// Stats prints an index summary.
func (w *Writer) Stats(st index.Stats) {
	w.Header("Index " + st.Name)
	path := st.Path
	if path == "" {
		path = "(in memory)"
	}
	w.Field("path", path)
	w.Field("documents", st.Documents)
	if st.Threshold > 0 {
		w.Field("pending entries", fmt.Sprintf("%d / %d  %s", st.Pending, st.Threshold,
			w.styles.Bar.Render(renderBar(int64(st.Pending), int64(st.Threshold), 20))))
	} else {
		w.Field("pending entries", fmt.Sprintf("%d (threshold recycling off)", st.Pending))
	}
	w.Field("recycles", st.Recycles)
	w.Field("reader generation", st.Generation)
	slot := string(st.Slot)
	if st.Slot == index.SlotEmpty {
		slot = w.styles.Warning.Render(slot + " (writers wait for a recycle)")
	}
	w.Field("writer slot", slot)
}

// Summary prints the telemetry journal summary.
func (w *Writer) Summary(s telemetry.Summary) {
	w.Header("Activity")
	w.Field("commits", fmt.Sprintf("%d (%d failed, %d retries)", s.Commits, s.CommitFailures, s.CommitRetries))
	w.Field("recycles", fmt.Sprintf("%d (%d failed)", s.Recycles, s.RecycleFailures))
	if !s.LastRecycleAt.IsZero() {
		w.Field("last recycle", s.LastRecycleAt.Local().Format(time.DateTime))
	}
	if s.LastRecycleError != "" {
		w.Field("last recycle error", w.styles.Error.Render(s.LastRecycleError))
	}
	w.Field("queries", fmt.Sprintf("%d (%d cached, %d failed, %d empty)", s.Queries, s.CachedQueries, s.FailedQueries, s.ZeroResults))

	var total int64
	for _, n := range s.Latency {
		total += n
	}
	if total == 0 {
		return
	}
	w.Header("Query latency")
	for _, b := range []telemetry.LatencyBucket{
		telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000,
	} {
		n := s.Latency[b]
		w.Field(bucketLabel(b), fmt.Sprintf("%s %d", w.styles.Bar.Render(renderBar(n, total, 20)), n))
	}
}

// Events prints journal events, newest first as given.
func (w *Writer) Events(events []telemetry.Event) {
	for _, e := range events {
		detail := ""
		switch e.Kind {
		case telemetry.KindCommit:
			detail = fmt.Sprintf("staged=%d attempts=%d", e.Staged, e.Attempts)
		case telemetry.KindRecycle:
			detail = "reason=" + e.Reason
		}
		line := fmt.Sprintf("%s %-8s %-12s %8s %s",
			w.styles.Dim.Render(e.At.Local().Format("2006-01-02 15:04:05")),
			e.Kind, e.Index, e.Duration.Round(time.Microsecond), detail)
		if e.Error != "" {
			line += " " + w.styles.Error.Render("error="+e.Error)
		}
		_, _ = fmt.Fprintln(w.out, line)
	}
}

// IngestResults prints one line per file and a total.
func (w *Writer) IngestResults(results []ingest.Result) {
	var added, removed, failed int
	for _, r := range results {
		name := filepath.Base(r.File)
		if r.Err != nil {
			failed++
			w.Errorf("%s: %v", name, r.Err)
			continue
		}
		added += r.Added
		removed += r.Removed
		w.Successf("%s: %d added, %d removed in %s", name, r.Added, r.Removed, r.Duration.Round(time.Millisecond))
	}
	summary := fmt.Sprintf("%d files, %d added, %d removed", len(results), added, removed)
	if failed > 0 {
		w.Warningf("%s, %d failed", summary, failed)
		return
	}
	w.Status("", summary)
}

func bucketLabel(b telemetry.LatencyBucket) string {
	switch b {
	case telemetry.BucketP10:
		return "<10ms"
	case telemetry.BucketP50:
		return "10-50ms"
	case telemetry.BucketP100:
		return "50-100ms"
	case telemetry.BucketP500:
		return "100-500ms"
	default:
		return ">=500ms"
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, val[k])
		}
		return strings.Join(parts, " ")
	case float64:
		return fmt.Sprintf("%g", val)
	}
	return strings.ReplaceAll(fmt.Sprint(v), "\n", " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
