// Package preflight checks that the host can run a recyclix index before
// an operator relies on it.
//
// The system checks cover:
//   - Free disk space where the index lives (room for at least two writer
//     buffers, since a recycle merges segments while the next batch lands)
//   - Write permission in the index directory
//   - The open file limit (bleve keeps one file per segment)
//
// Callers add index specific checks as probes:
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, indexDir, minFree, probes...)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
