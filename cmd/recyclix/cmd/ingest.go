package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/config"
	"github.com/Aman-CERP/recyclix/internal/ingest"
	"github.com/Aman-CERP/recyclix/internal/output"
	"github.com/Aman-CERP/recyclix/internal/watcher"
)

// ingestFlags overrides the ingest section of the configuration.
type ingestFlags struct {
	batchSize int
	rateLimit float64
	workers   int
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Records per batch (default from config)")
	cmd.Flags().Float64Var(&f.rateLimit, "rate-limit", -1, "Records per second, 0 for unlimited (default from config)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Files ingested concurrently (default from config)")
}

// newFeeder builds a feeder over the app's index from config and flags.
func (f *ingestFlags) newFeeder(a *app, forcePolling bool) (*ingest.Feeder, error) {
	cfg := a.cfg.Ingest
	if f.batchSize > 0 {
		cfg.BatchSize = f.batchSize
	}
	if f.rateLimit >= 0 {
		cfg.RateLimit = f.rateLimit
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	debounce, err := a.cfg.IngestDebounce()
	if err != nil {
		return nil, err
	}

	return ingest.NewFeeder(a.svc, ingest.Options{
		BatchSize: cfg.BatchSize,
		RateLimit: cfg.RateLimit,
		Workers:   cfg.Workers,
		Watch: watcher.Options{
			DebounceWindow: debounce,
			ForcePolling:   forcePolling,
		},
		Logger: a.logger,
	})
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest <file>... | -",
		Short: "Bulk load JSONL record files",
		Long: `Load JSONL files into the index. Each line is a record to upsert, or an
envelope {"op":"add"|"remove","record":{...}}. Files ending in .gz or .zst
are decompressed. "-" reads uncompressed JSONL from stdin.

A malformed line stops its file; batches sent before it stay applied.`,
		Example: `  recyclix ingest articles.jsonl
  recyclix ingest dump-1.jsonl.gz dump-2.jsonl.zst --workers 4
  zcat export.gz | recyclix ingest - --rate-limit 5000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			feeder, err := flags.newFeeder(a, false)
			if err != nil {
				return err
			}

			out := output.NewAuto(cmd.OutOrStdout())
			if len(args) == 1 && args[0] == "-" {
				res, err := feeder.IngestReader(cmd.Context(), "stdin", cmd.InOrStdin())
				out.IngestResults([]ingest.Result{res})
				return err
			}

			results, err := feeder.IngestFiles(cmd.Context(), args)
			out.IngestResults(results)
			if err != nil {
				return fmt.Errorf("%d of %d files failed: %w", feeder.Stats().FailedFiles, len(args), err)
			}
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		flags   ingestFlags
		polling bool
	)

	cmd := &cobra.Command{
		Use:   "watch [inbox-dir]",
		Short: "Ingest record files dropped into an inbox directory",
		Long: `Watch an inbox directory and ingest every record file that appears in it.
Ingested files move to processed/, failed ones to failed/ next to a .error
note. Producers should write under a temporary name (.part or a leading dot)
and rename when done.

Runs until interrupted. The inbox defaults to ingest.inbox from the config.`,
		Example: `  recyclix watch
  recyclix watch /var/spool/recyclix --workers 4
  recyclix watch --polling   # for network filesystems`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			inbox := config.ResolvePath(a.dir, a.cfg.Ingest.Inbox)
			if len(args) == 1 {
				inbox = config.ResolvePath(a.dir, args[0])
			}
			if inbox == "" {
				return fmt.Errorf("no inbox directory: pass one or set ingest.inbox")
			}

			feeder, err := flags.newFeeder(a, polling)
			if err != nil {
				return err
			}

			out := output.NewAuto(cmd.ErrOrStderr())
			out.Successf("watching %s (Ctrl+C to stop)", inbox)
			a.logger.Info("watch_started", slog.String("inbox", inbox))

			if err := feeder.Watch(cmd.Context(), inbox); err != nil {
				return err
			}

			st := feeder.Stats()
			out.Statusf("", "%d files, %d added, %d removed, %d failed", st.Files, st.Added, st.Removed, st.FailedFiles)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&polling, "polling", false, "Poll the inbox instead of using filesystem events")

	return cmd
}
