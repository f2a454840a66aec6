package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/config"
	"github.com/Aman-CERP/recyclix/internal/output"
	"github.com/Aman-CERP/recyclix/internal/preflight"
	"github.com/Aman-CERP/recyclix/internal/telemetry"
)

// doctorReport is the JSON shape of `recyclix doctor --json`.
type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd(opts *globalOptions) *cobra.Command {
	var verbose, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the host and the index for problems",
		Long: `Run diagnostics for the configured index.

Checks:
  - Configuration loads and validates
  - Disk space where the index lives (two writer buffers, 100MB minimum)
  - Write permission in the index directory
  - File descriptor limit (1024 recommended)
  - The index opens (not locked by another process, not corrupt)
  - The telemetry journal opens and the last recycle did not fail

Exits non-zero when a required check fails.`,
		Example: `  recyclix doctor
  recyclix doctor --verbose
  recyclix doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts *globalOptions, verbose, jsonOutput bool) error {
	ctx := cmd.Context()
	checker := preflight.New(preflight.WithVerbose(verbose), preflight.WithOutput(cmd.OutOrStdout()))

	var results []preflight.CheckResult
	cfg, dir, err := loadConfig(opts)
	if err != nil {
		results = append(results, preflight.CheckResult{
			Name: "config", Status: preflight.StatusFail, Message: err.Error(), Required: true,
		})
		if dir, err = projectDir(opts); err != nil {
			return err
		}
		results = append(results, checker.RunAll(ctx, dir, 0)...)
	} else {
		results = append(results, preflight.CheckResult{
			Name:     "config",
			Status:   preflight.StatusPass,
			Message:  fmt.Sprintf("schema %q with %d fields", cfg.Schema.Name, len(cfg.Schema.Fields)),
			Required: true,
		})

		indexDir := config.ResolvePath(dir, cfg.Index.Path)
		if indexDir == "" {
			indexDir = dir
		}
		logger, cleanup, err := setupLogging(cfg, dir, opts.debug)
		if err != nil {
			return err
		}
		defer cleanup()

		minFree := uint64(2 * max(cfg.Index.BufferBytes, 0))
		results = append(results, checker.RunAll(ctx, indexDir, minFree,
			indexProbe(cfg, dir, logger), telemetryProbe(cfg, dir, logger))...)
	}

	if jsonOutput {
		if err := output.New(cmd.OutOrStdout()).JSON(doctorReport{
			Status: checker.SummaryStatus(results),
			Checks: results,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return errors.New("doctor found critical failures")
	}
	return nil
}

// indexProbe opens and closes the index without telemetry.
func indexProbe(cfg *config.Config, dir string, logger *slog.Logger) preflight.Probe {
	return preflight.Probe{
		Name:     "index",
		Required: true,
		Run: func(ctx context.Context) (msg string, err error) {
			probeCfg := *cfg
			probeCfg.Telemetry.Enabled = false

			a := &app{dir: dir, cfg: &probeCfg, logger: logger}
			defer a.closeInto(ctx, &err)
			if err := a.open(ctx); err != nil {
				return "", err
			}

			st := a.svc.Stats()
			if st.Path == "" {
				return fmt.Sprintf("in-memory index %q", st.Name), nil
			}
			return fmt.Sprintf("%d documents in %s", st.Documents, st.Path), nil
		},
	}
}

// telemetryProbe opens the journal and reports the recorded history. A
// failed last recycle is reported as a warning.
func telemetryProbe(cfg *config.Config, dir string, logger *slog.Logger) preflight.Probe {
	return preflight.Probe{
		Name: "telemetry",
		Run: func(ctx context.Context) (string, error) {
			if !cfg.Telemetry.Enabled {
				return "disabled", nil
			}
			journal, err := telemetry.OpenJournal(config.ResolvePath(dir, cfg.Telemetry.Path), logger)
			if err != nil {
				return "", err
			}
			defer func() { _ = journal.Close() }()

			sum, err := journal.Summary(ctx, cfg.Schema.Name)
			if err != nil {
				return "", err
			}
			if sum.LastRecycleError != "" {
				return "", fmt.Errorf("last recycle failed: %s", sum.LastRecycleError)
			}
			return fmt.Sprintf("%d commits, %d recycles recorded", sum.Commits, sum.Recycles), nil
		},
	}
}
