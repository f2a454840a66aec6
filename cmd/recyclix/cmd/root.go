// Package cmd provides the CLI commands for recyclix.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/profiling"
	"github.com/Aman-CERP/recyclix/pkg/version"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dir        string
	debug      bool

	profile profiling.Options
	session *profiling.Session
}

// stopProfiling stops a running profiling session, if any.
func (o *globalOptions) stopProfiling() error {
	if o.session == nil {
		return nil
	}
	err := o.session.Stop()
	o.session = nil
	return err
}

// NewRootCmd creates the root command for the recyclix CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&globalOptions{})
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recyclix",
		Short: "Full-text index service with writer recycling",
		Long: `recyclix keeps a bleve full-text index of schema-described records.

Writes are committed batch by batch; after a configured number of entries the
index writer is replaced so its memory is returned. Readers keep serving
point-in-time snapshots throughout.

Records can be written directly (add, remove), bulk loaded from JSONL files
(ingest), streamed from an inbox directory (watch), or reached by AI clients
over the Model Context Protocol (serve).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !opts.profile.Enabled() {
				return nil
			}
			session, err := profiling.Start(opts.profile, nil)
			if err != nil {
				return err
			}
			opts.session = session
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return opts.stopProfiling()
		},
	}

	cmd.SetVersionTemplate("recyclix version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: .recyclix.yaml in --dir)")
	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", "", "Project directory relative paths resolve against (default: current directory)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.profile.CPUProfile, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapProfile, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "trace", "", "Write an execution trace to this file")

	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newRecycleCmd(opts))
	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so long-running commands shut the index down cleanly. Profiles
// requested with --cpu-profile, --mem-profile or --trace are finished on
// the way out.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &globalOptions{}
	err := newRootCmd(opts).ExecuteContext(ctx)
	// PersistentPostRunE does not run when the command fails.
	if stopErr := opts.stopProfiling(); stopErr != nil {
		return errors.Join(err, stopErr)
	}
	return err
}
