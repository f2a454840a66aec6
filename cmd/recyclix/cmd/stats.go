package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/index"
	"github.com/Aman-CERP/recyclix/internal/output"
	"github.com/Aman-CERP/recyclix/internal/telemetry"
)

// statsReport is the JSON shape of `recyclix stats --json`.
type statsReport struct {
	Index    index.Stats        `json:"index"`
	Activity *telemetry.Summary `json:"activity,omitempty"`
	Events   []telemetry.Event  `json:"events,omitempty"`
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var (
		events  int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and recorded activity",
		Long: `Show document count, pending entries against the recycle threshold,
writer slot state and, when telemetry is enabled, the commit and recycle
history recorded in the journal.

A failed recycle leaves the writer slot empty and blocks writes; it shows up
here as the last recycle error.`,
		Example: `  recyclix stats
  recyclix stats --events 20
  recyclix stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			report := statsReport{Index: a.svc.Stats()}
			if a.journal != nil {
				sum, err := a.journal.Summary(cmd.Context(), report.Index.Name)
				if err != nil {
					return err
				}
				report.Activity = &sum
				if events > 0 {
					if report.Events, err = a.journal.Events(cmd.Context(), report.Index.Name, events); err != nil {
						return err
					}
				}
			}

			out := output.NewAuto(cmd.OutOrStdout())
			if jsonOut {
				return out.JSON(report)
			}

			out.Stats(report.Index)
			if report.Activity == nil {
				out.Newline()
				out.Warning("telemetry disabled: no commit or recycle history")
				return nil
			}
			out.Newline()
			out.Summary(*report.Activity)
			if len(report.Events) > 0 {
				out.Newline()
				out.Header("Recent events")
				out.Events(report.Events)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&events, "events", "e", 0, "Also list this many recent journal events")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}
