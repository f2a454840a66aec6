package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/engine"
	"github.com/Aman-CERP/recyclix/internal/ingest"
	"github.com/Aman-CERP/recyclix/internal/output"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

func newAddCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <record-json>...",
		Short: "Upsert records",
		Long: `Upsert one batch of records given as JSON objects.

A record whose primary key is already indexed replaces the stored one. The
batch is committed before the command returns. For files or stdin use
'recyclix ingest'.`,
		Example: `  recyclix add '{"id":"a1","title":"Writer recycling","tags":["index"]}'
  recyclix add '{"id":"a1"}' '{"id":"b2","views":3}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			records := make([]schema.Record, 0, len(args))
			for i, arg := range args {
				line, err := ingest.ParseLine([]byte(arg))
				if err != nil {
					return fmt.Errorf("record %d: %w", i+1, err)
				}
				if line.Op != ingest.OpAdd {
					return fmt.Errorf("record %d: use 'recyclix remove' to delete records", i+1)
				}
				records = append(records, line.Record)
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			if err := a.svc.Add(cmd.Context(), records); err != nil {
				return err
			}
			reportWrite(output.NewAuto(cmd.OutOrStdout()), "added", len(records), a)
			return nil
		},
	}
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	var terms []string

	cmd := &cobra.Command{
		Use:   "remove [key...]",
		Short: "Delete records by primary key or by field term",
		Long: `Delete records by primary key, or every record whose field holds a
term (--term field=value). Unknown keys are ignored.`,
		Example: `  recyclix remove a1 b2
  recyclix remove --term tags=obsolete`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if len(args) == 0 && len(terms) == 0 {
				return fmt.Errorf("give at least one key or --term")
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			out := output.NewAuto(cmd.OutOrStdout())
			if len(args) > 0 {
				keys := make([]any, 0, len(args))
				for _, raw := range args {
					k, err := keyValue(a.svc, raw)
					if err != nil {
						return err
					}
					keys = append(keys, k)
				}
				if err := a.svc.RemoveByKeys(cmd.Context(), keys); err != nil {
					return err
				}
				reportWrite(out, "removed keys", len(keys), a)
			}

			if len(terms) > 0 {
				parsed, err := parseTerms(terms)
				if err != nil {
					return err
				}
				if err := a.svc.RemoveByTerms(cmd.Context(), parsed); err != nil {
					return err
				}
				reportWrite(out, "removed terms", len(parsed), a)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&terms, "term", nil, "Delete records whose field holds value (field=value, repeatable)")

	return cmd
}

func newRecycleCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recycle",
		Short: "Replace the index writer now",
		Long: `Replace the index writer now and reset the entry counter.

Use this after a failed recycle left the writer slot empty: writes wait
until a recycle succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			if err := a.svc.Recycle(cmd.Context()); err != nil {
				return err
			}
			out := output.NewAuto(cmd.OutOrStdout())
			out.Success("writer recycled")
			out.Stats(a.svc.Stats())
			return nil
		},
	}
}

// parseTerms parses field=value pairs.
func parseTerms(raw []string) ([]engine.Term, error) {
	terms := make([]engine.Term, 0, len(raw))
	for _, r := range raw {
		field, value, ok := strings.Cut(r, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" || value == "" {
			return nil, fmt.Errorf("invalid term %q: want field=value", r)
		}
		terms = append(terms, engine.Term{Field: field, Value: value})
	}
	return terms, nil
}

func reportWrite(out *output.Writer, verb string, n int, a *app) {
	st := a.svc.Stats()
	out.Successf("%s %d (pending %d, recycles %d)", verb, n, st.Pending, st.Recycles)
}
