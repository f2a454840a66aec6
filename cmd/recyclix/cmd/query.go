package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/output"
	"github.com/Aman-CERP/recyclix/internal/query"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	limit   int
	key     string
	jsonOut bool
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var qo queryOptions

	cmd := &cobra.Command{
		Use:   "query [query-string]",
		Short: "Search the index",
		Long: `Search the index with a bleve query string. Without a query string every
record matches. Results are ordered best score first.

Syntax: field:value, +must, -must_not, "exact phrase", views:>10,
updated:>"2024-01-01".`,
		Example: `  recyclix query 'title:recycling'
  recyclix query '+tags:index views:>10' --limit 5
  recyclix query --key a1 --json`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if qo.limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			var q query.Query
			if qo.key != "" {
				k, err := keyValue(a.svc, qo.key)
				if err != nil {
					return err
				}
				if q, err = query.Key(a.svc.Schema(), k); err != nil {
					return err
				}
			} else if q, err = query.String(strings.TrimSpace(strings.Join(args, " "))); err != nil {
				return err
			}

			records, err := a.svc.Query(cmd.Context(), q, qo.limit)
			if err != nil {
				return err
			}

			out := output.NewAuto(cmd.OutOrStdout())
			if qo.jsonOut {
				if records == nil {
					records = []schema.Record{}
				}
				return out.JSON(records)
			}
			out.Records(records, a.svc.Schema())
			return nil
		},
	}

	cmd.Flags().IntVarP(&qo.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&qo.key, "key", "k", "", "Fetch the record with this primary key")
	cmd.Flags().BoolVar(&qo.jsonOut, "json", false, "Output results as JSON")

	return cmd
}
