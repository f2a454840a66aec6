package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recyclix/internal/mcp"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server over the index.

Tools: search, get, add, remove, recycle, status.
Resources: recyclix://schema and, with telemetry, recyclix://query_metrics.

With the stdio transport stdout carries JSON-RPC only; logs go to the log
file.`,
		Example: `  recyclix serve
  recyclix serve --transport http --addr 127.0.0.1:8765`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.closeInto(cmd.Context(), &err)

			if transport == "" {
				transport = a.cfg.Server.Transport
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			transport = strings.ToLower(transport)
			if transport != "stdio" && transport != "http" {
				return fmt.Errorf("unknown transport %q (supported: stdio, http)", transport)
			}

			server, err := mcp.NewServer(a.svc, a.journal, a.cfg)
			if err != nil {
				return err
			}
			server.SetLogger(a.logger)

			a.logger.Info("serve_started",
				slog.String("transport", transport),
				slog.String("addr", addr),
				slog.String("index", a.svc.Name()))
			return server.Serve(cmd.Context(), transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio or http (default from config)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for the http transport (default from config)")

	return cmd
}
