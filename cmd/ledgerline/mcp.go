package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the review queue as MCP tools over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the review
queue and batch status, so an assistant can walk a reviewer through
pending suggestions. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newReviewApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			handlers := mcp.NewHandlers(app.review, app.tracker(), slog.Default().With("component", "mcp"))
			return mcp.Serve(handlers, version)
		},
	}
}
