package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/logging"
	"github.com/biblio-mcp/biblio/internal/mcp"
	"github.com/biblio-mcp/biblio/internal/search"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the Model Context Protocol server.

Stdout carries only protocol frames; all logging goes to the log file
under ~/.biblio/logs/. Wire this command into your MCP client config,
e.g. for Claude Desktop:

  { "mcpServers": { "biblio": { "command": "biblio", "args": ["serve"] } } }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Stdout belongs to the protocol from here on.
			cleanup, err := logging.SetupMCPMode(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer cleanup()

			reg, st, embedders, stackCleanup, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer stackCleanup()

			retriever, err := search.NewRetriever(search.RetrieverDependencies{
				Config:    cfg,
				Registry:  reg,
				Store:     st,
				Embedders: embedders,
			})
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(mcp.ServerDependencies{
				Config:    cfg,
				Retriever: retriever,
				Registry:  reg,
				Store:     st,
			})
			if err != nil {
				return err
			}

			return server.Serve(ctx, cfg.Server.Transport)
		},
	}

	return cmd
}
