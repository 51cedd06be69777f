package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/search"
	"github.com/biblio-mcp/biblio/internal/ui"
)

func newSearchCmd() *cobra.Command {
	var (
		limit  int
		models []string
	)

	cmd := &cobra.Command{
		Use:   "search \"query\"",
		Short: "Search the library from the command line",
		Long: `Run one semantic query across every active embedding model and
print the fused results. Handy for checking what the MCP server would
return without wiring up a client.`,
		Example: `  biblio search "what does the author say about whales"
  biblio search "stoic view of anger" --limit 3 --model local`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, st, embedders, cleanup, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			embedders, err = filterEmbedders(embedders, models)
			if err != nil {
				return err
			}

			retriever, err := search.NewRetriever(search.RetrieverDependencies{
				Config:    cfg,
				Registry:  reg,
				Store:     st,
				Embedders: embedders,
			})
			if err != nil {
				return err
			}

			resp, err := retriever.Search(ctx, args[0], limit)
			if err != nil {
				return err
			}

			printer := ui.NewPrinter(cmd.OutOrStdout())
			printer.SearchResults(resp, cfg.Search.SnippetLength)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results (default: configured top_k)")
	cmd.Flags().StringSliceVar(&models, "model", nil, "Restrict the query to these models (default: all configured)")

	return cmd
}
