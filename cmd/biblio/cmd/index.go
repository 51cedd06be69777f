package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/index"
	"github.com/biblio-mcp/biblio/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		mode   string
		models []string
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the library into the configured embedding models",
		Long: `Index every EPUB and PDF in the library directory.

Mode 'new' (the default) skips books whose content is unchanged since
the last run; mode 'all' re-embeds everything unconditionally. A failure
in one book never aborts the others, but any failure makes the command
exit non-zero.`,
		Example: `  # Index new and changed books
  biblio index

  # Re-embed the whole library under the gemini model only
  biblio index --mode all --model gemini`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runMode, err := index.ParseMode(mode)
			if err != nil {
				return err
			}

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

			runner, err := index.NewRunner(index.RunnerDependencies{
				Config:    cfg,
				Registry:  reg,
				Store:     st,
				Embedders: embedders,
			})
			if err != nil {
				return err
			}

			report, err := runner.Run(ctx, runMode)
			if err != nil {
				return err
			}

			printer := ui.NewPrinter(cmd.OutOrStdout())
			printer.IndexReport(report)

			if report.Failed() > 0 {
				return fmt.Errorf("%d book(s) failed to index", report.Failed())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "new", "Indexing mode: new (skip unchanged) or all (re-embed everything)")
	cmd.Flags().StringSliceVar(&models, "model", nil, "Restrict the run to these models (default: all configured)")

	return cmd
}
