package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/store"
	"github.com/biblio-mcp/biblio/internal/ui"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and registry summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			data := ui.StatusData{
				Backend:      cfg.Store.Backend,
				LibraryDir:   cfg.Library.Dir,
				Models:       cfg.Embeddings.Models,
				StoreHealthy: true,
			}

			st, err := store.New(cfg, slog.Default())
			if err != nil {
				data.StoreHealthy = false
				data.StoreError = err.Error()
			} else {
				defer st.Close()
				if err := st.Ping(ctx); err != nil {
					data.StoreHealthy = false
					data.StoreError = err.Error()
				}
			}

			if data.ActiveModels, err = reg.ActiveModels(ctx); err != nil {
				return err
			}
			entries, err := reg.List(ctx)
			if err != nil {
				return err
			}
			data.Entries = len(entries)
			seen := make(map[string]struct{})
			for _, e := range entries {
				seen[e.BookID] = struct{}{}
			}
			data.Books = len(seen)

			ui.NewPrinter(cmd.OutOrStdout()).Status(data)
			return nil
		},
	}

	return cmd
}
