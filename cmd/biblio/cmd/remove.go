package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/store"
	"github.com/biblio-mcp/biblio/internal/ui"
)

func newRemoveCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "remove BOOK_ID",
		Short: "Remove a book from the registry and the store",
		Long: `Remove a book's chunks from the vector store and its entries from
the registry. Without --model the book is removed from every model it
was indexed under. The source file in the library is never touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bookID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			st, err := store.New(cfg, slog.Default())
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := reg.List(ctx)
			if err != nil {
				return err
			}

			var models []string
			for _, e := range entries {
				if e.BookID != bookID {
					continue
				}
				if model != "" && e.Model != model {
					continue
				}
				models = append(models, e.Model)
			}
			if len(models) == 0 {
				if model != "" {
					return fmt.Errorf("book %q is not indexed under model %q", bookID, model)
				}
				return fmt.Errorf("book %q is not registered", bookID)
			}

			printer := ui.NewPrinter(cmd.OutOrStdout())
			for _, m := range models {
				if err := st.DeleteBook(ctx, bookID, m); err != nil {
					return err
				}
				if err := reg.Remove(ctx, bookID, m); err != nil {
					return err
				}
				printer.Println(fmt.Sprintf("removed %s (%s)", bookID, m))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Remove only this model's index of the book")

	return cmd
}
