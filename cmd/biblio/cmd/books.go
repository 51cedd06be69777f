package cmd

import (
	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/ui"
)

func newBooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List indexed books",
		Long:  `List every registered book with its per-model chunk counts and index times.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			entries, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}

			printer := ui.NewPrinter(cmd.OutOrStdout())
			printer.Books(entries)
			return nil
		},
	}

	return cmd
}
