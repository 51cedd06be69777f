// Package cmd provides the CLI commands for Biblio.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/embed"
	"github.com/biblio-mcp/biblio/internal/logging"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/store"
	"github.com/biblio-mcp/biblio/pkg/version"
)

var (
	debugMode      bool
	libraryDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the biblio CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "biblio",
		Short: "Semantic search over your EPUB and PDF library",
		Long: `Biblio indexes a directory of EPUB and PDF books into one or more
embedding models and answers semantic queries over them, either one-shot
from the command line or as an MCP server for AI assistants.

Point it at a library directory and run 'biblio index' to get started.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("biblio version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&libraryDir, "library", "", "Library directory (defaults to the configured one)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.biblio/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newBooksCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("Debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the effective configuration, honoring --library.
func loadConfig() (*config.Config, error) {
	return config.Load(libraryDir)
}

// openRegistry opens the book registry under the configured data dir.
func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Open(filepath.Join(cfg.Store.DataDir, "registry.db"))
}

// openStack opens the registry, store, and embedders in one go. The
// returned cleanup closes everything that was opened.
func openStack(cfg *config.Config) (*registry.Registry, store.Store, map[string]embed.Embedder, func(), error) {
	reg, err := openRegistry(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	st, err := store.New(cfg, slog.Default())
	if err != nil {
		reg.Close()
		return nil, nil, nil, nil, err
	}

	embedders, err := embed.NewAll(cfg)
	if err != nil {
		st.Close()
		reg.Close()
		return nil, nil, nil, nil, err
	}

	cleanup := func() {
		for _, e := range embedders {
			_ = e.Close()
		}
		_ = st.Close()
		_ = reg.Close()
	}
	return reg, st, embedders, cleanup, nil
}

// filterEmbedders narrows the embedder set to the models named in the
// --model flag. An empty filter keeps everything.
func filterEmbedders(embedders map[string]embed.Embedder, models []string) (map[string]embed.Embedder, error) {
	if len(models) == 0 {
		return embedders, nil
	}

	filtered := make(map[string]embed.Embedder, len(models))
	for _, m := range models {
		name := strings.ToLower(strings.TrimSpace(m))
		e, ok := embedders[name]
		if !ok {
			return nil, fmt.Errorf("model %q is not configured (configured: %s)",
				m, strings.Join(mapKeys(embedders), ", "))
		}
		filtered[name] = e
	}
	return filtered, nil
}

func mapKeys(m map[string]embed.Embedder) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
