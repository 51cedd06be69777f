package store

import (
	"fmt"
	"log/slog"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/errors"
)

// New builds the store selected by cfg.Store.Backend.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendLocal:
		return NewLocalStore(cfg.Store.DataDir, logger)
	case config.BackendElastic:
		return NewElasticStore(cfg.Store.Elastic.Address, cfg.Store.Elastic.Index, logger)
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown store backend %q", cfg.Store.Backend), nil).
			WithSuggestion("Set store.backend to \"local\" or \"elastic\"")
	}
}
