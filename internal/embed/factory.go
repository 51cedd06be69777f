package embed

import (
	"fmt"
	"strings"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/errors"
)

// New creates the embedder for the given model name, wrapped with an
// LRU cache. Supported models: "local" and "gemini".
func New(model string, cfg *config.Config) (Embedder, error) {
	var inner Embedder

	switch strings.ToLower(model) {
	case config.ModelLocal:
		inner = NewLocalEmbedder()

	case config.ModelGemini:
		var err error
		inner, err = NewGeminiEmbedder(GeminiConfig{
			APIKey:    cfg.Embeddings.Gemini.APIKey,
			Model:     cfg.Embeddings.Gemini.Model,
			Endpoint:  cfg.Embeddings.Gemini.Endpoint,
			BatchSize: cfg.Embeddings.BatchSize,
		})
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.New(errors.ErrCodeUnknownModel,
			fmt.Sprintf("unknown embedding model %q", model), nil).
			WithSuggestion("use 'local' or 'gemini'")
	}

	return NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

// NewAll creates one embedder per configured model, keyed by model name.
// On failure, already-created embedders are closed.
func NewAll(cfg *config.Config) (map[string]Embedder, error) {
	embedders := make(map[string]Embedder, len(cfg.Embeddings.Models))
	for _, model := range cfg.Embeddings.Models {
		e, err := New(model, cfg)
		if err != nil {
			for _, open := range embedders {
				_ = open.Close()
			}
			return nil, err
		}
		embedders[strings.ToLower(model)] = e
	}
	return embedders, nil
}
