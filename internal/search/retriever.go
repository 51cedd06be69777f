package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/embed"
	"github.com/biblio-mcp/biblio/internal/errors"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/store"
)

// Result is one chunk in a search response, enriched with book
// metadata from the registry.
type Result struct {
	BookID     string
	Title      string
	Author     string
	RelPath    string
	ChunkIndex int
	Text       string
	Start      int
	End        int
	Section    string
	// Score is the fused RRF score.
	Score float64
	// Models lists the per-model provenance.
	Models []ModelScore
}

// Response is the outcome of one search request.
type Response struct {
	Query   string
	Results []Result
	// Warnings carries per-model degradations (a provider down, a
	// model's index unreachable). The response is still usable.
	Warnings []string
	// LibraryEmpty is set when no book has been indexed under any
	// model. An empty library is a state, not an error.
	LibraryEmpty bool
}

// Retriever answers semantic queries across all active models.
type Retriever struct {
	cfg       *config.Config
	reg       *registry.Registry
	store     store.Store
	embedders map[string]embed.Embedder
	fuser     *Fuser
	logger    *slog.Logger
}

// RetrieverDependencies are the injected collaborators for a Retriever.
type RetrieverDependencies struct {
	Config    *config.Config
	Registry  *registry.Registry
	Store     store.Store
	Embedders map[string]embed.Embedder
	Logger    *slog.Logger
}

// NewRetriever creates a Retriever with injected dependencies.
func NewRetriever(deps RetrieverDependencies) (*Retriever, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(deps.Embedders) == 0 {
		return nil, fmt.Errorf("at least one embedder is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retriever{
		cfg:       deps.Config,
		reg:       deps.Registry,
		store:     deps.Store,
		embedders: deps.Embedders,
		fuser:     NewFuser(deps.Config.Search.RRFConstant),
		logger:    logger,
	}, nil
}

// Search embeds the query under every active model, pools the per-model
// KNN candidates, and rank-merges them. limit <= 0 uses the configured
// default; limits above the configured maximum are clamped.
func (r *Retriever) Search(ctx context.Context, query string, limit int) (*Response, error) {
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if limit <= 0 {
		limit = r.cfg.Search.TopK
	}
	if limit > r.cfg.Search.MaxTopK {
		limit = r.cfg.Search.MaxTopK
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Search.Timeout)
	defer cancel()

	resp := &Response{Query: query}

	models, err := r.reg.ActiveModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		resp.LibraryEmpty = true
		return resp, nil
	}

	// Cache registry entries per (book, model) for this request.
	entries := make(map[string]map[string]*registry.Entry)
	all, err := r.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		e := &all[i]
		if entries[e.BookID] == nil {
			entries[e.BookID] = make(map[string]*registry.Entry)
		}
		entries[e.BookID][e.Model] = e
	}

	var mu sync.Mutex
	lists := make(map[string][]store.Hit)
	g, gctx := errgroup.WithContext(ctx)

	for _, model := range models {
		g.Go(func() error {
			hits, err := r.searchModel(gctx, model, query, limit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One model failing degrades the response, never
				// fails it.
				r.logger.Warn("model search failed",
					slog.String("model", model),
					slog.String("error", err.Error()))
				resp.Warnings = append(resp.Warnings,
					fmt.Sprintf("model %s unavailable: %s", model, warningText(err)))
				return nil
			}
			lists[model] = r.filterStale(hits, entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(lists) == 0 && len(resp.Warnings) > 0 {
		return nil, errors.New(errors.ErrCodeSearchFailed,
			"no embedding model produced results", nil)
	}

	fusedHits := r.fuser.Fuse(lists)
	if len(fusedHits) > limit {
		fusedHits = fusedHits[:limit]
	}

	for _, fh := range fusedHits {
		result := Result{
			BookID:     fh.Hit.BookID,
			Title:      fh.Hit.Title,
			Author:     fh.Hit.Author,
			RelPath:    fh.Hit.FilePath,
			ChunkIndex: fh.Hit.ChunkIndex,
			Text:       fh.Hit.Text,
			Start:      fh.Hit.Start,
			End:        fh.Hit.End,
			Section:    fh.Hit.Section,
			Score:      fh.Score,
			Models:     fh.Models,
		}
		// Registry metadata wins over stored copies when present.
		if byModel, ok := entries[fh.Hit.BookID]; ok {
			for _, e := range byModel {
				result.Title = e.Title
				result.Author = e.Author
				result.RelPath = e.RelPath
				break
			}
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

// searchModel embeds the query with one model and runs KNN against
// its namespace.
func (r *Retriever) searchModel(ctx context.Context, model, query string, limit int) ([]store.Hit, error) {
	embedder, ok := r.embedders[model]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownModel,
			fmt.Sprintf("no embedder configured for active model %s", model), nil)
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.Search(ctx, model, vector, limit)
}

// filterStale drops hits whose (book, model) has no registry entry or
// whose run token is not the registered one. Chunks from abandoned or
// superseded runs never reach callers.
func (r *Retriever) filterStale(hits []store.Hit, entries map[string]map[string]*registry.Entry) []store.Hit {
	live := hits[:0]
	for _, h := range hits {
		entry, ok := entries[h.BookID][h.Model]
		if !ok {
			r.logger.Info("dropping hit for unregistered book",
				slog.String("book", h.BookID),
				slog.String("model", h.Model))
			continue
		}
		if strconv.FormatInt(entry.RunToken, 10) != h.RunToken {
			continue
		}
		live = append(live, h)
	}
	return live
}

func warningText(err error) string {
	if be, ok := err.(*errors.BiblioError); ok {
		return be.Message
	}
	return err.Error()
}
