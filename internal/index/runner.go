// Package index runs the extract-chunk-embed-store pipeline over a
// book library and keeps the registry in step with the store.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/biblio-mcp/biblio/internal/chunk"
	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/embed"
	"github.com/biblio-mcp/biblio/internal/errors"
	"github.com/biblio-mcp/biblio/internal/extract"
	"github.com/biblio-mcp/biblio/internal/library"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/store"
)

// Mode selects which books an indexing run touches.
type Mode string

const (
	// ModeNew skips books whose content hash matches their registry
	// entry. Unchanged books cause no store writes at all.
	ModeNew Mode = "new"
	// ModeAll reindexes every book unconditionally.
	ModeAll Mode = "all"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNew, ModeAll:
		return Mode(s), nil
	default:
		return "", errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown index mode %q", s), nil).
			WithSuggestion(`Use "new" or "all"`)
	}
}

// RunnerDependencies are the injected collaborators for a Runner.
type RunnerDependencies struct {
	Config    *config.Config
	Registry  *registry.Registry
	Store     store.Store
	Embedders map[string]embed.Embedder
	Logger    *slog.Logger
}

// Runner executes indexing runs.
type Runner struct {
	cfg       *config.Config
	reg       *registry.Registry
	store     store.Store
	embedders map[string]embed.Embedder
	extractor *extract.Extractor
	logger    *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
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

	return &Runner{
		cfg:       deps.Config,
		reg:       deps.Registry,
		store:     deps.Store,
		embedders: deps.Embedders,
		extractor: extract.NewExtractor(),
		logger:    logger,
	}, nil
}

// Run indexes the library. Preflight failures return an error before
// any book is touched; per-book failures are isolated into the report.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now(),
	}
	logger := r.logger.With(slog.String("run_id", report.RunID))

	if err := r.preflight(ctx); err != nil {
		return nil, err
	}

	lock := registry.NewIndexLock(r.cfg.Store.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "acquire index lock", err)
	}
	if !acquired {
		return nil, errors.New(errors.ErrCodeIndexFailed,
			"another indexing run is in progress", nil).
			WithDetail("lock", lock.Path())
	}
	defer lock.Unlock()

	token, err := r.reg.NextRunToken(ctx)
	if err != nil {
		return nil, err
	}

	books, err := library.NewScanner(r.cfg.Library.Dir, r.cfg.Library.Exclude).Scan()
	if err != nil {
		return nil, err
	}
	logger.Info("indexing run started",
		slog.String("mode", string(mode)),
		slog.Int("books", len(books)),
		slog.Int64("run_token", token))

	// Model order is fixed so reports and auth-abort behavior are
	// deterministic.
	models := make([]string, 0, len(r.embedders))
	for m := range r.embedders {
		models = append(models, m)
	}
	sort.Strings(models)

	var (
		mu      sync.Mutex
		aborted = make(map[string]string) // model -> auth failure reason
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	results := make([][]BookReport, len(books))

	for i, book := range books {
		g.Go(func() error {
			var doc *extract.Document
			for _, model := range models {
				mu.Lock()
				reason, dead := aborted[model]
				mu.Unlock()
				if dead {
					results[i] = append(results[i], BookReport{
						BookID: book.ID, RelPath: book.RelPath, Title: book.Name,
						Model: model, Status: StatusFailed, Reason: reason,
					})
					continue
				}

				br := r.indexBook(gctx, logger, book, &doc, model, mode, token)
				if br.Status == StatusFailed && isProviderAuth(br.Reason) {
					mu.Lock()
					aborted[model] = br.Reason
					mu.Unlock()
				}
				results[i] = append(results[i], br)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, rs := range results {
		report.Books = append(report.Books, rs...)
	}
	report.Duration = time.Since(report.StartedAt)
	logger.Info("indexing run finished",
		slog.Int("indexed", report.Indexed()),
		slog.Int("skipped", report.Skipped()),
		slog.Int("failed", report.Failed()),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// preflight fails fast on conditions no book could survive.
func (r *Runner) preflight(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	if err := r.store.Ping(ctx); err != nil {
		return err
	}
	for model, e := range r.embedders {
		if err := r.store.EnsureModel(ctx, model, e.Dimensions()); err != nil {
			return err
		}
	}
	return nil
}

// indexBook processes one (book, model) pair. doc caches the extracted
// text across models of the same book.
func (r *Runner) indexBook(ctx context.Context, logger *slog.Logger,
	book library.Book, doc **extract.Document, model string, mode Mode,
	token int64) BookReport {

	br := BookReport{
		BookID:  book.ID,
		RelPath: book.RelPath,
		Title:   book.Name,
		Model:   model,
	}
	fail := func(reason string, err error) BookReport {
		br.Status = StatusFailed
		br.Reason = reason
		logger.Error("book indexing failed",
			slog.String("book", book.RelPath),
			slog.String("model", model),
			slog.String("error", err.Error()))
		return br
	}

	hash, err := library.ContentHash(book.Path)
	if err != nil {
		return fail("cannot hash file", err)
	}

	if mode == ModeNew {
		entry, err := r.reg.Entry(ctx, book.ID, model)
		if err == nil && entry.ContentHash == hash {
			br.Status = StatusSkipped
			br.Reason = "unchanged"
			br.Chunks = entry.ChunkCount
			return br
		}
		if err != nil && errors.GetCode(err) != errors.ErrCodeBookNotFound {
			return fail("registry lookup failed", err)
		}
	}

	if *doc == nil {
		d, err := r.extractor.Extract(book.Path)
		if err != nil {
			return fail("extraction failed", err)
		}
		*doc = d
	}
	if (*doc).Title != "" {
		br.Title = (*doc).Title
	}

	pieces, err := chunk.Split((*doc).Text, chunk.Options{
		Window:  r.cfg.Chunking.Window,
		Overlap: r.cfg.Chunking.Overlap,
	})
	if err != nil {
		return fail("chunking failed", err)
	}

	runToken := strconv.FormatInt(token, 10)
	if err := r.writeRun(ctx, book, *doc, pieces, model, runToken); err != nil {
		// Discard this run's writes; a previous good run stays intact.
		if delErr := r.store.DeleteRun(ctx, book.ID, model, runToken); delErr != nil {
			logger.Warn("could not discard failed run",
				slog.String("book", book.ID),
				slog.String("error", delErr.Error()))
		}
		return fail(failureReason(err), err)
	}

	author := (*doc).Author
	if author == "" {
		author = "Unknown"
	}
	err = r.reg.Record(ctx, registry.Entry{
		BookID:      book.ID,
		Model:       model,
		Dimensions:  r.embedders[model].Dimensions(),
		ChunkCount:  len(pieces),
		ContentHash: hash,
		RunToken:    token,
		Title:       br.Title,
		Author:      author,
		Format:      book.Format,
		RelPath:     book.RelPath,
	})
	if err != nil {
		if delErr := r.store.DeleteRun(ctx, book.ID, model, runToken); delErr != nil {
			logger.Warn("could not discard failed run",
				slog.String("book", book.ID),
				slog.String("error", delErr.Error()))
		}
		return fail("registry write failed", err)
	}

	if err := r.store.PurgeStaleRuns(ctx, book.ID, model, runToken); err != nil {
		// The new run is live and registered; stale docs are filtered
		// at query time, so this only costs space.
		logger.Warn("stale run purge failed",
			slog.String("book", book.ID),
			slog.String("error", err.Error()))
	}

	br.Status = StatusIndexed
	br.Chunks = len(pieces)
	logger.Info("book indexed",
		slog.String("book", book.RelPath),
		slog.String("model", model),
		slog.Int("chunks", len(pieces)))
	return br
}

// writeRun embeds the pieces in batches and upserts them under the run
// token. Batches run through a bounded worker pool.
func (r *Runner) writeRun(ctx context.Context, book library.Book,
	doc *extract.Document, pieces []chunk.Chunk, model, runToken string) error {

	embedder := r.embedders[model]
	batchSize := r.cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	title := doc.Title
	if title == "" {
		title = book.Name
	}
	author := doc.Author
	if author == "" {
		author = "Unknown"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())

	for start := 0; start < len(pieces); start += batchSize {
		end := min(start+batchSize, len(pieces))
		batch := pieces[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = p.Text
			}
			vectors, err := embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}

			docs := make([]store.Chunk, len(batch))
			for i, p := range batch {
				docs[i] = store.Chunk{
					BookID:      book.ID,
					RunToken:    runToken,
					Index:       p.Index,
					TotalChunks: len(pieces),
					Text:        p.Text,
					Start:       p.Start,
					End:         p.End,
					Section:     doc.SectionAt(p.Start),
					Title:       title,
					Author:      author,
					FilePath:    book.RelPath,
					FileType:    book.Format,
					Model:       model,
					Vector:      vectors[i],
				}
			}
			return r.store.UpsertChunks(gctx, docs)
		})
	}
	return g.Wait()
}

func (r *Runner) workers() int {
	if r.cfg.Index.Workers > 0 {
		return r.cfg.Index.Workers
	}
	return 4
}

// isProviderAuth recognizes the failure reason writeRun assigns to
// credential rejections. Auth failures abort the model's remaining
// books because no retry can fix them.
func isProviderAuth(reason string) bool {
	return reason == reasonProviderAuth
}

const reasonProviderAuth = "provider rejected credentials"

func failureReason(err error) string {
	switch errors.GetCode(err) {
	case errors.ErrCodeProviderAuth:
		return reasonProviderAuth
	case errors.ErrCodeProviderTimeout, errors.ErrCodeProviderUnavailable,
		errors.ErrCodeProviderRateLimited:
		return "provider unavailable"
	case errors.ErrCodeStoreUnavailable:
		return "store unavailable"
	case errors.ErrCodeStaleRun:
		return "superseded by a newer run"
	default:
		return "indexing failed"
	}
}
