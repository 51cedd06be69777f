package index

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/embed"
	"github.com/biblio-mcp/biblio/internal/errors"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/store"
)

// writeEPUB drops a minimal one-chapter EPUB into the library.
func writeEPUB(t *testing.T, dir, name, title, body string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, content string) {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`)
	write("content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>`+title+`</dc:title><dc:creator>Test Author</dc:creator>
  </metadata>
  <manifest><item id="c1" href="ch1.xhtml" media-type="application/xhtml+xml"/></manifest>
  <spine><itemref idref="c1"/></spine>
</package>`)
	write("ch1.xhtml", `<html><body><p>`+body+`</p></body></html>`)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

type testEnv struct {
	cfg    *config.Config
	reg    *registry.Registry
	store  store.Store
	runner *Runner
}

func newTestEnv(t *testing.T, embedders map[string]embed.Embedder) *testEnv {
	t.Helper()

	libDir := t.TempDir()
	dataDir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Library.Dir = libDir
	cfg.Store.DataDir = dataDir
	cfg.Chunking.Window = 100
	cfg.Chunking.Overlap = 20
	cfg.Embeddings.BatchSize = 4
	cfg.Index.Workers = 2

	reg, err := registry.Open(filepath.Join(dataDir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	st, err := store.NewLocalStore(dataDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if embedders == nil {
		embedders = map[string]embed.Embedder{
			config.ModelLocal: embed.NewLocalEmbedder(),
		}
	}

	runner, err := NewRunner(RunnerDependencies{
		Config:    cfg,
		Registry:  reg,
		Store:     st,
		Embedders: embedders,
	})
	require.NoError(t, err)

	return &testEnv{cfg: cfg, reg: reg, store: st, runner: runner}
}

func repeatWords(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestRunIndexesNewBooks(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	writeEPUB(t, env.cfg.Library.Dir, "whale.epub", "The Whale",
		repeatWords("ocean", 80))

	report, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)

	require.Len(t, report.Books, 1)
	assert.Equal(t, StatusIndexed, report.Books[0].Status)
	assert.Equal(t, "The Whale", report.Books[0].Title)
	assert.Greater(t, report.Books[0].Chunks, 1)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 0, report.Failed())

	entry, err := env.reg.Entry(ctx, report.Books[0].BookID, config.ModelLocal)
	require.NoError(t, err)
	assert.Equal(t, report.Books[0].Chunks, entry.ChunkCount)
	assert.Equal(t, "Test Author", entry.Author)

	stats, err := env.store.BookStats(ctx, entry.BookID, config.ModelLocal)
	require.NoError(t, err)
	assert.Equal(t, entry.ChunkCount, stats.Chunks)
}

func TestRunModeNewSkipsUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	writeEPUB(t, env.cfg.Library.Dir, "whale.epub", "The Whale",
		repeatWords("ocean", 80))

	first, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)
	require.Equal(t, 1, first.Indexed())

	entryBefore, err := env.reg.Entry(ctx, first.Books[0].BookID, config.ModelLocal)
	require.NoError(t, err)

	second, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)
	require.Len(t, second.Books, 1)
	assert.Equal(t, StatusSkipped, second.Books[0].Status)
	assert.Equal(t, "unchanged", second.Books[0].Reason)

	// No store writes at all: the registry timestamp is untouched.
	entryAfter, err := env.reg.Entry(ctx, first.Books[0].BookID, config.ModelLocal)
	require.NoError(t, err)
	assert.Equal(t, entryBefore.IndexedAt, entryAfter.IndexedAt)
	assert.Equal(t, entryBefore.RunToken, entryAfter.RunToken)
}

func TestRunModeNewReindexesChanged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	writeEPUB(t, env.cfg.Library.Dir, "whale.epub", "The Whale",
		repeatWords("ocean", 80))
	first, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)
	require.Equal(t, 1, first.Indexed())

	writeEPUB(t, env.cfg.Library.Dir, "whale.epub", "The Whale",
		repeatWords("harpoon", 90))
	second, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)
	require.Len(t, second.Books, 1)
	assert.Equal(t, StatusIndexed, second.Books[0].Status)
}

func TestRunModeAllReindexesUnconditionally(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	writeEPUB(t, env.cfg.Library.Dir, "whale.epub", "The Whale",
		repeatWords("ocean", 80))

	_, err := env.runner.Run(ctx, ModeAll)
	require.NoError(t, err)
	second, err := env.runner.Run(ctx, ModeAll)
	require.NoError(t, err)

	require.Len(t, second.Books, 1)
	assert.Equal(t, StatusIndexed, second.Books[0].Status)

	// Exactly one live registration and chunk set per (book, model).
	entries, err := env.reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	stats, err := env.store.BookStats(ctx, entries[0].BookID, config.ModelLocal)
	require.NoError(t, err)
	assert.Equal(t, entries[0].ChunkCount, stats.Chunks)
}

// failingEmbedder simulates a provider outage or credential rejection.
type failingEmbedder struct {
	*embed.LocalEmbedder
	err error
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, f.err
}

func TestRunBookFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	writeEPUB(t, env.cfg.Library.Dir, "good.epub", "Good Book",
		repeatWords("fine", 60))
	// Corrupt EPUB: extraction fails for this book only.
	require.NoError(t, os.WriteFile(
		filepath.Join(env.cfg.Library.Dir, "bad.epub"),
		[]byte("not a zip at all"), 0o644))

	report, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)

	require.Len(t, report.Books, 2)
	byPath := map[string]BookReport{}
	for _, b := range report.Books {
		byPath[b.RelPath] = b
	}
	assert.Equal(t, StatusFailed, byPath["bad.epub"].Status)
	assert.Equal(t, StatusIndexed, byPath["good.epub"].Status)
	assert.Equal(t, 1, report.Failed())
}

func TestRunProviderAuthAbortsModel(t *testing.T) {
	authErr := errors.New(errors.ErrCodeProviderAuth, "api key rejected", nil)
	env := newTestEnv(t, map[string]embed.Embedder{
		"gemini": &failingEmbedder{LocalEmbedder: embed.NewLocalEmbedder(), err: authErr},
	})
	env.cfg.Index.Workers = 1
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		writeEPUB(t, env.cfg.Library.Dir, fmt.Sprintf("book%d.epub", i),
			fmt.Sprintf("Book %d", i), repeatWords("text", 60))
	}

	report, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)

	// Every book gets a report entry and every one failed; none were
	// retried against a credential that cannot work.
	require.Len(t, report.Books, 3)
	assert.Equal(t, 3, report.Failed())
	for _, b := range report.Books {
		assert.Equal(t, StatusFailed, b.Status)
	}
}

func TestRunFailedRunLeavesPreviousEntryIntact(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	writeEPUB(t, env.cfg.Library.Dir, "whale.epub", "The Whale",
		repeatWords("ocean", 80))
	first, err := env.runner.Run(ctx, ModeNew)
	require.NoError(t, err)
	require.Equal(t, 1, first.Indexed())
	bookID := first.Books[0].BookID

	// Second run with a broken provider must not disturb run one.
	transient := errors.New(errors.ErrCodeProviderUnavailable, "provider down", nil)
	broken, err := NewRunner(RunnerDependencies{
		Config:   env.cfg,
		Registry: env.reg,
		Store:    env.store,
		Embedders: map[string]embed.Embedder{
			config.ModelLocal: &failingEmbedder{LocalEmbedder: embed.NewLocalEmbedder(), err: transient},
		},
	})
	require.NoError(t, err)

	report, err := broken.Run(ctx, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	entry, err := env.reg.Entry(ctx, bookID, config.ModelLocal)
	require.NoError(t, err)
	assert.Equal(t, first.Books[0].Chunks, entry.ChunkCount)

	stats, err := env.store.BookStats(ctx, bookID, config.ModelLocal)
	require.NoError(t, err)
	assert.Equal(t, entry.ChunkCount, stats.Chunks)
}

func TestRunEmptyLibrary(t *testing.T) {
	env := newTestEnv(t, nil)

	report, err := env.runner.Run(context.Background(), ModeNew)
	require.NoError(t, err)
	assert.Empty(t, report.Books)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("new")
	require.NoError(t, err)
	assert.Equal(t, ModeNew, m)

	m, err = ParseMode("all")
	require.NoError(t, err)
	assert.Equal(t, ModeAll, m)

	_, err = ParseMode("incremental")
	require.Error(t, err)
}
