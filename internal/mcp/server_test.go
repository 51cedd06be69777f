package mcp

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/embed"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/search"
	"github.com/biblio-mcp/biblio/internal/store"
)

type serverEnv struct {
	cfg    *config.Config
	reg    *registry.Registry
	store  store.Store
	server *Server
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	dataDir := t.TempDir()

	cfg := config.NewConfig()
	cfg.Store.DataDir = dataDir

	reg, err := registry.Open(filepath.Join(dataDir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	st, err := store.NewLocalStore(dataDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	embedder := embed.NewLocalEmbedder()
	require.NoError(t, st.EnsureModel(context.Background(),
		config.ModelLocal, embedder.Dimensions()))

	retriever, err := search.NewRetriever(search.RetrieverDependencies{
		Config:    cfg,
		Registry:  reg,
		Store:     st,
		Embedders: map[string]embed.Embedder{config.ModelLocal: embedder},
	})
	require.NoError(t, err)

	srv, err := NewServer(ServerDependencies{
		Config:    cfg,
		Retriever: retriever,
		Registry:  reg,
		Store:     st,
	})
	require.NoError(t, err)

	return &serverEnv{cfg: cfg, reg: reg, store: st, server: srv}
}

// indexText stores one text as a single chunk and registers it, so the
// tools have something to answer with.
func (e *serverEnv) indexText(t *testing.T, bookID, title, author, text string, token int64) {
	t.Helper()
	ctx := context.Background()

	embedder := embed.NewLocalEmbedder()
	vec, err := embedder.Embed(ctx, text)
	require.NoError(t, err)

	require.NoError(t, e.store.UpsertChunks(ctx, []store.Chunk{{
		BookID:   bookID,
		RunToken: strconv.FormatInt(token, 10),
		Index:    0, TotalChunks: 1,
		Text:    text,
		End:     len([]rune(text)),
		Section: "Chapter One",
		Title:   title, Author: author,
		FilePath: bookID + ".epub", FileType: "epub",
		Model:  config.ModelLocal,
		Vector: vec,
	}}))
	require.NoError(t, e.reg.Record(ctx, registry.Entry{
		BookID: bookID, Model: config.ModelLocal,
		Dimensions: embedder.Dimensions(), ChunkCount: 1,
		ContentHash: "hash-" + bookID, RunToken: token,
		Title: title, Author: author, Format: "epub",
		RelPath: bookID + ".epub",
	}))
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerDependencies{})
	assert.Error(t, err)
}

func TestSearchLibraryTool(t *testing.T) {
	env := newServerEnv(t)
	env.indexText(t, "whale", "The Whale", "H. Melville",
		"the white whale breached the cold ocean waves", 1)
	env.indexText(t, "war", "On War", "C. Clausewitz",
		"strategy concentrates force at the decisive point", 1)

	result, out, err := env.server.mcpSearchLibraryHandler(context.Background(), nil,
		SearchLibraryInput{Query: "white whale in the ocean"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)

	top := out.Results[0]
	assert.Equal(t, "whale", top.BookID)
	assert.Equal(t, "The Whale", top.Title)
	assert.Equal(t, "Chapter One", top.Section)
	assert.Equal(t, []string{config.ModelLocal}, top.Models)
	assert.Greater(t, top.Score, 0.0)

	require.NotNil(t, result)
	text := result.Content[0].(*sdkmcp.TextContent).Text
	assert.Contains(t, text, "The Whale")
	assert.Contains(t, text, "whale, \"Chapter One\", chunk 0")
}

func TestSearchLibraryToolRejectsEmptyQuery(t *testing.T) {
	env := newServerEnv(t)

	_, _, err := env.server.mcpSearchLibraryHandler(context.Background(), nil,
		SearchLibraryInput{Query: "   "})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchLibraryToolEmptyLibrary(t *testing.T) {
	env := newServerEnv(t)

	result, out, err := env.server.mcpSearchLibraryHandler(context.Background(), nil,
		SearchLibraryInput{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)

	text := result.Content[0].(*sdkmcp.TextContent).Text
	assert.Contains(t, text, "library is empty")
}

func TestListBooksTool(t *testing.T) {
	env := newServerEnv(t)
	env.indexText(t, "whale", "The Whale", "H. Melville", "call me ishmael", 1)
	env.indexText(t, "war", "On War", "C. Clausewitz", "war is politics", 1)

	result, out, err := env.server.mcpListBooksHandler(context.Background(), nil, ListBooksInput{})
	require.NoError(t, err)
	require.Len(t, out.Books, 2)

	byID := make(map[string]BookOutput)
	for _, b := range out.Books {
		byID[b.ID] = b
	}
	whale := byID["whale"]
	assert.Equal(t, "The Whale", whale.Title)
	assert.Equal(t, "H. Melville", whale.Author)
	assert.Equal(t, "epub", whale.Format)
	require.Len(t, whale.Models, 1)
	assert.Equal(t, config.ModelLocal, whale.Models[0].Model)
	assert.Equal(t, 1, whale.Models[0].Chunks)

	text := result.Content[0].(*sdkmcp.TextContent).Text
	assert.Contains(t, text, "The Whale")
	assert.Contains(t, text, "On War")
}

func TestBookSummaryTool(t *testing.T) {
	env := newServerEnv(t)
	text := "the white whale breached the cold ocean waves"
	env.indexText(t, "whale", "The Whale", "H. Melville", text, 1)

	_, out, err := env.server.mcpBookSummaryHandler(context.Background(), nil,
		BookSummaryInput{Title: "the whale"})
	require.NoError(t, err)

	assert.Equal(t, "whale", out.ID)
	assert.Equal(t, "The Whale", out.Title)
	assert.Equal(t, []string{config.ModelLocal}, out.Models)
	assert.Equal(t, 1, out.Chunks)
	assert.Equal(t, int64(len([]rune(text))), out.Characters)
	assert.Equal(t, int64(1), out.EstimatedPages)
}

func TestBookSummaryToolUnknownTitle(t *testing.T) {
	env := newServerEnv(t)

	_, _, err := env.server.mcpBookSummaryHandler(context.Background(), nil,
		BookSummaryInput{Title: "No Such Book"})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeBookNotFound, mcpErr.Code)
}

func TestLibraryStatusTool(t *testing.T) {
	env := newServerEnv(t)
	env.indexText(t, "whale", "The Whale", "H. Melville", "call me ishmael", 1)

	_, out, err := env.server.mcpLibraryStatusHandler(context.Background(), nil, LibraryStatusInput{})
	require.NoError(t, err)

	assert.True(t, out.StoreHealthy)
	assert.Equal(t, config.BackendLocal, out.StoreBackend)
	assert.Equal(t, []string{config.ModelLocal}, out.ActiveModels)
	assert.Equal(t, 1, out.Books)
	assert.Equal(t, 1, out.Entries)
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	env := newServerEnv(t)

	err := env.server.Serve(context.Background(), "sse")
	assert.Error(t, err)
}
