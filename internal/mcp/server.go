package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/search"
	"github.com/biblio-mcp/biblio/internal/store"
	"github.com/biblio-mcp/biblio/pkg/version"
)

// charsPerPage approximates a printed page for the page estimate
// reported by book_summary.
const charsPerPage = 2000

// Server is the MCP server for Biblio. It bridges AI clients with the
// cross-model retriever and the book registry. The server holds no
// mutable state of its own; every request reads through the injected
// dependencies.
type Server struct {
	mcp       *mcp.Server
	retriever *search.Retriever
	registry  *registry.Registry
	store     store.Store
	config    *config.Config
	logger    *slog.Logger
}

// SearchLibraryInput defines the input schema for the search_library tool.
type SearchLibraryInput struct {
	Query string `json:"query" jsonschema:"natural-language query to search the library with"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of passages to return"`
}

// SearchLibraryOutput defines the output schema for the search_library tool.
type SearchLibraryOutput struct {
	Results  []PassageOutput `json:"results" jsonschema:"ranked passages with citations"`
	Warnings []string        `json:"warnings,omitempty" jsonschema:"per-model degradations, if any"`
}

// PassageOutput is one ranked passage with its citation metadata.
type PassageOutput struct {
	BookID     string   `json:"book_id" jsonschema:"stable identifier of the book"`
	Title      string   `json:"title" jsonschema:"book title"`
	Author     string   `json:"author,omitempty" jsonschema:"book author"`
	Section    string   `json:"section,omitempty" jsonschema:"chapter or section the passage falls in"`
	ChunkIndex int      `json:"chunk_index" jsonschema:"position of the passage within the book"`
	Snippet    string   `json:"snippet" jsonschema:"passage text, truncated for display"`
	Score      float64  `json:"score" jsonschema:"fused relevance score"`
	Models     []string `json:"models" jsonschema:"embedding models that surfaced this passage"`
}

// ListBooksInput defines the (empty) input schema for the list_books tool.
type ListBooksInput struct{}

// ListBooksOutput defines the output schema for the list_books tool.
type ListBooksOutput struct {
	Books []BookOutput `json:"books" jsonschema:"indexed books with per-model chunk counts"`
}

// BookOutput is one registered book grouped across models.
type BookOutput struct {
	ID     string            `json:"id" jsonschema:"stable book identifier"`
	Title  string            `json:"title" jsonschema:"book title"`
	Author string            `json:"author,omitempty" jsonschema:"book author"`
	Format string            `json:"format" jsonschema:"source format, epub or pdf"`
	Models []ModelIndexEntry `json:"models" jsonschema:"models this book is indexed under"`
}

// ModelIndexEntry reports one model's index of a book.
type ModelIndexEntry struct {
	Model  string `json:"model" jsonschema:"embedding model name"`
	Chunks int    `json:"chunks" jsonschema:"number of indexed chunks"`
}

// BookSummaryInput defines the input schema for the book_summary tool.
type BookSummaryInput struct {
	Title string `json:"title" jsonschema:"title of the book to summarize, matched case-insensitively"`
}

// BookSummaryOutput defines the output schema for the book_summary tool.
type BookSummaryOutput struct {
	ID             string   `json:"id" jsonschema:"stable book identifier"`
	Title          string   `json:"title" jsonschema:"book title"`
	Author         string   `json:"author,omitempty" jsonschema:"book author"`
	Format         string   `json:"format" jsonschema:"source format, epub or pdf"`
	Models         []string `json:"models" jsonschema:"models this book is indexed under"`
	Chunks         int      `json:"chunks" jsonschema:"number of indexed chunks"`
	Characters     int64    `json:"characters" jsonschema:"total characters of indexed text"`
	EstimatedPages int64    `json:"estimated_pages" jsonschema:"rough page estimate, characters divided by 2000"`
}

// LibraryStatusInput defines the (empty) input schema for the library_status tool.
type LibraryStatusInput struct{}

// LibraryStatusOutput defines the output schema for the library_status tool.
type LibraryStatusOutput struct {
	StoreBackend string   `json:"store_backend" jsonschema:"configured store backend"`
	StoreHealthy bool     `json:"store_healthy" jsonschema:"whether the store answered a health check"`
	StoreError   string   `json:"store_error,omitempty" jsonschema:"health check failure, if any"`
	ActiveModels []string `json:"active_models" jsonschema:"models with at least one indexed book"`
	Books        int      `json:"books" jsonschema:"number of distinct indexed books"`
	Entries      int      `json:"entries" jsonschema:"number of (book, model) registrations"`
}

// ServerDependencies carries what the server needs to answer requests.
type ServerDependencies struct {
	Config    *config.Config
	Retriever *search.Retriever
	Registry  *registry.Registry
	Store     store.Store
	Logger    *slog.Logger
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Config == nil {
		deps.Config = config.NewConfig()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		retriever: deps.Retriever,
		registry:  deps.Registry,
		store:     deps.Store,
		config:    deps.Config,
		logger:    deps.Logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "biblio",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_library",
		Description: "Semantic search over the indexed book library. Finds passages by meaning across every embedding model and returns them with citations (book, chapter, chunk). Use this to ground answers in the user's own books.",
	}, s.mcpSearchLibraryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_books",
		Description: "List every indexed book with its author, format, and per-model chunk counts. Use to discover what the library contains before searching.",
	}, s.mcpListBooksHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "book_summary",
		Description: "Summarize one book by title: author, format, chunk count, total characters, and an estimated page count.",
	}, s.mcpBookSummaryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "library_status",
		Description: "Report store health, active embedding models, and registry counts. Use to verify the library is ready before searching.",
	}, s.mcpLibraryStatusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

// mcpSearchLibraryHandler is the MCP SDK handler for the search_library tool.
func (s *Server) mcpSearchLibraryHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchLibraryInput) (
	*mcp.CallToolResult,
	SearchLibraryOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchLibraryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	resp, err := s.retriever.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, SearchLibraryOutput{}, MapError(err)
	}

	output := SearchLibraryOutput{
		Results:  make([]PassageOutput, 0, len(resp.Results)),
		Warnings: resp.Warnings,
	}
	for _, r := range resp.Results {
		output.Results = append(output.Results, toPassageOutput(r, s.config.Search.SnippetLength))
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: FormatSearchResponse(resp, s.config.Search.SnippetLength)},
		},
	}
	return result, output, nil
}

// mcpListBooksHandler is the MCP SDK handler for the list_books tool.
func (s *Server) mcpListBooksHandler(ctx context.Context, req *mcp.CallToolRequest, input ListBooksInput) (
	*mcp.CallToolResult,
	ListBooksOutput,
	error,
) {
	books, err := s.listBooks(ctx)
	if err != nil {
		return nil, ListBooksOutput{}, MapError(err)
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: FormatBookList(books)},
		},
	}
	return result, ListBooksOutput{Books: books}, nil
}

// mcpBookSummaryHandler is the MCP SDK handler for the book_summary tool.
func (s *Server) mcpBookSummaryHandler(ctx context.Context, req *mcp.CallToolRequest, input BookSummaryInput) (
	*mcp.CallToolResult,
	BookSummaryOutput,
	error,
) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, BookSummaryOutput{}, NewInvalidParamsError("title parameter is required")
	}

	entries, err := s.registry.List(ctx)
	if err != nil {
		return nil, BookSummaryOutput{}, MapError(err)
	}

	want := strings.ToLower(strings.TrimSpace(input.Title))
	var matched []registry.Entry
	for _, e := range entries {
		if strings.ToLower(e.Title) == want {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil, BookSummaryOutput{}, &MCPError{
			Code:    ErrCodeBookNotFound,
			Message: fmt.Sprintf("No indexed book titled %q. Use list_books to see what the library contains.", input.Title),
		}
	}

	out := BookSummaryOutput{
		ID:     matched[0].BookID,
		Title:  matched[0].Title,
		Author: matched[0].Author,
		Format: matched[0].Format,
	}
	for _, e := range matched {
		out.Models = append(out.Models, e.Model)
		if e.ChunkCount > out.Chunks {
			out.Chunks = e.ChunkCount
		}
	}
	sort.Strings(out.Models)

	// Character counts live in the store. Every model indexed the same
	// text, so the first model that answers is authoritative.
	for _, e := range matched {
		stats, err := s.store.BookStats(ctx, e.BookID, e.Model)
		if err != nil {
			s.logger.Warn("book stats unavailable",
				slog.String("book_id", e.BookID),
				slog.String("model", e.Model),
				slog.String("error", err.Error()))
			continue
		}
		out.Characters = stats.Chars
		break
	}
	out.EstimatedPages = out.Characters / charsPerPage
	if out.Characters > 0 && out.EstimatedPages == 0 {
		out.EstimatedPages = 1
	}

	text := fmt.Sprintf("**%s** by %s (%s, `%s`)\n\nIndexed under: %s\nChunks: %d\nCharacters: %d\nEstimated pages: %d\n",
		out.Title, displayAuthor(out.Author), out.Format, out.ID,
		strings.Join(out.Models, ", "), out.Chunks, out.Characters, out.EstimatedPages)
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
	return result, out, nil
}

// mcpLibraryStatusHandler is the MCP SDK handler for the library_status tool.
func (s *Server) mcpLibraryStatusHandler(ctx context.Context, req *mcp.CallToolRequest, input LibraryStatusInput) (
	*mcp.CallToolResult,
	LibraryStatusOutput,
	error,
) {
	out := LibraryStatusOutput{
		StoreBackend: s.config.Store.Backend,
		StoreHealthy: true,
	}
	if err := s.store.Ping(ctx); err != nil {
		out.StoreHealthy = false
		out.StoreError = err.Error()
	}

	models, err := s.registry.ActiveModels(ctx)
	if err != nil {
		return nil, LibraryStatusOutput{}, MapError(err)
	}
	out.ActiveModels = models

	entries, err := s.registry.List(ctx)
	if err != nil {
		return nil, LibraryStatusOutput{}, MapError(err)
	}
	out.Entries = len(entries)
	seen := make(map[string]struct{})
	for _, e := range entries {
		seen[e.BookID] = struct{}{}
	}
	out.Books = len(seen)

	health := "healthy"
	if !out.StoreHealthy {
		health = "unreachable: " + out.StoreError
	}
	text := fmt.Sprintf("Store (%s): %s\nActive models: %s\nBooks: %d (%d registrations)\n",
		out.StoreBackend, health, strings.Join(models, ", "), out.Books, out.Entries)
	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
	return result, out, nil
}

// listBooks groups registry entries by book, models sorted within each.
func (s *Server) listBooks(ctx context.Context) ([]BookOutput, error) {
	entries, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*BookOutput)
	order := make([]string, 0)
	for _, e := range entries {
		b, ok := byID[e.BookID]
		if !ok {
			b = &BookOutput{
				ID:     e.BookID,
				Title:  e.Title,
				Author: e.Author,
				Format: e.Format,
			}
			byID[e.BookID] = b
			order = append(order, e.BookID)
		}
		b.Models = append(b.Models, ModelIndexEntry{Model: e.Model, Chunks: e.ChunkCount})
	}

	books := make([]BookOutput, 0, len(order))
	for _, id := range order {
		b := byID[id]
		sort.Slice(b.Models, func(i, j int) bool { return b.Models[i].Model < b.Models[j].Model })
		books = append(books, *b)
	}
	return books, nil
}

func toPassageOutput(r search.Result, snippetLen int) PassageOutput {
	models := make([]string, 0, len(r.Models))
	for _, m := range r.Models {
		models = append(models, m.Model)
	}
	return PassageOutput{
		BookID:     r.BookID,
		Title:      r.Title,
		Author:     r.Author,
		Section:    r.Section,
		ChunkIndex: r.ChunkIndex,
		Snippet:    Snippet(r.Text, snippetLen),
		Score:      r.Score,
		Models:     models,
	}
}

func displayAuthor(author string) string {
	if author == "" {
		return "Unknown"
	}
	return author
}

// Serve starts the server with the specified transport. Stdout is
// reserved for protocol frames; logging must already be routed to a
// file before this is called.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
