// Package store persists embedded chunks and serves vector similarity
// queries. Two backends exist: a local SQLite+HNSW store and an
// Elasticsearch store. Both keep one namespace per embedding model so
// vectors of different dimensionality never share an index.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/biblio-mcp/biblio/internal/errors"
)

// Chunk is one embedded slice of a book ready for persistence.
// Offsets are rune offsets into the extracted text; Section is a
// best-effort chapter hint and may be empty.
type Chunk struct {
	BookID      string
	RunToken    string
	Index       int
	TotalChunks int
	Text        string
	Start       int
	End         int
	Section     string
	Title       string
	Author      string
	FilePath    string
	FileType    string
	Model       string
	Vector      []float32
}

// Hit is a single similarity match returned by Search.
type Hit struct {
	BookID     string
	RunToken   string
	ChunkIndex int
	Text       string
	Start      int
	End        int
	Section    string
	Title      string
	Author     string
	FilePath   string
	Score      float64
	Model      string
}

// BookStats summarizes what a store holds for one book under one model.
type BookStats struct {
	BookID string
	Model  string
	Chunks int
	Chars  int64
}

// Store is the persistence contract shared by both backends. All writes
// are scoped to a (book, model, run token) triple so a failed indexing
// run can be rolled back without touching the previous good run.
type Store interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// EnsureModel prepares the namespace for a model, creating it with
	// the given dimensionality if it does not exist yet.
	EnsureModel(ctx context.Context, model string, dims int) error

	// UpsertChunks writes a batch of chunks. All chunks in one call
	// must share the same model.
	UpsertChunks(ctx context.Context, chunks []Chunk) error

	// DeleteBook removes every chunk of a book under a model.
	DeleteBook(ctx context.Context, bookID, model string) error

	// DeleteRun removes only the chunks written under one run token.
	DeleteRun(ctx context.Context, bookID, model, runToken string) error

	// PurgeStaleRuns removes all chunks of a book except those written
	// under keepToken.
	PurgeStaleRuns(ctx context.Context, bookID, model, keepToken string) error

	// Search returns the k nearest chunks to the query vector under a
	// model, best first.
	Search(ctx context.Context, model string, vector []float32, k int) ([]Hit, error)

	// BookStats reports chunk and character counts for a book.
	BookStats(ctx context.Context, bookID, model string) (BookStats, error)

	// Close releases backend resources.
	Close() error
}

// DocID builds the document identifier for a chunk. The run token in
// the middle lets a reader distinguish documents from different
// indexing runs of the same book.
func DocID(bookID, runToken string, index int) string {
	return fmt.Sprintf("%s:%s:%d", bookID, runToken, index)
}

// ParseDocID splits a document identifier back into its parts.
func ParseDocID(id string) (bookID, runToken string, index int, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		return "", "", 0, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("malformed document id %q", id), nil)
	}
	index, convErr := strconv.Atoi(parts[2])
	if convErr != nil {
		return "", "", 0, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("malformed chunk index in document id %q", id), convErr)
	}
	return parts[0], parts[1], index, nil
}
