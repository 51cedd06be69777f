package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/biblio-mcp/biblio/internal/errors"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	doc_id       TEXT PRIMARY KEY,
	book_id      TEXT NOT NULL,
	run_token    TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	model        TEXT NOT NULL,
	text         TEXT NOT NULL,
	start_offset INTEGER NOT NULL DEFAULT 0,
	end_offset   INTEGER NOT NULL DEFAULT 0,
	section      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	file_path    TEXT NOT NULL DEFAULT '',
	file_type    TEXT NOT NULL DEFAULT '',
	vector       BLOB NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_book_model ON chunks(book_id, model);
CREATE INDEX IF NOT EXISTS idx_chunks_model ON chunks(model);
`

// LocalStore keeps chunk rows in SQLite and vectors in one HNSW graph
// per embedding model. The SQLite vector blobs are the durable copy;
// graphs are persisted beside the database and rebuilt from the blobs
// when their files are missing or unreadable.
type LocalStore struct {
	mu      sync.Mutex
	db      *sql.DB
	dataDir string
	indexes map[string]*vectorIndex
	dims    map[string]int
	logger  *slog.Logger
}

// NewLocalStore opens (or creates) the store under dataDir.
func NewLocalStore(dataDir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable,
			fmt.Sprintf("create data directory %s", dataDir), err)
	}

	dbPath := filepath.Join(dataDir, "biblio.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "open database", err)
	}

	// Single writer prevents lock contention; pragmas set via Exec only
	// reach the connection they ran on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA statements; modernc.org/sqlite may
	// ignore DSN parameters.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "set pragma", err)
		}
	}

	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "create schema", err)
	}

	return &LocalStore{
		db:      db,
		dataDir: dataDir,
		indexes: make(map[string]*vectorIndex),
		dims:    make(map[string]int),
		logger:  logger,
	}, nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "database unreachable", err)
	}
	return nil
}

// EnsureModel loads or rebuilds the vector graph for a model.
func (s *LocalStore) EnsureModel(ctx context.Context, model string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vi, ok := s.indexes[model]; ok {
		if vi.dims != dims {
			return errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model %s registered with %d dimensions, requested %d",
					model, vi.dims, dims), nil)
		}
		return nil
	}

	vi := newVectorIndex(dims)
	path := s.graphPath(model)
	if _, err := os.Stat(path); err == nil {
		if err := vi.load(path); err != nil {
			s.logger.Warn("vector graph unreadable, rebuilding from database",
				slog.String("model", model),
				slog.String("error", err.Error()))
			vi = newVectorIndex(dims)
			if err := s.rebuildIndex(ctx, vi, model); err != nil {
				return err
			}
		}
	} else {
		if err := s.rebuildIndex(ctx, vi, model); err != nil {
			return err
		}
	}

	s.indexes[model] = vi
	s.dims[model] = dims
	return nil
}

func (s *LocalStore) rebuildIndex(ctx context.Context, vi *vectorIndex, model string) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id, vector FROM chunks WHERE model = ?", model)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "read vectors for rebuild", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var docID string
		var blob []byte
		if err := rows.Scan(&docID, &blob); err != nil {
			return errors.New(errors.ErrCodeStoreUnavailable, "scan vector row", err)
		}
		if err := vi.add(docID, decodeVector(blob)); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "iterate vector rows", err)
	}
	if n > 0 {
		s.logger.Info("rebuilt vector graph",
			slog.String("model", model), slog.Int("vectors", n))
	}
	return nil
}

func (s *LocalStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	model := chunks[0].Model
	vi, err := s.indexFor(model)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(doc_id, book_id, run_token, chunk_index, total_chunks, model,
			 text, start_offset, end_offset, section,
			 title, author, file_path, file_type, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			text = excluded.text, vector = excluded.vector,
			start_offset = excluded.start_offset, end_offset = excluded.end_offset,
			section = excluded.section,
			title = excluded.title, author = excluded.author,
			total_chunks = excluded.total_chunks`)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "prepare upsert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.Model != model {
			return errors.New(errors.ErrCodeInvalidInput,
				"mixed models in one upsert batch", nil)
		}
		docID := DocID(c.BookID, c.RunToken, c.Index)
		if _, err := stmt.ExecContext(ctx, docID, c.BookID, c.RunToken,
			c.Index, c.TotalChunks, c.Model, c.Text, c.Start, c.End,
			c.Section, c.Title, c.Author, c.FilePath, c.FileType,
			encodeVector(c.Vector)); err != nil {
			return errors.New(errors.ErrCodeStoreUnavailable, "upsert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "commit upsert", err)
	}

	// Graph updates follow the committed rows. A crash between the two
	// is healed by the rebuild path on next open.
	for _, c := range chunks {
		if err := vi.add(DocID(c.BookID, c.RunToken, c.Index), c.Vector); err != nil {
			return err
		}
	}
	return s.saveIndex(model, vi)
}

func (s *LocalStore) DeleteBook(ctx context.Context, bookID, model string) error {
	return s.deleteWhere(ctx, model,
		"book_id = ? AND model = ?", bookID, model)
}

func (s *LocalStore) DeleteRun(ctx context.Context, bookID, model, runToken string) error {
	return s.deleteWhere(ctx, model,
		"book_id = ? AND model = ? AND run_token = ?", bookID, model, runToken)
}

func (s *LocalStore) PurgeStaleRuns(ctx context.Context, bookID, model, keepToken string) error {
	return s.deleteWhere(ctx, model,
		"book_id = ? AND model = ? AND run_token != ?", bookID, model, keepToken)
}

func (s *LocalStore) deleteWhere(ctx context.Context, model, where string, args ...any) error {
	vi, err := s.indexFor(model)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id FROM chunks WHERE "+where, args...)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "select doomed chunks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.New(errors.ErrCodeStoreUnavailable, "scan doomed chunk", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "iterate doomed chunks", err)
	}
	if len(ids) == 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE "+where, args...); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "delete chunks", err)
	}

	vi.remove(ids)
	return s.saveIndex(model, vi)
}

func (s *LocalStore) Search(ctx context.Context, model string, vector []float32, k int) ([]Hit, error) {
	vi, err := s.indexFor(model)
	if err != nil {
		return nil, err
	}

	matches, err := vi.search(vector, k)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		var h Hit
		err := s.db.QueryRowContext(ctx, `
			SELECT book_id, run_token, chunk_index, text,
				start_offset, end_offset, section, title, author, file_path
			FROM chunks WHERE doc_id = ?`, m.ID).
			Scan(&h.BookID, &h.RunToken, &h.ChunkIndex, &h.Text,
				&h.Start, &h.End, &h.Section, &h.Title, &h.Author, &h.FilePath)
		if err == sql.ErrNoRows {
			// Row deleted after the graph search started.
			continue
		}
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "load chunk row", err)
		}
		h.Score = m.Score
		h.Model = model
		hits = append(hits, h)
	}
	return hits, nil
}

func (s *LocalStore) BookStats(ctx context.Context, bookID, model string) (BookStats, error) {
	stats := BookStats{BookID: bookID, Model: model}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(text)), 0)
		FROM chunks WHERE book_id = ? AND model = ?`, bookID, model).
		Scan(&stats.Chunks, &stats.Chars)
	if err != nil {
		return BookStats{}, errors.New(errors.ErrCodeStoreUnavailable, "read book stats", err)
	}
	return stats, nil
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for model, vi := range s.indexes {
		if err := vi.save(s.graphPath(model)); err != nil && firstErr == nil {
			firstErr = err
		}
		vi.close()
	}
	s.indexes = make(map[string]*vectorIndex)

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("wal checkpoint failed", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *LocalStore) indexFor(model string) (*vectorIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vi, ok := s.indexes[model]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownModel,
			fmt.Sprintf("model %s not prepared, call EnsureModel first", model), nil)
	}
	return vi, nil
}

func (s *LocalStore) saveIndex(model string, vi *vectorIndex) error {
	if err := vi.save(s.graphPath(model)); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable,
			fmt.Sprintf("persist vector graph for %s", model), err)
	}
	return nil
}

func (s *LocalStore) graphPath(model string) string {
	return filepath.Join(s.dataDir, "vectors", model+".hnsw")
}

// encodeVector packs float32s little-endian. The fixed layout keeps
// blobs portable across architectures.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
