// Package registry tracks which books are indexed under which models.
// It is the single source of truth for what is searchable: retrieval
// filters store hits against it, so half-written or abandoned indexing
// runs never surface.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/biblio-mcp/biblio/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	book_id      TEXT NOT NULL,
	model        TEXT NOT NULL,
	dimensions   INTEGER NOT NULL,
	chunk_count  INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	run_token    INTEGER NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	format       TEXT NOT NULL DEFAULT '',
	rel_path     TEXT NOT NULL DEFAULT '',
	indexed_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (book_id, model)
);

CREATE TABLE IF NOT EXISTS run_counter (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);

INSERT OR IGNORE INTO run_counter (id, value) VALUES (1, 0);
`

// Entry is one (book, model) registration.
type Entry struct {
	BookID      string
	Model       string
	Dimensions  int
	ChunkCount  int
	ContentHash string
	RunToken    int64
	Title       string
	Author      string
	Format      string
	RelPath     string
	IndexedAt   time.Time
}

// ErrStaleRun is returned by Record when a write carries a run token
// older than the one already registered. The later writer has won.
var ErrStaleRun = errors.New(errors.ErrCodeStaleRun,
	"run token is older than the registered one", nil)

// Registry is the SQLite-backed book registry.
type Registry struct {
	db *sql.DB
}

// Open opens (or creates) the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "open registry database", err)
	}

	// Single writer prevents lock contention; pragmas set via Exec only
	// reach the connection they ran on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "set registry pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "create registry schema", err)
	}
	return &Registry{db: db}, nil
}

// NextRunToken hands out a monotonically increasing token. The counter
// lives in SQLite and is bumped transactionally, so tokens stay ordered
// across processes.
func (r *Registry) NextRunToken(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "begin token transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE run_counter SET value = value + 1 WHERE id = 1"); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "advance run counter", err)
	}

	var token int64
	if err := tx.QueryRowContext(ctx,
		"SELECT value FROM run_counter WHERE id = 1").Scan(&token); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "read run counter", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.New(errors.ErrCodeStoreUnavailable, "commit token transaction", err)
	}
	return token, nil
}

// Record registers an entry, overwriting any previous one for the same
// (book, model). A write whose run token is lower than the stored one
// fails with ErrStaleRun: a newer run has already finished.
func (r *Registry) Record(ctx context.Context, e Entry) error {
	if e.IndexedAt.IsZero() {
		e.IndexedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "begin record transaction", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx,
		"SELECT run_token FROM entries WHERE book_id = ? AND model = ?",
		e.BookID, e.Model).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// first registration
	case err != nil:
		return errors.New(errors.ErrCodeStoreUnavailable, "read registered run token", err)
	case e.RunToken < stored:
		return ErrStaleRun
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries
			(book_id, model, dimensions, chunk_count, content_hash, run_token,
			 title, author, format, rel_path, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, model) DO UPDATE SET
			dimensions = excluded.dimensions,
			chunk_count = excluded.chunk_count,
			content_hash = excluded.content_hash,
			run_token = excluded.run_token,
			title = excluded.title,
			author = excluded.author,
			format = excluded.format,
			rel_path = excluded.rel_path,
			indexed_at = excluded.indexed_at`,
		e.BookID, e.Model, e.Dimensions, e.ChunkCount, e.ContentHash,
		e.RunToken, e.Title, e.Author, e.Format, e.RelPath, e.IndexedAt)
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "write registry entry", err)
	}
	return tx.Commit()
}

// IsIndexed reports whether an entry exists for (bookID, model).
func (r *Registry) IsIndexed(ctx context.Context, bookID, model string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE book_id = ? AND model = ?",
		bookID, model).Scan(&n)
	if err != nil {
		return false, errors.New(errors.ErrCodeStoreUnavailable, "query registry", err)
	}
	return n > 0, nil
}

// Entry returns the registration for (bookID, model).
// Missing entries are ERR_507_BOOK_NOT_FOUND.
func (r *Registry) Entry(ctx context.Context, bookID, model string) (Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT book_id, model, dimensions, chunk_count, content_hash, run_token,
		       title, author, format, rel_path, indexed_at
		FROM entries WHERE book_id = ? AND model = ?`, bookID, model)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, errors.New(errors.ErrCodeBookNotFound,
			fmt.Sprintf("book %s is not indexed under model %s", bookID, model), nil)
	}
	if err != nil {
		return Entry{}, errors.New(errors.ErrCodeStoreUnavailable, "read registry entry", err)
	}
	return e, nil
}

// List returns all entries ordered by title, then model.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT book_id, model, dimensions, chunk_count, content_hash, run_token,
		       title, author, format, rel_path, indexed_at
		FROM entries ORDER BY title, book_id, model`)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "list registry entries", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "scan registry entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "iterate registry entries", err)
	}
	return entries, nil
}

// Remove deletes the entry for (bookID, model). When model is empty,
// every model's entry for the book goes.
func (r *Registry) Remove(ctx context.Context, bookID, model string) error {
	var err error
	if model == "" {
		_, err = r.db.ExecContext(ctx,
			"DELETE FROM entries WHERE book_id = ?", bookID)
	} else {
		_, err = r.db.ExecContext(ctx,
			"DELETE FROM entries WHERE book_id = ? AND model = ?", bookID, model)
	}
	if err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "remove registry entry", err)
	}
	return nil
}

// ActiveModels returns the models that have at least one entry.
func (r *Registry) ActiveModels(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT model FROM entries ORDER BY model")
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "query active models", err)
	}
	defer rows.Close()

	var models []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, errors.New(errors.ErrCodeStoreUnavailable, "scan model", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "iterate models", err)
	}
	return models, nil
}

// Close closes the registry database.
func (r *Registry) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	err := row.Scan(&e.BookID, &e.Model, &e.Dimensions, &e.ChunkCount,
		&e.ContentHash, &e.RunToken, &e.Title, &e.Author, &e.Format,
		&e.RelPath, &e.IndexedAt)
	return e, err
}
