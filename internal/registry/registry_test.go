package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/biblio-mcp/biblio/internal/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func testEntry(bookID, model string, token int64) Entry {
	return Entry{
		BookID:      bookID,
		Model:       model,
		Dimensions:  384,
		ChunkCount:  5,
		ContentHash: "deadbeef",
		RunToken:    token,
		Title:       "Moby Dick",
		Author:      "Herman Melville",
		Format:      "epub",
		RelPath:     "classics/moby-dick.epub",
	}
}

func TestRecordAndEntry(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testEntry("b1", "local", 1)))

	e, err := r.Entry(ctx, "b1", "local")
	require.NoError(t, err)
	assert.Equal(t, "Moby Dick", e.Title)
	assert.Equal(t, int64(1), e.RunToken)
	assert.Equal(t, 5, e.ChunkCount)
	assert.False(t, e.IndexedAt.IsZero())
}

func TestEntryNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Entry(context.Background(), "missing", "local")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBookNotFound, errors.GetCode(err))
}

func TestRecordOverwrites(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testEntry("b1", "local", 1)))

	e2 := testEntry("b1", "local", 2)
	e2.ChunkCount = 9
	e2.ContentHash = "cafebabe"
	require.NoError(t, r.Record(ctx, e2))

	got, err := r.Entry(ctx, "b1", "local")
	require.NoError(t, err)
	assert.Equal(t, 9, got.ChunkCount)
	assert.Equal(t, "cafebabe", got.ContentHash)

	// Same-token rewrite is idempotent.
	require.NoError(t, r.Record(ctx, e2))
}

func TestRecordStaleRunRejected(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testEntry("b1", "local", 5)))

	err := r.Record(ctx, testEntry("b1", "local", 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleRun)

	// The newer registration survives.
	e, err := r.Entry(ctx, "b1", "local")
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.RunToken)
}

func TestNextRunTokenMonotonic(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		token, err := r.NextRunToken(ctx)
		require.NoError(t, err)
		assert.Greater(t, token, prev)
		prev = token
	}
}

func TestNextRunTokenSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	r, err := Open(path)
	require.NoError(t, err)
	first, err := r.NextRunToken(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	second, err := r2.NextRunToken(ctx)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestListAndActiveModels(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testEntry("b1", "local", 1)))
	require.NoError(t, r.Record(ctx, testEntry("b1", "gemini", 1)))
	require.NoError(t, r.Record(ctx, testEntry("b2", "local", 1)))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	models, err := r.ActiveModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "local"}, models)
}

func TestActiveModelsEmpty(t *testing.T) {
	r := newTestRegistry(t)

	models, err := r.ActiveModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, testEntry("b1", "local", 1)))
	require.NoError(t, r.Record(ctx, testEntry("b1", "gemini", 1)))

	require.NoError(t, r.Remove(ctx, "b1", "gemini"))
	ok, err := r.IsIndexed(ctx, "b1", "gemini")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.IsIndexed(ctx, "b1", "local")
	require.NoError(t, err)
	assert.True(t, ok)

	// Empty model removes all remaining entries for the book.
	require.NoError(t, r.Remove(ctx, "b1", ""))
	ok, err = r.IsIndexed(ctx, "b1", "local")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexLock(t *testing.T) {
	dir := t.TempDir()

	l1 := NewIndexLock(dir)
	acquired, err := l1.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	// The lock file is real and visible to other processes.
	assert.FileExists(t, l1.Path())

	require.NoError(t, l1.Unlock())
	require.NoError(t, l1.Unlock()) // idempotent

	l2 := NewIndexLock(dir)
	acquired, err = l2.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, l2.Unlock())
}

func TestRecordSetsTimestamp(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, r.Record(ctx, testEntry("b1", "local", 1)))

	e, err := r.Entry(ctx, "b1", "local")
	require.NoError(t, err)
	assert.True(t, e.IndexedAt.After(before))
}

func TestRecordConcurrent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var g errgroup.Group
	const workers, books = 8, 20
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for b := 0; b < books; b++ {
				e := testEntry(fmt.Sprintf("book%d-%d", w, b), "local", 1)
				if err := r.Record(ctx, e); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	entries, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, workers*books)
}
