package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestVectorIndexAddSearch(t *testing.T) {
	vi := newVectorIndex(3)

	require.NoError(t, vi.add("a", []float32{1, 0, 0}))
	require.NoError(t, vi.add("b", []float32{0, 1, 0}))
	require.NoError(t, vi.add("c", []float32{0.9, 0.1, 0}))

	hits, err := vi.search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestVectorIndexDimensionCheck(t *testing.T) {
	vi := newVectorIndex(3)

	err := vi.add("a", []float32{1, 0})
	require.Error(t, err)

	_, err = vi.search([]float32{1, 0, 0, 0}, 1)
	require.Error(t, err)
}

func TestVectorIndexLazyDeletion(t *testing.T) {
	vi := newVectorIndex(3)

	require.NoError(t, vi.add("a", []float32{1, 0, 0}))
	require.NoError(t, vi.add("b", []float32{0.99, 0.01, 0}))

	vi.remove([]string{"a"})
	assert.False(t, vi.contains("a"))
	assert.Equal(t, 1, vi.count())

	// The orphaned node must not leak into results.
	hits, err := vi.search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestVectorIndexReplace(t *testing.T) {
	vi := newVectorIndex(3)

	require.NoError(t, vi.add("a", []float32{1, 0, 0}))
	require.NoError(t, vi.add("a", []float32{0, 1, 0}))
	assert.Equal(t, 1, vi.count())

	hits, err := vi.search([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestVectorIndexSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "test.hnsw")

	vi := newVectorIndex(3)
	for i := 0; i < 10; i++ {
		require.NoError(t, vi.add(fmt.Sprintf("doc-%d", i),
			[]float32{float32(i), 1, 0}))
	}
	require.NoError(t, vi.save(path))

	restored := newVectorIndex(3)
	require.NoError(t, restored.load(path))
	assert.Equal(t, 10, restored.count())
	assert.True(t, restored.contains("doc-7"))

	hits, err := restored.search([]float32{9, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-9", hits[0].ID)
}

func TestVectorIndexSearchEmpty(t *testing.T) {
	vi := newVectorIndex(3)
	hits, err := vi.search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorIndexConcurrentSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.hnsw")

	vi := newVectorIndex(3)
	for i := 0; i < 20; i++ {
		require.NoError(t, vi.add(fmt.Sprintf("doc-%d", i),
			[]float32{float32(i), 1, 0}))
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 5; i++ {
				if err := vi.save(path); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	restored := newVectorIndex(3)
	require.NoError(t, restored.load(path))
	assert.Equal(t, 20, restored.count())
}
