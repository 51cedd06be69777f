package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/biblio-mcp/biblio/internal/errors"
)

// vectorIndex wraps a coder/hnsw graph with a string-keyed surface.
// The graph wants integer keys, so doc IDs map through idMap/keyMap.
// Deletion is lazy: the node stays in the graph but loses its mapping,
// which sidesteps coder/hnsw's trouble with removing the last node.
type vectorIndex struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex
	graph   *hnsw.Graph[uint64]
	dims    int
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

// vectorIndexMeta carries the ID mappings across Save/Load.
type vectorIndexMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

func newVectorIndex(dims int) *vectorIndex {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25

	return &vectorIndex{
		graph:  g,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces one vector. Vectors are normalized on the way
// in so cosine distance behaves on the stored copies.
func (vi *vectorIndex) add(id string, vector []float32) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	if vi.closed {
		return errors.New(errors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}
	if len(vector) != vi.dims {
		return errors.New(errors.ErrCodeDimensionMismatch, fmt.Sprintf("vector has %d dimensions, index expects %d", len(vector), vi.dims), nil)
	}

	if oldKey, exists := vi.idMap[id]; exists {
		delete(vi.keyMap, oldKey)
		delete(vi.idMap, id)
	}

	key := vi.nextKey
	vi.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	vi.graph.Add(hnsw.MakeNode(key, vec))
	vi.idMap[id] = key
	vi.keyMap[key] = id
	return nil
}

// vectorHit pairs a doc ID with its similarity score in [0,1].
type vectorHit struct {
	ID    string
	Score float64
}

// search returns up to k live neighbors, best first. Lazily deleted
// nodes may surface from the graph, so it over-fetches and filters.
func (vi *vectorIndex) search(query []float32, k int) ([]vectorHit, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	if vi.closed {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}
	if len(query) != vi.dims {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, fmt.Sprintf("query has %d dimensions, index expects %d", len(query), vi.dims), nil)
	}
	if vi.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Over-fetch to compensate for orphaned nodes.
	orphans := vi.graph.Len() - len(vi.idMap)
	nodes := vi.graph.Search(q, k+orphans)

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		id, ok := vi.keyMap[node.Key]
		if !ok {
			continue
		}
		dist := vi.graph.Distance(q, node.Value)
		hits = append(hits, vectorHit{ID: id, Score: 1 - float64(dist)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// remove drops IDs from the mappings. The graph nodes stay behind.
func (vi *vectorIndex) remove(ids []string) {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	if vi.closed {
		return
	}
	for _, id := range ids {
		if key, exists := vi.idMap[id]; exists {
			delete(vi.keyMap, key)
			delete(vi.idMap, id)
		}
	}
}

func (vi *vectorIndex) contains(id string) bool {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	_, ok := vi.idMap[id]
	return ok
}

func (vi *vectorIndex) count() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return len(vi.idMap)
}

// save writes the graph and its ID mappings to disk atomically. The
// graph goes to path, the mappings to path+".meta". Concurrent savers
// share the temp file paths, so saveMu admits one writer at a time.
func (vi *vectorIndex) save(path string) error {
	vi.saveMu.Lock()
	defer vi.saveMu.Unlock()

	vi.mu.RLock()
	defer vi.mu.RUnlock()

	if vi.closed {
		return errors.New(errors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := vi.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}

	return vi.saveMeta(path + ".meta")
}

func (vi *vectorIndex) saveMeta(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := vectorIndexMeta{IDMap: vi.idMap, NextKey: vi.nextKey, Dims: vi.dims}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// load restores a previously saved index. Missing files are not an
// error; the caller starts empty.
func (vi *vectorIndex) load(path string) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	if vi.closed {
		return errors.New(errors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}

	if err := vi.loadMeta(path + ".meta"); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := vi.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (vi *vectorIndex) loadMeta(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer f.Close()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	vi.idMap = meta.IDMap
	vi.nextKey = meta.NextKey
	vi.dims = meta.Dims
	vi.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		vi.keyMap[key] = id
	}
	return nil
}

func (vi *vectorIndex) close() {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if vi.closed {
		return
	}
	vi.closed = true
	vi.graph = nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
