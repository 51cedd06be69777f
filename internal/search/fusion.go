// Package search retrieves chunks across embedding models and merges
// the per-model rankings with Reciprocal Rank Fusion.
package search

import (
	"sort"

	"github.com/biblio-mcp/biblio/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// fuseKey identifies a chunk independent of which model returned it.
type fuseKey struct {
	BookID     string
	ChunkIndex int
}

// ModelScore is one model's contribution to a fused result.
type ModelScore struct {
	Model string
	// Score is the model's raw similarity score. Raw scores from
	// different models are not comparable; ranking happens on ranks.
	Score float64
	// Rank is the 1-indexed position in that model's candidate list.
	Rank int
}

// FusedHit is a chunk after cross-model rank fusion.
type FusedHit struct {
	Hit store.Hit
	// Score is the RRF score: sum over models of 1/(k + rank).
	Score float64
	// Models records every model that surfaced this chunk.
	Models []ModelScore
}

// Fuser merges ranked per-model candidate lists.
type Fuser struct {
	K int
}

// NewFuser creates a Fuser with the given smoothing constant.
// Non-positive k falls back to the default.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k}
}

// Fuse merges per-model candidate lists, each already sorted best
// first. A chunk returned by several models accumulates one reciprocal
// rank term per model and keeps the metadata of its best-ranked
// instance. With a single list the output preserves that list's order.
// Ties are broken by (bookID, chunk index) for deterministic output.
func (f *Fuser) Fuse(lists map[string][]store.Hit) []FusedHit {
	fused := make(map[fuseKey]*FusedHit)
	bestRank := make(map[fuseKey]int)

	models := make([]string, 0, len(lists))
	for m := range lists {
		models = append(models, m)
	}
	sort.Strings(models)

	for _, model := range models {
		for i, hit := range lists[model] {
			rank := i + 1
			key := fuseKey{BookID: hit.BookID, ChunkIndex: hit.ChunkIndex}

			fh, ok := fused[key]
			if !ok {
				fh = &FusedHit{Hit: hit}
				fused[key] = fh
				bestRank[key] = rank
			} else if rank < bestRank[key] {
				// Keep the metadata of the best-ranked instance.
				fh.Hit = hit
				bestRank[key] = rank
			}
			fh.Score += 1.0 / float64(f.K+rank)
			fh.Models = append(fh.Models, ModelScore{
				Model: model,
				Score: hit.Score,
				Rank:  rank,
			})
		}
	}

	out := make([]FusedHit, 0, len(fused))
	for _, fh := range fused {
		out = append(out, *fh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Hit.BookID != out[j].Hit.BookID {
			return out[i].Hit.BookID < out[j].Hit.BookID
		}
		return out[i].Hit.ChunkIndex < out[j].Hit.ChunkIndex
	})
	return out
}
