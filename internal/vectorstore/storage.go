// Package vectorstore defines the persistent vector index contract shared by
// all store implementations.
package vectorstore

import (
	"context"
	"math"
	"sort"

	"wikirag/internal/domain"
)

// Schema identifies the embedding space of an index. All entries in one
// index instance were produced by the same model at the same dimensionality;
// a drift in either invalidates the whole index.
type Schema struct {
	Model     string
	Dimension int
}

// Store persists (vector, chunk) pairs and supports cosine similarity
// search. Implementations must be safe for concurrent reads during writes
// and must never expose a half-written entry to Search.
type Store interface {
	// Init opens or creates the index for the given schema. A persisted
	// schema that differs from the requested one fails with
	// domain.ErrSchemaMismatch.
	Init(ctx context.Context, schema Schema) error

	// Upsert inserts entries, replacing any existing entry with the same
	// chunk ID. Replacement is atomic from a searcher's point of view.
	Upsert(ctx context.Context, entries []domain.IndexEntry) error

	// DeleteBySource removes every entry belonging to a document, so stale
	// chunks cannot surface after re-ingestion. The deletion is visible to
	// Search before any subsequent Upsert of replacement entries completes.
	DeleteBySource(ctx context.Context, sourceID string) error

	// Search returns up to k entries ranked by descending cosine
	// similarity. Entries scoring below minScore are excluded even if
	// fewer than k remain; score ties break by smaller chunk position.
	// A query vector whose dimension differs from the pinned schema fails
	// with domain.ErrSchemaMismatch instead of silently scoring zero.
	Search(ctx context.Context, vector []float32, k int, minScore float64) ([]domain.RetrievalResult, error)

	// Clear removes every entry and the pinned schema, so a subsequent
	// Init may establish a different embedding space.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Cosine computes the cosine similarity of two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankResults sorts hits by descending score, breaking ties by smaller chunk
// position, applies the score floor, caps at k and assigns ranks. Shared by
// the in-process store implementations.
func RankResults(hits []domain.RetrievalResult, k int, minScore float64) []domain.RetrievalResult {
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Chunk.Position < kept[j].Chunk.Position
	})
	if k > 0 && len(kept) > k {
		kept = kept[:k]
	}
	out := make([]domain.RetrievalResult, len(kept))
	for i, h := range kept {
		h.Rank = i + 1
		out[i] = h
	}
	return out
}
