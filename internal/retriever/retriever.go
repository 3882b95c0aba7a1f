// Package retriever turns a question into a ranked, deduplicated set of
// index chunks for prompt assembly.
package retriever

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"wikirag/internal/domain"
	"wikirag/internal/embedding"
	"wikirag/internal/retry"
	"wikirag/internal/vectorstore"
)

// near-duplicate windows from the same document share most of their tokens;
// overlapping retrieval windows typically score well above this.
const duplicateOverlapThreshold = 0.9

// Retriever embeds questions and searches the vector index.
type Retriever struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	policy   retry.Policy
	topK     int
	minScore float64

	verifyOnce sync.Once
	verifyErr  error
}

// New creates a Retriever. topK and minScore follow the configured
// retrieval settings; zero values fall back to usable defaults.
func New(embedder embedding.Embedder, store vectorstore.Store, policy retry.Policy, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if minScore < 0 {
		minScore = 0
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		policy:   policy,
		topK:     topK,
		minScore: minScore,
	}
}

// Retrieve embeds the question and returns the top matching chunks in rank
// order. An empty result is valid: it means nothing in the index cleared
// the score floor. Embedding outages are retried per the policy.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]domain.RetrievalResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty: %w", domain.ErrValidation)
	}

	var vector []float32
	err := r.policy.Do(ctx, func() error {
		var embedErr error
		vector, embedErr = r.embedder.Embed(ctx, question)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	// An index built with a different model or dimensionality must fail
	// loudly here; mixing embedding spaces corrupts ranking silently.
	if err := r.verifySchema(ctx, len(vector)); err != nil {
		return nil, fmt.Errorf("verify index schema: %w", err)
	}

	// Over-fetch so duplicate suppression does not shrink the result set
	// below topK when the index holds overlapping windows.
	hits, err := r.store.Search(ctx, vector, r.topK*2, r.minScore)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	deduped := dropNearDuplicates(hits)
	if len(deduped) > r.topK {
		deduped = deduped[:r.topK]
	}
	for i := range deduped {
		deduped[i].Rank = i + 1
	}
	return deduped, nil
}

// verifySchema checks once per Retriever that the index was built with the
// configured embedder. The store compares the pinned model and dimension
// and reports drift as domain.ErrSchemaMismatch.
func (r *Retriever) verifySchema(ctx context.Context, dimension int) error {
	r.verifyOnce.Do(func() {
		r.verifyErr = r.store.Init(ctx, vectorstore.Schema{
			Model:     r.embedder.Model(),
			Dimension: dimension,
		})
	})
	return r.verifyErr
}

// dropNearDuplicates keeps the highest-ranked of any pair of chunks that are
// adjacent windows of the same document or share most of their tokens.
// Input is assumed sorted by descending score.
func dropNearDuplicates(hits []domain.RetrievalResult) []domain.RetrievalResult {
	kept := make([]domain.RetrievalResult, 0, len(hits))
	keptSets := make([]map[string]struct{}, 0, len(hits))
	for _, hit := range hits {
		set := toTokenSet(hit.Chunk.Text)
		dup := false
		for i, prev := range kept {
			if hit.Chunk.SourceID == prev.Chunk.SourceID && adjacent(hit.Chunk.Position, prev.Chunk.Position) {
				dup = true
				break
			}
			if setOverlapOchiai(set, keptSets[i]) >= duplicateOverlapThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, hit)
		keptSets = append(keptSets, set)
	}
	return kept
}

func adjacent(a, b int) bool {
	if a > b {
		a, b = b, a
	}
	return b-a == 1
}

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// setOverlapOchiai computes |A∩B| / sqrt(|A||B|) over two token sets.
func setOverlapOchiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	return float64(inter) / (math.Sqrt(float64(len(a))) * math.Sqrt(float64(len(b))))
}
