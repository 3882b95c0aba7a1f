package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikirag/internal/chunker"
	"wikirag/internal/domain"
	"wikirag/internal/retry"
	"wikirag/internal/vectorstore"
	"wikirag/internal/vectorstore/memory"
)

type fakeLoader struct {
	docs []domain.Document
	err  error
}

func (f *fakeLoader) LoadBySpace(context.Context, string) ([]domain.Document, error) {
	return f.docs, f.err
}

func (f *fakeLoader) LoadByIDs(context.Context, []string) ([]domain.Document, error) {
	return f.docs, f.err
}

// hashEmbedder derives a stable 3-dim vector from text length so identical
// inputs always embed identically.
type hashEmbedder struct {
	mu    sync.Mutex
	model string
	calls int
	fail  bool
}

func (h *hashEmbedder) Model() string {
	if h.model == "" {
		return "hash-model"
	}
	return h.model
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fail {
		return nil, domain.ErrEmbeddingUnavailable
	}
	n := float32(len(text)%7 + 1)
	return []float32{n, n + 1, 1}, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func doc(id, text string) domain.Document {
	return domain.Document{SourceID: id, Title: "Page " + id, Text: text, URL: "https://wiki/" + id}
}

func newIngestor(l *fakeLoader, store vectorstore.Store) *Ingestor {
	return NewIngestor(
		l,
		chunker.NewWindowChunker(8, 2, 1),
		&hashEmbedder{},
		store,
		retry.Policy{MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0},
		2,
		nil,
	)
}

func TestIngestSpaceIndexesDocuments(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{
		doc("1", "alpha beta gamma delta"),
		doc("2", "one two three four five"),
	}}
	ing := newIngestor(l, store)

	report, err := ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.True(t, report.Ok())
	assert.Equal(t, 2, store.Len())
}

func TestIngestIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{doc("1", "alpha beta gamma delta")}}
	ing := newIngestor(l, store)

	_, err := ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	first := store.Len()

	_, err = ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, first, store.Len())
}

func TestIngestReplacesShrunkDocument(t *testing.T) {
	store := memory.NewStore()
	long := make([]string, 40)
	for i := range long {
		long[i] = fmt.Sprintf("word%d", i)
	}
	l := &fakeLoader{docs: []domain.Document{doc("1", joinWords(long))}}
	ing := newIngestor(l, store)

	_, err := ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	longCount := store.Len()
	require.Greater(t, longCount, 1)

	l.docs = []domain.Document{doc("1", "short text now")}
	_, err = ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestIngestAccessDeniedMutatesNothing(t *testing.T) {
	store := memory.NewStore()
	ing := newIngestor(&fakeLoader{err: domain.ErrAccessDenied}, store)

	_, err := ing.IngestSpace(context.Background(), "ENG")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Equal(t, 0, store.Len())
}

func TestIngestEmbeddingOutageReportsFailures(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{doc("1", "alpha beta gamma")}}
	ing := NewIngestor(
		l,
		chunker.NewWindowChunker(8, 2, 1),
		&hashEmbedder{fail: true},
		store,
		retry.Policy{MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0},
		1,
		nil,
	)

	report, err := ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "1", report.Failed[0].SourceID)
	assert.ErrorIs(t, report.Failed[0].Err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, 0, store.Len())
}

func TestIngestEmptyDocumentSkipped(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{
		doc("1", "alpha beta gamma"),
		doc("2", "   "),
	}}
	ing := newIngestor(l, store)

	report, err := ing.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, report.Ok())
}

func TestIngestPagesCountsMissingAsSkipped(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{doc("1", "alpha beta gamma")}}
	ing := newIngestor(l, store)

	report, err := ing.IngestPages(context.Background(), []string{"1", "404"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, report.Skipped)
}

func TestRebuildLoadFailureLeavesIndexIntact(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{doc("1", "alpha beta gamma")}}
	_, err := newIngestor(l, store).IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	denied := newIngestor(&fakeLoader{err: domain.ErrAccessDenied}, store)
	_, err = denied.RebuildSpace(context.Background(), "ENG")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Equal(t, 1, store.Len())
}

func TestRebuildReplacesWholeIndex(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{
		doc("1", "alpha beta gamma"),
		doc("2", "one two three"),
	}}
	_, err := newIngestor(l, store).IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	l.docs = []domain.Document{doc("3", "fresh content here")}
	report, err := newIngestor(l, store).RebuildSpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, store.Len())

	res, err := store.Search(context.Background(), []float32{1, 1, 1}, 10, -1)
	require.NoError(t, err)
	for _, r := range res {
		assert.Equal(t, "3", r.Chunk.SourceID)
	}
}

func TestRebuildAcceptsNewEmbeddingModel(t *testing.T) {
	store := memory.NewStore()
	l := &fakeLoader{docs: []domain.Document{doc("1", "alpha beta gamma")}}
	_, err := newIngestor(l, store).IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)

	// Updates into the existing index must keep the pinned model.
	swapped := NewIngestor(l, chunker.NewWindowChunker(8, 2, 1), &hashEmbedder{model: "other-model"},
		store, retry.Policy{MaxAttempts: 1}, 1, nil)
	report, err := swapped.IngestSpace(context.Background(), "ENG")
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, domain.ErrSchemaMismatch)

	// A rebuild clears the pin and may switch models.
	report, err = swapped.RebuildSpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.True(t, report.Ok())
	assert.Equal(t, 1, store.Len())
}

func TestIngestValidatesInput(t *testing.T) {
	ing := newIngestor(&fakeLoader{}, memory.NewStore())

	_, err := ing.IngestSpace(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ing.IngestPages(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}
