// Package service contains the two orchestrators: Ingestor drives the
// load/chunk/embed/index pipeline, Session drives question answering.
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"wikirag/internal/chunker"
	"wikirag/internal/domain"
	"wikirag/internal/embedding"
	"wikirag/internal/loader"
	"wikirag/internal/retry"
	"wikirag/internal/vectorstore"
)

// DocumentError records a document that could not be indexed.
type DocumentError struct {
	SourceID string
	Err      error
}

// Report summarizes one ingestion run.
type Report struct {
	Indexed int
	Skipped int
	Failed  []DocumentError
}

// Ok reports whether every loaded document was handled.
func (r Report) Ok() bool { return len(r.Failed) == 0 }

// Ingestor loads documents, chunks them, embeds the chunks, and writes the
// result into the vector index. Concurrent runs against the same document
// are serialized with a per-source lock.
type Ingestor struct {
	loader   loader.Loader
	chunker  chunker.Chunker
	embedder embedding.Embedder
	store    vectorstore.Store
	policy   retry.Policy
	workers  int
	log      *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngestor creates an ingestion pipeline.
func NewIngestor(l loader.Loader, c chunker.Chunker, e embedding.Embedder, s vectorstore.Store, policy retry.Policy, workers int, log *zap.SugaredLogger) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ingestor{
		loader:   l,
		chunker:  c,
		embedder: e,
		store:    s,
		policy:   policy,
		workers:  workers,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// IngestSpace indexes every page of a wiki space into the existing index.
// A source access failure aborts before any index mutation.
func (ing *Ingestor) IngestSpace(ctx context.Context, spaceKey string) (Report, error) {
	docs, err := ing.loadSpace(ctx, spaceKey)
	if err != nil {
		return Report{}, err
	}
	return ing.ingest(ctx, docs, false)
}

// RebuildSpace indexes a space from scratch: the previous index is cleared
// only after the pages have been fetched, so a load failure leaves the old
// index untouched.
func (ing *Ingestor) RebuildSpace(ctx context.Context, spaceKey string) (Report, error) {
	docs, err := ing.loadSpace(ctx, spaceKey)
	if err != nil {
		return Report{}, err
	}
	return ing.ingest(ctx, docs, true)
}

// IngestPages indexes the given pages by ID into the existing index.
// Missing pages are skipped and counted; an access failure aborts before
// any index mutation.
func (ing *Ingestor) IngestPages(ctx context.Context, pageIDs []string) (Report, error) {
	docs, err := ing.loadPages(ctx, pageIDs)
	if err != nil {
		return Report{}, err
	}
	report, ingErr := ing.ingest(ctx, docs, false)
	report.Skipped += len(pageIDs) - len(docs)
	return report, ingErr
}

// RebuildPages indexes the given pages from scratch, clearing the previous
// index only after a successful fetch.
func (ing *Ingestor) RebuildPages(ctx context.Context, pageIDs []string) (Report, error) {
	docs, err := ing.loadPages(ctx, pageIDs)
	if err != nil {
		return Report{}, err
	}
	report, ingErr := ing.ingest(ctx, docs, true)
	report.Skipped += len(pageIDs) - len(docs)
	return report, ingErr
}

func (ing *Ingestor) loadSpace(ctx context.Context, spaceKey string) ([]domain.Document, error) {
	if spaceKey == "" {
		return nil, fmt.Errorf("space key is empty: %w", domain.ErrValidation)
	}
	var docs []domain.Document
	err := ing.policy.Do(ctx, func() error {
		var loadErr error
		docs, loadErr = ing.loader.LoadBySpace(ctx, spaceKey)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("load space %s: %w", spaceKey, err)
	}
	return docs, nil
}

func (ing *Ingestor) loadPages(ctx context.Context, pageIDs []string) ([]domain.Document, error) {
	if len(pageIDs) == 0 {
		return nil, fmt.Errorf("no page ids given: %w", domain.ErrValidation)
	}
	var docs []domain.Document
	err := ing.policy.Do(ctx, func() error {
		var loadErr error
		docs, loadErr = ing.loader.LoadByIDs(ctx, pageIDs)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	return docs, nil
}

// ingest runs the per-document pipeline over a bounded worker pool. The
// index schema is pinned from the first embedded vector, so nothing is
// written when embedding is down from the start. With fresh set, the index
// is cleared first; callers only set it once the documents are in hand.
func (ing *Ingestor) ingest(ctx context.Context, docs []domain.Document, fresh bool) (Report, error) {
	report := Report{}
	if fresh {
		if err := ing.store.Clear(ctx); err != nil {
			return report, fmt.Errorf("clear index: %w", err)
		}
	}
	if len(docs) == 0 {
		return report, nil
	}

	var (
		initOnce sync.Once
		initErr  error
	)
	initStore := func(dimension int) error {
		initOnce.Do(func() {
			initErr = ing.store.Init(ctx, vectorstore.Schema{
				Model:     ing.embedder.Model(),
				Dimension: dimension,
			})
		})
		return initErr
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, ing.workers)
	)
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(doc domain.Document) {
			defer wg.Done()
			defer func() { <-sem }()

			skipped, err := ing.ingestDocument(ctx, doc, initStore)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				ing.log.Warnw("document failed", "source_id", doc.SourceID, "error", err)
				report.Failed = append(report.Failed, DocumentError{SourceID: doc.SourceID, Err: err})
			case skipped:
				report.Skipped++
			default:
				report.Indexed++
			}
		}(doc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// ingestDocument chunks and embeds one document, then replaces its entries
// in the index. Returns skipped=true when the document yields no chunks.
func (ing *Ingestor) ingestDocument(ctx context.Context, doc domain.Document, initStore func(int) error) (bool, error) {
	unlock := ing.lockSource(doc.SourceID)
	defer unlock()

	chunks, err := ing.chunker.Chunk(doc)
	if err != nil {
		return false, fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		ing.log.Warnw("document produced no chunks", "source_id", doc.SourceID)
		return true, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	var vectors [][]float32
	err = ing.policy.Do(ctx, func() error {
		var embedErr error
		vectors, embedErr = ing.embedder.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		return false, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return false, fmt.Errorf("embedder returned %d vectors for %d chunks: %w", len(vectors), len(chunks), domain.ErrEmbeddingUnavailable)
	}

	if err := initStore(len(vectors[0])); err != nil {
		return false, fmt.Errorf("init index: %w", err)
	}

	entries := make([]domain.IndexEntry, len(chunks))
	for i := range chunks {
		entries[i] = domain.IndexEntry{Chunk: chunks[i], Vector: vectors[i]}
	}

	// Delete-then-upsert so shrunk documents leave no stale tail chunks.
	// The pair runs to completion even if ctx is cancelled mid-document,
	// so the index never holds a half-replaced document.
	storeCtx := context.WithoutCancel(ctx)
	if err := ing.store.DeleteBySource(storeCtx, doc.SourceID); err != nil {
		return false, fmt.Errorf("delete stale entries: %w", err)
	}
	if err := ing.store.Upsert(storeCtx, entries); err != nil {
		return false, fmt.Errorf("index: %w", err)
	}
	ing.log.Infow("document indexed", "source_id", doc.SourceID, "chunks", len(entries))
	return false, nil
}

func (ing *Ingestor) lockSource(sourceID string) func() {
	ing.mu.Lock()
	lock, ok := ing.locks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		ing.locks[sourceID] = lock
	}
	ing.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
