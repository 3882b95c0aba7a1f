// Package memory provides a non-persistent vector store backed by
// brute-force cosine similarity, used for tests and throwaway sessions.
package memory

import (
	"context"
	"fmt"
	"sync"

	"wikirag/internal/domain"
	"wikirag/internal/vectorstore"
)

// Store keeps index entries in a map keyed by chunk ID. An RWMutex makes
// upserts atomic with respect to concurrent searches.
type Store struct {
	mu      sync.RWMutex
	schema  vectorstore.Schema
	entries map[string]domain.IndexEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{entries: make(map[string]domain.IndexEntry)}
}

// Init sets the embedding schema. Re-initializing with a different model or
// dimension is a schema mismatch.
func (s *Store) Init(_ context.Context, schema vectorstore.Schema) error {
	if schema.Model == "" || schema.Dimension <= 0 {
		return fmt.Errorf("store schema incomplete: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema.Model != "" && s.schema != schema {
		return fmt.Errorf("index built with %s/%d, got %s/%d: %w",
			s.schema.Model, s.schema.Dimension, schema.Model, schema.Dimension, domain.ErrSchemaMismatch)
	}
	s.schema = schema
	return nil
}

// Upsert inserts or replaces entries by chunk ID.
func (s *Store) Upsert(_ context.Context, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != s.schema.Dimension {
			return fmt.Errorf("vector for %s has dimension %d, index expects %d: %w",
				e.Chunk.ChunkID, len(e.Vector), s.schema.Dimension, domain.ErrSchemaMismatch)
		}
	}
	for _, e := range entries {
		s.entries[e.Chunk.ChunkID] = e
	}
	return nil
}

// DeleteBySource removes every entry of a document.
func (s *Store) DeleteBySource(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.Chunk.SourceID == sourceID {
			delete(s.entries, id)
		}
	}
	return nil
}

// Search scans all entries and ranks them by cosine similarity. A query
// vector whose dimension differs from the pinned schema is a schema
// mismatch.
func (s *Store) Search(_ context.Context, vector []float32, k int, minScore float64) ([]domain.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.schema.Dimension > 0 && len(vector) != s.schema.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d: %w",
			len(vector), s.schema.Dimension, domain.ErrSchemaMismatch)
	}
	hits := make([]domain.RetrievalResult, 0, len(s.entries))
	for _, e := range s.entries {
		hits = append(hits, domain.RetrievalResult{
			Chunk: e.Chunk,
			Score: vectorstore.Cosine(vector, e.Vector),
		})
	}
	return vectorstore.RankResults(hits, k, minScore), nil
}

// Clear removes all entries and the schema pin, so a rebuild may switch to
// a different embedding model.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]domain.IndexEntry)
	s.schema = vectorstore.Schema{}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
