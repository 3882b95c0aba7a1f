// Package qdrant provides a vector store backed by a Qdrant server's REST
// API, for deployments where the index must be shared between machines.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"wikirag/internal/domain"
	"wikirag/internal/vectorstore"
)

// Config contains connection details for a Qdrant collection.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Store is a minimal REST client to Qdrant. It uses cosine distance and
// creates the collection if missing. The embedding model identifier is
// pinned in the collection's point payloads indirectly via Init's dimension
// check against an existing collection.
type Store struct {
	url        string
	apiKey     string
	collection string
	schema     vectorstore.Schema
	client     *http.Client
}

// NewStore creates a Qdrant-backed store.
func NewStore(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection if needed and verifies an existing collection
// matches the requested vector dimensionality.
func (s *Store) Init(ctx context.Context, schema vectorstore.Schema) error {
	if schema.Model == "" || schema.Dimension <= 0 {
		return fmt.Errorf("store schema incomplete: %w", domain.ErrValidation)
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.doJSON(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	if err == nil && info.Result.Config.Params.Vectors.Size > 0 {
		if info.Result.Config.Params.Vectors.Size != schema.Dimension {
			return fmt.Errorf("collection %s has dimension %d, got %d: %w",
				s.collection, info.Result.Config.Params.Vectors.Size, schema.Dimension, domain.ErrSchemaMismatch)
		}
		s.schema = schema
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     schema.Dimension,
			"distance": "Cosine",
		},
	}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	s.schema = schema
	return nil
}

// Upsert writes points with wait=true so replacement is complete before the
// call returns. Point IDs derive deterministically from the chunk ID, which
// makes re-ingestion of unchanged content idempotent.
func (s *Store) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.schema.Dimension {
			return fmt.Errorf("vector for %s has dimension %d, index expects %d: %w",
				e.Chunk.ChunkID, len(e.Vector), s.schema.Dimension, domain.ErrSchemaMismatch)
		}
		points[i] = map[string]any{
			"id":     pointID(e.Chunk.ChunkID),
			"vector": e.Vector,
			"payload": map[string]any{
				"chunk_id":    e.Chunk.ChunkID,
				"source_id":   e.Chunk.SourceID,
				"position":    e.Chunk.Position,
				"text":        e.Chunk.Text,
				"token_count": e.Chunk.TokenCount,
				"title":       e.Chunk.Title,
				"url":         e.Chunk.URL,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.doJSON(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

// DeleteBySource removes all points of a document via a payload filter.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "source_id", "match": map[string]any{"value": sourceID}},
			},
		},
	}
	return s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

// Search queries Qdrant with its native score threshold, then re-ranks
// client-side so score ties break by chunk position.
func (s *Store) Search(ctx context.Context, vector []float32, k int, minScore float64) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		k = 5
	}
	if s.schema.Dimension > 0 && len(vector) != s.schema.Dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d: %w",
			len(vector), s.schema.Dimension, domain.ErrSchemaMismatch)
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           k,
		"with_payload":    true,
		"score_threshold": minScore,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]domain.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.RetrievalResult{Chunk: payloadChunk(r.Payload), Score: r.Score})
	}
	return vectorstore.RankResults(hits, k, minScore), nil
}

// Clear drops the collection and forgets the pinned schema, so a rebuild
// may switch to a different embedding model. A collection that does not
// exist yet is already clear.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.doJSON(ctx, http.MethodDelete, s.collectionURL(""), nil, nil); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.schema = vectorstore.Schema{}
	return nil
}

// Close is a no-op; the store holds no persistent connections.
func (s *Store) Close() error { return nil }

// pointID maps a chunk ID onto the UUID point identifiers Qdrant requires.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func payloadChunk(payload map[string]any) domain.Chunk {
	chunk := domain.Chunk{}
	if v, ok := payload["chunk_id"].(string); ok {
		chunk.ChunkID = v
	}
	if v, ok := payload["source_id"].(string); ok {
		chunk.SourceID = v
	}
	if v, ok := payload["position"].(float64); ok {
		chunk.Position = int(v)
	}
	if v, ok := payload["text"].(string); ok {
		chunk.Text = v
	}
	if v, ok := payload["token_count"].(float64); ok {
		chunk.TokenCount = int(v)
	}
	if v, ok := payload["title"].(string); ok {
		chunk.Title = v
	}
	if v, ok := payload["url"].(string); ok {
		chunk.URL = v
	}
	return chunk
}

func (s *Store) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Store) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s failed: %w: %v", method, url, domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s returned %s: %w", method, url, resp.Status, domain.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s returned %s: %w", method, url, resp.Status, domain.ErrSourceUnavailable)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}
