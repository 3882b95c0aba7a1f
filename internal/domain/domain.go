package domain

import (
	"fmt"
	"time"
)

// Document is one wiki page fetched from the source, normalized into a
// uniform record. A document is never mutated; re-ingesting a page produces
// a new Document with the same SourceID that supersedes the old one.
type Document struct {
	SourceID     string
	Title        string
	Text         string
	SpaceKey     string
	URL          string
	LastModified time.Time
}

// Chunk is a bounded, positioned passage of a document sized for embedding
// and prompt inclusion. ChunkID is derived from (SourceID, Position) so that
// re-chunking unchanged text yields the same IDs.
type Chunk struct {
	ChunkID    string
	SourceID   string
	Text       string
	Position   int
	TokenCount int
	Title      string
	URL        string
}

// ChunkID derives the deterministic chunk identifier for a document position.
func ChunkID(sourceID string, position int) string {
	return fmt.Sprintf("%s:%d", sourceID, position)
}

// IndexEntry pairs a chunk with its embedding vector for storage in a
// vector index. All entries in one index were produced by the same model.
type IndexEntry struct {
	Chunk  Chunk
	Vector []float32
}

// RetrievalResult is a chunk matched against a query, with its cosine
// similarity score and rank. Produced per query, never persisted.
type RetrievalResult struct {
	Chunk Chunk
	Score float64
	Rank  int
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a chat session.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}
