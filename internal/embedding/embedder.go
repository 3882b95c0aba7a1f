// Package embedding defines the contract for turning text into vectors.
package embedding

import "context"

// Embedder converts text into a fixed-length vector representation. The same
// model always produces vectors of the same dimensionality; the model name
// is part of the vector index schema, so ingestion and querying must share
// one Embedder configuration.
type Embedder interface {
	// Model returns the identifier of the embedding model.
	Model() string

	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, aligned 1:1 with the
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
