// Package embedding turns question text into the fixed-size vectors the
// semantic cache searches on.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure to obtain an embedding.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in a single request.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the dimension of the embedding vectors.
	Dimension() int
}
