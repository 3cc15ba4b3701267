// Package embedding provides text embedding via a remote provider, with
// bounded retries and caching.
package embedding

import "context"

// Embedder produces fixed-dimension vector embeddings for text. Embeddings
// are not guaranteed numerically identical across calls for the same text;
// callers must not rely on determinism.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
	Close() error
}
