// Package archive implements the L3 tier: a capacity-bounded collection of
// content fragments over a vector index, with importance-weighted eviction.
package archive

import "context"

// Hit is a single similarity-search result from an index backend.
type Hit struct {
	ID    string
	Score float64
}

// Index is the similarity engine behind the archive. The archive owns all
// fragment metadata; an Index only stores vectors and answers nearest-
// neighbor queries. The flat in-memory index is exact; the Qdrant backend
// trades exactness for scale.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Delete(ctx context.Context, id string) error
}
