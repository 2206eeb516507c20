package archive

import (
	"context"
	"math"
	"sort"
	"sync"
)

// FlatIndex is an exact in-memory cosine-similarity index. It backs the
// archive when no external vector store is configured and in tests.
type FlatIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewFlatIndex creates an empty flat index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{vectors: make(map[string][]float32)}
}

// Upsert stores or replaces the vector for id.
func (f *FlatIndex) Upsert(_ context.Context, id string, vector []float32) error {
	v := make([]float32, len(vector))
	copy(v, vector)

	f.mu.Lock()
	f.vectors[id] = v
	f.mu.Unlock()
	return nil
}

// Search scans every vector, ranks by cosine similarity descending, and
// returns at most topK hits.
func (f *FlatIndex) Search(_ context.Context, vector []float32, topK int) ([]Hit, error) {
	f.mu.RLock()
	hits := make([]Hit, 0, len(f.vectors))
	for id, v := range f.vectors {
		hits = append(hits, Hit{ID: id, Score: Cosine(vector, v)})
	}
	f.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete removes the vector for id. Deleting an unknown id is a no-op.
func (f *FlatIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	delete(f.vectors, id)
	f.mu.Unlock()
	return nil
}

// Len reports how many vectors the index holds.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
