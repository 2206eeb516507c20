package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashProvider produces deterministic pseudo-embeddings by hashing tokens
// into a fixed-size vector. Vectors for texts sharing words are close under
// cosine similarity, which is enough for tests and offline operation. It is
// not a substitute for a real embedding model.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a HashProvider with the given dimension.
// A non-positive dimension defaults to 256.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashProvider{dimension: dimension}
}

// Embed hashes each text's words into a normalized vector.
func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *HashProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimension))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Dimension returns the configured vector dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}
