package retrieval

import (
	"context"
	"hash/fnv"
	"math"
)

// HashEmbedder is a deterministic offline embedder. Tokens are hashed into a
// fixed number of buckets and the vector is L2-normalized, so texts sharing
// words have positive cosine similarity.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates an embedder producing vectors of length dims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 768
	}
	return &HashEmbedder{dims: dims}
}

// Embed returns the hashed bag-of-words vector for text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, term := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[h.Sum32()%uint32(e.dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
