package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/Veraticus/ledgerline/internal/textnorm"
)

// DefaultHashDimensions is the vector width of the hash embedder.
const DefaultHashDimensions = 256

// HashEmbedder is a deterministic, offline embedder based on feature hashing
// of words and character trigrams. It needs no network access and gives
// stable vectors for tests and air-gapped runs.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder with the given dimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Version implements Embedder.
func (h *HashEmbedder) Version() string {
	return fmt.Sprintf("hash-%d-v1", h.dims)
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dims)
	for _, word := range textnorm.Tokens(text) {
		h.add(v, "w:"+word, 1.0)

		padded := "^" + word + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(v, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	Normalize(v)
	return v
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
