package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashEmbedder derives deterministic unit vectors from sha256 of the text.
// Equal texts embed identically and unrelated texts are close to orthogonal,
// which is enough to run the service locally without an API key.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a HashEmbedder; a non-positive dimension defaults to 1536.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

// EmbedBatch implements Embedder.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Model implements Embedder.
func (h *HashEmbedder) Model() string { return "sha256-hash" }

// Dimension implements Embedder.
func (h *HashEmbedder) Dimension() int { return h.dimension }

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dimension)
	var (
		norm    float64
		counter [4]byte
		block   [sha256.Size]byte
	)
	for i := range vec {
		if i%8 == 0 {
			binary.BigEndian.PutUint32(counter[:], uint32(i/8))
			hasher := sha256.New()
			hasher.Write(counter[:])
			hasher.Write([]byte(text))
			hasher.Sum(block[:0])
		}
		u := binary.BigEndian.Uint32(block[(i%8)*4:])
		v := float64(u)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	scale := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * scale)
	}
	return vec
}

var _ Embedder = (*HashEmbedder)(nil)
