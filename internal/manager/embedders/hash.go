package embedders

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/textutil"
)

const (
	defaultHashDimension = 256
	hashMaxBatchSize     = 1024
)

// HashEmbedder maps text into a fixed-size vector with the hashing trick:
// each non-stopword term adds a log-scaled count to a signed bucket, and the
// result is L2 normalised. It needs no model or network, so it suits local
// use and tests; texts sharing vocabulary land close together.
type HashEmbedder struct {
	dimension int
}

var _ interfaces.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder; dimension <= 0 selects 256.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) GenerateEmbedding(ctx context.Context, content string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrEmbedding, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrEmbedding, ErrContentEmpty))
	}
	return h.embed(content), nil
}

func (h *HashEmbedder) GenerateEmbeddings(ctx context.Context, contents []string) ([][]float32, error) {
	if len(contents) > hashMaxBatchSize {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrEmbedding, ErrBatchTooLarge))
	}
	out := make([][]float32, 0, len(contents))
	for _, content := range contents {
		vec, err := h.GenerateEmbedding(ctx, content)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (h *HashEmbedder) GetModelName() string {
	return fmt.Sprintf("hash-%d", h.dimension)
}

func (h *HashEmbedder) GetDimension() int {
	return h.dimension
}

func (h *HashEmbedder) GetMaxBatchSize() int {
	return hashMaxBatchSize
}

func (h *HashEmbedder) embed(text string) []float32 {
	counts := make(map[string]int)
	for _, term := range textutil.Terms(text) {
		counts[term]++
	}

	acc := make([]float64, h.dimension)
	for term, count := range counts {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(term))
		sum := hasher.Sum64()
		bucket := int(sum % uint64(h.dimension))
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		acc[bucket] += sign * (1 + math.Log(float64(count)))
	}

	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, h.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}
