package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"localrag/internal/adapter/analyzer"
	"localrag/internal/port"
)

// HashModelName identifies vectors produced by HashEmbedder.
const HashModelName = "hash-bow-v1"

// HashEmbedder is an offline embedder: stemmed terms and their bigrams are
// hashed into a fixed number of buckets and counted. Vectors are deterministic
// and non-negative, so cosine similarity falls in [0, 1].
type HashEmbedder struct {
	model     string
	dimension int
	tokenizer port.Tokenizer
}

func NewHashEmbedder(model string, dimension int) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if model == "" {
		model = HashModelName
	}
	return &HashEmbedder{
		model:     model,
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(true),
	}, nil
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, feature := range e.tokenizer.Features(text) {
		vec[e.bucket(feature)]++
	}
	return vec
}

func (e *HashEmbedder) bucket(feature string) int {
	h := fnv.New64a()
	h.Write([]byte(feature))
	return int(h.Sum64() % uint64(e.dimension))
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return e.model
}
