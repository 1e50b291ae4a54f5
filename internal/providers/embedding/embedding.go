package embedding

import (
	"context"
	"math"
)

type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding space; vectors from different models
	// must never be compared.
	Model() string
	Dimensions() int
}

// EmbedOne is a convenience wrapper for single-text calls.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyResponse
	}
	return out[0], nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
