package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/yoockh/yoodocs/internal/cache"
)

// Cached serves repeated texts (mostly queries) from a shared cache.
type Cached struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration
}

func NewCached(inner Embedder, c cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

func (c *Cached) Model() string   { return c.inner.Model() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + c.inner.Model() + ":" + hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		var v []float32
		hit, err := c.cache.GetJSON(ctx, c.key(t), &v)
		if err == nil && hit && len(v) == c.inner.Dimensions() {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, errEmptyResponse
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		_ = c.cache.SetJSON(ctx, c.key(texts[i]), fresh[j], c.ttl)
	}
	return out, nil
}
