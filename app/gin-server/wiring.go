package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/config"
	"github.com/yoockh/yoodocs/internal/cache"
	"github.com/yoockh/yoodocs/internal/providers/embedding"
	"github.com/yoockh/yoodocs/internal/providers/llm"
	"github.com/yoockh/yoodocs/internal/storage"
)

type closer func() error

func newLLM(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	opts := llm.Options{
		Model:           cfg.LLMModel,
		Temperature:     float32(cfg.Temperature),
		MaxOutputTokens: int32(cfg.MaxOutputToks),
	}
	switch cfg.LLMProvider {
	case "vertex":
		return llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, opts)
	case "gemini":
		return llm.NewGeminiAPI(ctx, cfg.GoogleAPIKey, opts)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// newEmbedder returns the configured embedder. Hosted embeddings are cached
// in Redis when available, else in process memory.
func newEmbedder(ctx context.Context, cfg *config.Config, rdb *redis.Client) (embedding.Embedder, error) {
	if cfg.EmbeddingProvider == "hashing" {
		return embedding.NewHashingEmbedder(cfg.EmbeddingDims), nil
	}

	gc := embedding.GeminiConfig{
		APIKey: cfg.GoogleAPIKey,
		Model:  cfg.EmbeddingModel,
		Dims:   cfg.EmbeddingDims,
		RPS:    cfg.EmbedRPS,
	}
	if cfg.GoogleAPIKey == "" {
		gc.Project, gc.Location = cfg.GCPProject, cfg.GCPLocation
	}
	g, err := embedding.NewGemini(ctx, gc)
	if err != nil {
		return nil, err
	}

	var c cache.Cache = cache.NewMemoryCache()
	if rdb != nil {
		c = cache.NewRedisCache(rdb, "yoodocs:")
	}
	return embedding.NewCached(g, c, 7*24*time.Hour), nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, closer, error) {
	switch cfg.StorageBackend {
	case "gcs":
		s, err := storage.NewGCSUploader(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := storage.NewLocalUploader(cfg.UploadDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// optional runs an init function for a datastore the server can live
// without. It reports whether the store is available.
func optional(log *logrus.Logger, name string, init func() error) bool {
	err := init()
	switch {
	case err == nil:
		log.WithField("store", name).Info("connected")
		return true
	case errors.Is(err, config.ErrNotConfigured):
		log.WithField("store", name).Info("not configured, using in-process fallback")
	default:
		log.WithError(err).WithField("store", name).Warn("unreachable, using in-process fallback")
	}
	return false
}
