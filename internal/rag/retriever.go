package rag

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/providers/embedding"
	"github.com/yoockh/yoodocs/internal/utils"
)

const (
	DefaultTopK      = 5
	DefaultOverFetch = 4
	DefaultMaxK      = 50
)

// Passage is a chunk selected for one query.
type Passage struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// RetrieverConfig tunes retrieval. Lambda 0 ranks purely for novelty;
// MaxK bounds the k any caller can ask for.
type RetrieverConfig struct {
	OverFetch int
	Lambda    float64
	MaxK      int
}

type Retriever struct {
	index    *Index
	embedder embedding.Embedder
	cfg      RetrieverConfig
	log      logrus.FieldLogger
}

func NewRetriever(index *Index, embedder embedding.Embedder, cfg RetrieverConfig, log logrus.FieldLogger) *Retriever {
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = DefaultOverFetch
	}
	if cfg.Lambda < 0 || cfg.Lambda > 1 {
		cfg.Lambda = DefaultMMRLambda
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultMaxK
	}
	if log == nil {
		log = logrus.New()
	}
	return &Retriever{index: index, embedder: embedder, cfg: cfg, log: log}
}

// Retrieve returns at most k passages from the allowed documents. A nil
// allowed slice searches every document; a non-nil empty one matches nothing.
// k is capped at the configured MaxK.
func (r *Retriever) Retrieve(ctx context.Context, query string, allowed []string, k int) ([]Passage, error) {
	const op = "Retriever.Retrieve"

	if k <= 0 || r.index.Len() == 0 || (allowed != nil && len(allowed) == 0) {
		return []Passage{}, nil
	}
	if r.embedder.Model() != r.index.Model() {
		msg := fmt.Sprintf("query embedder %q does not match index model %q", r.embedder.Model(), r.index.Model())
		return nil, utils.E(utils.CodeConfiguration, op, msg, nil)
	}

	qv, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to embed query", err)
	}

	var allow func(*Entry) bool
	if allowed != nil {
		set := make(map[string]struct{}, len(allowed))
		for _, id := range allowed {
			set[id] = struct{}{}
		}
		allow = func(e *Entry) bool {
			_, ok := set[e.DocumentID]
			return ok
		}
	}

	k = min(k, r.cfg.MaxK)
	n := r.index.Len()
	if k <= n/r.cfg.OverFetch {
		n = k * r.cfg.OverFetch
	}
	candidates := r.index.Search(qv, n, allow)
	picked := MMR(candidates, k, r.cfg.Lambda)

	out := make([]Passage, 0, len(picked))
	for _, h := range picked {
		out = append(out, Passage{
			DocumentID: h.DocumentID,
			Title:      h.Title,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Score:      h.Score,
		})
	}

	r.log.WithFields(logrus.Fields{
		"k":          k,
		"candidates": len(candidates),
		"returned":   len(out),
		"scoped":     allowed != nil,
	}).Debug("retrieve")
	return out, nil
}
