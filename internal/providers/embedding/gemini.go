package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

var errEmptyResponse = errors.New("embedding: empty response")

// maxBatch is the largest number of contents accepted per EmbedContent call.
const maxBatch = 100

type Gemini struct {
	client  *genai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

type GeminiConfig struct {
	APIKey   string
	Project  string // set together with Location to use the Vertex AI backend
	Location string
	Model    string
	Dims     int
	RPS      float64
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.APIKey == "" && cfg.Project != "" {
		cc = &genai.ClientConfig{Project: cfg.Project, Location: cfg.Location, Backend: genai.BackendVertexAI}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}

	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 768
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	return &Gemini{
		client:  c,
		model:   cfg.Model,
		dims:    cfg.Dims,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), int(cfg.RPS)+1),
	}, nil
}

func (g *Gemini) Model() string   { return fmt.Sprintf("%s-%d", g.model, g.dims) }
func (g *Gemini) Dimensions() int { return g.dims }

func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.Text(t)...)
		}

		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(g.dims)),
		})
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Embeddings) != end-start {
			return nil, errEmptyResponse
		}
		for _, e := range resp.Embeddings {
			v := append([]float32(nil), e.Values...)
			// truncated outputs are not unit length
			normalize(v)
			out = append(out, v)
		}
	}
	return out, nil
}
