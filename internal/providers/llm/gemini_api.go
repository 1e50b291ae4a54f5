package llm

import (
	"context"

	"google.golang.org/genai"
)

// GeminiAPI talks to the Gemini Developer API with an API key.
type GeminiAPI struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGeminiAPI(ctx context.Context, apiKey string, opts Options) (*GeminiAPI, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	return &GeminiAPI{
		client: c,
		model:  opts.Model,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(opts.Temperature),
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}, nil
}

func (g *GeminiAPI) Close() error { return nil }

func (g *GeminiAPI) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), g.config) {
			if err != nil {
				errs <- err
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					if !send(ctx, out, part.Text) {
						errs <- ctx.Err()
						return
					}
				}
			}
		}
	}()

	return out, errs
}
