package rag

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/providers/embedding"
)

// fakeLLM replies with reply(prompt); the error, if any, is sent after the
// fragments.
type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) ([]string, error)
}

func scripted(chunks []string, err error) *fakeLLM {
	return &fakeLLM{reply: func(string) ([]string, error) { return chunks, err }}
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeLLM) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	chunks, err := f.reply(prompt)
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err != nil {
			errs <- err
		}
	}()
	return out, errs
}

// echoFirstPassage answers with the text of passage [1].
func echoFirstPassage(prompt string) ([]string, error) {
	lines := strings.Split(prompt, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "[1] ") && i+1 < len(lines) {
			return []string{lines[i+1]}, nil
		}
	}
	return []string{NotAvailableAnswer}, nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	ops []SyncOp
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, op SyncOp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
	return p.err
}

func quietLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

type testEngine struct {
	Engine
	index *Index
	llm   *fakeLLM
	pub   *recordingPublisher
}

func newTestEngine(t *testing.T, chunker Chunker, reply func(string) ([]string, error)) *testEngine {
	t.Helper()
	emb := embedding.NewHashingEmbedder(256)
	idx, err := OpenIndex(context.Background(), "", emb.Model(), emb.Dimensions())
	require.NoError(t, err)

	llm := &fakeLLM{reply: reply}
	pub := &recordingPublisher{}
	log := quietLogger()
	eng := NewEngine(EngineDeps{
		Index:     idx,
		Chunker:   chunker,
		Embedder:  emb,
		Retriever: NewRetriever(idx, emb, RetrieverConfig{Lambda: DefaultMMRLambda}, log),
		Generator: NewGenerator(llm, GeneratorConfig{SuppressDuplicates: true}, log),
		Estimator: NewEstimator(emb),
		Critic:    NewCritic(llm),
		Outbox:    pub,
		Logger:    log,
	}, EngineConfig{})
	return &testEngine{Engine: eng, index: idx, llm: llm, pub: pub}
}

func drain(s *Stream) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}
