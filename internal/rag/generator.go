package rag

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/providers/llm"
	"github.com/yoockh/yoodocs/internal/utils"
)

type GenerateRequest struct {
	Query          string
	Passages       []Passage
	History        []Turn
	SystemPrompt   string
	Constraints    string
	PreviousAnswer string
}

type GeneratorConfig struct {
	HistoryTurns int
	// SuppressDuplicates drops fragments the model repeats verbatim.
	SuppressDuplicates bool
}

type Generator struct {
	llm llm.Provider
	cfg GeneratorConfig
	log logrus.FieldLogger
}

func NewGenerator(provider llm.Provider, cfg GeneratorConfig, log logrus.FieldLogger) *Generator {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if log == nil {
		log = logrus.New()
	}
	return &Generator{llm: provider, cfg: cfg, log: log}
}

// Stream is a single-consumer answer stream. Events yields token events, then
// one sources event and one end event; or an error event if the model fails
// after output has started. Cancelling the context passed to Generate, or
// calling Close, stops generation.
type Stream struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	answer string
	err    error
}

func (s *Stream) Events() <-chan Event { return s.events }

// Close stops generation. Pending events are discarded.
func (s *Stream) Close() {
	s.cancel()
	for range s.events {
	}
}

// Wait blocks until the stream has finished and returns the accumulated
// answer (possibly partial) and the generation error, if any.
func (s *Stream) Wait() (string, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer, s.err
}

// Generate starts answering req. It returns once the model has produced its
// first fragment, so a model that fails before producing anything yields an
// error here instead of a stream.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Stream, error) {
	const op = "Generator.Generate"

	ctx, cancel := context.WithCancel(ctx)
	chunks, errs := g.llm.StreamAnswer(ctx, BuildPrompt(req, g.cfg.HistoryTurns))

	var first string
	var started bool
	select {
	case c, ok := <-chunks:
		if ok {
			first, started = c, true
		} else if err := <-errs; err != nil {
			cancel()
			return nil, utils.E(utils.CodeUnavailable, op, "answer generation failed", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, utils.E(utils.CodeTimeout, op, "answer generation cancelled", ctx.Err())
	}

	s := &Stream{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go g.run(ctx, s, req, first, started, chunks, errs)
	return s, nil
}

func (g *Generator) run(ctx context.Context, s *Stream, req GenerateRequest, first string, started bool, chunks <-chan string, errs <-chan error) {
	acc := NewAccumulator(g.cfg.SuppressDuplicates)
	var streamErr error

	defer func() {
		s.mu.Lock()
		s.answer, s.err = acc.String(), streamErr
		s.mu.Unlock()
		close(s.events)
		s.cancel()
		close(s.done)
	}()

	emit := func(ev Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		}
	}
	push := func(fragment string) bool {
		if !acc.Push(fragment) {
			return true
		}
		return emit(Event{Type: EventToken, Content: fragment})
	}

	if started && !push(first) {
		return
	}
	for c := range chunks {
		if !push(c) {
			return
		}
	}

	if err := <-errs; err != nil {
		streamErr = err
		if errors.Is(err, context.Canceled) {
			return
		}
		g.log.WithError(err).Warn("answer stream interrupted")
		emit(Event{Type: EventError, Message: "answer generation failed"})
		return
	}

	if !emit(Event{Type: EventSources, Sources: SourcesFrom(req.Passages)}) {
		return
	}
	emit(Event{Type: EventEnd})
}

// Complete generates a whole answer and post-processes it.
func (g *Generator) Complete(ctx context.Context, req GenerateRequest) (string, error) {
	const op = "Generator.Complete"

	s, err := g.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	for range s.Events() {
	}
	answer, err := s.Wait()
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "answer generation failed", err)
	}
	return PostProcess(answer), nil
}
