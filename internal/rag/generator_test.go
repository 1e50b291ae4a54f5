package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/utils"
)

var refundPassage = Passage{DocumentID: "d1", Title: "Policy", ChunkIndex: 2, Text: "The refund window is 30 days."}

func TestGenerateEventOrder(t *testing.T) {
	g := NewGenerator(scripted([]string{"The refund ", "window is 30 days."}, nil), GeneratorConfig{}, quietLogger())

	s, err := g.Generate(context.Background(), GenerateRequest{Query: "refund window?", Passages: []Passage{refundPassage}})
	require.NoError(t, err)

	events := drain(s)
	require.Len(t, events, 4)
	assert.Equal(t, Event{Type: EventToken, Content: "The refund "}, events[0])
	assert.Equal(t, Event{Type: EventToken, Content: "window is 30 days."}, events[1])
	assert.Equal(t, EventSources, events[2].Type)
	assert.Equal(t, []Source{{Title: "Policy", DocumentID: "d1", ChunkID: 2}}, events[2].Sources)
	assert.Equal(t, Event{Type: EventEnd}, events[3])

	answer, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, "The refund window is 30 days.", answer)
}

func TestGenerateFailsBeforeFirstFragment(t *testing.T) {
	g := NewGenerator(scripted(nil, errors.New("model overloaded")), GeneratorConfig{}, quietLogger())

	s, err := g.Generate(context.Background(), GenerateRequest{Query: "q"})
	assert.Nil(t, s)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}

func TestGenerateMidStreamErrorEndsWithErrorEvent(t *testing.T) {
	g := NewGenerator(scripted([]string{"partial "}, errors.New("connection reset")), GeneratorConfig{}, quietLogger())

	s, err := g.Generate(context.Background(), GenerateRequest{Query: "q", Passages: []Passage{refundPassage}})
	require.NoError(t, err)

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventToken, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)
	assert.NotEmpty(t, events[1].Message)

	answer, err := s.Wait()
	assert.Error(t, err)
	assert.Equal(t, "partial ", answer)
}

func TestGenerateEmptyModelOutput(t *testing.T) {
	g := NewGenerator(scripted(nil, nil), GeneratorConfig{}, quietLogger())

	s, err := g.Generate(context.Background(), GenerateRequest{Query: "q"})
	require.NoError(t, err)

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventSources, events[0].Type)
	assert.Empty(t, events[0].Sources)
	assert.Equal(t, EventEnd, events[1].Type)
}

func TestGenerateSuppressesDuplicates(t *testing.T) {
	frags := []string{"Refunds take ", "thirty days.", "thirty days."}

	on := NewGenerator(scripted(frags, nil), GeneratorConfig{SuppressDuplicates: true}, quietLogger())
	s, err := on.Generate(context.Background(), GenerateRequest{Query: "q"})
	require.NoError(t, err)
	tokens := 0
	for _, ev := range drain(s) {
		if ev.Type == EventToken {
			tokens++
		}
	}
	assert.Equal(t, 2, tokens)
	answer, _ := s.Wait()
	assert.Equal(t, "Refunds take thirty days.", answer)

	off := NewGenerator(scripted(frags, nil), GeneratorConfig{}, quietLogger())
	s, err = off.Generate(context.Background(), GenerateRequest{Query: "q"})
	require.NoError(t, err)
	drain(s)
	answer, _ = s.Wait()
	assert.Equal(t, "Refunds take thirty days.thirty days.", answer)
}

func TestStreamCloseStopsGeneration(t *testing.T) {
	endless := &fakeLLM{reply: func(string) ([]string, error) {
		return []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p", "q", "r", "s", "t"}, nil
	}}
	g := NewGenerator(endless, GeneratorConfig{}, quietLogger())

	s, err := g.Generate(context.Background(), GenerateRequest{Query: "q"})
	require.NoError(t, err)

	first := <-s.Events()
	assert.Equal(t, EventToken, first.Type)
	s.Close()

	done := make(chan struct{})
	go func() {
		_, _ = s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after Close")
	}
}

func TestGeneratorCompletePostProcesses(t *testing.T) {
	g := NewGenerator(scripted([]string{"Refunds   take 30 days. ", "Refunds take 30 days. Contact support."}, nil), GeneratorConfig{}, quietLogger())

	got, err := g.Complete(context.Background(), GenerateRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "Refunds take 30 days. Contact support.", got)
}

func TestBuildPrompt(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	p := BuildPrompt(GenerateRequest{
		Query:          "What is the refund window?",
		Passages:       []Passage{refundPassage},
		History:        history,
		SystemPrompt:   "You are a billing assistant.",
		Constraints:    "answer in one sentence",
		PreviousAnswer: "It depends.",
	}, 2)

	assert.True(t, strings.HasPrefix(p, "You are a billing assistant."))
	assert.Contains(t, p, NotAvailableAnswer)
	assert.Contains(t, p, "[1] Policy (chunk 2)\nThe refund window is 30 days.")
	assert.NotContains(t, p, "User: first")
	assert.Contains(t, p, "Assistant: second\nUser: third")
	assert.Contains(t, p, "Previous answer:\nIt depends.")
	assert.Contains(t, p, "answer in one sentence")
	assert.True(t, strings.HasSuffix(p, "Question: What is the refund window?\nAnswer:"))

	bare := BuildPrompt(GenerateRequest{Query: "q"}, 6)
	assert.True(t, strings.HasPrefix(bare, DefaultSystemPrompt))
	assert.Contains(t, bare, "(no passages)")
	assert.NotContains(t, bare, "Conversation so far")
}

func TestPostProcess(t *testing.T) {
	assert.Equal(t, "", PostProcess("   "))
	assert.Equal(t, "One. Two! One? Three", PostProcess("One.  Two!\n\nOne? one. Three"))
}
