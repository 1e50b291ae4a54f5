package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	chunks []string
	err    error
}

func (s scripted) Close() error { return nil }

func (s scripted) StreamAnswer(ctx context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range s.chunks {
			if !send(ctx, out, c) {
				errs <- ctx.Err()
				return
			}
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return out, errs
}

func TestCollect(t *testing.T) {
	got, err := Collect(context.Background(), scripted{chunks: []string{"Hello", ", ", "world"}}, "p")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", got)
}

func TestCollectReturnsPartialOnError(t *testing.T) {
	boom := errors.New("quota exceeded")
	got, err := Collect(context.Background(), scripted{chunks: []string{"partial"}, err: boom}, "p")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", got)
}

func TestSendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, send(ctx, make(chan string), "x"))
}
