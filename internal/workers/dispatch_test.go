package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexer struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (f *fakeIndexer) ProcessIndexing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
	return f.err
}

func TestInlineDispatcher_RunsIndexer(t *testing.T) {
	idx := &fakeIndexer{}
	done := make(chan string, 1)
	d := &InlineDispatcher{Indexer: idx, done: done}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, "doc-1"))
	cancel()

	select {
	case id := <-done:
		assert.Equal(t, "doc-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer never ran")
	}
	assert.Equal(t, []string{"doc-1"}, idx.seen)
}

func TestInlineDispatcher_LogsFailure(t *testing.T) {
	log, hook := test.NewNullLogger()
	idx := &fakeIndexer{err: errors.New("embed down")}
	done := make(chan string, 1)
	d := &InlineDispatcher{Indexer: idx, Logger: log, done: done}

	require.NoError(t, d.Dispatch(context.Background(), "doc-2"))
	<-done

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "doc-2", entry.Data["document_id"])
}

func TestStatusChannel(t *testing.T) {
	assert.Equal(t, "document:abc:status", StatusChannel("abc"))
}
