package workers

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisDispatcher queues indexing jobs on the index stream.
type RedisDispatcher struct {
	Redis  *redis.Client
	Stream string
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, documentID string) error {
	stream := d.Stream
	if stream == "" {
		stream = DefaultIndexStream
	}
	return d.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"document_id": documentID},
	}).Err()
}

// InlineDispatcher runs indexing in a goroutine of the current process.
// Indexer is set after construction since the document service depends on
// the dispatcher.
type InlineDispatcher struct {
	Indexer Indexer
	Logger  *logrus.Logger

	// done, when set, receives the document id after each job
	done chan<- string
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, documentID string) error {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := d.Indexer.ProcessIndexing(ctx, documentID); err != nil && d.Logger != nil {
			d.Logger.WithError(err).WithField("document_id", documentID).Error("indexing failed")
		}
		if d.done != nil {
			d.done <- documentID
		}
	}()
	return nil
}
