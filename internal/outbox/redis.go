package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/yoockh/yoodocs/internal/rag"
)

const DefaultStream = "vector:sync"

// RedisOutbox appends ops to a Redis stream consumed by the sync workers.
type RedisOutbox struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisOutbox(rdb *redis.Client, stream string) *RedisOutbox {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisOutbox{rdb: rdb, stream: stream, maxLen: 100000}
}

func (o *RedisOutbox) Stream() string { return o.stream }

func (o *RedisOutbox) Publish(ctx context.Context, op rag.SyncOp) error {
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return o.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        string(op.Kind),
			"document_id": op.DocumentID,
			"version":     strconv.FormatUint(op.Version, 10),
			"op":          string(b),
		},
	}).Err()
}

// Decode reads an op back from a stream message.
func Decode(msg redis.XMessage) (rag.SyncOp, error) {
	var op rag.SyncOp
	raw, _ := msg.Values["op"].(string)
	if raw == "" {
		return op, fmt.Errorf("message %s has no op payload", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		return op, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return op, nil
}
