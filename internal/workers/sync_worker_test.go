package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/rag"
)

type fakeApplier struct {
	ops []rag.SyncOp
	err error
}

func (f *fakeApplier) Apply(_ context.Context, op rag.SyncOp) error {
	f.ops = append(f.ops, op)
	return f.err
}

func opMessage(t *testing.T, op rag.SyncOp) redis.XMessage {
	t.Helper()
	b, err := json.Marshal(op)
	require.NoError(t, err)
	return redis.XMessage{ID: "1-0", Values: map[string]any{"op": string(b)}}
}

func TestSyncWorker_AppliesDecodedOps(t *testing.T) {
	log, _ := test.NewNullLogger()
	app := &fakeApplier{}
	p := &SyncWorkerPool{Applier: app, Logger: log}

	p.handleMsg(context.Background(), opMessage(t, rag.SyncOp{
		Kind:       rag.SyncUpsert,
		DocumentID: "doc-1",
		Version:    4,
		Entries:    []rag.Entry{{Position: 1, DocumentID: "doc-1", Text: "refunds"}},
	}))

	require.Len(t, app.ops, 1)
	assert.Equal(t, rag.SyncUpsert, app.ops[0].Kind)
	assert.Equal(t, uint64(4), app.ops[0].Version)
	assert.Len(t, app.ops[0].Entries, 1)
}

func TestSyncWorker_DropsUndecodable(t *testing.T) {
	log, hook := test.NewNullLogger()
	app := &fakeApplier{}
	p := &SyncWorkerPool{Applier: app, Logger: log}

	p.handleMsg(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]any{"op": "{"}})

	assert.Empty(t, app.ops)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestSyncWorker_LogsApplyFailure(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := &SyncWorkerPool{Applier: &fakeApplier{err: errors.New("postgres down")}, Logger: log}

	p.handleMsg(context.Background(), opMessage(t, rag.SyncOp{Kind: rag.SyncDelete, DocumentID: "doc-9", Version: 2}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "doc-9", entry.Data["document_id"])
}

func TestWorkerPools_RequireDependencies(t *testing.T) {
	assert.Error(t, (&SyncWorkerPool{}).Start(context.Background()))
	assert.Error(t, (&IndexWorkerPool{}).Start(context.Background()))
}
