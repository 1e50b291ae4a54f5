package outbox

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/rag"
)

// MemoryOutbox buffers ops in process and applies them in publish order. It
// is used when Redis is not configured; buffered ops are lost on restart.
type MemoryOutbox struct {
	ch  chan rag.SyncOp
	log logrus.FieldLogger
}

func NewMemoryOutbox(size int, log logrus.FieldLogger) *MemoryOutbox {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logrus.New()
	}
	return &MemoryOutbox{ch: make(chan rag.SyncOp, size), log: log}
}

func (m *MemoryOutbox) Publish(_ context.Context, op rag.SyncOp) error {
	select {
	case m.ch <- op:
		return nil
	default:
		return ErrFull
	}
}

// Run applies ops until ctx is done. Apply failures are logged and skipped.
func (m *MemoryOutbox) Run(ctx context.Context, a Applier) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.ch:
			if err := a.Apply(ctx, op); err != nil {
				m.log.WithError(err).WithFields(logrus.Fields{
					"document_id": op.DocumentID,
					"kind":        op.Kind,
					"version":     op.Version,
				}).Error("sync apply failed")
			}
		}
	}
}
