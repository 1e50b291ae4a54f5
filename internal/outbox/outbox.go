package outbox

import (
	"context"
	"errors"

	"github.com/yoockh/yoodocs/internal/rag"
)

// Applier writes a committed index mutation to the relational mirror.
type Applier interface {
	Apply(ctx context.Context, op rag.SyncOp) error
}

var ErrFull = errors.New("outbox: buffer full")
