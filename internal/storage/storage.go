package storage

import (
	"context"
	"io"
)

// Uploader persists original uploads. The returned path is what gets stored
// on the document row and handed back to Open/Delete.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

type Remover interface {
	Delete(ctx context.Context, storedPath string) error
}

type Opener interface {
	Open(ctx context.Context, storedPath string) (io.ReadCloser, error)
}

// Store is the full set of operations the document service uses.
type Store interface {
	Uploader
	Remover
	Opener
}
