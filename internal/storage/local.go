package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader keeps uploads under a directory on disk.
type LocalUploader struct {
	root string
}

func NewLocalUploader(root string) (*LocalUploader, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalUploader{root: root}, nil
}

var errOutsideRoot = errors.New("path escapes upload directory")

func (u *LocalUploader) resolve(objectName string) (string, error) {
	clean := filepath.Clean("/" + objectName)
	full := filepath.Join(u.root, clean)
	rel, err := filepath.Rel(u.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errOutsideRoot
	}
	return full, nil
}

func (u *LocalUploader) Upload(ctx context.Context, objectName string, _ string, r io.Reader) (string, error) {
	full, err := u.resolve(objectName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return objectName, nil
}

func (u *LocalUploader) Open(_ context.Context, objectName string) (io.ReadCloser, error) {
	full, err := u.resolve(objectName)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (u *LocalUploader) Delete(_ context.Context, objectName string) error {
	full, err := u.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
