package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	u, err := NewLocalUploader(t.TempDir())
	require.NoError(t, err)

	path, err := u.Upload(ctx, "docs/u1/a.txt", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "docs/u1/a.txt", path)

	rc, err := u.Open(ctx, path)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(b))

	require.NoError(t, u.Delete(ctx, path))
	require.NoError(t, u.Delete(ctx, path), "deleting twice is fine")

	_, err = u.Open(ctx, path)
	assert.Error(t, err)
}

func TestLocalUploader_StaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	u, err := NewLocalUploader(root)
	require.NoError(t, err)

	full, err := u.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(full, root))
}
