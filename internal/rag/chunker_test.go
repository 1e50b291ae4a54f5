package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/utils"
)

func sampleText(n int) string {
	const alphabet = "héllo wörld ✓ the quick brown fox. "
	src := []rune(alphabet)
	out := make([]rune, n)
	for i := range out {
		out[i] = src[(i*7+i/3)%len(src)]
	}
	// keep both ends non-space so normalization does not trim
	if n > 0 {
		out[0], out[n-1] = 'A', 'Z'
	}
	return string(out)
}

func TestWindowChunkerProperties(t *testing.T) {
	configs := []struct{ size, overlap int }{
		{1, 0}, {10, 0}, {10, 3}, {7, 6}, {100, 20}, {800, 200},
	}
	lengths := []int{1, 2, 5, 9, 10, 11, 37, 799, 800, 801, 2000}

	for _, cfg := range configs {
		c, err := NewWindowChunker(cfg.size, cfg.overlap)
		require.NoError(t, err)

		for _, n := range lengths {
			text := sampleText(n)
			chunks, err := c.Split("doc", text)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			var rebuilt []rune
			for i, ch := range chunks {
				runes := []rune(ch.Text)
				assert.Equal(t, i, ch.Index)
				assert.Equal(t, "doc", ch.DocumentID)
				assert.LessOrEqual(t, len(runes), cfg.size)
				assert.Equal(t, len(runes), ch.Length())

				if i < len(chunks)-1 {
					assert.Len(t, runes, cfg.size, "only the final chunk may be short")
					next := []rune(chunks[i+1].Text)
					assert.Equal(t, string(runes[len(runes)-cfg.overlap:]), string(next[:cfg.overlap]),
						"size=%d overlap=%d n=%d chunk=%d", cfg.size, cfg.overlap, n, i)
				}

				if i == 0 {
					rebuilt = append(rebuilt, runes...)
				} else {
					rebuilt = append(rebuilt, runes[cfg.overlap:]...)
				}
			}
			assert.Equal(t, text, string(rebuilt), "size=%d overlap=%d n=%d", cfg.size, cfg.overlap, n)
		}
	}
}

func TestWindowChunkerOffsets(t *testing.T) {
	c, err := NewWindowChunker(4, 1)
	require.NoError(t, err)

	chunks, err := c.Split("d", "abcdefghij")
	require.NoError(t, err)

	var got []string
	for _, ch := range chunks {
		got = append(got, ch.Text)
	}
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, got)
	assert.Equal(t, 3, chunks[1].Start)
	assert.Equal(t, 7, chunks[1].End)
}

func TestWindowChunkerEmptyText(t *testing.T) {
	c, err := NewWindowChunker(800, 200)
	require.NoError(t, err)

	for _, text := range []string{"", "   \n\t  "} {
		chunks, err := c.Split("d", text)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestWindowChunkerNormalizesLineEndings(t *testing.T) {
	c, err := NewWindowChunker(100, 0)
	require.NoError(t, err)

	chunks, err := c.Split("d", "  line one\r\nline two\r\n")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "line one\nline two", chunks[0].Text)
}

func TestChunkerRejectsBadConfig(t *testing.T) {
	bad := []struct{ size, overlap int }{{0, 0}, {-1, 0}, {10, -1}, {10, 10}, {5, 9}}
	for _, b := range bad {
		_, err := NewWindowChunker(b.size, b.overlap)
		assert.True(t, utils.IsCode(err, utils.CodeConfiguration), "window %+v", b)

		_, err = NewRecursiveChunker(b.size, b.overlap)
		assert.True(t, utils.IsCode(err, utils.CodeConfiguration), "recursive %+v", b)
	}

	_, err := NewChunker("semantic", 10, 2)
	assert.True(t, utils.IsCode(err, utils.CodeConfiguration))
}

func TestRecursiveChunkerContiguousOrdinals(t *testing.T) {
	c, err := NewChunker("recursive", 60, 10)
	require.NoError(t, err)

	para := "Refunds are accepted within 30 days of purchase. Items must be unused."
	text := strings.Repeat(para+"\n\n", 6)
	chunks, err := c.Split("d", text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.Length(), 60)
		assert.NotEmpty(t, strings.TrimSpace(ch.Text))
	}
}
