package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(doc string, score float64, vec ...float32) Hit {
	return Hit{Entry: Entry{DocumentID: doc, Vector: vec}, Score: score}
}

func TestMMRPrefersNovelPassages(t *testing.T) {
	candidates := []Hit{
		hit("a", 0.90, 1, 0, 0),
		hit("a-dup", 0.89, 0.99, 0.14, 0),
		hit("b", 0.50, 0, 1, 0),
	}

	got := MMR(candidates, 2, 0.5)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DocumentID)
	assert.Equal(t, "b", got[1].DocumentID)

	pure := MMR(candidates, 2, 1)
	assert.Equal(t, "a-dup", pure[1].DocumentID)
}

func TestMMRBounds(t *testing.T) {
	candidates := []Hit{hit("a", 0.9, 1, 0), hit("b", 0.8, 0, 1)}

	assert.Empty(t, MMR(candidates, 0, 0.5))
	assert.Empty(t, MMR(nil, 3, 0.5))
	assert.Len(t, MMR(candidates, 5, 0.5), 2)
	assert.Len(t, candidates, 2, "input is not modified")
}
