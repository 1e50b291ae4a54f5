package rag

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoodocs/internal/providers/embedding"
	"github.com/yoockh/yoodocs/internal/utils"
)

func seededRetriever(t *testing.T) (*Retriever, *Index) {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewHashingEmbedder(128)
	idx, err := OpenIndex(ctx, "", emb.Model(), emb.Dimensions())
	require.NoError(t, err)

	for d := 0; d < 4; d++ {
		doc := fmt.Sprintf("doc-%d", d)
		var entries []Entry
		for c := 0; c < 5; c++ {
			text := fmt.Sprintf("document %d section %d covers refunds and shipping topic %d", d, c, c)
			v, err := embedding.EmbedOne(ctx, emb, text)
			require.NoError(t, err)
			entries = append(entries, Entry{OwnerID: "o", Title: doc, ChunkIndex: c, Text: text, Model: emb.Model(), Vector: v})
		}
		_, _, err = idx.Replace(ctx, doc, entries)
		require.NoError(t, err)
	}
	return NewRetriever(idx, emb, RetrieverConfig{Lambda: DefaultMMRLambda}, quietLogger()), idx
}

func TestRetrieveRespectsKAndAllowedSet(t *testing.T) {
	r, _ := seededRetriever(t)
	ctx := context.Background()

	for _, k := range []int{1, 3, 5, 8} {
		got, err := r.Retrieve(ctx, "refunds topic 2", []string{"doc-1", "doc-3"}, k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), k)
		for _, p := range got {
			assert.Contains(t, []string{"doc-1", "doc-3"}, p.DocumentID)
		}
	}

	all, err := r.Retrieve(ctx, "refunds", nil, 50)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestRetrieveCapsK(t *testing.T) {
	r, idx := seededRetriever(t)
	ctx := context.Background()

	got, err := r.Retrieve(ctx, "refunds", nil, math.MaxInt64/4+1)
	require.NoError(t, err)
	assert.Len(t, got, 20)

	capped := NewRetriever(idx, embedding.NewHashingEmbedder(128), RetrieverConfig{Lambda: DefaultMMRLambda, MaxK: 3}, quietLogger())
	got, err = capped.Retrieve(ctx, "refunds", nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestNewRetrieverKeepsZeroLambda(t *testing.T) {
	_, idx := seededRetriever(t)
	emb := embedding.NewHashingEmbedder(128)

	assert.Equal(t, 0.0, NewRetriever(idx, emb, RetrieverConfig{Lambda: 0}, nil).cfg.Lambda)
	assert.Equal(t, DefaultMMRLambda, NewRetriever(idx, emb, RetrieverConfig{Lambda: -1}, nil).cfg.Lambda)
	assert.Equal(t, DefaultMaxK, NewRetriever(idx, emb, RetrieverConfig{}, nil).cfg.MaxK)
}

func TestRetrieveEmptyCases(t *testing.T) {
	r, _ := seededRetriever(t)
	ctx := context.Background()

	got, err := r.Retrieve(ctx, "refunds", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Retrieve(ctx, "refunds", []string{}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Retrieve(ctx, "refunds", []string{"unknown"}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	emb := embedding.NewHashingEmbedder(16)
	empty, err := OpenIndex(ctx, "", emb.Model(), emb.Dimensions())
	require.NoError(t, err)
	got, err = NewRetriever(empty, emb, RetrieverConfig{Lambda: DefaultMMRLambda}, nil).Retrieve(ctx, "anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveRejectsModelMismatch(t *testing.T) {
	_, idx := seededRetriever(t)
	other := embedding.NewHashingEmbedder(64)

	_, err := NewRetriever(idx, other, RetrieverConfig{Lambda: DefaultMMRLambda}, nil).Retrieve(context.Background(), "q", nil, 3)
	assert.True(t, utils.IsCode(err, utils.CodeConfiguration))
}
