package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vector []float32
	err    error
	called int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.called++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

type stubIndex struct {
	results   []ScoredChunk
	lastLimit int
}

func (i *stubIndex) Insert(ctx context.Context, chunk Chunk) error {
	return nil
}

func (i *stubIndex) Query(ctx context.Context, knowledgeBaseID uuid.UUID, vector []float32, k int) ([]ScoredChunk, error) {
	i.lastLimit = k
	return i.results, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_SearchUsesDefaultLimitAndEmbedder(t *testing.T) {
	index := &stubIndex{
		results: []ScoredChunk{{
			Chunk: Chunk{ID: uuid.New(), Ordinal: 0, Content: "test"},
			Score: 0.9,
		}},
	}
	embedder := &stubEmbedder{vector: []float32{1, 2, 3}}

	svc := NewService(index, embedder, WithSearchLogger(newTestLogger()))

	results, err := svc.Search(context.Background(), SearchParams{
		KnowledgeBaseID: uuid.New(),
		Query:           "hello",
		Limit:           0, // デフォルト値が適用される
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, DefaultTopK, index.lastLimit)
	assert.Equal(t, 1, embedder.called)
}

func TestService_SearchValidatesParams(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubEmbedder{}, WithSearchLogger(newTestLogger()))

	_, err := svc.Search(context.Background(), SearchParams{KnowledgeBaseID: uuid.New()})
	assert.Error(t, err)

	_, err = svc.Search(context.Background(), SearchParams{Query: "hello"})
	assert.Error(t, err)
}

func TestService_SearchPropagatesEmbedderError(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("embedder unavailable")}
	svc := NewService(&stubIndex{}, embedder, WithSearchLogger(newTestLogger()))

	_, err := svc.Search(context.Background(), SearchParams{
		KnowledgeBaseID: uuid.New(),
		Query:           "hello",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed query")
}
