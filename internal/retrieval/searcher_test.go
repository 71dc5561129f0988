package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("ollama unavailable")
}

type failingSource struct{}

func (failingSource) Candidates(context.Context, Query, int, int) ([]ScoredCandidate, error) {
	return nil, errors.New("db down")
}

func TestHybridSearcher_Search(t *testing.T) {
	merger, err := NewMerger(0.5, 0.5)
	require.NoError(t, err)
	searcher := NewHybridSearcher(testCatalog(t), NewHashEmbedder(64), merger, WithTopK(2))

	results, err := searcher.Search(context.Background(), Query{Text: "running shoes"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, []string{"shoe-1", "shoe-2"}, results[0].ProductID)
	assert.GreaterOrEqual(t, results[0].CombinedScore, results[1].CombinedScore)
}

func TestHybridSearcher_EmbeddingFailureFallsBackToSparse(t *testing.T) {
	merger, _ := NewMerger(0.5, 0.5)
	searcher := NewHybridSearcher(testCatalog(t), failingEmbedder{}, merger)

	results, err := searcher.Search(context.Background(), Query{Text: "handbag", K: 3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bag-1", results[0].ProductID)
	assert.Equal(t, 0.0, results[0].DenseScore)
}

func TestHybridSearcher_SourceError(t *testing.T) {
	merger, _ := NewMerger(0.5, 0.5)
	_, err := NewHybridSearcher(failingSource{}, nil, merger).Search(context.Background(), Query{Text: "x"})
	assert.Error(t, err)
}

func TestHybridSearcher_EmptyQuery(t *testing.T) {
	merger, _ := NewMerger(0.5, 0.5)
	results, err := NewHybridSearcher(failingSource{}, nil, merger).Search(context.Background(), Query{Text: " "})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFromRequest(t *testing.T) {
	max := 50.0
	q := FromRequest(models.SearchRequest{Query: "hat", K: 3, PriceMax: &max, Brand: "b"})
	assert.Equal(t, "hat", q.Text)
	assert.Equal(t, 3, q.K)
	assert.Equal(t, &max, q.Filters.PriceMax)
	assert.Equal(t, "b", q.Filters.Brand)
}
