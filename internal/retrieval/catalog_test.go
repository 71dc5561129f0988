package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func testCatalog(t *testing.T) *CatalogSource {
	t.Helper()
	src, err := NewCatalogSource(context.Background(), []CatalogProduct{
		{ID: "shoe-1", Title: "Trail Running Shoes", Brand: "Acme", Categories: []string{"Shoes", "Running"}, Price: price(89), Currency: "USD"},
		{ID: "shoe-2", Title: "Road Running Shoes", Brand: "Zoom", Categories: []string{"Shoes"}, Price: price(140), Currency: "USD"},
		{ID: "bag-1", Title: "Leather Handbag", Brand: "Acme", Categories: []string{"Bags"}, Price: price(60), Currency: "USD"},
	}, NewHashEmbedder(64))
	require.NoError(t, err)
	return src
}

func TestCatalogSource_Candidates(t *testing.T) {
	src := testCatalog(t)
	emb, _ := NewHashEmbedder(64).Embed(context.Background(), "running shoes")

	cands, err := src.Candidates(context.Background(), Query{Text: "running shoes", Embedding: emb}, 50, 50)
	require.NoError(t, err)
	require.Len(t, cands, 3)

	byID := map[string]ScoredCandidate{}
	for _, c := range cands {
		byID[c.Product.ID] = c
	}
	assert.True(t, byID["shoe-1"].HasSparse)
	assert.False(t, byID["bag-1"].HasSparse)
	assert.Greater(t, byID["shoe-1"].Dense, byID["bag-1"].Dense)
}

func TestCatalogSource_Filters(t *testing.T) {
	src := testCatalog(t)
	cands, err := src.Candidates(context.Background(), Query{
		Text:    "shoes",
		Filters: Filters{PriceMax: price(100), Category: "shoe"},
	}, 50, 50)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "shoe-1", cands[0].Product.ID)

	cands, err = src.Candidates(context.Background(), Query{Text: "acme", Filters: Filters{Brand: "ACME", PriceMin: price(70)}}, 50, 50)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "shoe-1", cands[0].Product.ID)
}

func TestCatalogSource_Depth(t *testing.T) {
	src := testCatalog(t)
	cands, err := src.Candidates(context.Background(), Query{Text: "shoes"}, 0, 1)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestLoadCatalog_AssignsStableIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"Desk Lamp","brand":"Lumo","categories":["Home"]}]`), 0o644))

	src, err := LoadCatalog(context.Background(), path, nil)
	require.NoError(t, err)
	require.Equal(t, 1, src.Len())
	assert.Equal(t, StableProductID("Desk Lamp", "Lumo", []string{"Home"}), src.entries[0].product.ID)
	assert.Equal(t, StableProductID(" desk lamp", "LUMO", []string{"home"}), src.entries[0].product.ID)
}

func TestHashEmbedder_Normalized(t *testing.T) {
	vec, err := NewHashEmbedder(16).Embed(context.Background(), "red red shoes")
	require.NoError(t, err)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := NewHashEmbedder(16).Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Len(t, empty, 16)
}
