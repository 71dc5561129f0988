package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

const (
	DefaultTopK    = 5
	DefaultDenseK  = 50
	DefaultSparseK = 50
)

// HybridSearcher embeds a query, gathers candidates from a source and merges
// their scores.
type HybridSearcher struct {
	source   CandidateSource
	embedder Embedder
	merger   *Merger
	topK     int
	denseK   int
	sparseK  int
}

// SearcherOption configures a HybridSearcher.
type SearcherOption func(*HybridSearcher)

// WithTopK sets the default number of results when a query has K <= 0.
func WithTopK(k int) SearcherOption {
	return func(s *HybridSearcher) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithDepth sets how many candidates each signal contributes.
func WithDepth(denseK, sparseK int) SearcherOption {
	return func(s *HybridSearcher) {
		s.denseK = denseK
		s.sparseK = sparseK
	}
}

// NewHybridSearcher creates a searcher. embedder may be nil, in which case
// queries without a precomputed embedding use the sparse signal only.
func NewHybridSearcher(source CandidateSource, embedder Embedder, merger *Merger, opts ...SearcherOption) *HybridSearcher {
	s := &HybridSearcher{
		source:   source,
		embedder: embedder,
		merger:   merger,
		topK:     DefaultTopK,
		denseK:   DefaultDenseK,
		sparseK:  DefaultSparseK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns at most K ranked results for the query.
func (s *HybridSearcher) Search(ctx context.Context, q Query) ([]models.RetrievalResult, error) {
	start := time.Now()
	if strings.TrimSpace(q.Text) == "" && len(q.Embedding) == 0 {
		return []models.RetrievalResult{}, nil
	}
	if q.K <= 0 {
		q.K = s.topK
	}
	if len(q.Embedding) == 0 && s.embedder != nil && strings.TrimSpace(q.Text) != "" {
		emb, err := s.embedder.Embed(ctx, q.Text)
		if err != nil {
			slog.Warn("HybridSearcher.Search: embedding failed, using sparse signal only", "error", err)
		} else {
			q.Embedding = emb
		}
	}

	cands, err := s.source.Candidates(ctx, q, s.denseK, s.sparseK)
	if err != nil {
		return nil, fmt.Errorf("candidate retrieval failed: %w", err)
	}
	results := s.merger.Merge(cands, q.K)
	metrics.RecordSearch(start, len(results))
	slog.Debug("HybridSearcher.Search", "query", q.Text, "candidates", len(cands), "results", len(results), "elapsed", time.Since(start))
	return results, nil
}

// FromRequest converts an API search request into a query.
func FromRequest(req models.SearchRequest) Query {
	return Query{
		Text: req.Query,
		K:    req.K,
		Filters: Filters{
			PriceMin: req.PriceMin,
			PriceMax: req.PriceMax,
			Currency: req.Currency,
			Brand:    req.Brand,
			Category: req.Category,
		},
	}
}
