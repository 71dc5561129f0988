package retrieval

import (
	"context"
	"encoding/json"
	"strings"
)

// Filters restrict the candidate set before scoring.
type Filters struct {
	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Brand    string   `json:"brand,omitempty"`    // substring, case-insensitive
	Category string   `json:"category,omitempty"` // substring, case-insensitive
}

// Query is one hybrid search request.
type Query struct {
	Text      string
	Embedding []float32
	K         int
	Filters   Filters
}

// CandidateSource produces the raw scored candidate set for a query: the top
// denseK products by embedding similarity and the top sparseK by full-text rank.
type CandidateSource interface {
	Candidates(ctx context.Context, q Query, denseK, sparseK int) ([]ScoredCandidate, error)
}

// Embedder turns query text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ParseCategories decodes a stored categories column. Values are either a JSON
// array or a pipe-separated list.
func ParseCategories(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err == nil {
			return trimAll(values)
		}
	}
	return trimAll(strings.Split(raw, "|"))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
