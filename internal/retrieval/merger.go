// Package retrieval implements hybrid product search: dense embedding
// similarity and sparse full-text rank merged into one deterministic ranking.
package retrieval

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// ErrInvalidWeights is returned when merger weights are negative or do not sum to 1.
var ErrInvalidWeights = errors.New("retrieval weights must be non-negative and sum to 1")

const weightTolerance = 1e-6

// ScoredCandidate is one product with its raw per-signal scores.
type ScoredCandidate struct {
	Product models.Product
	Dense   float64
	Sparse  float64
	// HasDense and HasSparse report whether the signal produced a score. A
	// missing signal contributes 0 after normalization.
	HasDense  bool
	HasSparse bool
}

// Merger combines dense and sparse scores with fixed weights.
type Merger struct {
	denseWeight  float64
	sparseWeight float64
}

// NewMerger creates a merger. The weights must be non-negative and sum to 1.
func NewMerger(denseWeight, sparseWeight float64) (*Merger, error) {
	if err := ValidateWeights(denseWeight, sparseWeight); err != nil {
		return nil, err
	}
	return &Merger{denseWeight: denseWeight, sparseWeight: sparseWeight}, nil
}

// ValidateWeights checks a dense/sparse weight pair.
func ValidateWeights(denseWeight, sparseWeight float64) error {
	if denseWeight < 0 || sparseWeight < 0 || math.IsNaN(denseWeight) || math.IsNaN(sparseWeight) {
		return fmt.Errorf("%w: got %v/%v", ErrInvalidWeights, denseWeight, sparseWeight)
	}
	if math.Abs(denseWeight+sparseWeight-1) > weightTolerance {
		return fmt.Errorf("%w: got %v/%v", ErrInvalidWeights, denseWeight, sparseWeight)
	}
	return nil
}

// Weights returns the dense and sparse weights.
func (m *Merger) Weights() (dense, sparse float64) {
	return m.denseWeight, m.sparseWeight
}

// Merge normalizes each signal with min-max scaling, combines them, and
// returns the top k results by combined score. Ties are broken by ascending
// product id. Duplicate product ids keep the first entry.
func (m *Merger) Merge(candidates []ScoredCandidate, k int) []models.RetrievalResult {
	if k <= 0 || len(candidates) == 0 {
		return []models.RetrievalResult{}
	}

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Product.ID]; dup {
			continue
		}
		seen[c.Product.ID] = struct{}{}
		unique = append(unique, c)
	}

	dense := make(map[string]float64)
	sparse := make(map[string]float64)
	for _, c := range unique {
		if c.HasDense {
			dense[c.Product.ID] = c.Dense
		}
		if c.HasSparse {
			sparse[c.Product.ID] = c.Sparse
		}
	}
	denseNorm := normalizeScores(dense)
	sparseNorm := normalizeScores(sparse)

	results := make([]models.RetrievalResult, 0, len(unique))
	for _, c := range unique {
		id := c.Product.ID
		d := denseNorm[id]
		s := sparseNorm[id]
		combined := m.denseWeight*d + m.sparseWeight*s
		product := c.Product.Clone()
		product.Score = combined
		results = append(results, models.RetrievalResult{
			ProductID:     id,
			Title:         c.Product.Title,
			DenseScore:    d,
			SparseScore:   s,
			CombinedScore: combined,
			Product:       product,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].ProductID < results[j].ProductID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// normalizeScores applies min-max normalization. When every score is equal
// (including a single score) each normalizes to 1.0.
func normalizeScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	minScore := math.Inf(1)
	maxScore := math.Inf(-1)
	for _, score := range scores {
		minScore = math.Min(minScore, score)
		maxScore = math.Max(maxScore, score)
	}

	normalized := make(map[string]float64, len(scores))
	scoreRange := maxScore - minScore
	for id, score := range scores {
		if scoreRange == 0 {
			normalized[id] = 1.0
		} else {
			normalized[id] = (score - minScore) / scoreRange
		}
	}
	return normalized
}
