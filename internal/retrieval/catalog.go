package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// CatalogProduct is one product record in a JSON catalog file.
type CatalogProduct struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Brand       string    `json:"brand,omitempty"`
	Description string    `json:"description,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

type catalogEntry struct {
	product   models.Product
	embedding []float32
	termFreq  map[string]int
	length    int
}

// CatalogSource is an in-memory candidate source used when no product
// database is configured. Dense scores are cosine similarity and sparse scores
// are BM25 over title, brand, description and categories.
type CatalogSource struct {
	entries   []catalogEntry
	idf       map[string]float64
	avgDocLen float64
}

// NewCatalogSource indexes products. Products without an embedding are
// embedded with embedder when it is non-nil.
func NewCatalogSource(ctx context.Context, products []CatalogProduct, embedder Embedder) (*CatalogSource, error) {
	s := &CatalogSource{idf: make(map[string]float64)}
	docFreq := make(map[string]int)
	totalLen := 0

	for _, cp := range products {
		p := models.Product{
			ID:          cp.ID,
			Title:       cp.Title,
			Brand:       cp.Brand,
			Description: cp.Description,
			Categories:  cp.Categories,
			Price:       cp.Price,
			Currency:    cp.Currency,
		}
		if p.ID == "" {
			p.ID = StableProductID(p.Title, p.Brand, p.Categories)
		}
		text := documentText(p)
		emb := cp.Embedding
		if len(emb) == 0 && embedder != nil {
			var err error
			emb, err = embedder.Embed(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("failed to embed product %s: %w", p.ID, err)
			}
		}
		terms := tokenize(text)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			if tf[term] == 0 {
				docFreq[term]++
			}
			tf[term]++
		}
		totalLen += len(terms)
		s.entries = append(s.entries, catalogEntry{product: p, embedding: emb, termFreq: tf, length: len(terms)})
	}

	if n := float64(len(s.entries)); n > 0 {
		s.avgDocLen = float64(totalLen) / n
		for term, df := range docFreq {
			s.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
		}
	}
	return s, nil
}

// LoadCatalog reads a JSON array of products from path.
func LoadCatalog(ctx context.Context, path string, embedder Embedder) (*CatalogSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var products []CatalogProduct
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return NewCatalogSource(ctx, products, embedder)
}

// Len returns the number of indexed products.
func (s *CatalogSource) Len() int {
	return len(s.entries)
}

// Candidates scores every product that passes the filters and keeps the top
// denseK by similarity and the top sparseK matching products by BM25.
func (s *CatalogSource) Candidates(ctx context.Context, q Query, denseK, sparseK int) ([]ScoredCandidate, error) {
	var dense, sparse []ScoredCandidate
	queryTerms := tokenize(q.Text)

	for _, e := range s.entries {
		if !matchesFilters(e.product, q.Filters) {
			continue
		}
		if len(q.Embedding) > 0 && len(e.embedding) > 0 {
			dense = append(dense, ScoredCandidate{
				Product: e.product, Dense: cosineSimilarity(q.Embedding, e.embedding), HasDense: true,
			})
		}
		if score, ok := s.bm25(queryTerms, e); ok {
			sparse = append(sparse, ScoredCandidate{Product: e.product, Sparse: score, HasSparse: true})
		}
	}

	dense = topN(dense, denseK, func(c ScoredCandidate) float64 { return c.Dense })
	sparse = topN(sparse, sparseK, func(c ScoredCandidate) float64 { return c.Sparse })

	byID := make(map[string]int, len(dense)+len(sparse))
	out := make([]ScoredCandidate, 0, len(dense)+len(sparse))
	for _, c := range dense {
		byID[c.Product.ID] = len(out)
		out = append(out, c)
	}
	for _, c := range sparse {
		if i, ok := byID[c.Product.ID]; ok {
			out[i].Sparse, out[i].HasSparse = c.Sparse, true
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// bm25 scores a document. ok is false when no query term matches, mirroring
// a full-text match predicate.
func (s *CatalogSource) bm25(queryTerms []string, e catalogEntry) (float64, bool) {
	score := 0.0
	matched := false
	docLen := float64(e.length)
	for _, term := range queryTerms {
		tf, ok := e.termFreq[term]
		if !ok {
			continue
		}
		matched = true
		numerator := float64(tf) * (bm25K1 + 1.0)
		denominator := float64(tf) + bm25K1*(1.0-bm25B+bm25B*(docLen/s.avgDocLen))
		score += s.idf[term] * (numerator / denominator)
	}
	return score, matched
}

func topN(cands []ScoredCandidate, n int, score func(ScoredCandidate) float64) []ScoredCandidate {
	if n <= 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		si, sj := score(cands[i]), score(cands[j])
		if si != sj {
			return si > sj
		}
		return cands[i].Product.ID < cands[j].Product.ID
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

func matchesFilters(p models.Product, f Filters) bool {
	if f.PriceMin != nil && (p.Price == nil || *p.Price < *f.PriceMin) {
		return false
	}
	if f.PriceMax != nil && (p.Price == nil || *p.Price > *f.PriceMax) {
		return false
	}
	if f.Currency != "" && p.Currency != f.Currency {
		return false
	}
	if f.Brand != "" && !containsFold(p.Brand, f.Brand) {
		return false
	}
	if f.Category != "" && !containsFold(strings.Join(p.Categories, "|"), f.Category) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func documentText(p models.Product) string {
	parts := []string{p.Title, p.Brand, p.Description, strings.Join(p.Categories, " ")}
	return strings.Join(parts, "\n")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// StableProductID derives a deterministic UUIDv5 from the identifying fields.
func StableProductID(title, brand string, categories []string) string {
	seed := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(title)),
		strings.ToLower(strings.TrimSpace(brand)),
		strings.ToLower(strings.Join(categories, "|")),
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}
