package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
)

var lowSignalReplies = map[string]struct{}{
	"no": {}, "nope": {}, "not sure": {}, "i dont know": {}, "i don't know": {},
	"maybe": {}, "ok": {}, "okay": {}, "yes": {}, "sure": {},
}

// Recommend proposes products grounded in a hybrid search.
type Recommend struct {
	search Searcher
	llm    StructuredGenerator
	topK   int
}

// RecommendOption configures the Recommend responder.
type RecommendOption func(*Recommend)

// WithRecommendTopK sets the number of products requested per search.
func WithRecommendTopK(k int) RecommendOption {
	return func(r *Recommend) {
		if k > 0 {
			r.topK = k
		}
	}
}

// NewRecommend creates the Recommend responder. llm may be nil.
func NewRecommend(search Searcher, llm StructuredGenerator, opts ...RecommendOption) *Recommend {
	r := &Recommend{search: search, llm: llm, topK: retrieval.DefaultTopK}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the agent name.
func (r *Recommend) Name() models.AgentName { return models.AgentRecommend }

// Respond searches for products and proposes a recommendation. It abstains
// when no products are available.
func (r *Recommend) Respond(ctx context.Context, snap models.Snapshot, utterance string) (*models.Candidate, error) {
	query := BuildQuery(utterance, snap.UserProfile)

	var products []models.Product
	if !(isLowSignal(utterance) && query == strings.TrimSpace(utterance)) {
		results, err := r.search.Search(ctx, retrieval.Query{
			Text:    query,
			K:       r.topK,
			Filters: FiltersFromProfile(snap.UserProfile),
		})
		if err != nil {
			return nil, fmt.Errorf("product search failed: %w", err)
		}
		for _, res := range results {
			products = append(products, res.Product)
		}
	}
	if len(products) == 0 && isLowSignal(utterance) {
		products = lastRecommended(snap)
	}
	if len(products) == 0 {
		slog.Debug("Recommend.Respond: no products, abstaining", "query", query)
		return nil, nil
	}

	metadata := map[string]any{"query": query, "result_count": len(products)}
	if r.llm != nil {
		var out llmOutput
		user := promptContext(snap, models.AgentRecommend, utterance) +
			"Products: " + mustJSON(productBrief(products)) + "\nReturn 1-2 candidates."
		err := r.llm.GenerateJSON(ctx, recommendSystemPrompt, user, &out)
		if err == nil && len(out.Candidates) > 0 {
			for i := range out.Candidates {
				if out.Candidates[i].CandidateID == "" {
					out.Candidates[i].CandidateID = fmt.Sprintf("rec_%d", i+1)
				}
				out.Candidates[i].Products = cloneProducts(products)
			}
			metadata["source"] = sourceLLM
			return &models.Candidate{
				AgentName:  models.AgentRecommend,
				Act:        models.ActRecommend,
				Confidence: clamp01(out.Confidence),
				Options:    out.Candidates,
				Metadata:   metadata,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Recommend.Respond: language model unavailable, using rules", "error", err)
	}

	best := 0.0
	for _, p := range products {
		best = max(best, p.Score)
	}
	metadata["source"] = sourceRules
	return &models.Candidate{
		AgentName:  models.AgentRecommend,
		Act:        models.ActRecommend,
		Confidence: clamp01(0.3 + 0.1*float64(len(products))),
		Options: []models.CandidateOption{{
			CandidateID: "rec_primary",
			Response:    FormatProducts(products),
			Score:       best,
			Products:    cloneProducts(products),
		}},
		Metadata: metadata,
	}, nil
}

// BuildQuery appends the profile's category and brand to the utterance.
func BuildQuery(utterance string, profile map[string]any) string {
	parts := []string{strings.TrimSpace(utterance)}
	for _, key := range []string{"category", "brand"} {
		if v := profileString(profile, key); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// FiltersFromProfile turns known preferences into search filters.
func FiltersFromProfile(profile map[string]any) retrieval.Filters {
	return retrieval.Filters{
		PriceMin: profileFloat(profile, "price_min"),
		PriceMax: profileFloat(profile, "price_max"),
		Currency: profileString(profile, "currency"),
		Brand:    profileString(profile, "brand"),
		Category: profileString(profile, "category"),
	}
}

// FormatProducts renders products as a numbered list.
func FormatProducts(products []models.Product) string {
	lines := []string{"Here are a few options you might like:"}
	for i, p := range products {
		price := "Price N/A"
		if p.Price != nil {
			price = strings.TrimSpace(fmt.Sprintf("%s %.2f", p.Currency, *p.Price))
		}
		brand := ""
		if p.Brand != "" {
			brand = p.Brand + " - "
		}
		lines = append(lines, fmt.Sprintf("%d. %s%s (%s)", i+1, brand, p.Title, price))
	}
	return strings.Join(lines, "\n")
}

func isLowSignal(utterance string) bool {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if len(text) < 3 {
		return true
	}
	_, ok := lowSignalReplies[text]
	return ok
}

// lastRecommended returns the products of the most recent recommendation.
func lastRecommended(snap models.Snapshot) []models.Product {
	if snap.LastSelection == nil || snap.LastSelection.Act != models.ActRecommend {
		return nil
	}
	return cloneProducts(snap.LastSelection.Option.Products)
}

type productSummary struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Brand    string   `json:"brand,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Score    float64  `json:"score"`
}

func productBrief(products []models.Product) []productSummary {
	out := make([]productSummary, 0, len(products))
	for _, p := range products {
		out = append(out, productSummary{ID: p.ID, Title: p.Title, Brand: p.Brand, Price: p.Price, Currency: p.Currency, Score: p.Score})
	}
	return out
}

func cloneProducts(products []models.Product) []models.Product {
	out := make([]models.Product, len(products))
	for i, p := range products {
		out[i] = p.Clone()
	}
	return out
}

func profileString(profile map[string]any, key string) string {
	v, ok := profile[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func profileFloat(profile map[string]any, key string) *float64 {
	var f float64
	switch v := profile[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimLeft(strings.TrimSpace(v), "$"), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
