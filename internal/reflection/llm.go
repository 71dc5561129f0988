package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// StructuredGenerator produces a JSON object from a system and user prompt.
type StructuredGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

const extractorSystemPrompt = `You extract shopping preferences for an e-commerce assistant.
Only include preferences the user explicitly stated or confirmed in their latest message.
Never infer preferences from the assistant's earlier suggestions. When unsure, leave it out.
Use keys such as category, brand, price_min, price_max, currency, color, size.
Respond with a single JSON object: {"preferences": {"<key>": <value>}, "mentions": ["<item or attribute>"]}`

const detectorSystemPrompt = `You judge whether a user's reply rejects the products that were just recommended.
Respond with a single JSON object: {"failure": true|false, "reason": "..."}`

const advisorSystemPrompt = `A product recommendation was rejected by the user.
Write short strategy suggestions for the agents that should adjust (ask, recommend, chitchat) and one corrective
experience note telling the planner what to avoid next time. Omit agents that need no change.
Respond with a single JSON object: {"suggestions": {"ask": "...", "recommend": "...", "chitchat": "..."}, "corrective_experience": "..."}`

// LLMExtractor extracts preferences with a language model.
type LLMExtractor struct {
	llm StructuredGenerator
}

// NewLLMExtractor creates an extractor backed by llm.
func NewLLMExtractor(llm StructuredGenerator) *LLMExtractor {
	return &LLMExtractor{llm: llm}
}

// Extract implements PreferenceExtractor.
func (e *LLMExtractor) Extract(ctx context.Context, snap models.Snapshot, utterance string) (Extraction, error) {
	var out Extraction
	user := fmt.Sprintf("Known preferences: %s\nLatest user message: %s", toJSON(snap.UserProfile), utterance)
	if err := e.llm.GenerateJSON(ctx, extractorSystemPrompt, user, &out); err != nil {
		return Extraction{}, err
	}
	return out, nil
}

// LLMDetector classifies recommendation failures with a language model.
type LLMDetector struct {
	llm StructuredGenerator
}

// NewLLMDetector creates a detector backed by llm.
func NewLLMDetector(llm StructuredGenerator) *LLMDetector {
	return &LLMDetector{llm: llm}
}

// DetectFailure implements FailureDetector.
func (d *LLMDetector) DetectFailure(ctx context.Context, prior models.Selection, reply string) (bool, error) {
	var out struct {
		Failure bool   `json:"failure"`
		Reason  string `json:"reason"`
	}
	user := fmt.Sprintf("Recommendation: %s\nProducts: %s\nUser reply: %s",
		prior.Option.Response, toJSON(productTitles(prior.Option.Products)), reply)
	if err := d.llm.GenerateJSON(ctx, detectorSystemPrompt, user, &out); err != nil {
		return false, err
	}
	return out.Failure, nil
}

// LLMAdvisor generates strategy suggestions with a language model.
type LLMAdvisor struct {
	llm StructuredGenerator
}

// NewLLMAdvisor creates an advisor backed by llm.
func NewLLMAdvisor(llm StructuredGenerator) *LLMAdvisor {
	return &LLMAdvisor{llm: llm}
}

// Advise implements StrategyAdvisor.
func (a *LLMAdvisor) Advise(ctx context.Context, snap models.Snapshot, prior models.Selection, reply string) (Advice, error) {
	var out Advice
	var b strings.Builder
	fmt.Fprintf(&b, "Rejected recommendation: %s\n", prior.Option.Response)
	fmt.Fprintf(&b, "Products: %s\n", toJSON(productTitles(prior.Option.Products)))
	fmt.Fprintf(&b, "User reply: %s\n", reply)
	fmt.Fprintf(&b, "Known preferences: %s\n", toJSON(snap.UserProfile))
	fmt.Fprintf(&b, "Current suggestions: %s\n", toJSON(snap.AgentSuggestions))
	fmt.Fprintf(&b, "Corrective experiences: %s", toJSON(snap.CorrectiveExperiences))
	if err := a.llm.GenerateJSON(ctx, advisorSystemPrompt, b.String(), &out); err != nil {
		return Advice{}, err
	}
	return out, nil
}

func productTitles(products []models.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.Title)
	}
	return out
}
