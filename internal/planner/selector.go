package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

const (
	maxPromptProducts    = 5
	maxPromptDescription = 300
)

// ErrNoSelection is returned when a selector cannot name a candidate.
var ErrNoSelection = errors.New("no candidate selected")

// StructuredGenerator produces a JSON object from a system and user prompt.
type StructuredGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

const selectorSystemPrompt = `You are the Planner Agent for a multi-agent conversational recommender.
Goal: select exactly ONE candidate response (ask / recommend / chitchat) that best advances the dialogue.
Do NOT rewrite any response. Choose by candidate_id only.

Multi-step reasoning:
1) Review act history and avoid repeating the same act across multiple turns.
2) Assess preference sufficiency from user_profile + dialogue_history.
   - If sufficient, recommendation is appropriate and should be selected if a recommendation candidate exists.
   - If insufficient, prefer responses that increase information gain.
3) Consider engagement: choose a response that keeps the conversation natural and forward-moving.
4) Use corrective_experiences to avoid prior mistakes.

Respond with a single JSON object: {"selected_act": "...", "selected_candidate_id": "...", "notes": "..."}`

// LLMSelector asks a language model to choose a candidate.
type LLMSelector struct {
	llm StructuredGenerator
}

// NewLLMSelector creates a selector backed by llm.
func NewLLMSelector(llm StructuredGenerator) *LLMSelector {
	return &LLMSelector{llm: llm}
}

type selectorOutput struct {
	SelectedAct         string `json:"selected_act"`
	SelectedCandidateID string `json:"selected_candidate_id"`
	Notes               string `json:"notes"`
}

// Select implements Selector.
func (s *LLMSelector) Select(ctx context.Context, req SelectionRequest) (string, error) {
	var out selectorOutput
	if err := s.llm.GenerateJSON(ctx, selectorSystemPrompt, selectionPrompt(req), &out); err != nil {
		return "", err
	}
	if out.SelectedCandidateID == "" {
		return "", ErrNoSelection
	}
	slog.Debug("LLMSelector.Select", "candidate_id", out.SelectedCandidateID, "act", out.SelectedAct, "notes", out.Notes)
	return out.SelectedCandidateID, nil
}

type promptProduct struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Brand       string   `json:"brand,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Description string   `json:"description,omitempty"`
}

type promptCandidate struct {
	CandidateID string          `json:"candidate_id"`
	Act         models.Act      `json:"act"`
	AgentName   string          `json:"agent_name"`
	Response    string          `json:"response"`
	Slots       map[string]any  `json:"slots,omitempty"`
	Products    []promptProduct `json:"products,omitempty"`
}

func selectionPrompt(req SelectionRequest) string {
	candidates := make([]promptCandidate, 0, len(req.Pool))
	for _, e := range req.Pool {
		pc := promptCandidate{
			CandidateID: e.Option.CandidateID,
			Act:         e.Act,
			AgentName:   string(e.AgentName),
			Response:    e.Option.Response,
			Slots:       e.Option.Slots,
		}
		for i, p := range e.Option.Products {
			if i == maxPromptProducts {
				break
			}
			pc.Products = append(pc.Products, promptProduct{
				ID: p.ID, Title: p.Title, Brand: p.Brand, Price: p.Price, Currency: p.Currency,
				Categories: p.Categories, Description: truncate(p.Description, maxPromptDescription),
			})
		}
		candidates = append(candidates, pc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User profile: %s\n", toJSON(req.UserProfile))
	fmt.Fprintf(&b, "Browsing history: %s\n", toJSON(req.BrowsingHistory))
	fmt.Fprintf(&b, "Dialogue history: %s\n", toJSON(req.RecentDialogue))
	fmt.Fprintf(&b, "Act history: %s\n", toJSON(req.ActHistory))
	fmt.Fprintf(&b, "Corrective experiences: %s\n", toJSON(req.CorrectiveExperiences))
	fmt.Fprintf(&b, "Preference sufficiency: %t\n", req.Sufficient)
	fmt.Fprintf(&b, "Candidates: %s\n", toJSON(candidates))
	b.WriteString("Return selected_act and selected_candidate_id.")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// RuleSelector chooses deterministically: a recommendation with products when
// preferences are sufficient, otherwise the first question, then the first
// recommendation, then anything else.
type RuleSelector struct{}

// Select implements Selector.
func (RuleSelector) Select(_ context.Context, req SelectionRequest) (string, error) {
	if req.Sufficient {
		if e, ok := firstRecommendWithProducts(req.Pool); ok {
			return e.Option.CandidateID, nil
		}
	}
	for _, act := range []models.Act{models.ActAsk, models.ActRecommend, models.ActChitchat} {
		for _, e := range req.Pool {
			if e.Act == act {
				return e.Option.CandidateID, nil
			}
		}
	}
	return "", ErrNoSelection
}
