package agents

import (
	"context"
	"log/slog"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// slotQuestion is a deterministic question for one missing preference.
type slotQuestion struct {
	id        string
	slot      string
	response  string
	score     float64
	rationale string
}

var slotQuestions = []slotQuestion{
	{"ask_category", "category", "What kind of product or category are you looking for?", 0.6, "Category is missing; increases retrieval precision."},
	{"ask_budget", "price_max", "Do you have a budget range in mind?", 0.55, "Budget helps filter candidates."},
	{"ask_brand", "brand", "Any preferred brand?", 0.5, "Brand preference can raise relevance."},
}

// Ask proposes questions that elicit missing preferences.
type Ask struct {
	llm StructuredGenerator
}

// NewAsk creates the Ask responder. llm may be nil.
func NewAsk(llm StructuredGenerator) *Ask {
	return &Ask{llm: llm}
}

// Name returns the agent name.
func (a *Ask) Name() models.AgentName { return models.AgentAsk }

// Respond proposes one or more ask options.
func (a *Ask) Respond(ctx context.Context, snap models.Snapshot, utterance string) (*models.Candidate, error) {
	if a.llm != nil {
		var out llmOutput
		err := a.llm.GenerateJSON(ctx, askSystemPrompt, promptContext(snap, models.AgentAsk, utterance)+"Return 1-3 candidates.", &out)
		if err == nil && len(out.Candidates) > 0 {
			return &models.Candidate{
				AgentName:  models.AgentAsk,
				Act:        models.ActAsk,
				Confidence: clamp01(out.Confidence),
				Options:    out.Candidates,
				Metadata:   map[string]any{"source": sourceLLM},
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Ask.Respond: language model unavailable, using rules", "error", err)
	}
	return a.rules(snap), nil
}

func (a *Ask) rules(snap models.Snapshot) *models.Candidate {
	var options []models.CandidateOption
	var missing []string
	for _, q := range slotQuestions {
		if snap.ProfileString(q.slot) != "" {
			continue
		}
		options = append(options, models.CandidateOption{
			CandidateID: q.id,
			Response:    q.response,
			Score:       q.score,
			Rationale:   q.rationale,
			Slots:       map[string]any{"missing": q.slot},
		})
		missing = append(missing, q.slot)
	}
	if len(options) == 0 {
		options = append(options, models.CandidateOption{
			CandidateID: "ask_refine",
			Response:    "Anything specific you want to prioritize (price, brand, or features)?",
			Score:       0.4,
			Rationale:   "No obvious missing slots; offer refinement.",
		})
	}
	return &models.Candidate{
		AgentName:  models.AgentAsk,
		Act:        models.ActAsk,
		Confidence: clamp01(0.4 + 0.1*float64(len(options))),
		Options:    options,
		Metadata:   map[string]any{"source": sourceRules, "missing_slots": missing},
	}
}

