// Package agents implements the Ask, Recommend and Chit-chat responders. Each
// responder proposes candidate turns for exactly one dialogue act, using a
// language model when one is configured and deterministic rules otherwise.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
)

// Responder proposes zero or one candidate for a turn. A nil candidate with a
// nil error means the responder abstains.
type Responder interface {
	Name() models.AgentName
	Respond(ctx context.Context, snap models.Snapshot, utterance string) (*models.Candidate, error)
}

// StructuredGenerator produces a JSON object from a system and user prompt.
type StructuredGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error
}

// Searcher is the product search interface consumed by the Recommend responder.
type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) ([]models.RetrievalResult, error)
}

const (
	sourceLLM   = "llm"
	sourceRules = "rules"

	historyWindow = 5
)

// llmOutput is the structured output requested from the language model.
type llmOutput struct {
	Confidence float64                  `json:"confidence"`
	Candidates []models.CandidateOption `json:"candidates"`
}

// promptContext renders the state fields shared by every responder prompt.
func promptContext(snap models.Snapshot, agent models.AgentName, utterance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dialogue history: %s\n", mustJSON(dialogueBrief(snap.RecentDialogue(historyWindow))))
	fmt.Fprintf(&b, "User message: %s\n", utterance)
	fmt.Fprintf(&b, "Known preferences: %s\n", mustJSON(snap.UserProfile))
	fmt.Fprintf(&b, "Browsing history: %s\n", mustJSON(snap.BrowsingHistory))
	fmt.Fprintf(&b, "Strategy suggestions: %s\n", snap.AgentSuggestions[agent])
	return b.String()
}

type turnBrief struct {
	User   string     `json:"user,omitempty"`
	System string     `json:"system"`
	Act    models.Act `json:"act"`
}

func dialogueBrief(records []models.TurnRecord) []turnBrief {
	out := make([]turnBrief, 0, len(records))
	for _, r := range records {
		out = append(out, turnBrief{User: r.UserText, System: r.Text, Act: r.Act})
	}
	return out
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
