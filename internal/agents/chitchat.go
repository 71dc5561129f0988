package agents

import (
	"context"
	"log/slog"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// DefaultChitchatResponse is the deterministic chit-chat reply.
const DefaultChitchatResponse = "Happy to help. If you tell me a bit more about what you like, I can narrow it down quickly."

// Chitchat keeps the conversation going without eliciting or recommending.
type Chitchat struct {
	llm StructuredGenerator
}

// NewChitchat creates the Chit-chat responder. llm may be nil.
func NewChitchat(llm StructuredGenerator) *Chitchat {
	return &Chitchat{llm: llm}
}

// Name returns the agent name.
func (c *Chitchat) Name() models.AgentName { return models.AgentChitchat }

// Respond proposes a single engaging reply.
func (c *Chitchat) Respond(ctx context.Context, snap models.Snapshot, utterance string) (*models.Candidate, error) {
	if c.llm != nil {
		var out llmOutput
		err := c.llm.GenerateJSON(ctx, chitchatSystemPrompt, promptContext(snap, models.AgentChitchat, utterance)+"Return 1 candidate.", &out)
		if err == nil && len(out.Candidates) > 0 {
			return &models.Candidate{
				AgentName:  models.AgentChitchat,
				Act:        models.ActChitchat,
				Confidence: clamp01(out.Confidence),
				Options:    out.Candidates[:1],
				Metadata:   map[string]any{"source": sourceLLM},
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Chitchat.Respond: language model unavailable, using rules", "error", err)
	}
	return &models.Candidate{
		AgentName:  models.AgentChitchat,
		Act:        models.ActChitchat,
		Confidence: 0.4,
		Options:    []models.CandidateOption{DefaultChitchatOption()},
		Metadata:   map[string]any{"source": sourceRules},
	}, nil
}

// DefaultChitchatOption returns the built-in chit-chat option.
func DefaultChitchatOption() models.CandidateOption {
	return models.CandidateOption{
		CandidateID: "chitchat_default",
		Response:    DefaultChitchatResponse,
		Score:       0.3,
		Rationale:   "Maintains engagement and invites preference signals.",
	}
}
