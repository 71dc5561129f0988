package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/krunaln/macrs-ecom-recommender/internal/agents"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/testutil"
)

type stubSelector struct {
	id    string
	err   error
	calls []SelectionRequest
}

func (s *stubSelector) Select(_ context.Context, req SelectionRequest) (string, error) {
	s.calls = append(s.calls, req)
	return s.id, s.err
}

func scenarioCandidates() []models.Candidate {
	return []models.Candidate{
		*testutil.Candidate(models.AgentChitchat, 0.2, testutil.Option("cand_chat1", "Nice choice!", nil)),
		*testutil.Candidate(models.AgentRecommend, 0.9, testutil.Option("cand_rec1", "Here are two shoes", nil, testutil.ShoeProducts()...)),
		*testutil.Candidate(models.AgentAsk, 0.4, testutil.Option("cand_ask1", "What size?", map[string]any{"missing": "size"})),
	}
}

func emptySnapshot(t *testing.T) models.Snapshot {
	return testutil.NewState(t, "planner", 5).Snapshot()
}

func TestBuildPool_FixedAgentOrder(t *testing.T) {
	pool := BuildPool(scenarioCandidates())
	require.Len(t, pool, 3)
	assert.Equal(t, "cand_ask1", pool[0].Option.CandidateID)
	assert.Equal(t, "cand_rec1", pool[1].Option.CandidateID)
	assert.Equal(t, "cand_chat1", pool[2].Option.CandidateID)
}

func TestBuildPool_SkipsMismatchedAct(t *testing.T) {
	bad := models.Candidate{AgentName: models.AgentAsk, Act: models.ActRecommend, Options: []models.CandidateOption{{CandidateID: "x"}}}
	assert.Empty(t, BuildPool([]models.Candidate{bad}))
}

func TestPlan_FallbackPicksHighestConfidence(t *testing.T) {
	for name, sel := range map[string]Selector{
		"failure": &stubSelector{err: errors.New("timeout")},
		"unknown": &stubSelector{id: "hallucinated"},
		"nil":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			d := New(sel).Plan(context.Background(), emptySnapshot(t), scenarioCandidates())
			assert.Equal(t, "cand_rec1", d.CandidateID)
			assert.Equal(t, models.ActRecommend, d.Act)
			assert.Equal(t, models.SelectionFallback, d.Source)
			assert.Equal(t, "Here are two shoes", d.Response)
		})
	}
}

func TestFallback_TiesUseAgentPriorityThenOrder(t *testing.T) {
	pool := BuildPool([]models.Candidate{
		*testutil.Candidate(models.AgentChitchat, 0.5, testutil.Option("c", "c", nil)),
		*testutil.Candidate(models.AgentRecommend, 0.5, testutil.Option("r", "r", nil)),
		*testutil.Candidate(models.AgentAsk, 0.5, testutil.Option("a1", "a1", nil), testutil.Option("a2", "a2", nil)),
	})
	assert.Equal(t, "a1", Fallback(pool).Option.CandidateID)
}

func TestPlan_FirstTurnScenarioSelectsAsk(t *testing.T) {
	cands := []models.Candidate{
		*testutil.Candidate(models.AgentAsk, 0.6, testutil.Option("cand_ask1", "What size do you wear?", map[string]any{"missing": "size"})),
		*testutil.Candidate(models.AgentRecommend, 0.8, testutil.Option("cand_rec1", "Two picks", nil, testutil.ShoeProducts()...)),
		*testutil.Candidate(models.AgentChitchat, 0.3, testutil.Option("cand_chat1", "Fun!", nil)),
	}
	d := New(RuleSelector{}).Plan(context.Background(), emptySnapshot(t), cands)
	assert.Equal(t, "cand_ask1", d.CandidateID)
	assert.Equal(t, models.SelectionCollaborator, d.Source)
	assert.Equal(t, "What size do you wear?", d.Response)
}

func TestPlan_CollaboratorReceivesContext(t *testing.T) {
	s := testutil.NewState(t, "ctx", 5)
	s.UserProfile["category"] = "shoes"
	s.ApplyReflection(models.ReflectionDelta{CorrectiveExperience: "avoid pricey items"})
	sel := &stubSelector{id: "cand_chat1"}

	d := New(sel, WithPreferRecommend(false)).Plan(context.Background(), s.Snapshot(), scenarioCandidates())
	assert.Equal(t, "cand_chat1", d.CandidateID)
	require.Len(t, sel.calls, 1)
	req := sel.calls[0]
	assert.Len(t, req.Pool, 3)
	assert.Equal(t, []string{"avoid pricey items"}, req.CorrectiveExperiences)
	assert.False(t, req.Sufficient)
}

func TestPlan_SufficiencyOverride(t *testing.T) {
	s := testutil.NewState(t, "suff", 5)
	s.UserProfile["category"] = "shoes"
	s.UserProfile["price_max"] = 100.0

	d := New(&stubSelector{id: "cand_ask1"}).Plan(context.Background(), s.Snapshot(), scenarioCandidates())
	assert.Equal(t, "cand_rec1", d.CandidateID)
	assert.Equal(t, models.SelectionSufficiency, d.Source)

	d = New(&stubSelector{id: "cand_ask1"}, WithPreferRecommend(false)).Plan(context.Background(), s.Snapshot(), scenarioCandidates())
	assert.Equal(t, "cand_ask1", d.CandidateID)
}

func TestPlan_EmptyPoolUsesBuiltInChitchat(t *testing.T) {
	d := New(&stubSelector{id: "x"}).Plan(context.Background(), emptySnapshot(t), nil)
	assert.Equal(t, models.ActChitchat, d.Act)
	assert.Equal(t, agents.DefaultChitchatResponse, d.Response)
	assert.Equal(t, models.SelectionDefault, d.Source)
}

func TestFilterRepeated(t *testing.T) {
	s := testutil.NewState(t, "rep", 5)
	require.NoError(t, s.Finalize("hi", models.PlannerDecision{
		Act: models.ActAsk, AgentName: models.AgentAsk, Response: "What category?",
		Option: testutil.Option("ask_category", "What category?", map[string]any{"missing": "category"}),
	}, time.Now()))

	pool := BuildPool([]models.Candidate{
		*testutil.Candidate(models.AgentAsk, 0.7,
			testutil.Option("ask_category", "What category?", map[string]any{"missing": "category"}),
			testutil.Option("ask_budget", "Budget?", map[string]any{"missing": "price_max"})),
		*testutil.Candidate(models.AgentChitchat, 0.4, testutil.Option("chat", "Sure", nil)),
	})
	filtered := FilterRepeated(pool, s.Snapshot())
	require.Len(t, filtered, 2)
	assert.Equal(t, "ask_budget", filtered[0].Option.CandidateID)
	assert.Equal(t, "chat", filtered[1].Option.CandidateID)
}

func TestFilterRepeated_RecommendNeedsNewProducts(t *testing.T) {
	s := testutil.NewState(t, "rep", 5)
	shoes := testutil.ShoeProducts()
	require.NoError(t, s.Finalize("shoes", models.PlannerDecision{
		Act: models.ActRecommend, AgentName: models.AgentRecommend, Response: "r",
		Option: testutil.Option("rec_primary", "r", nil, shoes...),
	}, time.Now()))

	pool := BuildPool([]models.Candidate{
		*testutil.Candidate(models.AgentRecommend, 0.9,
			testutil.Option("same", "again", nil, shoes[0]),
			testutil.Option("fresh", "new", nil, models.Product{ID: "boot-1"})),
	})
	filtered := FilterRepeated(pool, s.Snapshot())
	require.Len(t, filtered, 1)
	assert.Equal(t, "fresh", filtered[0].Option.CandidateID)
}

func TestPlan_AllRepeatedUsesBuiltInChitchat(t *testing.T) {
	s := testutil.NewState(t, "rep", 5)
	require.NoError(t, s.Finalize("hi", models.PlannerDecision{
		Act: models.ActAsk, AgentName: models.AgentAsk, Response: "q",
		Option: testutil.Option("ask_refine", "q", nil),
	}, time.Now()))
	cands := []models.Candidate{*testutil.Candidate(models.AgentAsk, 0.9, testutil.Option("ask_refine", "q", nil))}

	d := New(RuleSelector{}).Plan(context.Background(), s.Snapshot(), cands)
	assert.Equal(t, models.SelectionDefault, d.Source)
	assert.Equal(t, models.ActChitchat, d.Act)
}

func TestHasSufficientPreferences(t *testing.T) {
	assert.False(t, HasSufficientPreferences(nil))
	assert.False(t, HasSufficientPreferences(map[string]any{"category": "shoes"}))
	assert.False(t, HasSufficientPreferences(map[string]any{"brand": "a", "color": "red"}))
	assert.True(t, HasSufficientPreferences(map[string]any{"item": "lamp", "color": "red"}))
}

func TestPlan_ResponseIsVerbatimProperty(t *testing.T) {
	agentNames := []models.AgentName{models.AgentAsk, models.AgentRecommend, models.AgentChitchat}
	rapid.Check(t, func(t *rapid.T) {
		var cands []models.Candidate
		byID := map[string]string{}
		n := 0
		for _, agent := range agentNames {
			if rapid.Bool().Draw(t, "absent") {
				continue
			}
			k := rapid.IntRange(0, 3).Draw(t, "options")
			var opts []models.CandidateOption
			for i := 0; i < k; i++ {
				id := fmt.Sprintf("%s_%d", agent, n)
				n++
				resp := rapid.String().Draw(t, "response")
				byID[id] = resp
				opts = append(opts, models.CandidateOption{CandidateID: id, Response: resp})
			}
			cands = append(cands, models.Candidate{
				AgentName: agent, Act: agent.Act(),
				Confidence: rapid.Float64Range(0, 1).Draw(t, "confidence"),
				Options:    opts,
			})
		}
		pick := rapid.StringMatching(`[a-z]{0,3}_[0-9]`).Draw(t, "selector_id")

		s, _ := models.NewConversationState("prop", 5)
		d := New(&stubSelector{id: pick}).Plan(context.Background(), s.Snapshot(), cands)

		if d.Source == models.SelectionDefault {
			if len(byID) != 0 {
				t.Fatalf("default used with %d options available", len(byID))
			}
			return
		}
		want, ok := byID[d.CandidateID]
		if !ok {
			t.Fatalf("selected %q not in pool", d.CandidateID)
		}
		if d.Response != want {
			t.Fatalf("response altered: %q vs %q", d.Response, want)
		}
	})
}
