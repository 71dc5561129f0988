package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/testutil"
)

func snapshot(t *testing.T, profile map[string]any) models.Snapshot {
	t.Helper()
	s := testutil.NewState(t, "agents", 5)
	for k, v := range profile {
		s.UserProfile[k] = v
	}
	return s.Snapshot()
}

func TestAsk_RulesAskForMissingSlots(t *testing.T) {
	cand, err := NewAsk(nil).Respond(context.Background(), snapshot(t, map[string]any{"brand": "acme"}), "hi")
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, models.ActAsk, cand.Act)
	require.Len(t, cand.Options, 2)
	assert.Equal(t, "ask_category", cand.Options[0].CandidateID)
	assert.Equal(t, "ask_budget", cand.Options[1].CandidateID)
	assert.Equal(t, "price_max", cand.Options[1].Slots["missing"])
	assert.InDelta(t, 0.6, cand.Confidence, 1e-9)
	assert.Equal(t, []string{"category", "price_max"}, cand.Metadata["missing_slots"])
}

func TestAsk_RulesRefineWhenComplete(t *testing.T) {
	cand, err := NewAsk(nil).Respond(context.Background(),
		snapshot(t, map[string]any{"brand": "acme", "category": "shoes", "price_max": 100.0}), "hi")
	require.NoError(t, err)
	require.Len(t, cand.Options, 1)
	assert.Equal(t, "ask_refine", cand.Options[0].CandidateID)
	assert.InDelta(t, 0.5, cand.Confidence, 1e-9)
}

func TestAsk_LLMPath(t *testing.T) {
	llm := testutil.StaticLLM(`{"confidence": 1.7, "candidates": [{"candidate_id": "q1", "response": "What size?", "slots": {"missing": "size"}}]}`)
	cand, err := NewAsk(llm).Respond(context.Background(), snapshot(t, nil), "running shoes")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cand.Confidence)
	assert.Equal(t, "What size?", cand.Options[0].Response)
	assert.Equal(t, "llm", cand.Metadata["source"])
	require.Len(t, llm.Calls(), 1)
	assert.Contains(t, llm.Calls()[0], "User message: running shoes")
}

func TestAsk_LLMFailureFallsBackToRules(t *testing.T) {
	cand, err := NewAsk(testutil.FailingLLM(errors.New("rate limited"))).Respond(context.Background(), snapshot(t, nil), "x")
	require.NoError(t, err)
	assert.Equal(t, "rules", cand.Metadata["source"])
	assert.Len(t, cand.Options, 3)
}

func TestAsk_CancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAsk(testutil.StaticLLM(`{}`)).Respond(ctx, snapshot(t, nil), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecommend_RulesFormatProducts(t *testing.T) {
	search := testutil.SearcherFor(testutil.ShoeProducts()...)
	profile := map[string]any{"category": "shoes", "price_max": "100", "brand": "Acme"}
	cand, err := NewRecommend(search, nil, WithRecommendTopK(3)).Respond(context.Background(), snapshot(t, profile), "running")
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, models.ActRecommend, cand.Act)
	require.Len(t, cand.Options, 1)
	opt := cand.Options[0]
	assert.Equal(t, "rec_primary", opt.CandidateID)
	assert.Equal(t, []string{"shoe-1", "shoe-2"}, opt.ProductIDs())
	assert.Equal(t, "Here are a few options you might like:\n1. Acme - Trail Runner (USD 89.00)\n2. Zoom - Road Runner (USD 95.00)", opt.Response)
	assert.InDelta(t, 0.5, cand.Confidence, 1e-9)
	assert.InDelta(t, 0.9, opt.Score, 1e-9)

	queries := search.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "running shoes Acme", queries[0].Text)
	assert.Equal(t, 3, queries[0].K)
	require.NotNil(t, queries[0].Filters.PriceMax)
	assert.Equal(t, 100.0, *queries[0].Filters.PriceMax)
	assert.Equal(t, "Acme", queries[0].Filters.Brand)
}

func TestRecommend_AbstainsWithoutProducts(t *testing.T) {
	cand, err := NewRecommend(&testutil.StubSearcher{}, nil).Respond(context.Background(), snapshot(t, nil), "lamps")
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestRecommend_SearchErrorIsFailure(t *testing.T) {
	_, err := NewRecommend(&testutil.StubSearcher{Err: errors.New("db down")}, nil).Respond(context.Background(), snapshot(t, nil), "lamps")
	assert.Error(t, err)
}

func TestRecommend_ReusesLastRecommendationOnLowSignal(t *testing.T) {
	s := testutil.NewState(t, "reuse", 5)
	products := testutil.ShoeProducts()
	require.NoError(t, s.Finalize("shoes", models.PlannerDecision{
		Act: models.ActRecommend, AgentName: models.AgentRecommend, Response: "r",
		Option: testutil.Option("rec_primary", "r", nil, products...),
	}, time.Now()))

	search := &testutil.StubSearcher{}
	cand, err := NewRecommend(search, nil).Respond(context.Background(), s.Snapshot(), "ok")
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Empty(t, search.Queries())
	assert.Equal(t, []string{"shoe-1", "shoe-2"}, cand.Options[0].ProductIDs())
}

func TestRecommend_EmptySearchDoesNotReuseOnSubstantiveReply(t *testing.T) {
	s := testutil.NewState(t, "reuse", 5)
	require.NoError(t, s.Finalize("shoes", models.PlannerDecision{
		Act: models.ActRecommend, AgentName: models.AgentRecommend, Response: "r",
		Option: testutil.Option("rec_primary", "r", nil, testutil.ShoeProducts()...),
	}, time.Now()))

	search := &testutil.StubSearcher{}
	cand, err := NewRecommend(search, nil).Respond(context.Background(), s.Snapshot(), "something waterproof for hiking")
	require.NoError(t, err)
	assert.Nil(t, cand)
	assert.Len(t, search.Queries(), 1)
}

func TestRecommend_LLMPathAttachesSearchProducts(t *testing.T) {
	llm := testutil.StaticLLM(`{"confidence": 0.8, "candidates": [{"response": "Try the Trail Runner.", "products": [{"id": "invented"}]}]}`)
	cand, err := NewRecommend(testutil.SearcherFor(testutil.ShoeProducts()...), llm).Respond(context.Background(), snapshot(t, nil), "shoes")
	require.NoError(t, err)
	require.Len(t, cand.Options, 1)
	assert.Equal(t, "rec_1", cand.Options[0].CandidateID)
	assert.Equal(t, []string{"shoe-1", "shoe-2"}, cand.Options[0].ProductIDs())
	assert.True(t, strings.Contains(llm.Calls()[0], "Trail Runner"))
}

func TestChitchat(t *testing.T) {
	cand, err := NewChitchat(nil).Respond(context.Background(), snapshot(t, nil), "hello")
	require.NoError(t, err)
	assert.Equal(t, models.ActChitchat, cand.Act)
	assert.Equal(t, DefaultChitchatResponse, cand.Options[0].Response)
	assert.Equal(t, 0.4, cand.Confidence)

	llm := testutil.StaticLLM(`{"confidence": 0.3, "candidates": [{"candidate_id": "c1", "response": "Hi!"}, {"candidate_id": "c2", "response": "Hey"}]}`)
	cand, err = NewChitchat(llm).Respond(context.Background(), snapshot(t, nil), "hello")
	require.NoError(t, err)
	require.Len(t, cand.Options, 1)
	assert.Equal(t, "Hi!", cand.Options[0].Response)
}

func TestFormatProductsWithoutPrice(t *testing.T) {
	out := FormatProducts([]models.Product{{Title: "Mystery Box"}})
	assert.Equal(t, "Here are a few options you might like:\n1. Mystery Box (Price N/A)", out)
}

func TestFiltersFromProfile(t *testing.T) {
	f := FiltersFromProfile(map[string]any{"price_min": "$20", "price_max": 80.0, "currency": "EUR", "category": "bags"})
	require.NotNil(t, f.PriceMin)
	assert.Equal(t, 20.0, *f.PriceMin)
	assert.Equal(t, 80.0, *f.PriceMax)
	assert.Equal(t, "EUR", f.Currency)
	assert.Equal(t, "bags", f.Category)
	assert.Nil(t, FiltersFromProfile(map[string]any{"price_max": "cheap"}).PriceMax)
}
