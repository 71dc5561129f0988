package flow

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
	"github.com/krunaln/macrs-ecom-recommender/internal/planner"
	"github.com/krunaln/macrs-ecom-recommender/internal/reflection"
	"github.com/krunaln/macrs-ecom-recommender/internal/testutil"
)

type fixedSelector struct {
	id  string
	err error
}

func (s fixedSelector) Select(context.Context, planner.SelectionRequest) (string, error) {
	return s.id, s.err
}

func newOrchestrator(responders []agents.Responder, sel planner.Selector, det reflection.FailureDetector, opts ...OrchestratorOption) *Orchestrator {
	engine := reflection.NewEngine(reflection.NewRuleExtractor(nil), det, reflection.RuleAdvisor{})
	return NewOrchestrator(
		NewGenerator(responders, WithResponderTimeout(100*time.Millisecond)),
		engine,
		planner.New(sel),
		opts...,
	)
}

func TestRunTurn_FirstTurnSkipsReflection(t *testing.T) {
	ask, rec, chit := threeResponders()
	det := &testutil.StubDetector{Failure: true}
	var events []PhaseEvent
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{id: "cand_ask1"}, det,
		WithPhaseObserver(PhaseObserverFunc(func(e PhaseEvent) { events = append(events, e) })))

	state := testutil.NewState(t, "s1", 3)
	res, err := o.RunTurn(context.Background(), state, "I want running shoes under $100")
	require.NoError(t, err)

	assert.False(t, res.Reflected)
	assert.Equal(t, []models.Phase{models.PhaseGenerating, models.PhasePlanning, models.PhaseFinalizing, models.PhaseAwaitingInput}, res.Phases)
	require.Len(t, events, 4)
	assert.Equal(t, models.PhaseGenerating, events[0].Phase)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, 0, det.Calls)
	// no reflection on the first turn, so nothing is extracted yet
	assert.Empty(t, state.UserProfile)

	assert.Equal(t, "What is your budget?", res.Response)
	assert.Equal(t, "cand_ask1", res.Decision.CandidateID)
	assert.Equal(t, 1, res.TurnID)
	assert.Equal(t, []models.Act{models.ActAsk}, state.ActHistory)
	require.Len(t, state.DialogueHistory, 1)
	assert.Equal(t, "What is your budget?", state.DialogueHistory[0].Text)
	assert.Equal(t, "I want running shoes under $100", state.LastUserMessage)
}

func TestRunTurn_SecondTurnReflects(t *testing.T) {
	ask, rec, chit := threeResponders()
	det := &testutil.StubDetector{Failure: true}
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{id: "cand_rec1"}, det)

	state := testutil.NewState(t, "s1", 3)
	_, err := o.RunTurn(context.Background(), state, "show me something")
	require.NoError(t, err)
	require.Equal(t, models.ActRecommend, state.ActHistory[0])

	res, err := o.RunTurn(context.Background(), state, "no, I want shoes under $100")
	require.NoError(t, err)

	assert.True(t, res.Reflected)
	assert.Equal(t, models.PhaseReflecting, res.Phases[0])
	assert.Equal(t, 1, det.Calls)
	assert.Equal(t, 100.0, state.UserProfile["price_max"])
	assert.Len(t, state.CorrectiveExperiences.Items(), 1)
	assert.Contains(t, state.AgentSuggestions[models.AgentRecommend], "Trail Runner")
	assert.Len(t, state.DialogueHistory, 2)
	assert.Len(t, state.ActHistory, 2)
	assert.Equal(t, 2, state.TurnID)
}

func TestRunTurn_AllRespondersFail(t *testing.T) {
	ask, rec, chit := threeResponders()
	ask.Err = errors.New("down")
	rec.Panic = "boom"
	chit.Err = errors.New("down")
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{id: "cand_ask1"}, nil)

	state := testutil.NewState(t, "s1", 3)
	res, err := o.RunTurn(context.Background(), state, "hello")
	require.NoError(t, err)
	assert.Equal(t, agents.DefaultChitchatResponse, res.Response)
	assert.Equal(t, models.ActChitchat, res.Decision.Act)
	assert.Equal(t, models.SelectionDefault, res.Decision.Source)
	assert.Len(t, state.ActHistory, 1)
}

func TestRunTurn_SelectorFailureFallsBack(t *testing.T) {
	ask, rec, chit := threeResponders()
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{err: errors.New("llm down")}, nil)

	res, err := o.RunTurn(context.Background(), testutil.NewState(t, "s1", 3), "hello")
	require.NoError(t, err)
	assert.Equal(t, "cand_rec1", res.Decision.CandidateID)
	assert.Equal(t, models.SelectionFallback, res.Decision.Source)
}

func TestRunTurn_RefusesCorruptedState(t *testing.T) {
	ask, rec, chit := threeResponders()
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{id: "cand_ask1"}, nil)

	state := testutil.NewState(t, "s1", 3)
	state.ActHistory = append(state.ActHistory, models.ActAsk)
	_, err := o.RunTurn(context.Background(), state, "hello")
	assert.ErrorIs(t, err, models.ErrStateCorrupted)
	assert.Equal(t, 0, ask.Calls())
	assert.Empty(t, state.DialogueHistory)
}

func TestRunTurn_RejectsEmptyUtterance(t *testing.T) {
	o := newOrchestrator(nil, fixedSelector{}, nil)
	_, err := o.RunTurn(context.Background(), testutil.NewState(t, "s1", 3), "   ")
	assert.ErrorIs(t, err, models.ErrEmptyMessage)
}

func TestRunTurn_CancelledContext(t *testing.T) {
	ask, rec, chit := threeResponders()
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{id: "cand_ask1"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := testutil.NewState(t, "s1", 3)
	_, err := o.RunTurn(ctx, state, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, state.ActHistory)
}

func TestRunTurn_UsesClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ask, rec, chit := threeResponders()
	o := newOrchestrator([]agents.Responder{ask, rec, chit}, fixedSelector{id: "cand_chit1"}, nil,
		WithClock(func() time.Time { return at }))
	state := testutil.NewState(t, "s1", 3)
	_, err := o.RunTurn(context.Background(), state, "hello")
	require.NoError(t, err)
	assert.Equal(t, at, state.DialogueHistory[0].Timestamp)
}

func TestRunTurn_ResponseIsSelectedOptionVerbatim(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		turns := rapid.IntRange(1, 6).Draw(rt, "turns")
		state, err := models.NewConversationState("prop", 2)
		if err != nil {
			rt.Fatal(err)
		}
		for i := 0; i < turns; i++ {
			askResp := rapid.StringMatching(`[a-z ]{1,20}\?`).Draw(rt, "ask")
			recResp := rapid.StringMatching(`[a-z ]{1,20}\.`).Draw(rt, "rec")
			failAsk := rapid.Bool().Draw(rt, "failAsk")
			pick := rapid.SampledFrom([]string{"a", "r", "unknown"}).Draw(rt, "pick")

			ask := &testutil.StubResponder{Agent: models.AgentAsk,
				Candidate: testutil.Candidate(models.AgentAsk, rapid.Float64Range(0, 1).Draw(rt, "askConf"), testutil.Option("a", askResp, map[string]any{"turn": i}))}
			if failAsk {
				ask.Err = errors.New("down")
			}
			rec := &testutil.StubResponder{Agent: models.AgentRecommend,
				Candidate: testutil.Candidate(models.AgentRecommend, rapid.Float64Range(0, 1).Draw(rt, "recConf"),
					testutil.Option("r", recResp, nil, models.Product{ID: fmt.Sprintf("p%d", i), Title: "T"}))}

			o := NewOrchestrator(NewGenerator([]agents.Responder{ask, rec}), nil, planner.New(fixedSelector{id: pick}))
			res, err := o.RunTurn(context.Background(), state, "hello")
			if err != nil {
				rt.Fatal(err)
			}
			allowed := map[string]bool{recResp: true, agents.DefaultChitchatResponse: true}
			if !failAsk {
				allowed[askResp] = true
			}
			if !allowed[res.Response] {
				rt.Fatalf("response %q is not one of the candidate responses", res.Response)
			}
			if res.Response != res.Decision.Option.Response {
				rt.Fatalf("response %q differs from selected option %q", res.Response, res.Decision.Option.Response)
			}
			if len(state.DialogueHistory) != len(state.ActHistory) || len(state.ActHistory) != i+1 {
				rt.Fatalf("history lengths %d/%d after %d turns", len(state.DialogueHistory), len(state.ActHistory), i+1)
			}
		}
	})
}
