package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// Reflector computes the memory update for a new utterance.
type Reflector interface {
	Reflect(ctx context.Context, snap models.Snapshot, utterance string) models.ReflectionDelta
}

// TurnPlanner selects exactly one option from the pooled candidates.
type TurnPlanner interface {
	Plan(ctx context.Context, snap models.Snapshot, candidates []models.Candidate) models.PlannerDecision
}

// PhaseEvent reports a transition of the turn state machine.
type PhaseEvent struct {
	SessionID string         `json:"session_id"`
	TurnID    int            `json:"turn_id"`
	Phase     models.Phase   `json:"phase"`
	At        time.Time      `json:"at"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// PhaseObserver receives phase transitions in order.
type PhaseObserver interface {
	OnPhase(PhaseEvent)
}

// PhaseObserverFunc adapts a function to PhaseObserver.
type PhaseObserverFunc func(PhaseEvent)

func (f PhaseObserverFunc) OnPhase(e PhaseEvent) { f(e) }

// TurnResult describes one completed turn.
type TurnResult struct {
	SessionID  string                 `json:"session_id"`
	TurnID     int                    `json:"turn_id"`
	Response   string                 `json:"response"`
	Decision   models.PlannerDecision `json:"decision"`
	Reflected  bool                   `json:"reflected"`
	Reflection models.ReflectionDelta `json:"reflection"`
	Responders []ResponderResult      `json:"responders"`
	Candidates []models.Candidate     `json:"candidates"`
	Phases     []models.Phase         `json:"phases"`
}

// Orchestrator drives AWAITING_INPUT → REFLECTING → GENERATING → PLANNING →
// FINALIZING → AWAITING_INPUT for one conversation state.
type Orchestrator struct {
	generator *Generator
	reflector Reflector
	planner   TurnPlanner
	observer  PhaseObserver
	now       func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPhaseObserver registers an observer for every phase transition.
func WithPhaseObserver(o PhaseObserver) OrchestratorOption {
	return func(orch *Orchestrator) {
		orch.observer = o
	}
}

// WithClock overrides the time source used for turn timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(orch *Orchestrator) {
		orch.now = now
	}
}

// NewOrchestrator wires the turn pipeline. A nil reflector disables reflection.
func NewOrchestrator(generator *Generator, reflector Reflector, planner TurnPlanner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		generator: generator,
		reflector: reflector,
		planner:   planner,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTurn processes one user utterance against state. The state is mutated
// in place: reflection updates are applied during REFLECTING and the
// histories grow by one record during FINALIZING. A corrupted state is
// refused before any mutation.
func (o *Orchestrator) RunTurn(ctx context.Context, state *models.ConversationState, utterance string) (*TurnResult, error) {
	if state == nil {
		return nil, fmt.Errorf("nil conversation state")
	}
	utterance = strings.TrimSpace(utterance)
	if err := (models.TurnRequest{Message: utterance}).Validate(); err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		slog.Error("Orchestrator.RunTurn: refusing corrupted state", "session_id", state.SessionID, "error", err)
		metrics.TurnsTotal.WithLabelValues("", "error").Inc()
		return nil, err
	}

	result := &TurnResult{SessionID: state.SessionID}
	slog.Debug("Orchestrator.RunTurn: turn started", "session_id", state.SessionID, "turn_id", state.TurnID)

	if !state.IsFirstTurn() && o.reflector != nil {
		start := o.enter(result, state, models.PhaseReflecting, nil)
		delta := o.reflector.Reflect(ctx, state.Snapshot(), utterance)
		if dropped, evicted := state.ApplyReflection(delta); evicted {
			metrics.CorrectiveEvictions.Inc()
			slog.Debug("Orchestrator.RunTurn: corrective experience evicted", "session_id", state.SessionID, "dropped", dropped)
		}
		result.Reflected = true
		result.Reflection = delta
		metrics.ObservePhase(string(models.PhaseReflecting), start)
	}

	// Responders and the planner share one post-reflection snapshot.
	snap := state.Snapshot()

	start := o.enter(result, state, models.PhaseGenerating, nil)
	result.Responders = o.generator.Generate(ctx, snap, utterance)
	result.Candidates = Candidates(result.Responders)
	metrics.ObservePhase(string(models.PhaseGenerating), start)

	if err := ctx.Err(); err != nil {
		metrics.TurnsTotal.WithLabelValues("", "error").Inc()
		return nil, fmt.Errorf("turn cancelled: %w", err)
	}

	start = o.enter(result, state, models.PhasePlanning, map[string]any{"candidates": len(result.Candidates)})
	decision := o.planner.Plan(ctx, snap, result.Candidates)
	metrics.ObservePhase(string(models.PhasePlanning), start)

	start = o.enter(result, state, models.PhaseFinalizing, map[string]any{
		"candidate_id": decision.CandidateID,
		"act":          decision.Act,
		"source":       decision.Source,
	})
	if err := state.Finalize(utterance, decision, o.now()); err != nil {
		slog.Error("Orchestrator.RunTurn: finalize failed", "session_id", state.SessionID, "error", err)
		metrics.TurnsTotal.WithLabelValues(string(decision.Act), "error").Inc()
		return nil, err
	}
	metrics.ObservePhase(string(models.PhaseFinalizing), start)

	result.TurnID = state.TurnID
	result.Decision = decision
	result.Response = decision.Response
	o.enter(result, state, models.PhaseAwaitingInput, nil)

	metrics.TurnsTotal.WithLabelValues(string(decision.Act), "success").Inc()
	slog.Info("Orchestrator.RunTurn: turn completed", "session_id", state.SessionID, "turn_id", state.TurnID,
		"act", decision.Act, "agent", decision.AgentName, "candidate_id", decision.CandidateID, "source", decision.Source)
	return result, nil
}

func (o *Orchestrator) enter(result *TurnResult, state *models.ConversationState, phase models.Phase, detail map[string]any) time.Time {
	at := o.now()
	result.Phases = append(result.Phases, phase)
	if o.observer != nil {
		o.observer.OnPhase(PhaseEvent{
			SessionID: state.SessionID,
			TurnID:    state.TurnID,
			Phase:     phase,
			At:        at,
			Detail:    detail,
		})
	}
	return time.Now()
}
