// Package flow runs the per-turn pipeline: responder fan-out, the turn state
// machine, and the session service that persists state between turns.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/krunaln/macrs-ecom-recommender/internal/agents"
	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// DefaultResponderTimeout bounds each responder call.
const DefaultResponderTimeout = 20 * time.Second

// Outcome classifies one responder invocation.
type Outcome string

const (
	OutcomeCandidate Outcome = "candidate"
	OutcomeAbstain   Outcome = "abstain"
	OutcomeError     Outcome = "error"
	OutcomeTimeout   Outcome = "timeout"
	OutcomePanic     Outcome = "panic"
	OutcomeInvalid   Outcome = "invalid"
)

// ResponderResult is the joined result of one responder. Candidate is nil for
// every outcome other than OutcomeCandidate.
type ResponderResult struct {
	Agent     models.AgentName  `json:"agent"`
	Outcome   Outcome           `json:"outcome"`
	Candidate *models.Candidate `json:"candidate,omitempty"`
	Err       error             `json:"-"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// Generator fans a turn out to the responders and joins their results.
type Generator struct {
	responders []agents.Responder
	timeout    time.Duration
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithResponderTimeout sets the per-call timeout. Non-positive values keep the default.
func WithResponderTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGenerator creates a generator over the given responders.
func NewGenerator(responders []agents.Responder, opts ...GeneratorOption) *Generator {
	g := &Generator{
		responders: slices.Clone(responders),
		timeout:    DefaultResponderTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate invokes every responder exactly once with the same snapshot and
// waits for all of them. Failures are captured per responder; Generate itself
// never fails. Results are ordered by agent priority.
func (g *Generator) Generate(ctx context.Context, snap models.Snapshot, utterance string) []ResponderResult {
	results := make([]ResponderResult, len(g.responders))
	var eg errgroup.Group
	for i, r := range g.responders {
		eg.Go(func() error {
			results[i] = g.invoke(ctx, r, snap, utterance)
			return nil
		})
	}
	_ = eg.Wait()

	slices.SortStableFunc(results, func(a, b ResponderResult) int {
		return a.Agent.Priority() - b.Agent.Priority()
	})
	for _, res := range results {
		metrics.ResponderResults.WithLabelValues(string(res.Agent), string(res.Outcome)).Inc()
	}
	return results
}

type callResult struct {
	cand     *models.Candidate
	err      error
	panicked bool
}

func (g *Generator) invoke(ctx context.Context, r agents.Responder, snap models.Snapshot, utterance string) ResponderResult {
	agent := r.Name()
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("responder panic: %v", p), panicked: true}
			}
		}()
		cand, err := r.Respond(callCtx, snap, utterance)
		done <- callResult{cand: cand, err: err}
	}()

	res := ResponderResult{Agent: agent}
	select {
	case cr := <-done:
		switch {
		case cr.panicked:
			res.Outcome, res.Err = OutcomePanic, cr.err
		case cr.err != nil && errors.Is(cr.err, context.DeadlineExceeded) && ctx.Err() == nil:
			res.Outcome, res.Err = OutcomeTimeout, cr.err
		case cr.err != nil:
			res.Outcome, res.Err = OutcomeError, cr.err
		default:
			res.Candidate, res.Outcome = normalizeCandidate(agent, cr.cand)
		}
	case <-callCtx.Done():
		res.Err = callCtx.Err()
		res.Outcome = OutcomeError
		if ctx.Err() == nil {
			res.Outcome = OutcomeTimeout
		}
	}
	res.Elapsed = time.Since(start)

	switch res.Outcome {
	case OutcomeCandidate, OutcomeAbstain:
		slog.Debug("Generator.invoke: responder finished", "agent", agent, "outcome", res.Outcome, "elapsed", res.Elapsed)
	default:
		slog.Warn("Generator.invoke: responder failed", "agent", agent, "outcome", res.Outcome, "error", res.Err, "elapsed", res.Elapsed)
	}
	return res
}

// normalizeCandidate copies a responder's candidate and checks it against the
// responder's contract.
func normalizeCandidate(agent models.AgentName, cand *models.Candidate) (*models.Candidate, Outcome) {
	if cand == nil {
		return nil, OutcomeAbstain
	}
	if cand.Act != agent.Act() {
		return nil, OutcomeInvalid
	}
	if len(cand.Options) == 0 {
		return nil, OutcomeAbstain
	}
	out := *cand
	out.AgentName = agent
	out.Confidence = clampConfidence(cand.Confidence)
	out.Options = make([]models.CandidateOption, len(cand.Options))
	for i, o := range cand.Options {
		out.Options[i] = o.Clone()
	}
	return &out, OutcomeCandidate
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Candidates collects the successful candidates in agent order and makes
// option ids unique across the pool. Empty or repeated ids are rewritten as
// <agent>_<n>.
func Candidates(results []ResponderResult) []models.Candidate {
	out := make([]models.Candidate, 0, len(results))
	seen := make(map[string]struct{})
	for _, res := range results {
		if res.Outcome != OutcomeCandidate || res.Candidate == nil {
			continue
		}
		cand := *res.Candidate
		cand.Options = slices.Clone(res.Candidate.Options)
		n := 0
		for i := range cand.Options {
			id := cand.Options[i].CandidateID
			if _, dup := seen[id]; id == "" || dup {
				for {
					n++
					id = fmt.Sprintf("%s_%d", cand.AgentName, n)
					if _, taken := seen[id]; !taken {
						break
					}
				}
				cand.Options[i].CandidateID = id
			}
			seen[id] = struct{}{}
		}
		out = append(out, cand)
	}
	return out
}
