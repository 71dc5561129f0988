// Package planner selects exactly one candidate option per turn.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/krunaln/macrs-ecom-recommender/internal/agents"
	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

const recentDialogueWindow = 5

// PoolEntry is one selectable option with the metadata of the candidate that
// proposed it.
type PoolEntry struct {
	AgentName  models.AgentName       `json:"agent_name"`
	Act        models.Act             `json:"act"`
	Confidence float64                `json:"confidence"`
	Option     models.CandidateOption `json:"option"`
}

// SelectionRequest is the input to the selection collaborator.
type SelectionRequest struct {
	Pool                  []PoolEntry
	UserProfile           map[string]any
	ActHistory            []models.Act
	CorrectiveExperiences []string
	RecentDialogue        []models.TurnRecord
	BrowsingHistory       []string
	Sufficient            bool
}

// Selector picks one candidate id from the filtered pool.
type Selector interface {
	Select(ctx context.Context, req SelectionRequest) (string, error)
}

// Planner applies the repetition filter, consults the selector and falls back
// to a deterministic choice when the selector fails.
type Planner struct {
	selector        Selector
	preferRecommend bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithPreferRecommend replaces a non-recommend selection with the first
// recommend option carrying products when the profile is sufficient.
func WithPreferRecommend(enabled bool) Option {
	return func(p *Planner) { p.preferRecommend = enabled }
}

// New creates a Planner. selector may be nil, in which case the deterministic
// fallback is always used.
func New(selector Selector, opts ...Option) *Planner {
	p := &Planner{selector: selector, preferRecommend: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan selects one option. It always returns a decision.
func (p *Planner) Plan(ctx context.Context, snap models.Snapshot, candidates []models.Candidate) models.PlannerDecision {
	pool := BuildPool(candidates)
	filtered := FilterRepeated(pool, snap)
	if len(filtered) == 0 {
		slog.Info("Planner.Plan: empty pool, using built-in chit-chat", "session_id", snap.SessionID, "pool", len(pool))
		return p.record(decide(defaultEntry(), models.SelectionDefault, "no selectable candidates"))
	}

	sufficient := HasSufficientPreferences(snap.UserProfile)
	chosen, source, notes := p.choose(ctx, snap, filtered, sufficient)

	if p.preferRecommend && sufficient && chosen.Act != models.ActRecommend {
		if rec, ok := firstRecommendWithProducts(filtered); ok {
			slog.Debug("Planner.Plan: preferences sufficient, switching to recommend",
				"session_id", snap.SessionID, "from", chosen.Option.CandidateID, "to", rec.Option.CandidateID)
			chosen, source = rec, models.SelectionSufficiency
		}
	}
	return p.record(decide(chosen, source, notes))
}

func (p *Planner) choose(ctx context.Context, snap models.Snapshot, pool []PoolEntry, sufficient bool) (PoolEntry, models.SelectionSource, string) {
	if p.selector == nil {
		return Fallback(pool), models.SelectionFallback, "no selection collaborator"
	}
	req := SelectionRequest{
		Pool:                  pool,
		UserProfile:           snap.UserProfile,
		ActHistory:            snap.ActHistory,
		CorrectiveExperiences: snap.CorrectiveExperiences,
		RecentDialogue:        snap.RecentDialogue(recentDialogueWindow),
		BrowsingHistory:       snap.BrowsingHistory,
		Sufficient:            sufficient,
	}
	id, err := p.selector.Select(ctx, req)
	if err != nil {
		slog.Warn("Planner.Plan: selection collaborator failed, using fallback", "session_id", snap.SessionID, "error", err)
		return Fallback(pool), models.SelectionFallback, fmt.Sprintf("selection failed: %v", err)
	}
	for _, e := range pool {
		if e.Option.CandidateID == id {
			return e, models.SelectionCollaborator, ""
		}
	}
	slog.Warn("Planner.Plan: unknown candidate id, using fallback", "session_id", snap.SessionID, "candidate_id", id)
	return Fallback(pool), models.SelectionFallback, fmt.Sprintf("unknown candidate id %q", id)
}

func (p *Planner) record(d models.PlannerDecision) models.PlannerDecision {
	metrics.PlannerSelections.WithLabelValues(string(d.Source), string(d.Act)).Inc()
	return d
}

// BuildPool concatenates candidate options in fixed agent order, preserving
// each agent's option order. Candidates whose act does not match their agent
// are skipped.
func BuildPool(candidates []models.Candidate) []PoolEntry {
	ordered := slices.Clone(candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].AgentName.Priority() < ordered[j].AgentName.Priority()
	})

	var pool []PoolEntry
	for _, c := range ordered {
		if !c.AgentName.IsValid() || c.AgentName.Act() != c.Act {
			continue
		}
		for _, opt := range c.Options {
			pool = append(pool, PoolEntry{AgentName: c.AgentName, Act: c.Act, Confidence: c.Confidence, Option: opt})
		}
	}
	return pool
}

// FilterRepeated removes options that repeat the previous turn's act without
// new slot information. An option is repeated when its act equals the last
// act and every slot and product it carries was already part of the last
// selection. Chit-chat is never removed.
func FilterRepeated(pool []PoolEntry, snap models.Snapshot) []PoolEntry {
	lastAct, ok := snap.LastAct()
	if !ok {
		return pool
	}
	var prev models.CandidateOption
	if snap.LastSelection != nil {
		prev = snap.LastSelection.Option
	}
	out := make([]PoolEntry, 0, len(pool))
	for _, e := range pool {
		if e.Act != models.ActChitchat && e.Act == lastAct && !addsInformation(e.Option, prev) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func addsInformation(opt, prev models.CandidateOption) bool {
	for k, v := range opt.Slots {
		pv, ok := prev.Slots[k]
		if !ok || fmt.Sprint(pv) != fmt.Sprint(v) {
			return true
		}
	}
	seen := make(map[string]struct{}, len(prev.Products))
	for _, p := range prev.Products {
		seen[p.ID] = struct{}{}
	}
	for _, p := range opt.Products {
		if _, ok := seen[p.ID]; !ok {
			return true
		}
	}
	return false
}

// Fallback returns the highest-confidence entry. Ties keep the earliest entry,
// which in pool order means agent priority then option order.
func Fallback(pool []PoolEntry) PoolEntry {
	best := pool[0]
	for _, e := range pool[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best
}

// HasSufficientPreferences reports whether the profile names what the user
// wants and at least one more preference.
func HasSufficientPreferences(profile map[string]any) bool {
	if len(profile) < 2 {
		return false
	}
	for _, key := range []string{"category", "type", "product", "item"} {
		if _, ok := profile[key]; ok {
			return true
		}
	}
	return false
}

func firstRecommendWithProducts(pool []PoolEntry) (PoolEntry, bool) {
	for _, e := range pool {
		if e.Act == models.ActRecommend && len(e.Option.Products) > 0 {
			return e, true
		}
	}
	return PoolEntry{}, false
}

func defaultEntry() PoolEntry {
	return PoolEntry{
		AgentName:  models.AgentChitchat,
		Act:        models.ActChitchat,
		Confidence: 0,
		Option:     agents.DefaultChitchatOption(),
	}
}

func decide(e PoolEntry, source models.SelectionSource, notes string) models.PlannerDecision {
	opt := e.Option.Clone()
	return models.PlannerDecision{
		CandidateID: opt.CandidateID,
		Response:    opt.Response,
		Act:         e.Act,
		AgentName:   e.AgentName,
		Confidence:  e.Confidence,
		Option:      opt,
		Source:      source,
		Notes:       notes,
	}
}
