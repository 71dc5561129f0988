// Package reflection updates conversation memory between turns.
//
// Information-level reflection merges preferences the user explicitly stated
// into the profile. Strategy-level reflection runs after a recommendation the
// user rejected and records per-agent suggestions plus a corrective note for
// the planner.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// Extraction is the output of a preference extractor.
type Extraction struct {
	Preferences map[string]any `json:"preferences"`
	Mentions    []string       `json:"mentions"`
}

// Advice is the output of a strategy advisor.
type Advice struct {
	Suggestions          map[models.AgentName]string `json:"suggestions"`
	CorrectiveExperience string                      `json:"corrective_experience"`
}

// PreferenceExtractor reads preferences and mentioned items from an utterance.
type PreferenceExtractor interface {
	Extract(ctx context.Context, snap models.Snapshot, utterance string) (Extraction, error)
}

// FailureDetector classifies whether the reply rejects the prior recommendation.
type FailureDetector interface {
	DetectFailure(ctx context.Context, prior models.Selection, reply string) (bool, error)
}

// StrategyAdvisor produces corrective guidance after a failed recommendation.
type StrategyAdvisor interface {
	Advise(ctx context.Context, snap models.Snapshot, prior models.Selection, reply string) (Advice, error)
}

// Engine runs both reflection levels and returns the resulting delta.
type Engine struct {
	extractor PreferenceExtractor
	detector  FailureDetector
	advisor   StrategyAdvisor
}

// NewEngine creates an engine. Any collaborator may be nil, which disables
// the step that needs it.
func NewEngine(extractor PreferenceExtractor, detector FailureDetector, advisor StrategyAdvisor) *Engine {
	return &Engine{extractor: extractor, detector: detector, advisor: advisor}
}

// Reflect computes the memory update for the new utterance. Collaborator
// failures degrade to an empty contribution.
func (e *Engine) Reflect(ctx context.Context, snap models.Snapshot, utterance string) models.ReflectionDelta {
	var delta models.ReflectionDelta
	e.reflectInformation(ctx, snap, utterance, &delta)
	e.reflectStrategy(ctx, snap, utterance, &delta)
	return delta
}

func (e *Engine) reflectInformation(ctx context.Context, snap models.Snapshot, utterance string, delta *models.ReflectionDelta) {
	if e.extractor == nil {
		return
	}
	ext, err := e.extractor.Extract(ctx, snap, utterance)
	if err != nil {
		slog.Warn("Engine.reflectInformation: extractor failed", "session_id", snap.SessionID, "error", err)
		metrics.ReflectionEvents.WithLabelValues("information", "error").Inc()
		return
	}

	for key, value := range ext.Preferences {
		k := NormalizeKey(key)
		if k == "" || value == nil {
			continue
		}
		if !StatedIn(value, utterance) {
			slog.Debug("Engine.reflectInformation: dropping unstated preference", "session_id", snap.SessionID, "key", k, "value", value)
			continue
		}
		if delta.ProfileUpdates == nil {
			delta.ProfileUpdates = make(map[string]any)
		}
		delta.ProfileUpdates[k] = value
	}
	for _, m := range ext.Mentions {
		if id := models.NormalizeIdentifier(m); id != "" && StatedIn(id, utterance) {
			delta.BrowsedItems = append(delta.BrowsedItems, id)
		}
	}

	outcome := "noop"
	if len(delta.ProfileUpdates) > 0 || len(delta.BrowsedItems) > 0 {
		outcome = "applied"
	}
	metrics.ReflectionEvents.WithLabelValues("information", outcome).Inc()
}

func (e *Engine) reflectStrategy(ctx context.Context, snap models.Snapshot, utterance string, delta *models.ReflectionDelta) {
	last, ok := snap.LastAct()
	if !ok || last != models.ActRecommend || snap.LastSelection == nil || e.detector == nil {
		return
	}
	prior := *snap.LastSelection

	failed, err := e.detector.DetectFailure(ctx, prior, utterance)
	if err != nil {
		slog.Warn("Engine.reflectStrategy: failure detector failed, assuming success", "session_id", snap.SessionID, "error", err)
		metrics.ReflectionEvents.WithLabelValues("strategy", "error").Inc()
		return
	}
	if !failed {
		metrics.ReflectionEvents.WithLabelValues("strategy", "noop").Inc()
		return
	}

	var advice Advice
	if e.advisor != nil {
		advice, err = e.advisor.Advise(ctx, snap, prior, utterance)
		if err != nil {
			slog.Warn("Engine.reflectStrategy: advisor failed", "session_id", snap.SessionID, "error", err)
			metrics.ReflectionEvents.WithLabelValues("strategy", "error").Inc()
			return
		}
	}
	for agent, suggestion := range advice.Suggestions {
		suggestion = strings.TrimSpace(suggestion)
		if !agent.IsValid() || suggestion == "" {
			continue
		}
		if delta.AgentSuggestions == nil {
			delta.AgentSuggestions = make(map[models.AgentName]string)
		}
		delta.AgentSuggestions[agent] = suggestion
	}
	delta.CorrectiveExperience = strings.TrimSpace(advice.CorrectiveExperience)
	if delta.CorrectiveExperience == "" {
		delta.CorrectiveExperience = CorrectiveNote(prior, utterance)
	}
	slog.Info("Engine.reflectStrategy: recommendation failure recorded", "session_id", snap.SessionID,
		"candidate_id", prior.Option.CandidateID, "suggestions", len(delta.AgentSuggestions))
	metrics.ReflectionEvents.WithLabelValues("strategy", "applied").Inc()
}

// CorrectiveNote describes a rejected recommendation for the planner.
func CorrectiveNote(prior models.Selection, reply string) string {
	ids := prior.Option.ProductIDs()
	items := "no products"
	if len(ids) > 0 {
		items = "products " + strings.Join(ids, ", ")
	}
	return fmt.Sprintf("Recommendation %s (%s) was rejected with %q; avoid repeating it and gather more preferences first.",
		prior.Option.CandidateID, items, strings.TrimSpace(reply))
}

var (
	nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)
	numberRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// NormalizeKey converts a preference key to lower snake case.
func NormalizeKey(key string) string {
	return strings.Trim(nonKeyChars.ReplaceAllString(strings.ToLower(key), "_"), "_")
}

// StatedIn reports whether value literally appears in the utterance on word
// boundaries, either as normalized text or as a number.
func StatedIn(value any, utterance string) bool {
	text := models.NormalizeIdentifier(utterance)
	s := models.NormalizeIdentifier(fmt.Sprint(value))
	if s == "" {
		return false
	}
	if containsWord(text, s) {
		return true
	}
	want, ok := asNumber(value)
	if !ok {
		return false
	}
	for _, n := range numberRe.FindAllString(strings.ReplaceAll(text, ",", ""), -1) {
		if got, err := strconv.ParseFloat(n, 64); err == nil && got == want {
			return true
		}
	}
	return false
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimLeft(strings.TrimSpace(v), "$€£"), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

func toJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
