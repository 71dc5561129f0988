package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// TurnRecord is one finalized system turn in the dialogue history.
type TurnRecord struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Act       Act       `json:"act"`
	UserText  string    `json:"user_text,omitempty"` // utterance that produced this turn
	Timestamp time.Time `json:"timestamp"`
}

// Selection is the option chosen on the previous turn. Strategy reflection
// reads it as the prior candidate and the planner compares slots against it.
type Selection struct {
	AgentName AgentName       `json:"agent_name"`
	Act       Act             `json:"act"`
	Option    CandidateOption `json:"option"`
}

// ConversationState is the long-lived memory of one conversation. It is owned
// by a single orchestrator; readers receive a Snapshot.
type ConversationState struct {
	SessionID             string               `json:"session_id"`
	TurnID                int                  `json:"turn_id"`
	UserProfile           map[string]any       `json:"user_profile"`
	BrowsingHistory       []string             `json:"browsing_history"`
	DialogueHistory       []TurnRecord         `json:"dialogue_history"`
	ActHistory            []Act                `json:"act_history"`
	AgentSuggestions      map[AgentName]string `json:"agent_suggestions"`
	CorrectiveExperiences ExperienceBuffer     `json:"corrective_experiences"`
	LastUserMessage       string               `json:"last_user_message,omitempty"`
	LastSelection         *Selection           `json:"last_selection,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// NewConversationState creates an empty state for a session.
func NewConversationState(sessionID string, correctiveCapacity int) (*ConversationState, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	buf, err := NewExperienceBuffer(correctiveCapacity)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &ConversationState{
		SessionID:             sessionID,
		UserProfile:           map[string]any{},
		BrowsingHistory:       []string{},
		DialogueHistory:       []TurnRecord{},
		ActHistory:            []Act{},
		AgentSuggestions:      map[AgentName]string{},
		CorrectiveExperiences: buf,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Validate checks the structural invariants. A violation is a fatal
// precondition failure; the state is never repaired.
func (s *ConversationState) Validate() error {
	if len(s.DialogueHistory) != len(s.ActHistory) {
		return fmt.Errorf("%w: dialogue history has %d records, act history has %d",
			ErrStateCorrupted, len(s.DialogueHistory), len(s.ActHistory))
	}
	for i, act := range s.ActHistory {
		if !act.IsValid() {
			return fmt.Errorf("%w: act history entry %d is %q", ErrStateCorrupted, i, act)
		}
		if s.DialogueHistory[i].Act != act {
			return fmt.Errorf("%w: turn %d records act %q but act history has %q",
				ErrStateCorrupted, i, s.DialogueHistory[i].Act, act)
		}
	}
	return nil
}

// IsFirstTurn reports whether no turn has been finalized yet.
func (s *ConversationState) IsFirstTurn() bool {
	return len(s.ActHistory) == 0
}

// Snapshot returns a deep copy for readers.
func (s *ConversationState) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:             s.SessionID,
		TurnID:                s.TurnID,
		UserProfile:           maps.Clone(s.UserProfile),
		BrowsingHistory:       slices.Clone(s.BrowsingHistory),
		DialogueHistory:       slices.Clone(s.DialogueHistory),
		ActHistory:            slices.Clone(s.ActHistory),
		AgentSuggestions:      maps.Clone(s.AgentSuggestions),
		CorrectiveExperiences: s.CorrectiveExperiences.Items(),
		LastUserMessage:       s.LastUserMessage,
	}
	if snap.UserProfile == nil {
		snap.UserProfile = map[string]any{}
	}
	if snap.AgentSuggestions == nil {
		snap.AgentSuggestions = map[AgentName]string{}
	}
	if s.LastSelection != nil {
		sel := *s.LastSelection
		sel.Option = s.LastSelection.Option.Clone()
		snap.LastSelection = &sel
	}
	return snap
}

// ApplyReflection merges a reflection delta. Profile keys are last-write-wins,
// browsing history is a set union, suggestions replace per agent, and the
// corrective experience goes through the bounded FIFO. The note evicted by
// the FIFO, if any, is returned.
func (s *ConversationState) ApplyReflection(delta ReflectionDelta) (evicted string, ok bool) {
	if delta.IsEmpty() {
		return "", false
	}
	if s.UserProfile == nil {
		s.UserProfile = map[string]any{}
	}
	for k, v := range delta.ProfileUpdates {
		s.UserProfile[k] = v
	}
	for _, item := range delta.BrowsedItems {
		s.addBrowsed(item)
	}
	if s.AgentSuggestions == nil {
		s.AgentSuggestions = map[AgentName]string{}
	}
	for agent, suggestion := range delta.AgentSuggestions {
		s.AgentSuggestions[agent] = suggestion
	}
	if delta.CorrectiveExperience != "" {
		evicted, ok = s.CorrectiveExperiences.Append(delta.CorrectiveExperience)
	}
	s.UpdatedAt = time.Now()
	return evicted, ok
}

func (s *ConversationState) addBrowsed(item string) {
	id := NormalizeIdentifier(item)
	if id == "" || slices.Contains(s.BrowsingHistory, id) {
		return
	}
	s.BrowsingHistory = append(s.BrowsingHistory, id)
}

// Finalize appends the selected system turn to both histories and records the
// selection for the next turn's reflection.
func (s *ConversationState) Finalize(userMessage string, decision PlannerDecision, at time.Time) error {
	if !decision.Act.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidAct, decision.Act)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s.DialogueHistory = append(s.DialogueHistory, TurnRecord{
		Speaker:   SpeakerSystem,
		Text:      decision.Response,
		Act:       decision.Act,
		UserText:  userMessage,
		Timestamp: at,
	})
	s.ActHistory = append(s.ActHistory, decision.Act)
	s.TurnID++
	s.LastUserMessage = userMessage
	s.LastSelection = &Selection{
		AgentName: decision.AgentName,
		Act:       decision.Act,
		Option:    decision.Option.Clone(),
	}
	s.UpdatedAt = at
	return s.Validate()
}

// Snapshot is an immutable copy of ConversationState handed to responders,
// the planner, and the reflection engine.
type Snapshot struct {
	SessionID             string
	TurnID                int
	UserProfile           map[string]any
	BrowsingHistory       []string
	DialogueHistory       []TurnRecord
	ActHistory            []Act
	AgentSuggestions      map[AgentName]string
	CorrectiveExperiences []string
	LastUserMessage       string
	LastSelection         *Selection
}

// LastAct returns the most recent selected act.
func (s Snapshot) LastAct() (Act, bool) {
	if len(s.ActHistory) == 0 {
		return "", false
	}
	return s.ActHistory[len(s.ActHistory)-1], true
}

// RecentDialogue returns at most n of the latest dialogue records.
func (s Snapshot) RecentDialogue(n int) []TurnRecord {
	if n <= 0 || len(s.DialogueHistory) == 0 {
		return nil
	}
	if len(s.DialogueHistory) <= n {
		return slices.Clone(s.DialogueHistory)
	}
	return slices.Clone(s.DialogueHistory[len(s.DialogueHistory)-n:])
}

// ProfileString returns a profile value rendered as a trimmed string.
func (s Snapshot) ProfileString(key string) string {
	v, ok := s.UserProfile[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// ReflectionDelta is the write set produced by the reflection engine.
type ReflectionDelta struct {
	ProfileUpdates       map[string]any       `json:"profile_updates,omitempty"`
	BrowsedItems         []string             `json:"browsed_items,omitempty"`
	AgentSuggestions     map[AgentName]string `json:"agent_suggestions,omitempty"`
	CorrectiveExperience string               `json:"corrective_experience,omitempty"`
}

// IsEmpty reports whether applying the delta would change nothing.
func (d ReflectionDelta) IsEmpty() bool {
	return len(d.ProfileUpdates) == 0 && len(d.BrowsedItems) == 0 &&
		len(d.AgentSuggestions) == 0 && d.CorrectiveExperience == ""
}

// NormalizeIdentifier lowercases an item or attribute mention and collapses
// internal whitespace.
func NormalizeIdentifier(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
