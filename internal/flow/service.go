package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krunaln/macrs-ecom-recommender/internal/metrics"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/store"
)

// DefaultCorrectiveCapacity is the corrective-experience bound for new sessions.
const DefaultCorrectiveCapacity = 5

// Service runs turns against persisted conversation state. Turns for the same
// session are serialized; different sessions run concurrently.
type Service struct {
	store    store.Store
	orch     *Orchestrator
	capacity int

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCorrectiveCapacity sets the corrective-experience bound. Loaded states
// with a different bound are resized, keeping the newest entries.
func WithCorrectiveCapacity(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewService creates a Service backed by st.
func NewService(st store.Store, orch *Orchestrator, opts ...ServiceOption) *Service {
	slog.Debug("Creating flow Service")
	s := &Service{
		store:    st,
		orch:     orch,
		capacity: DefaultCorrectiveCapacity,
		locks:    make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Turn loads or creates the session state, runs one turn, and saves the
// result. Nothing is saved when the turn fails.
func (s *Service) Turn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	unlock := s.lock(sessionID)
	defer unlock()

	state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.orch.RunTurn(ctx, state, message)
	if err != nil {
		slog.Warn("Service.Turn: turn failed", "session_id", sessionID, "error", err)
		return nil, err
	}
	if err := s.store.SaveConversation(ctx, state); err != nil {
		slog.Error("Service.Turn: save failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	return result, nil
}

// Conversation returns the stored state, or (nil, nil) when the session is unknown.
func (s *Service) Conversation(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, sessionID)
}

// Reset deletes the session state.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return err
	}
	unlock := s.lock(sessionID)
	defer unlock()
	slog.Info("Service.Reset: deleting conversation", "session_id", sessionID)
	return s.store.DeleteConversation(ctx, sessionID)
}

// Sessions lists stored session ids.
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	return s.store.ListConversations(ctx)
}

// PurgeIdle deletes sessions that have not been saved within maxIdle.
func (s *Service) PurgeIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", maxIdle)
	}
	n, err := s.store.PurgeConversations(ctx, time.Now().Add(-maxIdle))
	if err != nil {
		slog.Error("Service.PurgeIdle: purge failed", "error", err)
		return 0, err
	}
	metrics.ConversationsPurged.Add(float64(n))
	if n > 0 {
		slog.Info("Service.PurgeIdle: idle conversations removed", "count", n, "max_idle", maxIdle)
	}
	return n, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	state, err := s.store.GetConversation(ctx, sessionID)
	if err != nil {
		slog.Error("Service.load: get failed", "session_id", sessionID, "error", err)
		return nil, err
	}
	if state == nil {
		slog.Debug("Service.load: creating conversation", "session_id", sessionID)
		return models.NewConversationState(sessionID, s.capacity)
	}
	if state.CorrectiveExperiences.Cap() != s.capacity {
		if err := state.CorrectiveExperiences.Resize(s.capacity); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (s *Service) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
