// Package store provides storage backends for conversation state.
//
// Every backend persists a models.ConversationState as a single JSON document
// keyed by session id. Reads return an independent copy so callers can mutate
// the result without affecting what is stored.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// Store defines the interface for conversation state persistence.
type Store interface {
	// SaveConversation inserts or replaces the state for state.SessionID.
	SaveConversation(ctx context.Context, state *models.ConversationState) error
	// GetConversation returns (nil, nil) when no state exists for the session.
	GetConversation(ctx context.Context, sessionID string) (*models.ConversationState, error)
	// DeleteConversation is a no-op when the session does not exist.
	DeleteConversation(ctx context.Context, sessionID string) error
	// ListConversations returns the stored session ids in ascending order.
	ListConversations(ctx context.Context) ([]string, error)
	// PurgeConversations deletes sessions last saved before the cutoff and
	// returns how many were removed.
	PurgeConversations(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN       string        // database connection string or redis URL
	KeyPrefix string        // redis key prefix
	TTL       time.Duration // redis expiry, zero keeps keys forever
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for a PostgreSQL store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the DSN (file path) for a SQLite store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisURL sets the redis connection URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.DSN = url
	}
}

// WithKeyPrefix sets the redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

// WithTTL sets an expiry on stored conversations (redis only).
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

// DetectDSNType returns the backend a DSN points at: "postgres", "redis",
// "memory" for an empty DSN, and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case d == "" || lower == "memory" || lower == ":memory:":
		return "memory"
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return "redis"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// New opens the backend selected by DetectDSNType(dsn).
func New(dsn string, opts ...Option) (Store, error) {
	kind := DetectDSNType(dsn)
	slog.Debug("store.New selecting backend", "type", kind)
	switch kind {
	case "memory":
		return NewInMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(append([]Option{WithPostgresDSN(dsn)}, opts...)...)
	case "redis":
		return NewRedisStore(append([]Option{WithRedisURL(dsn)}, opts...)...)
	default:
		return NewSQLiteStore(append([]Option{WithSQLiteDSN(dsn)}, opts...)...)
	}
}

// InMemoryStore is a simple in-memory store for testing and default use.
type InMemoryStore struct {
	mu    sync.RWMutex
	convs map[string]memEntry
	now   func() time.Time
}

type memEntry struct {
	data    []byte
	savedAt time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: make(map[string]memEntry), now: time.Now}
}

func (s *InMemoryStore) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[state.SessionID] = memEntry{data: data, savedAt: s.now()}
	slog.Debug("InMemoryStore.SaveConversation stored", "session_id", state.SessionID, "turn_id", state.TurnID)
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	s.mu.RLock()
	entry, ok := s.convs[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeState(entry.data)
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, sessionID)
	return nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *InMemoryStore) PurgeConversations(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, entry := range s.convs {
		if entry.savedAt.Before(before) {
			delete(s.convs, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func encodeState(state *models.ConversationState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("nil conversation state")
	}
	if err := models.ValidateSessionID(state.SessionID); err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*models.ConversationState, error) {
	var state models.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStateCorrupted, err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}
