// Package store provides storage backends for conversation state.
//
// This file implements a PostgreSQL-backed conversation store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	return newPostgresStoreWithDB(db)
}

// newPostgresStoreWithDB runs migrations on an already opened handle.
func newPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("PostgresStore initialized")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	created := state.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (session_id, turn_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			turn_id = EXCLUDED.turn_id,
			state = EXCLUDED.state,
			updated_at = NOW()`,
		state.SessionID, state.TurnID, data, created)
	if err != nil {
		slog.Error("PostgresStore.SaveConversation failed", "error", err, "session_id", state.SessionID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	slog.Debug("PostgresStore.SaveConversation succeeded", "session_id", state.SessionID, "turn_id", state.TurnID)
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM conversations WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetConversation failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeState(data)
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore.DeleteConversation failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]string, error) {
	return listSessionIDs(ctx, s.db)
}

func (s *PostgresStore) PurgeConversations(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("PostgresStore.PurgeConversations", "before", before, "removed", n)
	return int(n), nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
