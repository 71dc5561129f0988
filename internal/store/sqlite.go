// Package store provides storage backends for conversation state.
//
// This file implements an SQLite-backed conversation store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	slog.Info("SQLiteStore initialized", "path", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	created := state.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (session_id, turn_id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			turn_id = excluded.turn_id,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		state.SessionID, state.TurnID, string(data), created, now)
	if err != nil {
		slog.Error("SQLiteStore.SaveConversation failed", "error", err, "session_id", state.SessionID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	slog.Debug("SQLiteStore.SaveConversation succeeded", "session_id", state.SessionID, "turn_id", state.TurnID)
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM conversations WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetConversation failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeState([]byte(data))
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore.DeleteConversation failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]string, error) {
	return listSessionIDs(ctx, s.db)
}

func (s *SQLiteStore) PurgeConversations(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteStore.PurgeConversations", "before", before, "removed", n)
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func listSessionIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT session_id FROM conversations ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
