// Package store provides storage backends for conversation state.
//
// This file implements a Redis-backed conversation store.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces every key the store writes.
const DefaultRedisKeyPrefix = "macrs:"

// RedisStore keeps each conversation as a JSON string plus a sorted-set index
// of session ids scored by last save time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisStore connects to the redis URL given by WithRedisURL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts...), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, opts ...Option) *RedisStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	slog.Info("RedisStore initialized", "key_prefix", prefix, "ttl", cfg.TTL)
	return &RedisStore{client: client, keyPrefix: prefix, ttl: cfg.TTL, now: time.Now}
}

func (s *RedisStore) convKey(sessionID string) string {
	return s.keyPrefix + "conv:" + sessionID
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "conversations"
}

func (s *RedisStore) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.convKey(state.SessionID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(s.now().Unix()), Member: state.SessionID})
		return nil
	})
	if err != nil {
		slog.Error("RedisStore.SaveConversation failed", "error", err, "session_id", state.SessionID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	slog.Debug("RedisStore.SaveConversation succeeded", "session_id", state.SessionID, "turn_id", state.TurnID)
	return nil
}

func (s *RedisStore) GetConversation(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	data, err := s.client.Get(ctx, s.convKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore.GetConversation failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeState(data)
}

func (s *RedisStore) DeleteConversation(ctx context.Context, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.convKey(sessionID))
		pipe.ZRem(ctx, s.indexKey(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ListConversations skips index entries whose state has expired.
func (s *RedisStore) ListConversations(ctx context.Context) ([]string, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	ids := make([]string, 0, len(members))
	var stale []any
	for _, id := range members {
		n, err := s.client.Exists(ctx, s.convKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		ids = append(ids, id)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, s.indexKey(), stale...)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *RedisStore) PurgeConversations(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge conversations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.convKey(id)
		members[i] = id
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge conversations: %w", err)
	}
	slog.Debug("RedisStore.PurgeConversations", "before", before, "removed", len(ids))
	return len(ids), nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
