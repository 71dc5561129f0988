package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"path/filepath"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

func sampleState(t *testing.T, id string) *models.ConversationState {
	t.Helper()
	st, err := models.NewConversationState(id, 3)
	require.NoError(t, err)
	st.UserProfile["category"] = "shoes"
	st.BrowsingHistory = []string{"shoe-1"}
	st.AgentSuggestions[models.AgentRecommend] = "show cheaper items"
	st.CorrectiveExperiences.Append("avoid repeating the same product")
	price := 89.0
	require.NoError(t, st.Finalize("running shoes please", models.PlannerDecision{
		CandidateID: "recommend_1",
		Response:    "Try the Trail Runner.",
		Act:         models.ActRecommend,
		AgentName:   models.AgentRecommend,
		Option: models.CandidateOption{
			CandidateID: "recommend_1",
			Response:    "Try the Trail Runner.",
			Products:    []models.Product{{ID: "shoe-1", Title: "Trail Runner", Price: &price}},
		},
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	return st
}

// exerciseStore runs the same behavioural checks against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.GetConversation(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	st := sampleState(t, "sess-b")
	require.NoError(t, s.SaveConversation(ctx, st))
	require.NoError(t, s.SaveConversation(ctx, sampleState(t, "sess-a")))

	got, err = s.GetConversation(ctx, "sess-b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.TurnID)
	assert.Equal(t, "shoes", got.UserProfile["category"])
	assert.Equal(t, []models.Act{models.ActRecommend}, got.ActHistory)
	assert.Equal(t, []string{"avoid repeating the same product"}, got.CorrectiveExperiences.Items())
	assert.Equal(t, 3, got.CorrectiveExperiences.Cap())
	require.NotNil(t, got.LastSelection)
	assert.Equal(t, []string{"shoe-1"}, got.LastSelection.Option.ProductIDs())

	// mutating the returned copy must not leak into the store
	got.UserProfile["category"] = "hats"
	again, err := s.GetConversation(ctx, "sess-b")
	require.NoError(t, err)
	assert.Equal(t, "shoes", again.UserProfile["category"])

	// overwrite
	st.UserProfile["brand"] = "acme"
	require.NoError(t, s.SaveConversation(ctx, st))
	again, err = s.GetConversation(ctx, "sess-b")
	require.NoError(t, err)
	assert.Equal(t, "acme", again.UserProfile["brand"])

	ids, err := s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-a", "sess-b"}, ids)

	require.NoError(t, s.DeleteConversation(ctx, "sess-b"))
	require.NoError(t, s.DeleteConversation(ctx, "sess-b"))
	got, err = s.GetConversation(ctx, "sess-b")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, s.SaveConversation(ctx, &models.ConversationState{}), models.ErrEmptySessionID)
}

// exercisePurge checks that only sessions saved before the cutoff are removed.
func exercisePurge(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveConversation(ctx, sampleState(t, "old")))
	require.NoError(t, s.SaveConversation(ctx, sampleState(t, "fresh")))

	n, err := s.PurgeConversations(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PurgeConversations(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ids, err := s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPurgeConversations(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		exercisePurge(t, NewInMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "purge.db")))
		require.NoError(t, err)
		defer s.Close()
		exercisePurge(t, s)
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		defer s.Close()
		exercisePurge(t, s)
		assert.False(t, mr.Exists(DefaultRedisKeyPrefix+"conv:old"))
	})
}

func TestInMemoryStore_PurgeUsesSaveTime(t *testing.T) {
	s := NewInMemoryStore()
	saved := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return saved }
	require.NoError(t, s.SaveConversation(context.Background(), sampleState(t, "s1")))

	n, err := s.PurgeConversations(context.Background(), saved)
	require.NoError(t, err)
	assert.Zero(t, n, "cutoff is exclusive")
	n, err = s.PurgeConversations(context.Background(), saved.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	require.NoError(t, err)
	require.NoError(t, s.SaveConversation(context.Background(), sampleState(t, "sess-1")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(WithSQLiteDSN(dsn))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetConversation(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.TurnID)
}

func TestSQLiteStore_RequiresDSN(t *testing.T) {
	_, err := NewSQLiteStore()
	assert.Error(t, err)
}

func TestSQLiteStore_CorruptRow(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.db.Exec(`INSERT INTO conversations (session_id, turn_id, state_json) VALUES ('bad', 0, '{not json')`)
	require.NoError(t, err)
	_, err = s.GetConversation(context.Background(), "bad")
	assert.ErrorIs(t, err, models.ErrStateCorrupted)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(WithRedisURL("redis://"+mr.Addr()), WithKeyPrefix("test:"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
	assert.False(t, mr.Exists("test:conv:sess-b"))
	assert.True(t, mr.Exists("test:conv:sess-a"))
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, WithTTL(time.Minute))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SaveConversation(ctx, sampleState(t, "sess-1")))
	assert.Equal(t, time.Minute, mr.TTL(DefaultRedisKeyPrefix+"conv:sess-1"))

	mr.FastForward(2 * time.Minute)
	got, err := s.GetConversation(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ids, err := s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(WithRedisURL("://nope"))
	assert.Error(t, err)
}

func TestPostgresStore_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS conversations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := newPostgresStoreWithDB(db)
	require.NoError(t, err)

	st := sampleState(t, "sess-1")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversations")).
		WithArgs("sess-1", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.SaveConversation(context.Background(), st))

	data, err := json.Marshal(st)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM conversations WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(driver.Value(data)))
	got, err := s.GetConversation(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.SessionID)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT state FROM conversations")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))
	got, err = s.GetConversation(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM conversations")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.DeleteConversation(context.Background(), "sess-1"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT session_id FROM conversations")).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow("a").AddRow("b"))
	ids, err := s.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM conversations WHERE updated_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := s.PurgeConversations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance reachable via DATABASE_URL.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM conversations WHERE session_id IN ('sess-a', 'sess-b')")
	exerciseStore(t, pgStore)
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"":                                   "memory",
		":memory:":                           "memory",
		"postgres://u:p@localhost/db":        "postgres",
		"postgresql://localhost/db":          "postgres",
		"host=localhost user=app dbname=app": "postgres",
		"redis://localhost:6379/0":           "redis",
		"/var/lib/macrs/state.db":            "sqlite3",
		"state.db":                           "sqlite3",
	}
	for dsn, want := range cases {
		assert.Equal(t, want, DetectDSNType(dsn), dsn)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)

	s, err = New(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	mr := miniredis.RunT(t)
	s, err = New("redis://" + mr.Addr())
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &RedisStore{}, s)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
