// Package config loads layered configuration for the recommender.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, conventional
// environment variables (DATABASE_URL, OPENAI_API_KEY, GROQ_API_KEY,
// MACRS_USE_LLM), MACRS_-prefixed variables, and explicit overrides (CLI flags).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
	"github.com/krunaln/macrs-ecom-recommender/internal/util"
)

const (
	// EnvPrefix prefixes every structured environment variable.
	EnvPrefix = "MACRS_"
	// DefaultConfigFile is read when present and no file is given.
	DefaultConfigFile = "macrs.yaml"
	// DefaultGroqBaseURL is the OpenAI-compatible Groq endpoint.
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	// DefaultEmbeddingBaseURL is a local Ollama OpenAI-compatible endpoint.
	DefaultEmbeddingBaseURL = "http://localhost:11434/v1"

	maxConfigFileSize = 1024 * 1024
)

var (
	ErrInvalidCapacity  = errors.New("memory.corrective_capacity must be at least 1")
	ErrInvalidTopK      = errors.New("retrieval.top_k must be at least 1")
	ErrInvalidDepth     = errors.New("retrieval.dense_k and retrieval.sparse_k must be at least 1")
	ErrInvalidTimeout   = errors.New("orchestrator.responder_timeout must be positive")
	ErrInvalidLogLevel  = errors.New("log.level must be one of debug, info, warn, error")
	ErrInvalidRetention = errors.New("store.retention must not be negative")
)

type Config struct {
	LLM          LLMConfig          `koanf:"llm"`
	Embedding    EmbeddingConfig    `koanf:"embedding"`
	Database     DatabaseConfig     `koanf:"database"`
	Store        StoreConfig        `koanf:"store"`
	Memory       MemoryConfig       `koanf:"memory"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Planner      PlannerConfig      `koanf:"planner"`
	API          APIConfig          `koanf:"api"`
	Log          LogConfig          `koanf:"log"`
}

type LLMConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

type EmbeddingConfig struct {
	Model      string `koanf:"model"`
	BaseURL    string `koanf:"base_url"`
	APIKey     string `koanf:"api_key"`
	Dimensions int    `koanf:"dimensions"`
}

// DatabaseConfig points at the product catalog. An empty URL uses the
// in-memory catalog loaded from CatalogPath.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	CatalogPath string `koanf:"catalog_path"`
}

// StoreConfig selects where conversation state is persisted. A positive
// Retention purges sessions idle for longer on SweepSchedule while serving.
type StoreConfig struct {
	DSN           string        `koanf:"dsn"`
	StateDir      string        `koanf:"state_dir"`
	TTL           time.Duration `koanf:"ttl"`
	Retention     time.Duration `koanf:"retention"`
	SweepSchedule string        `koanf:"sweep_schedule"`
}

type MemoryConfig struct {
	CorrectiveCapacity int `koanf:"corrective_capacity"`
}

type RetrievalConfig struct {
	DenseWeight  float64 `koanf:"dense_weight"`
	SparseWeight float64 `koanf:"sparse_weight"`
	TopK         int     `koanf:"top_k"`
	DenseK       int     `koanf:"dense_k"`
	SparseK      int     `koanf:"sparse_k"`
}

type OrchestratorConfig struct {
	ResponderTimeout time.Duration `koanf:"responder_timeout"`
}

type PlannerConfig struct {
	PreferRecommendWhenSufficient bool `koanf:"prefer_recommend_when_sufficient"`
}

type APIConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Enabled:     true,
			Model:       "openai/gpt-oss-20b",
			BaseURL:     DefaultGroqBaseURL,
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:      "nomic-embed-text",
			BaseURL:    DefaultEmbeddingBaseURL,
			Dimensions: 768,
		},
		Store: StoreConfig{
			StateDir:      "/var/lib/macrs",
			SweepSchedule: "@hourly",
		},
		Memory: MemoryConfig{CorrectiveCapacity: 5},
		Retrieval: RetrievalConfig{
			DenseWeight:  0.5,
			SparseWeight: 0.5,
			TopK:         5,
			DenseK:       50,
			SparseK:      50,
		},
		Orchestrator: OrchestratorConfig{ResponderTimeout: 20 * time.Second},
		Planner:      PlannerConfig{PreferRecommendWhenSufficient: true},
		API:          APIConfig{Addr: ":8080"},
		Log:          LogConfig{Level: "info"},
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is the YAML config path. Empty reads DefaultConfigFile if it exists.
	File string
	// EnvFile is a dotenv file loaded before reading the environment. Empty uses ".env".
	EnvFile string
	// Overrides are dotted keys applied last, e.g. "retrieval.top_k".
	Overrides map[string]any
}

// Load builds and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config.Load: failed to load env file", "path", envFile, "error", err)
	}

	k := koanf.New(".")

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadYAML(k, path, explicit); err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		k.Set("database.url", v)
	}
	if key, from := util.FirstEnv("GROQ_API_KEY", "OPENAI_API_KEY"); key != "" {
		slog.Debug("config.Load: using API key from environment", "variable", from)
		k.Set("llm.api_key", key)
	}
	if enabled, ok := util.LookupBool("MACRS_USE_LLM"); ok {
		k.Set("llm.enabled", enabled)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, v := range opts.Overrides {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	slog.Debug("config.Load: configuration loaded", "llm_enabled", cfg.LLM.Enabled, "store_dsn_set", cfg.Store.DSN != "", "database_url_set", cfg.Database.URL != "")
	return &cfg, nil
}

func loadYAML(k *koanf.Koanf, path string, required bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps MACRS_RETRIEVAL_DENSE_WEIGHT to retrieval.dense_weight: the
// first segment is the section, the rest is the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if err := retrieval.ValidateWeights(c.Retrieval.DenseWeight, c.Retrieval.SparseWeight); err != nil {
		return err
	}
	if c.Memory.CorrectiveCapacity < 1 {
		return ErrInvalidCapacity
	}
	if c.Retrieval.TopK < 1 {
		return ErrInvalidTopK
	}
	if c.Retrieval.DenseK < 1 || c.Retrieval.SparseK < 1 {
		return ErrInvalidDepth
	}
	if c.Orchestrator.ResponderTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Store.Retention < 0 {
		return ErrInvalidRetention
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel converts the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, ErrInvalidLogLevel
}
