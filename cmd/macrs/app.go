package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/krunaln/macrs-ecom-recommender/internal/agents"
	"github.com/krunaln/macrs-ecom-recommender/internal/config"
	"github.com/krunaln/macrs-ecom-recommender/internal/flow"
	"github.com/krunaln/macrs-ecom-recommender/internal/genai"
	"github.com/krunaln/macrs-ecom-recommender/internal/lockfile"
	"github.com/krunaln/macrs-ecom-recommender/internal/planner"
	"github.com/krunaln/macrs-ecom-recommender/internal/reflection"
	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
	"github.com/krunaln/macrs-ecom-recommender/internal/store"
)

// DefaultDBFileName is the SQLite file used when no store DSN is configured.
const DefaultDBFileName = "macrs.db"

// app holds the wired components for one command invocation.
type app struct {
	service  *flow.Service
	searcher *retrieval.HybridSearcher
	closers  []func() error
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildApp wires the full turn pipeline. command names the lock holder.
func buildApp(ctx context.Context, cfg *config.Config, command string, opts ...flow.OrchestratorOption) (*app, error) {
	a := &app{}
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	if a.searcher, err = a.buildSearcher(ctx, cfg, llm); err != nil {
		a.Close()
		return nil, err
	}
	st, err := a.openStore(cfg, command)
	if err != nil {
		a.Close()
		return nil, err
	}

	responders := []agents.Responder{
		agents.NewAsk(llm),
		agents.NewRecommend(a.searcher, llm, agents.WithRecommendTopK(cfg.Retrieval.TopK)),
		agents.NewChitchat(llm),
	}
	generator := flow.NewGenerator(responders, flow.WithResponderTimeout(cfg.Orchestrator.ResponderTimeout))
	orch := flow.NewOrchestrator(generator, newReflector(llm), newPlanner(cfg, llm), opts...)
	a.service = flow.NewService(st, orch, flow.WithCorrectiveCapacity(cfg.Memory.CorrectiveCapacity))

	slog.Info("macrs: pipeline ready", "llm", llm != nil, "store", store.DetectDSNType(storeDSN(cfg)),
		"catalog", catalogKind(cfg), "corrective_capacity", cfg.Memory.CorrectiveCapacity)
	return a, nil
}

// newLLM returns the structured generator, or nil when rules are in use.
// A missing API key falls back to rules rather than failing.
func newLLM(cfg *config.Config) (agents.StructuredGenerator, error) {
	client, err := newGenAIClient(cfg)
	if err != nil || client == nil {
		return nil, err
	}
	return client, nil
}

func newGenAIClient(cfg *config.Config) (*genai.Client, error) {
	if !cfg.LLM.Enabled {
		slog.Info("macrs: language model disabled, using rules")
		return nil, nil
	}
	client, err := genai.NewClient(
		genai.WithAPIKey(cfg.LLM.APIKey),
		genai.WithBaseURL(cfg.LLM.BaseURL),
		genai.WithModel(cfg.LLM.Model),
		genai.WithTemperature(cfg.LLM.Temperature),
		genai.WithTimeout(cfg.LLM.Timeout),
		genai.WithEmbedding(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions),
	)
	if errors.Is(err, genai.ErrNoAPIKey) {
		slog.Warn("macrs: no API key configured, using rules", "hint", "set GROQ_API_KEY or OPENAI_API_KEY")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create language model client: %w", err)
	}
	return client, nil
}

// buildSearcher selects the product source. The PostgreSQL catalog uses the
// embedding endpoint when a model is configured and full-text only otherwise.
// The JSON catalog always uses the local hash embedder so products and queries
// share one vector space.
func (a *app) buildSearcher(ctx context.Context, cfg *config.Config, llm agents.StructuredGenerator) (*retrieval.HybridSearcher, error) {
	merger, err := retrieval.NewMerger(cfg.Retrieval.DenseWeight, cfg.Retrieval.SparseWeight)
	if err != nil {
		return nil, err
	}
	var (
		source   retrieval.CandidateSource
		embedder retrieval.Embedder
	)
	switch {
	case cfg.Database.URL != "":
		pg, err := retrieval.NewPostgresSource(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		source = pg
		if e, ok := llm.(retrieval.Embedder); ok {
			embedder = e
		}
	case cfg.Database.CatalogPath != "":
		embedder = retrieval.NewHashEmbedder(cfg.Embedding.Dimensions)
		catalog, err := retrieval.LoadCatalog(ctx, cfg.Database.CatalogPath, embedder)
		if err != nil {
			return nil, err
		}
		slog.Info("macrs: catalog loaded", "path", cfg.Database.CatalogPath, "products", catalog.Len())
		source = catalog
	default:
		slog.Warn("macrs: no product catalog configured, recommendations will abstain")
		embedder = retrieval.NewHashEmbedder(cfg.Embedding.Dimensions)
		catalog, err := retrieval.NewCatalogSource(ctx, nil, embedder)
		if err != nil {
			return nil, err
		}
		source = catalog
	}
	return retrieval.NewHybridSearcher(source, embedder, merger,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithDepth(cfg.Retrieval.DenseK, cfg.Retrieval.SparseK),
	), nil
}

// openStore opens the conversation store. SQLite stores are guarded by a
// lock file in their directory.
func (a *app) openStore(cfg *config.Config, command string) (store.Store, error) {
	dsn := storeDSN(cfg)
	if store.DetectDSNType(dsn) == "sqlite3" {
		lock, err := lockfile.AcquireLock(filepath.Dir(dsn), command)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, lock.Release)
	}
	st, err := store.New(dsn, store.WithTTL(cfg.Store.TTL))
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	a.closers = append(a.closers, st.Close)
	return st, nil
}

// storeDSN defaults to a SQLite file in the state directory.
func storeDSN(cfg *config.Config) string {
	if cfg.Store.DSN == "" {
		return filepath.Join(cfg.Store.StateDir, DefaultDBFileName)
	}
	return cfg.Store.DSN
}

func catalogKind(cfg *config.Config) string {
	switch {
	case cfg.Database.URL != "":
		return "postgres"
	case cfg.Database.CatalogPath != "":
		return "json"
	}
	return "empty"
}

func newPlanner(cfg *config.Config, llm agents.StructuredGenerator) *planner.Planner {
	var selector planner.Selector = planner.RuleSelector{}
	if llm != nil {
		selector = planner.NewLLMSelector(llm)
	}
	return planner.New(selector, planner.WithPreferRecommend(cfg.Planner.PreferRecommendWhenSufficient))
}

func newReflector(llm agents.StructuredGenerator) *reflection.Engine {
	if llm == nil {
		return reflection.NewEngine(reflection.NewRuleExtractor(nil), reflection.RuleDetector{}, reflection.RuleAdvisor{})
	}
	return reflection.NewEngine(reflection.NewLLMExtractor(llm), reflection.NewLLMDetector(llm), reflection.NewLLMAdvisor(llm))
}
