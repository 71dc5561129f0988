package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/krunaln/macrs-ecom-recommender/internal/genai"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
)

// StubLLM is a deterministic structured generator. Reply is called with the
// prompts and returns the raw model text, which is decoded like a real
// completion.
type StubLLM struct {
	Reply func(systemPrompt, userPrompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

// StaticLLM returns a StubLLM that always replies with text.
func StaticLLM(text string) *StubLLM {
	return &StubLLM{Reply: func(string, string) (string, error) { return text, nil }}
}

// FailingLLM returns a StubLLM that always fails with err.
func FailingLLM(err error) *StubLLM {
	return &StubLLM{Reply: func(string, string) (string, error) { return "", err }}
}

// GenerateJSON implements the structured generator interface.
func (s *StubLLM) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	s.mu.Lock()
	s.calls = append(s.calls, userPrompt)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	text, err := s.Reply(systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	return genai.DecodeJSONObject(text, out)
}

// Calls returns the user prompts received so far.
func (s *StubLLM) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// StubSearcher returns fixed results and records queries.
type StubSearcher struct {
	Results []models.RetrievalResult
	Err     error

	mu      sync.Mutex
	queries []retrieval.Query
}

// SearcherFor returns a StubSearcher whose results wrap products.
func SearcherFor(products ...models.Product) *StubSearcher {
	s := &StubSearcher{}
	for _, p := range products {
		s.Results = append(s.Results, models.RetrievalResult{ProductID: p.ID, Title: p.Title, CombinedScore: p.Score, Product: p})
	}
	return s
}

// Search implements the product search interface.
func (s *StubSearcher) Search(ctx context.Context, q retrieval.Query) ([]models.RetrievalResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Results, nil
}

// Queries returns the queries received so far.
func (s *StubSearcher) Queries() []retrieval.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]retrieval.Query(nil), s.queries...)
}

// StubResponder returns a fixed candidate, error, delay or panic.
type StubResponder struct {
	Agent     models.AgentName
	Candidate *models.Candidate
	Err       error
	Delay     time.Duration
	Panic     any

	mu        sync.Mutex
	snapshots []models.Snapshot
}

// Name returns the configured agent name.
func (s *StubResponder) Name() models.AgentName {
	return s.Agent
}

// Respond implements the responder interface.
func (s *StubResponder) Respond(ctx context.Context, snap models.Snapshot, utterance string) (*models.Candidate, error) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
	if s.Panic != nil {
		panic(s.Panic)
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Candidate == nil {
		return nil, nil
	}
	c := *s.Candidate
	c.Options = make([]models.CandidateOption, len(s.Candidate.Options))
	for i, o := range s.Candidate.Options {
		c.Options[i] = o.Clone()
	}
	return &c, nil
}

// Calls returns how many times Respond was invoked.
func (s *StubResponder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// StubDetector classifies every reply with a fixed result.
type StubDetector struct {
	Failure bool
	Err     error
	Calls   int
}

// DetectFailure implements the failure detector.
func (s *StubDetector) DetectFailure(ctx context.Context, prior models.Selection, reply string) (bool, error) {
	s.Calls++
	return s.Failure, s.Err
}
