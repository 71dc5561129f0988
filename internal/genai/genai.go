// Package genai provides language model and embedding access over an
// OpenAI-compatible API (OpenAI, Groq, Ollama).
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrNoChoicesReturned is returned when the completion contains no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrInvalidJSON is returned when a structured completion cannot be decoded.
	ErrInvalidJSON = errors.New("model output is not valid JSON")
	// ErrNoEmbedding is returned when the embedding response is empty.
	ErrNoEmbedding = errors.New("no embedding returned")
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("API key not set")
)

const (
	DefaultModel          = "openai/gpt-oss-20b"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultTemperature    = 0.2
	DefaultTimeout        = 30 * time.Second
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// embeddingService defines minimal interface for embeddings.
type embeddingService interface {
	Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error)
}

type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type embeddingsAdapter struct {
	svc *openai.EmbeddingService
}

func (a embeddingsAdapter) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.CreateEmbeddingResponse{}, err
	}
	return *resp, nil
}

// Client wraps chat completion and embedding services.
type Client struct {
	chat           chatService
	embed          embeddingService
	model          string
	embeddingModel string
	dimensions     int
	temperature    float64
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey             string
	BaseURL            string
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	Model              string
	EmbeddingModel     string
	EmbeddingDimension int
	Temperature        float64
	Timeout            time.Duration
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the API key for chat completions.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points chat completions at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithEmbedding configures the embedding endpoint, model and vector size.
func WithEmbedding(baseURL, apiKey, model string, dimensions int) Option {
	return func(o *Opts) {
		o.EmbeddingBaseURL = baseURL
		o.EmbeddingAPIKey = apiKey
		o.EmbeddingModel = model
		o.EmbeddingDimension = dimensions
	}
}

// NewClient initializes a client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:          DefaultModel,
		EmbeddingModel: DefaultEmbeddingModel,
		Temperature:    DefaultTemperature,
		Timeout:        DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithRequestTimeout(cfg.Timeout)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	// Embeddings may live on a different host (e.g. a local Ollama).
	embedKey := cfg.EmbeddingAPIKey
	if embedKey == "" {
		embedKey = cfg.APIKey
	}
	embedOpts := []option.RequestOption{option.WithAPIKey(embedKey), option.WithRequestTimeout(cfg.Timeout)}
	if cfg.EmbeddingBaseURL != "" {
		embedOpts = append(embedOpts, option.WithBaseURL(cfg.EmbeddingBaseURL))
	}
	embedCli := openai.NewClient(embedOpts...)

	slog.Debug("genai.NewClient", "model", cfg.Model, "embeddingModel", cfg.EmbeddingModel, "baseURL", cfg.BaseURL)
	return &Client{
		chat:           completionsAdapter{svc: &cli.Chat.Completions},
		embed:          embeddingsAdapter{svc: &embedCli.Embeddings},
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimension,
		temperature:    cfg.Temperature,
	}, nil
}

// Model returns the configured chat model.
func (c *Client) Model() string {
	return c.model
}

// GenerateWithMessages runs a chat completion and returns the first choice.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("genai.GenerateWithMessages failed", "model", c.model, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("genai.GenerateWithMessages", "model", c.model, "elapsed", time.Since(start), "tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// Generate runs a completion for a system and user prompt.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateJSON runs a completion and decodes the JSON object in its content
// into out. Text surrounding the outermost braces is ignored.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	content, err := c.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	return DecodeJSONObject(content, out)
}

// DecodeJSONObject extracts the outermost JSON object from text and decodes it.
func DecodeJSONObject(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no object found", ErrInvalidJSON)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}
	resp, err := c.embed.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Embed failed", "model", c.embeddingModel, "error", err)
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
