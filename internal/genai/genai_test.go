package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

type mockEmbeddingService struct {
	resp openai.CreateEmbeddingResponse
	err  error
}

func (m *mockEmbeddingService) Create(ctx context.Context, params openai.EmbeddingNewParams) (openai.CreateEmbeddingResponse, error) {
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
}

func TestGenerate_Success(t *testing.T) {
	svc := &mockChatService{resp: completion("Hello World")}
	client := &Client{chat: svc, model: "test-model", temperature: 0.2}
	out, err := client.Generate(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out)
	assert.Equal(t, openai.ChatModel("test-model"), svc.params.Model)
	assert.Len(t, svc.params.Messages, 2)
}

func TestGenerate_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Generate(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.Generate(context.Background(), "sys", "usr")
	assert.ErrorIs(t, err, ErrNoChoicesReturned)
}

func TestGenerateJSON(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("Sure!\n```json\n{\"candidate_id\": \"ask_1\"}\n```")}}
	var out struct {
		CandidateID string `json:"candidate_id"`
	}
	require.NoError(t, client.GenerateJSON(context.Background(), "sys", "usr", &out))
	assert.Equal(t, "ask_1", out.CandidateID)

	client = &Client{chat: &mockChatService{resp: completion("no json here")}}
	assert.ErrorIs(t, client.GenerateJSON(context.Background(), "sys", "usr", &out), ErrInvalidJSON)
}

func TestDecodeJSONObject_Malformed(t *testing.T) {
	var out map[string]any
	assert.ErrorIs(t, DecodeJSONObject(`{"a": }`, &out), ErrInvalidJSON)
	assert.ErrorIs(t, DecodeJSONObject(`} {`, &out), ErrInvalidJSON)
}

func TestEmbed(t *testing.T) {
	svc := &mockEmbeddingService{resp: openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{{Embedding: []float64{0.5, -0.25}}},
	}}
	client := &Client{embed: svc, embeddingModel: "nomic-embed-text"}
	vec, err := client.Embed(context.Background(), "red shoes")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vec)

	client = &Client{embed: &mockEmbeddingService{}}
	_, err = client.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("m"), WithBaseURL("http://localhost:1/v1"))
	require.NoError(t, err)
	assert.Equal(t, "m", cli.Model())
}
