// Package testutil provides deterministic collaborators and helpers shared by
// the recommender's tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes the JSON envelope and validates its status field.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Fatalf("response missing or invalid 'status' field: %v", response)
	}
	if status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %v)", expectedStatus, status, response["message"])
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// NewState creates a conversation state and fails the test on error.
func NewState(t *testing.T, sessionID string, capacity int) *models.ConversationState {
	t.Helper()
	s, err := models.NewConversationState(sessionID, capacity)
	if err != nil {
		t.Fatalf("failed to create state: %v", err)
	}
	return s
}

// Price returns a pointer to v.
func Price(v float64) *float64 {
	return &v
}

// ShoeProducts returns two running shoes used across scenario tests.
func ShoeProducts() []models.Product {
	return []models.Product{
		{ID: "shoe-1", Title: "Trail Runner", Brand: "Acme", Categories: []string{"Shoes"}, Price: Price(89), Currency: "USD", Score: 0.9},
		{ID: "shoe-2", Title: "Road Runner", Brand: "Zoom", Categories: []string{"Shoes"}, Price: Price(95), Currency: "USD", Score: 0.7},
	}
}

// Option builds a candidate option.
func Option(id, response string, slots map[string]any, products ...models.Product) models.CandidateOption {
	return models.CandidateOption{CandidateID: id, Response: response, Slots: slots, Products: products}
}

// Candidate builds a candidate for an agent with the agent's act.
func Candidate(agent models.AgentName, confidence float64, options ...models.CandidateOption) *models.Candidate {
	return &models.Candidate{AgentName: agent, Act: agent.Act(), Confidence: confidence, Options: options}
}
