// Package models defines the core data structures for the recommender.
//
// It includes the conversation memory threaded through turns, the candidate
// records exchanged between responders and the planner, retrieval results, and
// the API envelope shared across modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxUserMessageLength defines the maximum allowed length for a user turn
	MaxUserMessageLength = 4096
	// MaxSessionIDLength defines the maximum allowed length for a session identifier
	MaxSessionIDLength = 128
	// DefaultCorrectiveCapacity is the default bound on retained corrective experiences
	DefaultCorrectiveCapacity = 5
)

// Error variables for better error handling and testability
var (
	ErrStateCorrupted     = errors.New("conversation state corrupted")
	ErrInvalidAct         = errors.New("invalid dialogue act")
	ErrEmptySessionID     = errors.New("session id cannot be empty")
	ErrSessionIDTooLong   = errors.New("session id exceeds maximum length")
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrInvalidCapacity    = errors.New("capacity must be at least 1")
	ErrEmptySearchQuery   = errors.New("search query cannot be empty")
	ErrNoCandidateOptions = errors.New("candidate has no options")
)

// TurnRequest is the body of a turn submitted through the API.
type TurnRequest struct {
	Message string `json:"message"`
}

// Validate checks the turn request.
func (r TurnRequest) Validate() error {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return ErrEmptyMessage
	}
	if len(msg) > MaxUserMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ValidateSessionID checks a session identifier.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptySessionID
	}
	if len(id) > MaxSessionIDLength {
		return ErrSessionIDTooLong
	}
	return nil
}

// SearchRequest is the body of a direct product search.
type SearchRequest struct {
	Query    string   `json:"query"`
	K        int      `json:"k,omitempty"`
	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`
	Currency string   `json:"currency,omitempty"`
	Brand    string   `json:"brand,omitempty"`
	Category string   `json:"category,omitempty"`
}

// Validate checks the search request.
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptySearchQuery
	}
	return nil
}

// APIStatus represents the status field of API responses.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the envelope of every HTTP response body.
type APIResponse struct {
	Status  APIStatus `json:"status"`
	Message string    `json:"message,omitempty"`
	Result  any       `json:"result,omitempty"`
}

// Success wraps a result.
func Success(result any) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error wraps a client-facing message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
