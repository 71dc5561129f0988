package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/krunaln/macrs-ecom-recommender/internal/flow"
	"github.com/krunaln/macrs-ecom-recommender/internal/models"
	"github.com/krunaln/macrs-ecom-recommender/internal/retrieval"
)

// createConversationHandler handles POST /conversations
func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := flow.NewSessionID()
	slog.Debug("createConversationHandler issued session", "session_id", id)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"session_id": id}))
}

// listConversationsHandler handles GET /conversations
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.Sessions(r.Context())
	if err != nil {
		slog.Error("listConversationsHandler failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ids))
}

// turnHandler handles POST /conversations/{id}/turns
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req models.TurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("turnHandler validation failed", "session_id", id, "error", err)
		writeError(w, err)
		return
	}

	res, err := s.svc.Turn(r.Context(), id, req.Message)
	if err != nil {
		slog.Warn("turnHandler turn failed", "session_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// getConversationHandler handles GET /conversations/{id}
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.svc.Conversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// deleteConversationHandler handles DELETE /conversations/{id}
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Reset(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"session_id": id}))
}

// searchHandler handles POST /search
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Search is not configured"))
		return
	}
	var req models.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}
	results, err := s.searcher.Search(r.Context(), retrieval.FromRequest(req))
	if err != nil {
		slog.Error("searchHandler search failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(results))
}

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}))
}
