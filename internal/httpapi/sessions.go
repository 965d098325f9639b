package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicerelay/internal/memory"
	"github.com/ent0n29/voicerelay/internal/session"
)

const (
	defaultTurnLimit = 50
	maxTurnLimit     = 500
)

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active":   s.sessions.ActiveCount(),
		"sessions": s.sessions.List(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := s.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "session_lookup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleListTurns serves the stored transcript. Turns outlive the in-memory
// session registry, so an unknown session ID is not an error here.
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn store not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	limit := defaultTurnLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n > maxTurnLimit {
			n = maxTurnLimit
		}
		limit = n
	}

	turns, err := s.turns.RecentTurns(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "turn_store_failed", err.Error())
		return
	}
	if turns == nil {
		turns = []memory.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}
