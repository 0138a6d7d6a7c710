package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/terra-clan/proctor-engine/internal/answers"
	"github.com/terra-clan/proctor-engine/internal/health"
	"github.com/terra-clan/proctor-engine/internal/locks"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/session"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondServiceError maps domain errors to HTTP responses
func respondServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrAssessmentNotFound),
		errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrAssignmentExpired):
		respondError(w, http.StatusGone, "assignment_expired", "assignment has expired")
	case errors.Is(err, session.ErrPermissionsPending):
		respondError(w, http.StatusConflict, "permissions_pending", err.Error())
	case errors.Is(err, session.ErrSubmitInProgress):
		respondError(w, http.StatusConflict, "submit_in_progress", "submission already in progress")
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, answers.ErrClosed):
		respondError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, storage.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, answers.ErrUnknownQuestion):
		respondError(w, http.StatusBadRequest, "unknown_question", err.Error())
	case errors.Is(err, models.ErrMalformed):
		respondError(w, http.StatusUnprocessableEntity, "malformed", err.Error())
	case errors.Is(err, session.ErrSubmitFailed):
		respondError(w, http.StatusBadGateway, "submit_failed", "submission could not be saved, please retry")
	case errors.Is(err, locks.ErrLockTimeout):
		respondError(w, http.StatusServiceUnavailable, "busy", "please retry")
	default:
		slog.Error("request failed", "action", action, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.health.CheckAll(r.Context())

	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			slog.Warn("dependency not ready", "dependency", name, "error", err)
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !health.Healthy(results) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(apiResponse{
			Success: false,
			Data:    map[string]interface{}{"status": "not_ready", "checks": checks},
			Error:   &apiError{Code: "not_ready", Message: "service not ready"},
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"checks":   checks,
		"sessions": s.sessions.Len(),
	})
}
