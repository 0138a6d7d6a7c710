package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/session"
)

const submitTimeout = 15 * time.Second

// --- Candidate handlers (bearer token auth) ---

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	candidate, ok := CandidateFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
		return
	}

	var req models.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.AssessmentID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "assessment_id is required")
		return
	}

	c, err := s.sessions.Open(r.Context(), req.AssessmentID, candidate)
	if err != nil {
		respondServiceError(w, err, "open session")
		return
	}

	respondJSON(w, http.StatusOK, c.View())
}

// controllerFor returns the caller's live controller for the id in the path.
// Another candidate's session is reported as not found.
func (s *Server) controllerFor(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	candidate, ok := CandidateFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
		return nil, false
	}

	c, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil || c.Candidate().ID != candidate.ID {
		respondError(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	return c, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	candidate, ok := CandidateFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
		return
	}
	id := chi.URLParam(r, "id")

	if c, err := s.sessions.Get(id); err == nil && c.Candidate().ID == candidate.ID {
		respondJSON(w, http.StatusOK, c.View())
		return
	}

	// finished attempts are no longer live; answer from the stored record
	a, err := s.repo.GetAssignment(r.Context(), id)
	if err != nil || a.CandidateID != candidate.ID {
		respondError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	respondJSON(w, http.StatusOK, storedView(a))
}

func storedView(a *models.Assignment) session.View {
	v := session.View{
		AssignmentID: a.ID,
		AssessmentID: a.AssessmentID,
		ExpiresAt:    a.ExpiresAt,
		Violations:   a.Violations,
	}
	switch a.Status {
	case models.AssignmentCompleted:
		v.State = session.StateCompleted
		v.Result = &models.SubmitResult{
			AssignmentID: a.ID,
			Score:        a.Score,
			Passed:       a.Passed,
			Violations:   a.Violations,
			TimeSpent:    a.TimeSpent,
			CompletedAt:  a.CompletedAt,
		}
	case models.AssignmentExpired:
		v.State = session.StateExpired
	default:
		v.State = session.StateClosed
	}
	return v
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req models.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	switch req.Capability {
	case models.CapabilityCamera, models.CapabilityScreen, models.CapabilityMicrophone,
		models.CapabilityBrowserLock, models.CapabilityIPTracking:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "unknown capability")
		return
	}

	if err := c.Grant(req.Capability); err != nil {
		respondServiceError(w, err, "grant capability")
		return
	}
	respondJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	if err := c.Begin(r.Context()); err != nil {
		respondServiceError(w, err, "begin assessment")
		return
	}
	respondJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := c.SetAnswer(chi.URLParam(r, "questionId"), req.Value); err != nil {
		respondServiceError(w, err, "save answer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	if err := c.RequestSubmit(); err != nil {
		respondServiceError(w, err, "request submit")
		return
	}
	respondJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleCancelSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	if err := c.CancelSubmit(); err != nil {
		respondServiceError(w, err, "cancel submit")
		return
	}
	respondJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleConfirmSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	// a dropped connection must not abort the write half way
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), submitTimeout)
	defer cancel()

	result, err := c.ConfirmSubmit(ctx)
	if err != nil {
		respondServiceError(w, err, "submit assessment")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	c.Abandon()
	w.WriteHeader(http.StatusNoContent)
}
