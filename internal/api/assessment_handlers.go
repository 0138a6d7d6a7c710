package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

// --- Interviewer handlers (API key auth) ---

func (s *Server) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	list, err := s.repo.ListAssessments(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err, "list assessments")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": list,
		"total":       len(list),
		"limit":       limit,
		"offset":      offset,
	})
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.repo.GetAssessment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "get assessment")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "id")

	var req models.CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.CandidateID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "candidate_id is required")
		return
	}
	if _, err := mail.ParseAddress(req.CandidateEmail); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "candidate_email must be a valid address")
		return
	}
	if req.DueInHours < 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "due_in_hours must not be negative")
		return
	}

	assessment, err := s.repo.GetAssessment(r.Context(), assessmentID)
	if err != nil {
		respondServiceError(w, err, "get assessment")
		return
	}

	now := s.clk.Now()
	due := now.Add(s.dueWindow)
	if req.DueInHours > 0 {
		due = now.Add(time.Duration(req.DueInHours) * time.Hour)
	}

	assignedBy := ""
	if client := ClientFromContext(r.Context()); client != nil {
		assignedBy = client.Actor()
	}

	a := &models.Assignment{
		ID:             uuid.New().String(),
		AssessmentID:   assessment.ID,
		CandidateID:    req.CandidateID,
		CandidateEmail: req.CandidateEmail,
		CandidateName:  req.CandidateName,
		Status:         models.AssignmentAssigned,
		AssignedBy:     assignedBy,
		AssignedAt:     &now,
		DueAt:          &due,
		Answers:        make(map[string]string),
	}

	if err := s.repo.CreateAssignment(r.Context(), a); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			respondError(w, http.StatusConflict, "already_assigned", "candidate already has this assessment")
			return
		}
		respondServiceError(w, err, "create assignment")
		return
	}

	if err := s.repo.IncrementAssessmentCounter(r.Context(), assessment.ID, models.CounterAssignments); err != nil {
		slog.Error("failed to increment assignments counter", "assessment_id", assessment.ID, "error", err)
	}

	event := events.Assigned{
		AssignmentID:   a.ID,
		AssessmentID:   a.AssessmentID,
		CandidateID:    a.CandidateID,
		CandidateEmail: a.CandidateEmail,
		CandidateName:  a.CandidateName,
		DueAt:          a.DueAt,
	}
	if err := s.publisher.Publish(context.WithoutCancel(r.Context()), events.AssessmentAssigned, event); err != nil {
		slog.Error("failed to publish assignment", "assignment_id", a.ID, "error", err)
	}

	slog.Info("assessment assigned",
		"assignment_id", a.ID,
		"assessment_id", a.AssessmentID,
		"candidate_id", a.CandidateID,
		"assigned_by", assignedBy,
		"due_at", due,
	)

	respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.AssignmentFilters{
		AssessmentID: q.Get("assessment_id"),
		CandidateID:  q.Get("candidate_id"),
		Status:       models.AssignmentStatus(q.Get("status")),
		Limit:        queryInt(r, "limit", 50),
		Offset:       queryInt(r, "offset", 0),
	}

	switch filters.Status {
	case "", models.AssignmentAssigned, models.AssignmentInProgress,
		models.AssignmentCompleted, models.AssignmentExpired:
	default:
		respondError(w, http.StatusBadRequest, "validation_error", "unknown status")
		return
	}

	list, err := s.repo.ListAssignments(r.Context(), filters)
	if err != nil {
		respondServiceError(w, err, "list assignments")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assignments": list,
		"total":       len(list),
		"limit":       filters.Limit,
		"offset":      filters.Offset,
	})
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.repo.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "get assignment")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// CandidateToken is a signed link credential for the candidate of an assignment
type CandidateToken struct {
	Token        string    `json:"token"`
	AssessmentID string    `json:"assessment_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// handleIssueCandidateToken signs a candidate token for an assignment that
// can still be taken
func (s *Server) handleIssueCandidateToken(w http.ResponseWriter, r *http.Request) {
	a, err := s.repo.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "get assignment")
		return
	}

	if a.IsOverdue(s.clk.Now()) {
		respondError(w, http.StatusGone, "assignment_expired", "assignment has expired")
		return
	}
	if a.Status != models.AssignmentAssigned && a.Status != models.AssignmentInProgress {
		respondError(w, http.StatusConflict, "invalid_state", "assignment is "+string(a.Status))
		return
	}

	candidate := models.Candidate{ID: a.CandidateID, Name: a.CandidateName, Email: a.CandidateEmail}
	token, expiresAt, err := s.tokens.Issue(candidate, s.tokenTTL)
	if err != nil {
		slog.Error("failed to sign candidate token", "assignment_id", a.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}

	slog.Info("candidate token issued",
		"assignment_id", a.ID,
		"candidate_id", a.CandidateID,
		"client_id", ClientFromContext(r.Context()).ID,
		"expires_at", expiresAt,
	)

	respondJSON(w, http.StatusCreated, CandidateToken{
		Token:        token,
		AssessmentID: a.AssessmentID,
		ExpiresAt:    expiresAt,
	})
}

func (s *Server) handleViolationReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.repo.GetAssignment(r.Context(), id); err != nil {
		respondServiceError(w, err, "get assignment")
		return
	}

	violations, err := s.repo.ListViolations(r.Context(), id)
	if err != nil {
		respondServiceError(w, err, "list violations")
		return
	}

	respondJSON(w, http.StatusOK, models.BuildViolationReport(id, violations))
}
