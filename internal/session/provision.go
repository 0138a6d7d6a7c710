package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

// AssignmentStore is the part of the store used to fetch or create assignments
type AssignmentStore interface {
	FindAssignment(ctx context.Context, assessmentID, candidateID string) (*models.Assignment, error)
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	StartAssignment(ctx context.Context, id string, startedAt, expiresAt time.Time) error
	ExpireAssignment(ctx context.Context, id string) error
	IncrementAssessmentCounter(ctx context.Context, id string, counter models.AssessmentCounter) error
}

func lockKey(assessmentID, candidateID string) string {
	return "assignment:" + assessmentID + ":" + candidateID
}

// LoadOrCreateAssignment returns the candidate's assignment for the
// assessment, creating and starting it when needed. Callers serialize calls
// for the same pair; a concurrent creation elsewhere surfaces as a
// conflict and the winner's record is used.
func LoadOrCreateAssignment(ctx context.Context, store AssignmentStore, now time.Time, assessment *models.Assessment, candidate models.Candidate) (*models.Assignment, error) {
	existing, err := store.FindAssignment(ctx, assessment.ID, candidate.ID)
	if err == nil {
		return resumeAssignment(ctx, store, now, assessment, existing)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}

	startedAt := now
	expiresAt := now.Add(assessment.Duration())
	assignedAt := now

	a := &models.Assignment{
		ID:             uuid.New().String(),
		AssessmentID:   assessment.ID,
		CandidateID:    candidate.ID,
		CandidateEmail: candidate.Email,
		CandidateName:  candidate.Name,
		Status:         models.AssignmentInProgress,
		AssignedAt:     &assignedAt,
		StartedAt:      &startedAt,
		ExpiresAt:      &expiresAt,
		Answers:        make(map[string]string),
	}

	if err := store.CreateAssignment(ctx, a); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("failed to create assignment: %w", err)
		}
		existing, err := store.FindAssignment(ctx, assessment.ID, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find assignment after conflict: %w", err)
		}
		return resumeAssignment(ctx, store, now, assessment, existing)
	}

	if err := store.IncrementAssessmentCounter(ctx, assessment.ID, models.CounterAssignments); err != nil {
		slog.Error("failed to increment assignments counter", "assessment_id", assessment.ID, "error", err)
	}

	slog.Info("assignment created",
		"assignment_id", a.ID,
		"assessment_id", assessment.ID,
		"candidate_id", candidate.ID,
		"expires_at", expiresAt,
	)

	return a, nil
}

func resumeAssignment(ctx context.Context, store AssignmentStore, now time.Time, assessment *models.Assessment, a *models.Assignment) (*models.Assignment, error) {
	switch a.Status {
	case models.AssignmentAssigned:
		if a.IsOverdue(now) {
			if err := store.ExpireAssignment(ctx, a.ID); err != nil {
				slog.Error("failed to expire overdue assignment", "assignment_id", a.ID, "error", err)
			}
			return nil, fmt.Errorf("%w: was due %s", ErrAssignmentExpired, a.DueAt.Format(time.RFC3339))
		}

		startedAt := now
		expiresAt := now.Add(assessment.Duration())
		if err := store.StartAssignment(ctx, a.ID, startedAt, expiresAt); err != nil {
			return nil, fmt.Errorf("failed to start assignment: %w", err)
		}
		a.Status = models.AssignmentInProgress
		a.StartedAt = &startedAt
		a.ExpiresAt = &expiresAt

		slog.Info("assignment started", "assignment_id", a.ID, "expires_at", expiresAt)
		return a, nil

	case models.AssignmentExpired:
		return nil, ErrAssignmentExpired

	default:
		return a, nil
	}
}
