package storage

import (
	"context"
	"errors"
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
)

var (
	// ErrNotFound is returned when a requested document does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an assignment already exists for the
	// same assessment and candidate
	ErrConflict = errors.New("already exists")

	// ErrNotInProgress is returned when a violation arrives for an
	// assignment that is no longer being taken
	ErrNotInProgress = errors.New("assignment not in progress")
)

// Repository defines the interface for assessment persistence
type Repository interface {
	// Assessments
	UpsertAssessment(ctx context.Context, a *models.Assessment) error
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	ListAssessments(ctx context.Context, limit, offset int) ([]*models.Assessment, error)
	IncrementAssessmentCounter(ctx context.Context, id string, counter models.AssessmentCounter) error

	// Assignments
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	FindAssignment(ctx context.Context, assessmentID, candidateID string) (*models.Assignment, error)
	ListAssignments(ctx context.Context, filters models.AssignmentFilters) ([]*models.Assignment, error)
	StartAssignment(ctx context.Context, id string, startedAt, expiresAt time.Time) error
	MergeAnswers(ctx context.Context, id string, answers map[string]string) error
	CompleteAssignment(ctx context.Context, id string, c models.Completion) (time.Time, error)
	ExpireAssignment(ctx context.Context, id string) error
	GetExpiredAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error)
	GetOverdueAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error)

	// Proctoring
	AppendViolation(ctx context.Context, v *models.Violation) error
	ListViolations(ctx context.Context, assignmentID string) ([]*models.Violation, error)
	AppendSnapshot(ctx context.Context, s *models.Snapshot) error

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Feed delivers violations as they are appended
type Feed interface {
	Subscribe(assignmentID string) (<-chan *models.Violation, func())
}
