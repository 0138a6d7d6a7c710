package models

import (
	"fmt"
	"time"
)

// AssignmentStatus represents the persisted state of an assignment
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"    // Created by an interviewer, not started
	AssignmentInProgress AssignmentStatus = "in-progress" // Candidate started, clock running
	AssignmentCompleted  AssignmentStatus = "completed"   // Submitted (manually or on expiry)
	AssignmentExpired    AssignmentStatus = "expired"     // Never started before the due date
)

// Assignment is one candidate's attempt at an assessment
type Assignment struct {
	ID             string            `json:"id"`
	AssessmentID   string            `json:"assessment_id"`
	CandidateID    string            `json:"candidate_id"`
	CandidateEmail string            `json:"candidate_email,omitempty"`
	CandidateName  string            `json:"candidate_name,omitempty"`
	Status         AssignmentStatus  `json:"status"`
	AssignedBy     string            `json:"assigned_by,omitempty"`
	AssignedAt     *time.Time        `json:"assigned_at,omitempty"`
	DueAt          *time.Time        `json:"due_at,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Answers        map[string]string `json:"answers"`
	Score          float64           `json:"score"`
	Passed         bool              `json:"passed"`
	Violations     int               `json:"violations"`
	TimeSpent      int               `json:"time_spent"` // minutes
	LastSavedAt    *time.Time        `json:"last_saved_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IsTerminal returns true if the assignment can no longer change
func (a *Assignment) IsTerminal() bool {
	return a.Status == AssignmentCompleted || a.Status == AssignmentExpired
}

// TimeRemaining returns the duration until expiry (0 if expired or not started)
func (a *Assignment) TimeRemaining(now time.Time) time.Duration {
	if a.ExpiresAt == nil {
		return 0
	}
	remaining := a.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsOverdue reports whether an unstarted assignment passed its due date
func (a *Assignment) IsOverdue(now time.Time) bool {
	return a.Status == AssignmentAssigned && a.DueAt != nil && !now.Before(*a.DueAt)
}

// Validate checks the assignment against its assessment
func (a *Assignment) Validate(assessment *Assessment) error {
	if a.ID == "" {
		return fmt.Errorf("%w: assignment id is required", ErrMalformed)
	}
	if a.Status == AssignmentInProgress && a.ExpiresAt == nil {
		return fmt.Errorf("%w: assignment %s is in progress without expiry", ErrMalformed, a.ID)
	}
	if assessment == nil {
		return nil
	}
	if a.AssessmentID != assessment.ID {
		return fmt.Errorf("%w: assignment %s belongs to assessment %s", ErrMalformed, a.ID, a.AssessmentID)
	}
	ids := assessment.QuestionIDs()
	for qid := range a.Answers {
		if _, ok := ids[qid]; !ok {
			return fmt.Errorf("%w: assignment %s answers unknown question %q", ErrMalformed, a.ID, qid)
		}
	}
	return nil
}

// Completion is the result written when an assignment is submitted
type Completion struct {
	Answers    map[string]string `json:"answers"`
	Score      float64           `json:"score"`
	Passed     bool              `json:"passed"`
	Violations int               `json:"violations"`
	TimeSpent  int               `json:"time_spent"`
}

// AssignmentFilters narrows assignment listings
type AssignmentFilters struct {
	AssessmentID string
	CandidateID  string
	Status       AssignmentStatus
	Limit        int
	Offset       int
}

// Candidate is the identity of the person taking an assessment
type Candidate struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
