// Package events publishes assessment lifecycle events to the message bus.
package events

import (
	"context"
	"time"
)

// Routing keys
const (
	AssessmentAssigned  = "assessment.assigned"
	AssessmentCompleted = "assessment.completed"
	ViolationRecorded   = "violation.recorded"
)

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Assigned is published when an interviewer assigns an assessment
type Assigned struct {
	AssignmentID   string     `json:"assignment_id"`
	AssessmentID   string     `json:"assessment_id"`
	CandidateID    string     `json:"candidate_id"`
	CandidateEmail string     `json:"candidate_email,omitempty"`
	CandidateName  string     `json:"candidate_name,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
}

// Completed is published when an assignment is submitted
type Completed struct {
	AssignmentID   string    `json:"assignment_id"`
	AssessmentID   string    `json:"assessment_id"`
	CandidateID    string    `json:"candidate_id"`
	CandidateEmail string    `json:"candidate_email,omitempty"`
	Score          float64   `json:"score"`
	Passed         bool      `json:"passed"`
	Violations     int       `json:"violations"`
	TimeSpent      int       `json:"time_spent"`
	AutoSubmitted  bool      `json:"auto_submitted"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(ctx context.Context, routingKey string, event any) error { return nil }

func (Nop) Close() error { return nil }
