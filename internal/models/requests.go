package models

import "time"

// CreateAssignmentRequest assigns an assessment to a candidate
type CreateAssignmentRequest struct {
	CandidateID    string `json:"candidate_id"`
	CandidateEmail string `json:"candidate_email"`
	CandidateName  string `json:"candidate_name,omitempty"`
	DueInHours     int    `json:"due_in_hours,omitempty"`
}

// OpenSessionRequest starts or resumes a candidate session
type OpenSessionRequest struct {
	AssessmentID string `json:"assessment_id"`
}

// GrantRequest records a passed device test or acknowledgement
type GrantRequest struct {
	Capability Capability `json:"capability"`
}

// AnswerRequest sets the answer of one question
type AnswerRequest struct {
	Value string `json:"value"`
}

// SubmitResult is returned after a successful submission
type SubmitResult struct {
	AssignmentID string     `json:"assignment_id"`
	Score        float64    `json:"score"`
	Passed       bool       `json:"passed"`
	Violations   int        `json:"violations"`
	TimeSpent    int        `json:"time_spent"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
