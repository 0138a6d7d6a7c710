package models

import (
	"sort"
	"time"
)

// ViolationType identifies the kind of rule breach
type ViolationType string

const (
	ViolationTabSwitch        ViolationType = "tab_switch"
	ViolationNoFace           ViolationType = "no_face_detected"
	ViolationMultipleFaces    ViolationType = "multiple_faces"
	ViolationPermissionDenied ViolationType = "permission_denied"
)

// Severity of a violation
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation is an append-only record of a detected breach
type Violation struct {
	ID           string        `json:"id"`
	AssignmentID string        `json:"assignment_id"`
	Type         ViolationType `json:"type"`
	Severity     Severity      `json:"severity"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Snapshot is a periodic proctoring status record
type Snapshot struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	Timestamp    time.Time `json:"timestamp"`
	Violations   int       `json:"violations"`
	TabActive    bool      `json:"tab_active"`
	FaceDetected bool      `json:"face_detected"`
}

// ViolationReport summarizes the violations of one assignment
type ViolationReport struct {
	AssignmentID string                `json:"assignment_id"`
	Total        int                   `json:"total"`
	BySeverity   map[Severity]int      `json:"by_severity"`
	ByType       map[ViolationType]int `json:"by_type"`
	Violations   []*Violation          `json:"violations"`
}

// BuildViolationReport sorts violations by timestamp and counts them
func BuildViolationReport(assignmentID string, violations []*Violation) *ViolationReport {
	sorted := make([]*Violation, len(violations))
	copy(sorted, violations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	report := &ViolationReport{
		AssignmentID: assignmentID,
		Total:        len(sorted),
		BySeverity: map[Severity]int{
			SeverityLow:    0,
			SeverityMedium: 0,
			SeverityHigh:   0,
		},
		ByType:     make(map[ViolationType]int),
		Violations: sorted,
	}
	for _, v := range sorted {
		report.BySeverity[v.Severity]++
		report.ByType[v.Type]++
	}
	return report
}
