package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terra-clan/proctor-engine/internal/api"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/session"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

const testKey = "sk_test_client_0001"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	repo := storage.NewMemoryRepository(nil)
	repo.AddClient(&models.ApiClient{ID: 7, Name: "ats", ApiKey: testKey, IsActive: true, Permissions: []string{"assessments:*", "assignments:*", "reports:read"}})
	err := repo.UpsertAssessment(context.Background(), &models.Assessment{
		ID: "quiz", Title: "Quiz", Type: models.AssessmentText, TimeLimit: 20, PassingScore: 70,
		Questions: []models.Question{{ID: "q1", Type: models.QuestionText, CorrectAnswer: "42"}},
	})
	if err != nil {
		t.Fatalf("UpsertAssessment() error = %v", err)
	}

	sessions := session.NewManager(session.ManagerOptions{Store: repo})
	srv := httptest.NewServer(api.NewServer(api.Options{
		Repo:     repo,
		Sessions: sessions,
		Feed:     repo.Feed(),
		Tokens:   api.NewTokenService("secret"),
	}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_AssignmentLifecycle(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, testKey)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	list, err := c.ListAssessments(ctx)
	if err != nil {
		t.Fatalf("ListAssessments() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "quiz" {
		t.Fatalf("ListAssessments() = %+v", list)
	}

	a, err := c.GetAssessment(ctx, "quiz")
	if err != nil {
		t.Fatalf("GetAssessment() error = %v", err)
	}
	if a.Questions[0].CorrectAnswer != "42" {
		t.Errorf("CorrectAnswer = %q", a.Questions[0].CorrectAnswer)
	}

	assignment, err := c.Assign(ctx, "quiz", models.CreateAssignmentRequest{CandidateID: "c1", CandidateEmail: "c1@example.com"})
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if assignment.AssignedBy != "client:7:ats" {
		t.Errorf("AssignedBy = %q", assignment.AssignedBy)
	}

	_, err = c.Assign(ctx, "quiz", models.CreateAssignmentRequest{CandidateID: "c1", CandidateEmail: "c1@example.com"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Code != "already_assigned" {
		t.Errorf("duplicate Assign() error = %v", err)
	}

	got, err := c.GetAssignment(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("GetAssignment() error = %v", err)
	}
	if got.Status != models.AssignmentAssigned {
		t.Errorf("Status = %s", got.Status)
	}

	assignments, err := c.ListAssignments(ctx, ListOptions{CandidateID: "c1", Status: models.AssignmentAssigned})
	if err != nil {
		t.Fatalf("ListAssignments() error = %v", err)
	}
	if len(assignments) != 1 {
		t.Errorf("ListAssignments() = %d items, want 1", len(assignments))
	}

	token, err := c.CandidateToken(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("CandidateToken() error = %v", err)
	}
	if token.Token == "" || token.AssessmentID != "quiz" {
		t.Errorf("CandidateToken() = %+v", token)
	}
	claims, err := api.NewTokenService("secret").Parse(token.Token)
	if err != nil || claims.Candidate().ID != "c1" {
		t.Errorf("issued token claims = %+v, %v", claims, err)
	}

	report, err := c.ViolationReport(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("ViolationReport() error = %v", err)
	}
	if report.Total != 0 || report.AssignmentID != assignment.ID {
		t.Errorf("ViolationReport() = %+v", report)
	}
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := NewClient(srv.URL, "sk_wrong_wrong_wrong").ListAssessments(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Code != "invalid_api_key" {
		t.Errorf("bad key error = %v", err)
	}

	_, err = NewClient(srv.URL, testKey).GetAssignment(ctx, "missing")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("missing assignment error = %v", err)
	}
}

func TestListOptionsQuery(t *testing.T) {
	tests := []struct {
		name string
		opts ListOptions
		want string
	}{
		{"empty", ListOptions{}, ""},
		{"filters", ListOptions{AssessmentID: "quiz", Status: models.AssignmentCompleted, Limit: 10}, "?assessment_id=quiz&limit=10&status=completed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.query(); got != tt.want {
				t.Errorf("query() = %q, want %q", got, tt.want)
			}
		})
	}
}
