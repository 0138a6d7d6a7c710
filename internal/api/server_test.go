package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/proctor-engine/internal/config"
	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/health"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/session"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

const (
	adminKey  = "sk_test_admin_0001"
	viewerKey = "sk_test_viewer_0001"
)

type testEnv struct {
	repo     *storage.MemoryRepository
	sessions *session.Manager
	tokens   *TokenService
	pub      *events.Recorder
	health   *health.Registry
	server   *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := storage.NewMemoryRepository(nil)
	repo.AddClient(&models.ApiClient{ID: 1, Name: "admin", ApiKey: adminKey, IsActive: true, Permissions: []string{"*"}})
	repo.AddClient(&models.ApiClient{ID: 2, Name: "viewer", ApiKey: viewerKey, IsActive: true, Permissions: []string{"assessments:read"}})

	ctx := context.Background()
	for _, a := range []*models.Assessment{
		{
			ID: "quiz", Title: "Quiz", Type: models.AssessmentText, TimeLimit: 30, PassingScore: 50,
			Questions: []models.Question{
				{ID: "q1", Type: models.QuestionText, CorrectAnswer: "yes"},
				{ID: "q2", Type: models.QuestionText, CorrectAnswer: "no"},
			},
		},
		{
			ID: "locked", Title: "Locked", Type: models.AssessmentText, TimeLimit: 30, PassingScore: 50,
			Proctoring: models.ProctoringConfig{BrowserLock: true},
			Questions:  []models.Question{{ID: "q1", Type: models.QuestionText, CorrectAnswer: "yes"}},
		},
	} {
		if err := repo.UpsertAssessment(ctx, a); err != nil {
			t.Fatalf("UpsertAssessment() error = %v", err)
		}
	}

	pub := &events.Recorder{}
	sessions := session.NewManager(session.ManagerOptions{Store: repo, Events: pub})
	t.Cleanup(sessions.CloseAll)

	env := &testEnv{
		repo:     repo,
		sessions: sessions,
		tokens:   NewTokenService("test-secret"),
		pub:      pub,
		health:   health.NewRegistry(),
	}
	env.health.Register("store", health.CheckFunc(repo.Ping))
	env.server = NewServer(Options{
		Config:   config.ServerConfig{Host: "localhost", Port: 8080},
		Repo:     repo,
		Sessions: sessions,
		Feed:     repo.Feed(),
		Tokens:   env.tokens,
		Health:   env.health,
		Events:   pub,
	})
	return env
}

func (e *testEnv) token(t *testing.T, id string) string {
	t.Helper()
	tok, _, err := e.tokens.Issue(models.Candidate{ID: id, Name: "Cand " + id, Email: id + "@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func decodeData(t *testing.T, resp apiResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	if rec, _ := env.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/ready = %d", rec.Code)
	}

	env.health.Register("events", health.CheckFunc(func(ctx context.Context) error {
		return errors.New("channel closed")
	}))
	if rec, _ := env.do(t, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready with failing dependency = %d, want 503", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t)
	env.repo.AddClient(&models.ApiClient{ID: 3, Name: "retired", ApiKey: "sk_test_retired_001", Permissions: []string{"*"}})

	tests := []struct {
		name     string
		key      string
		path     string
		want     int
		wantCode string
	}{
		{"missing key", "", "/api/v1/assessments", http.StatusUnauthorized, "missing_api_key"},
		{"unknown key", "sk_nope_nope_nope", "/api/v1/assessments", http.StatusUnauthorized, "invalid_api_key"},
		{"inactive client", "sk_test_retired_001", "/api/v1/assessments", http.StatusUnauthorized, "client_inactive"},
		{"allowed", viewerKey, "/api/v1/assessments", http.StatusOK, ""},
		{"missing permission", viewerKey, "/api/v1/assignments", http.StatusForbidden, "permission_denied"},
		{"candidate token is not an api key", env.token(t, "c1"), "/api/v1/assessments", http.StatusUnauthorized, "invalid_api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, http.MethodGet, tt.path, tt.key, nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.wantCode != "" && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestGetAssessment(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/assessments/quiz", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var a models.Assessment
	decodeData(t, resp, &a)
	if a.Questions[0].CorrectAnswer != "yes" {
		t.Error("interviewers should see correct answers")
	}

	if rec, resp := env.do(t, http.MethodGet, "/api/v1/assessments/nope", adminKey, nil); rec.Code != http.StatusNotFound || resp.Error.Code != "not_found" {
		t.Errorf("missing assessment = %d %+v", rec.Code, resp.Error)
	}
}

func TestCreateAssignment(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/v1/assessments/quiz/assignments"
	body := models.CreateAssignmentRequest{CandidateID: "c1", CandidateEmail: "c1@example.com", DueInHours: 48}

	rec, resp := env.do(t, http.MethodPost, path, adminKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var a models.Assignment
	decodeData(t, resp, &a)
	if a.Status != models.AssignmentAssigned {
		t.Errorf("Status = %s", a.Status)
	}
	if a.AssignedBy != "client:1:admin" {
		t.Errorf("AssignedBy = %q", a.AssignedBy)
	}
	if a.DueAt == nil || a.DueAt.Sub(*a.AssignedAt) != 48*time.Hour {
		t.Errorf("DueAt = %v, want assigned + 48h", a.DueAt)
	}

	if rec, _ := env.do(t, http.MethodPost, path, adminKey, body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, path, adminKey, models.CreateAssignmentRequest{CandidateID: "c2", CandidateEmail: "nope"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad email = %d, want 400", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/v1/assessments/nope/assignments", adminKey, models.CreateAssignmentRequest{CandidateID: "c2", CandidateEmail: "c2@example.com"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown assessment = %d, want 404", rec.Code)
	}

	if n := len(env.pub.Events(events.AssessmentAssigned)); n != 1 {
		t.Errorf("published %d assignment events, want 1", n)
	}

	rec, resp = env.do(t, http.MethodGet, "/api/v1/assignments?status=assigned&assessment_id=quiz", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var list struct {
		Assignments []models.Assignment `json:"assignments"`
		Total       int                 `json:"total"`
	}
	decodeData(t, resp, &list)
	if list.Total != 1 || list.Assignments[0].ID != a.ID {
		t.Errorf("list = %+v", list)
	}

	if rec, _ := env.do(t, http.MethodGet, "/api/v1/assignments?status=bogus", adminKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", rec.Code)
	}
}

func TestCandidateSessionFlow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "c1")

	if rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions", "", models.OpenSessionRequest{AssessmentID: "quiz"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/sessions", tok, models.OpenSessionRequest{AssessmentID: "quiz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("open = %d, body = %s", rec.Code, rec.Body.String())
	}
	var view session.View
	decodeData(t, resp, &view)
	if view.State != session.StateInProgress {
		t.Fatalf("State = %s, want in_progress", view.State)
	}
	if view.Assessment.Questions[0].CorrectAnswer != "" {
		t.Error("candidate view exposes correct answers")
	}
	base := "/api/v1/sessions/" + view.AssignmentID

	if rec, _ := env.do(t, http.MethodPut, base+"/answers/q1", tok, models.AnswerRequest{Value: "yes"}); rec.Code != http.StatusNoContent {
		t.Errorf("answer = %d", rec.Code)
	}
	if rec, resp := env.do(t, http.MethodPut, base+"/answers/q9", tok, models.AnswerRequest{Value: "x"}); rec.Code != http.StatusBadRequest || resp.Error.Code != "unknown_question" {
		t.Errorf("unknown question = %d", rec.Code)
	}

	other := env.token(t, "c2")
	if rec, _ := env.do(t, http.MethodGet, base, other, nil); rec.Code != http.StatusNotFound {
		t.Errorf("other candidate = %d, want 404", rec.Code)
	}

	if rec, _ := env.do(t, http.MethodPost, base+"/submit/confirm", tok, nil); rec.Code != http.StatusConflict {
		t.Errorf("confirm without request = %d, want 409", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, base+"/submit", tok, nil); rec.Code != http.StatusOK {
		t.Fatalf("request submit = %d", rec.Code)
	}
	rec, resp = env.do(t, http.MethodPost, base+"/submit/confirm", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result models.SubmitResult
	decodeData(t, resp, &result)
	if result.Score != 50 || !result.Passed {
		t.Errorf("result = %+v, want 50 passed", result)
	}

	rec, resp = env.do(t, http.MethodGet, base, tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get after submit = %d", rec.Code)
	}
	decodeData(t, resp, &view)
	if view.State != session.StateCompleted || view.Result == nil || view.Result.Score != 50 {
		t.Errorf("view after submit = %+v", view)
	}

	if rec, _ := env.do(t, http.MethodPut, base+"/answers/q2", tok, models.AnswerRequest{Value: "no"}); rec.Code != http.StatusNotFound {
		t.Errorf("answer after submit = %d, want 404", rec.Code)
	}
}

func TestSessionPermissionGate(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "c1")

	_, resp := env.do(t, http.MethodPost, "/api/v1/sessions", tok, models.OpenSessionRequest{AssessmentID: "locked"})
	var view session.View
	decodeData(t, resp, &view)
	if view.State != session.StatePermissionGate {
		t.Fatalf("State = %s, want permission_gate", view.State)
	}
	base := "/api/v1/sessions/" + view.AssignmentID

	if rec, resp := env.do(t, http.MethodPost, base+"/begin", tok, nil); rec.Code != http.StatusConflict || resp.Error.Code != "permissions_pending" {
		t.Errorf("begin before grant = %d", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, base+"/grants", tok, models.GrantRequest{Capability: "telepathy"}); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown capability = %d, want 400", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, base+"/grants", tok, models.GrantRequest{Capability: models.CapabilityBrowserLock}); rec.Code != http.StatusOK {
		t.Errorf("grant = %d", rec.Code)
	}
	rec, resp := env.do(t, http.MethodPost, base+"/begin", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("begin = %d", rec.Code)
	}
	decodeData(t, resp, &view)
	if view.State != session.StateInProgress {
		t.Errorf("State = %s, want in_progress", view.State)
	}

	if rec, _ := env.do(t, http.MethodDelete, base, tok, nil); rec.Code != http.StatusNoContent {
		t.Errorf("abandon = %d", rec.Code)
	}
	if env.sessions.Len() != 0 {
		t.Errorf("sessions = %d after abandon", env.sessions.Len())
	}
}

func TestOpenSession_Errors(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "c1")

	if rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions", tok, models.OpenSessionRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id = %d, want 400", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions", tok, models.OpenSessionRequest{AssessmentID: "nope"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown assessment = %d, want 404", rec.Code)
	}

	due := time.Now().Add(-time.Hour)
	if err := env.repo.CreateAssignment(context.Background(), &models.Assignment{
		ID: "late", AssessmentID: "quiz", CandidateID: "c1", Status: models.AssignmentAssigned, DueAt: &due,
	}); err != nil {
		t.Fatalf("CreateAssignment() error = %v", err)
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions", tok, models.OpenSessionRequest{AssessmentID: "quiz"}); rec.Code != http.StatusGone {
		t.Errorf("overdue = %d, want 410", rec.Code)
	}
}

func TestSignalsAndViolationFeed(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "c1")

	_, resp := env.do(t, http.MethodPost, "/api/v1/sessions", tok, models.OpenSessionRequest{AssessmentID: "locked"})
	var view session.View
	decodeData(t, resp, &view)
	base := "/api/v1/sessions/" + view.AssignmentID
	env.do(t, http.MethodPost, base+"/grants", tok, models.GrantRequest{Capability: models.CapabilityBrowserLock})
	env.do(t, http.MethodPost, base+"/begin", tok, nil)

	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("X-API-Key", adminKey)
	feed, _, err := websocket.DefaultDialer.Dial(wsBase+"/api/v1/assignments/"+view.AssignmentID+"/violations/live", header)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer feed.Close()

	var first session.Event
	if err := feed.ReadJSON(&first); err != nil || first.Type != "report" {
		t.Fatalf("first feed message = %+v, %v", first, err)
	}

	signals, _, err := websocket.DefaultDialer.Dial(wsBase+base+"/ws?token="+tok, nil)
	if err != nil {
		t.Fatalf("dial signals: %v", err)
	}
	defer signals.Close()

	if err := signals.WriteJSON(SignalMessage{Type: SignalVisibility, Hidden: true}); err != nil {
		t.Fatalf("write signal: %v", err)
	}

	signals.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var e session.Event
		if err := signals.ReadJSON(&e); err != nil {
			t.Fatalf("waiting for violation event: %v", err)
		}
		if e.Type == session.EventViolation {
			break
		}
	}

	feed.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pushed struct {
		Type string           `json:"type"`
		Data models.Violation `json:"data"`
	}
	if err := feed.ReadJSON(&pushed); err != nil {
		t.Fatalf("waiting for feed violation: %v", err)
	}
	if pushed.Type != session.EventViolation || pushed.Data.Type != models.ViolationTabSwitch {
		t.Errorf("feed message = %+v", pushed)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/assignments/"+view.AssignmentID+"/violations", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d", rec.Code)
	}
	var report models.ViolationReport
	decodeData(t, resp, &report)
	if report.Total != 1 || report.BySeverity[models.SeverityMedium] != 1 || report.ByType[models.ViolationTabSwitch] != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestTokenService(t *testing.T) {
	svc := NewTokenService("secret")
	tok, expiresAt, err := svc.Issue(models.Candidate{ID: "c1", Email: "c1@example.com"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if d := time.Until(expiresAt); d <= 0 || d > time.Minute {
		t.Errorf("expiry in %v, want within a minute", d)
	}

	claims, err := svc.Parse(tok)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Candidate().ID != "c1" || claims.Candidate().Email != "c1@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := NewTokenService("other").Parse(tok); err == nil {
		t.Error("token verified with the wrong secret")
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	stale, _, _ := svc.Issue(models.Candidate{ID: "c1"}, time.Minute)
	svc.now = time.Now
	if _, err := svc.Parse(stale); err == nil {
		t.Error("expired token accepted")
	}
}

func TestIssueCandidateToken(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/assessments/quiz/assignments", adminKey,
		models.CreateAssignmentRequest{CandidateID: "c9", CandidateName: "Grace", CandidateEmail: "c9@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("assign = %d, body = %s", rec.Code, rec.Body.String())
	}
	var a models.Assignment
	decodeData(t, resp, &a)
	path := "/api/v1/assignments/" + a.ID + "/token"

	if rec, _ := env.do(t, http.MethodPost, path, viewerKey, nil); rec.Code != http.StatusForbidden {
		t.Errorf("viewer = %d, want 403", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/v1/assignments/missing/token", adminKey, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown assignment = %d, want 404", rec.Code)
	}

	rec, resp = env.do(t, http.MethodPost, path, adminKey, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue = %d, body = %s", rec.Code, rec.Body.String())
	}
	var issued CandidateToken
	decodeData(t, resp, &issued)
	if issued.AssessmentID != "quiz" || issued.ExpiresAt.IsZero() {
		t.Errorf("token = %+v", issued)
	}

	claims, err := env.tokens.Parse(issued.Token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := claims.Candidate(); got.ID != "c9" || got.Name != "Grace" || got.Email != "c9@example.com" {
		t.Errorf("candidate = %+v", got)
	}

	rec, resp = env.do(t, http.MethodPost, "/api/v1/sessions", issued.Token, models.OpenSessionRequest{AssessmentID: "quiz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("open with issued token = %d, body = %s", rec.Code, rec.Body.String())
	}
	var view session.View
	decodeData(t, resp, &view)
	if view.AssignmentID != a.ID {
		t.Errorf("session assignment = %s, want %s", view.AssignmentID, a.ID)
	}

	if rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+a.ID+"/submit", issued.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("request submit = %d", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+a.ID+"/submit/confirm", issued.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("confirm submit = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec, _ := env.do(t, http.MethodPost, path, adminKey, nil); rec.Code != http.StatusConflict {
		t.Errorf("completed assignment = %d, want 409", rec.Code)
	}
}
