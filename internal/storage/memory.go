package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// MemoryRepository is an in-process Repository used for tests and offline runs
type MemoryRepository struct {
	mu          sync.RWMutex
	assessments map[string]*models.Assessment
	assignments map[string]*models.Assignment
	violations  map[string][]*models.Violation
	snapshots   map[string][]*models.Snapshot
	clients     map[string]*models.ApiClient

	now    func() time.Time
	broker *Broker
}

// NewMemoryRepository creates an empty in-memory repository. now supplies
// server-assigned timestamps; nil means time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		assessments: make(map[string]*models.Assessment),
		assignments: make(map[string]*models.Assignment),
		violations:  make(map[string][]*models.Violation),
		snapshots:   make(map[string][]*models.Snapshot),
		clients:     make(map[string]*models.ApiClient),
		now:         now,
		broker:      NewBroker(),
	}
}

// Feed returns the broker receiving appended violations
func (m *MemoryRepository) Feed() Feed {
	return m.broker
}

// AddClient registers an API client
func (m *MemoryRepository) AddClient(c *models.ApiClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clients[c.ApiKey] = &cp
}

// Snapshots returns the snapshots recorded for an assignment
func (m *MemoryRepository) Snapshots(assignmentID string) []*models.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Snapshot, len(m.snapshots[assignmentID]))
	copy(out, m.snapshots[assignmentID])
	return out
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }

// --- Assessments ---

func (m *MemoryRepository) UpsertAssessment(ctx context.Context, a *models.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copyAssessment(a)
	if existing, ok := m.assessments[a.ID]; ok {
		cp.Assignments = existing.Assignments
		cp.Submissions = existing.Submissions
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.assessments[a.ID] = cp
	return nil
}

func (m *MemoryRepository) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assessments[id]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return copyAssessment(a), nil
}

func (m *MemoryRepository) ListAssessments(ctx context.Context, limit, offset int) ([]*models.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Assessment, 0, len(m.assessments))
	for _, a := range m.assessments {
		out = append(out, copyAssessment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

func (m *MemoryRepository) IncrementAssessmentCounter(ctx context.Context, id string, counter models.AssessmentCounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assessments[id]
	if !ok {
		return fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	switch counter {
	case models.CounterAssignments:
		a.Assignments++
	case models.CounterSubmissions:
		a.Submissions++
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

// --- Assignments ---

func (m *MemoryRepository) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assignments[a.ID]; ok {
		return fmt.Errorf("assignment %s: %w", a.ID, ErrConflict)
	}
	for _, existing := range m.assignments {
		if existing.AssessmentID == a.AssessmentID && existing.CandidateID == a.CandidateID {
			return fmt.Errorf("assignment for %s/%s: %w", a.AssessmentID, a.CandidateID, ErrConflict)
		}
	}

	a.CreatedAt = m.now()
	cp := copyAssignment(a)
	if cp.Answers == nil {
		cp.Answers = make(map[string]string)
	}
	m.assignments[a.ID] = cp
	return nil
}

func (m *MemoryRepository) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	return copyAssignment(a), nil
}

func (m *MemoryRepository) FindAssignment(ctx context.Context, assessmentID, candidateID string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.assignments {
		if a.AssessmentID == assessmentID && a.CandidateID == candidateID {
			return copyAssignment(a), nil
		}
	}
	return nil, fmt.Errorf("assignment for %s/%s: %w", assessmentID, candidateID, ErrNotFound)
}

func (m *MemoryRepository) ListAssignments(ctx context.Context, filters models.AssignmentFilters) ([]*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Assignment
	for _, a := range m.assignments {
		if filters.AssessmentID != "" && a.AssessmentID != filters.AssessmentID {
			continue
		}
		if filters.CandidateID != "" && a.CandidateID != filters.CandidateID {
			continue
		}
		if filters.Status != "" && a.Status != filters.Status {
			continue
		}
		out = append(out, copyAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filters.Limit, filters.Offset), nil
}

func (m *MemoryRepository) StartAssignment(ctx context.Context, id string, startedAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	if a.Status != models.AssignmentAssigned {
		return fmt.Errorf("assignment %s is not startable: %w", id, ErrConflict)
	}
	a.Status = models.AssignmentInProgress
	a.StartedAt = &startedAt
	a.ExpiresAt = &expiresAt
	return nil
}

func (m *MemoryRepository) MergeAnswers(ctx context.Context, id string, answers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	if a.Status != models.AssignmentInProgress {
		return nil
	}
	for k, v := range answers {
		a.Answers[k] = v
	}
	now := m.now()
	a.LastSavedAt = &now
	return nil
}

func (m *MemoryRepository) CompleteAssignment(ctx context.Context, id string, c models.Completion) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return time.Time{}, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	switch a.Status {
	case models.AssignmentInProgress:
	case models.AssignmentCompleted:
		return *a.CompletedAt, nil
	default:
		return time.Time{}, fmt.Errorf("assignment %s is %s: %w", id, a.Status, ErrConflict)
	}

	now := m.now()
	a.Status = models.AssignmentCompleted
	a.CompletedAt = &now
	a.LastSavedAt = &now
	a.Answers = copyAnswers(c.Answers)
	a.Score = c.Score
	a.Passed = c.Passed
	if c.Violations > a.Violations {
		a.Violations = c.Violations
	}
	a.TimeSpent = c.TimeSpent
	return now, nil
}

func (m *MemoryRepository) ExpireAssignment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	if a.Status == models.AssignmentAssigned {
		a.Status = models.AssignmentExpired
	}
	return nil
}

func (m *MemoryRepository) GetExpiredAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.Status == models.AssignmentInProgress && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (m *MemoryRepository) GetOverdueAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Assignment
	for _, a := range m.assignments {
		if a.IsOverdue(now) {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

// --- Proctoring ---

func (m *MemoryRepository) AppendViolation(ctx context.Context, v *models.Violation) error {
	m.mu.Lock()
	a, ok := m.assignments[v.AssignmentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("assignment %s: %w", v.AssignmentID, ErrNotFound)
	}
	if a.Status != models.AssignmentInProgress {
		m.mu.Unlock()
		return fmt.Errorf("assignment %s is %s: %w", v.AssignmentID, a.Status, ErrNotInProgress)
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = m.now()
	}
	cp := *v
	m.violations[v.AssignmentID] = append(m.violations[v.AssignmentID], &cp)
	a.Violations++
	m.mu.Unlock()

	m.broker.Publish(&cp)
	return nil
}

func (m *MemoryRepository) ListViolations(ctx context.Context, assignmentID string) ([]*models.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Violation, 0, len(m.violations[assignmentID]))
	for _, v := range m.violations[assignmentID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryRepository) AppendSnapshot(ctx context.Context, s *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assignments[s.AssignmentID]; !ok {
		return fmt.Errorf("assignment %s: %w", s.AssignmentID, ErrNotFound)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}
	cp := *s
	m.snapshots[s.AssignmentID] = append(m.snapshots[s.AssignmentID], &cp)
	return nil
}

// --- API Clients ---

func (m *MemoryRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[apiKey]
	if !ok {
		return nil, fmt.Errorf("api client: %w", ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[apiKey]; ok {
		now := m.now()
		c.LastUsedAt = &now
	}
	return nil
}

func copyAssessment(a *models.Assessment) *models.Assessment {
	cp := *a
	cp.Questions = make([]models.Question, len(a.Questions))
	copy(cp.Questions, a.Questions)
	return &cp
}

func copyAssignment(a *models.Assignment) *models.Assignment {
	cp := *a
	cp.Answers = copyAnswers(a.Answers)
	return &cp
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
