package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// HealthCheck implements health.Checker
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Assessments ---

const assessmentColumns = `id, title, description, job_role, type, difficulty, questions, time_limit, passing_score, proctoring, assignments, submissions, created_by, created_at`

// UpsertAssessment inserts or replaces an assessment definition, keeping its counters
func (r *PostgresRepository) UpsertAssessment(ctx context.Context, a *models.Assessment) error {
	questionsJSON, err := json.Marshal(a.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	proctoringJSON, err := json.Marshal(a.Proctoring)
	if err != nil {
		return fmt.Errorf("failed to marshal proctoring: %w", err)
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO assessments (id, title, description, job_role, type, difficulty, questions, time_limit, passing_score, proctoring, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, description = EXCLUDED.description, job_role = EXCLUDED.job_role,
			type = EXCLUDED.type, difficulty = EXCLUDED.difficulty, questions = EXCLUDED.questions,
			time_limit = EXCLUDED.time_limit, passing_score = EXCLUDED.passing_score,
			proctoring = EXCLUDED.proctoring
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID,
		a.Title,
		nullString(a.Description),
		nullString(a.JobRole),
		string(a.Type),
		nullString(a.Difficulty),
		questionsJSON,
		a.TimeLimit,
		a.PassingScore,
		proctoringJSON,
		nullString(a.CreatedBy),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert assessment: %w", err)
	}

	return nil
}

// GetAssessment retrieves and validates an assessment by ID
func (r *PostgresRepository) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = $1`

	a, err := scanAssessment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	return a, nil
}

// ListAssessments returns assessments ordered by creation time
func (r *PostgresRepository) ListAssessments(ctx context.Context, limit, offset int) ([]*models.Assessment, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	var assessments []*models.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		assessments = append(assessments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}

	return assessments, nil
}

// IncrementAssessmentCounter atomically bumps a counter column
func (r *PostgresRepository) IncrementAssessmentCounter(ctx context.Context, id string, counter models.AssessmentCounter) error {
	var query string
	switch counter {
	case models.CounterAssignments:
		query = `UPDATE assessments SET assignments = assignments + 1 WHERE id = $1`
	case models.CounterSubmissions:
		query = `UPDATE assessments SET submissions = submissions + 1 WHERE id = $1`
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row scanner) (*models.Assessment, error) {
	var a models.Assessment
	var typeStr string
	var description, jobRole, difficulty, createdBy sql.NullString
	var questionsJSON, proctoringJSON []byte

	err := row.Scan(
		&a.ID,
		&a.Title,
		&description,
		&jobRole,
		&typeStr,
		&difficulty,
		&questionsJSON,
		&a.TimeLimit,
		&a.PassingScore,
		&proctoringJSON,
		&a.Assignments,
		&a.Submissions,
		&createdBy,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = models.AssessmentType(typeStr)
	a.Description = description.String
	a.JobRole = jobRole.String
	a.Difficulty = difficulty.String
	a.CreatedBy = createdBy.String

	if err := json.Unmarshal(questionsJSON, &a.Questions); err != nil {
		return nil, fmt.Errorf("%w: assessment %s questions: %v", models.ErrMalformed, a.ID, err)
	}

	if err := json.Unmarshal(proctoringJSON, &a.Proctoring); err != nil {
		return nil, fmt.Errorf("%w: assessment %s proctoring: %v", models.ErrMalformed, a.ID, err)
	}

	return &a, nil
}

// --- Assignments ---

const assignmentColumns = `id, assessment_id, candidate_id, candidate_email, candidate_name, status, assigned_by, assigned_at, due_at, started_at, expires_at, completed_at, answers, score, passed, violations, time_spent, last_saved_at, created_at`

// CreateAssignment inserts a new assignment. Returns ErrConflict when the
// candidate already has one for the assessment.
func (r *PostgresRepository) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	answers := a.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}

	query := `
		INSERT INTO assignments (id, assessment_id, candidate_id, candidate_email, candidate_name, status, assigned_by,
			assigned_at, due_at, started_at, expires_at, answers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING created_at
	`

	err = r.pool.QueryRow(ctx, query,
		a.ID,
		a.AssessmentID,
		a.CandidateID,
		nullString(a.CandidateEmail),
		nullString(a.CandidateName),
		string(a.Status),
		nullString(a.AssignedBy),
		nullTime(a.AssignedAt),
		nullTime(a.DueAt),
		nullTime(a.StartedAt),
		nullTime(a.ExpiresAt),
		answersJSON,
	).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("assignment for %s/%s: %w", a.AssessmentID, a.CandidateID, ErrConflict)
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	return nil
}

// GetAssignment retrieves an assignment by ID
func (r *PostgresRepository) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`

	a, err := scanAssignment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return a, nil
}

// FindAssignment retrieves the assignment of a candidate for an assessment
func (r *PostgresRepository) FindAssignment(ctx context.Context, assessmentID, candidateID string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE assessment_id = $1 AND candidate_id = $2`

	a, err := scanAssignment(r.pool.QueryRow(ctx, query, assessmentID, candidateID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assignment for %s/%s: %w", assessmentID, candidateID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}

	return a, nil
}

// ListAssignments returns assignments matching filters
func (r *PostgresRepository) ListAssignments(ctx context.Context, filters models.AssignmentFilters) ([]*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.AssessmentID != "" {
		query += fmt.Sprintf(" AND assessment_id = $%d", argNum)
		args = append(args, filters.AssessmentID)
		argNum++
	}

	if filters.CandidateID != "" {
		query += fmt.Sprintf(" AND candidate_id = $%d", argNum)
		args = append(args, filters.CandidateID)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, limit, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// StartAssignment moves an assigned record to in-progress and fixes its expiry
func (r *PostgresRepository) StartAssignment(ctx context.Context, id string, startedAt, expiresAt time.Time) error {
	query := `
		UPDATE assignments
		SET status = 'in-progress', started_at = $2, expires_at = $3
		WHERE id = $1 AND status = 'assigned'
	`

	result, err := r.pool.Exec(ctx, query, id, startedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to start assignment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("assignment %s is not startable: %w", id, ErrConflict)
	}

	return nil
}

// MergeAnswers merges the given answers into the stored map. Writes to
// assignments that are no longer in progress are discarded.
func (r *PostgresRepository) MergeAnswers(ctx context.Context, id string, answers map[string]string) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}

	query := `
		UPDATE assignments
		SET answers = answers || $2::jsonb, last_saved_at = NOW()
		WHERE id = $1 AND status = 'in-progress'
	`

	if _, err := r.pool.Exec(ctx, query, id, answersJSON); err != nil {
		return fmt.Errorf("failed to merge answers: %w", err)
	}

	return nil
}

// CompleteAssignment writes the final result. Completing an already
// completed assignment returns its original completion time.
func (r *PostgresRepository) CompleteAssignment(ctx context.Context, id string, c models.Completion) (time.Time, error) {
	answers := c.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal answers: %w", err)
	}

	query := `
		UPDATE assignments
		SET status = 'completed', completed_at = NOW(), answers = $2, score = $3, passed = $4,
			violations = GREATEST(violations, $5), time_spent = $6, last_saved_at = NOW()
		WHERE id = $1 AND status = 'in-progress'
		RETURNING completed_at
	`

	var completedAt time.Time
	err = r.pool.QueryRow(ctx, query, id, answersJSON, c.Score, c.Passed, c.Violations, c.TimeSpent).Scan(&completedAt)
	if err == nil {
		return completedAt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("failed to complete assignment: %w", err)
	}

	existing, err := r.GetAssignment(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if existing.Status == models.AssignmentCompleted && existing.CompletedAt != nil {
		return *existing.CompletedAt, nil
	}

	return time.Time{}, fmt.Errorf("assignment %s is %s: %w", id, existing.Status, ErrConflict)
}

// ExpireAssignment marks an unstarted assignment as expired
func (r *PostgresRepository) ExpireAssignment(ctx context.Context, id string) error {
	query := `UPDATE assignments SET status = 'expired' WHERE id = $1 AND status = 'assigned'`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to expire assignment: %w", err)
	}

	return nil
}

// GetExpiredAssignments returns in-progress assignments past their expiry
func (r *PostgresRepository) GetExpiredAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE status = 'in-progress' AND expires_at <= $1
		ORDER BY expires_at ASC`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

// GetOverdueAssignments returns assigned records that were never started before their due date
func (r *PostgresRepository) GetOverdueAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE status = 'assigned' AND due_at <= $1
		ORDER BY due_at ASC`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get overdue assignments: %w", err)
	}
	defer rows.Close()

	return collectAssignments(rows)
}

func collectAssignments(rows pgx.Rows) ([]*models.Assignment, error) {
	var assignments []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}

	return assignments, nil
}

func scanAssignment(row scanner) (*models.Assignment, error) {
	var a models.Assignment
	var statusStr string
	var email, name, assignedBy sql.NullString
	var assignedAt, dueAt, startedAt, expiresAt, completedAt, lastSavedAt sql.NullTime
	var answersJSON []byte

	err := row.Scan(
		&a.ID,
		&a.AssessmentID,
		&a.CandidateID,
		&email,
		&name,
		&statusStr,
		&assignedBy,
		&assignedAt,
		&dueAt,
		&startedAt,
		&expiresAt,
		&completedAt,
		&answersJSON,
		&a.Score,
		&a.Passed,
		&a.Violations,
		&a.TimeSpent,
		&lastSavedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = models.AssignmentStatus(statusStr)
	a.CandidateEmail = email.String
	a.CandidateName = name.String
	a.AssignedBy = assignedBy.String
	a.AssignedAt = timePtr(assignedAt)
	a.DueAt = timePtr(dueAt)
	a.StartedAt = timePtr(startedAt)
	a.ExpiresAt = timePtr(expiresAt)
	a.CompletedAt = timePtr(completedAt)
	a.LastSavedAt = timePtr(lastSavedAt)

	a.Answers = make(map[string]string)
	if answersJSON != nil {
		if err := json.Unmarshal(answersJSON, &a.Answers); err != nil {
			return nil, fmt.Errorf("%w: assignment %s answers: %v", models.ErrMalformed, a.ID, err)
		}
	}

	return &a, nil
}

// --- Proctoring ---

// AppendViolation inserts a violation and bumps the assignment's counter.
// Only in-progress assignments accept violations; the row lock orders the
// append against a concurrent completion. A zero timestamp is assigned by
// the server.
func (r *PostgresRepository) AppendViolation(ctx context.Context, v *models.Violation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM assignments WHERE id = $1 FOR UPDATE`, v.AssignmentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("assignment %s: %w", v.AssignmentID, ErrNotFound)
		}
		return fmt.Errorf("failed to lock assignment: %w", err)
	}
	if models.AssignmentStatus(status) != models.AssignmentInProgress {
		return fmt.Errorf("assignment %s is %s: %w", v.AssignmentID, status, ErrNotInProgress)
	}

	var ts *time.Time
	if !v.Timestamp.IsZero() {
		ts = &v.Timestamp
	}

	query := `
		INSERT INTO proctoring_violations (id, assignment_id, type, severity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		v.ID,
		v.AssignmentID,
		string(v.Type),
		string(v.Severity),
		v.Message,
		nullTime(ts),
	).Scan(&v.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert violation: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE assignments SET violations = violations + 1 WHERE id = $1`, v.AssignmentID); err != nil {
		return fmt.Errorf("failed to count violation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit violation: %w", err)
	}

	return nil
}

// ListViolations returns the violations of an assignment ordered by time
func (r *PostgresRepository) ListViolations(ctx context.Context, assignmentID string) ([]*models.Violation, error) {
	query := `
		SELECT id, assignment_id, type, severity, message, created_at
		FROM proctoring_violations
		WHERE assignment_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []*models.Violation
	for rows.Next() {
		var v models.Violation
		var typeStr, severityStr string

		if err := rows.Scan(&v.ID, &v.AssignmentID, &typeStr, &severityStr, &v.Message, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}

		v.Type = models.ViolationType(typeStr)
		v.Severity = models.Severity(severityStr)
		violations = append(violations, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}

	return violations, nil
}

// AppendSnapshot inserts a proctoring snapshot
func (r *PostgresRepository) AppendSnapshot(ctx context.Context, s *models.Snapshot) error {
	var ts *time.Time
	if !s.Timestamp.IsZero() {
		ts = &s.Timestamp
	}

	query := `
		INSERT INTO proctoring_snapshots (id, assignment_id, violations, tab_active, face_detected, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
	`

	_, err := r.pool.Exec(ctx, query, s.ID, s.AssignmentID, s.Violations, s.TabActive, s.FaceDetected, nullTime(ts))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// --- API Clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("api client: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	client.LastUsedAt = timePtr(lastUsedAt)

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	if _, err := r.pool.Exec(ctx, query, apiKey); err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// Helper functions for nullable values

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
