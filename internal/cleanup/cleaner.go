// Package cleanup finishes assignments that nobody is taking anymore.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/session"
)

// Store is the part of the repository the cleaner works with
type Store interface {
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	GetExpiredAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error)
	GetOverdueAssignments(ctx context.Context, now time.Time) ([]*models.Assignment, error)
	CompleteAssignment(ctx context.Context, id string, c models.Completion) (time.Time, error)
	ExpireAssignment(ctx context.Context, id string) error
	IncrementAssessmentCounter(ctx context.Context, id string, counter models.AssessmentCounter) error
}

// Sessions reports which assignments are being taken on this instance
type Sessions interface {
	Active(assignmentID string) bool
	Close(assignmentID string) error
}

// Result counts what one sweep changed
type Result struct {
	Completed int
	Expired   int
}

// Cleaner handles periodic cleanup of expired assignments
type Cleaner struct {
	store     Store
	sessions  Sessions
	publisher events.Publisher
	clk       clock.WithTicker
	interval  time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(store Store, sessions Sessions, publisher events.Publisher, clk clock.WithTicker, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Minute
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Cleaner{
		store:     store,
		sessions:  sessions,
		publisher: publisher,
		clk:       clk,
		interval:  interval,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	ticker := c.clk.NewTicker(c.interval)
	go c.run(ctx, ticker)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context, ticker clock.Ticker) {
	slog.Info("cleanup worker started", "interval", c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C():
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup cycle
func (c *Cleaner) Sweep(ctx context.Context) Result {
	slog.Debug("running cleanup cycle")

	now := c.clk.Now()
	return Result{
		Completed: c.completeExpired(ctx, now),
		Expired:   c.expireOverdue(ctx, now),
	}
}

// completeExpired scores in-progress assignments whose time ran out while
// no controller was watching, exactly like an auto-submit
func (c *Cleaner) completeExpired(ctx context.Context, now time.Time) int {
	expired, err := c.store.GetExpiredAssignments(ctx, now)
	if err != nil {
		slog.Error("failed to get expired assignments", "error", err)
		return 0
	}
	if len(expired) == 0 {
		slog.Debug("no expired assignments found")
		return 0
	}

	slog.Info("found expired assignments", "count", len(expired))

	assessments := make(map[string]*models.Assessment)
	completed := 0

	for _, a := range expired {
		if c.sessions != nil {
			// a live attempt submits itself when its clock runs out
			if c.sessions.Active(a.ID) {
				continue
			}
			switch err := c.sessions.Close(a.ID); {
			case err == nil:
				// closing flushed the session's answers
				fresh, err := c.store.GetAssignment(ctx, a.ID)
				if err != nil {
					slog.Error("failed to reload closed assignment", "assignment_id", a.ID, "error", err)
					continue
				}
				if fresh.Status != models.AssignmentInProgress {
					continue
				}
				a = fresh
			case !errors.Is(err, session.ErrSessionNotFound):
				slog.Warn("failed to close stale session", "assignment_id", a.ID, "error", err)
			}
		}

		assessment, ok := assessments[a.AssessmentID]
		if !ok {
			assessment, err = c.store.GetAssessment(ctx, a.AssessmentID)
			if err != nil {
				slog.Error("failed to load assessment for expired assignment",
					"error", err,
					"assignment_id", a.ID,
					"assessment_id", a.AssessmentID,
				)
				continue
			}
			assessments[a.AssessmentID] = assessment
		}

		completion := session.Evaluate(assessment, a.Answers, 0, a.Violations)

		completedAt, err := c.store.CompleteAssignment(ctx, a.ID, completion)
		if err != nil {
			slog.Error("failed to complete expired assignment",
				"error", err,
				"assignment_id", a.ID,
			)
			continue
		}
		completed++

		if err := c.store.IncrementAssessmentCounter(ctx, assessment.ID, models.CounterSubmissions); err != nil {
			slog.Error("failed to increment submissions counter", "assessment_id", assessment.ID, "error", err)
		}

		event := events.Completed{
			AssignmentID:   a.ID,
			AssessmentID:   a.AssessmentID,
			CandidateID:    a.CandidateID,
			CandidateEmail: a.CandidateEmail,
			Score:          completion.Score,
			Passed:         completion.Passed,
			Violations:     completion.Violations,
			TimeSpent:      completion.TimeSpent,
			AutoSubmitted:  true,
			CompletedAt:    completedAt,
		}
		if err := c.publisher.Publish(ctx, events.AssessmentCompleted, event); err != nil {
			slog.Error("failed to publish completion", "assignment_id", a.ID, "error", err)
		}

		slog.Info("expired assignment completed",
			"assignment_id", a.ID,
			"candidate_id", a.CandidateID,
			"expired_at", a.ExpiresAt,
			"score", completion.Score,
		)
	}

	return completed
}

// expireOverdue marks assignments never started before their due date
func (c *Cleaner) expireOverdue(ctx context.Context, now time.Time) int {
	overdue, err := c.store.GetOverdueAssignments(ctx, now)
	if err != nil {
		slog.Error("failed to get overdue assignments", "error", err)
		return 0
	}

	expired := 0
	for _, a := range overdue {
		if err := c.store.ExpireAssignment(ctx, a.ID); err != nil {
			slog.Error("failed to expire overdue assignment",
				"error", err,
				"assignment_id", a.ID,
			)
			continue
		}
		expired++

		slog.Info("overdue assignment expired",
			"assignment_id", a.ID,
			"candidate_id", a.CandidateID,
			"due_at", a.DueAt,
		)
	}
	return expired
}
