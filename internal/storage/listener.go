package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// ViolationChannel is the NOTIFY channel raised by the violation insert trigger
const ViolationChannel = "proctoring_violations"

// violationRow mirrors row_to_json output of proctoring_violations
type violationRow struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ViolationListener relays Postgres notifications about new violations to
// a Broker, so every instance can serve live feeds regardless of which one
// recorded the violation.
type ViolationListener struct {
	listener *pq.Listener
	broker   *Broker
}

// NewViolationListener connects a LISTEN session on the violation channel
func NewViolationListener(dsn string) (*ViolationListener, error) {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("violation listener event", "event", event, "error", err)
		}
	})

	if err := listener.Listen(ViolationChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ViolationChannel, err)
	}

	return &ViolationListener{listener: listener, broker: NewBroker()}, nil
}

// Subscribe implements Feed
func (l *ViolationListener) Subscribe(assignmentID string) (<-chan *models.Violation, func()) {
	return l.broker.Subscribe(assignmentID)
}

// Run dispatches notifications until ctx is cancelled
func (l *ViolationListener) Run(ctx context.Context) {
	slog.Info("violation listener started", "channel", ViolationChannel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("violation listener stopped")
			return

		case n := <-l.listener.Notify:
			// nil after a reconnect; notifications sent meanwhile are lost
			if n == nil {
				continue
			}
			v, err := decodeViolation(n.Extra)
			if err != nil {
				slog.Error("failed to decode violation notification", "error", err)
				continue
			}
			l.broker.Publish(v)

		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				slog.Warn("violation listener ping failed", "error", err)
			}
		}
	}
}

// HealthCheck implements health.Checker
func (l *ViolationListener) HealthCheck(ctx context.Context) error {
	return l.listener.Ping()
}

// Close stops listening
func (l *ViolationListener) Close() error {
	return l.listener.Close()
}

func decodeViolation(payload string) (*models.Violation, error) {
	var row violationRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, err
	}
	if row.AssignmentID == "" {
		return nil, fmt.Errorf("%w: notification without assignment id", models.ErrMalformed)
	}
	return &models.Violation{
		ID:           row.ID,
		AssignmentID: row.AssignmentID,
		Type:         models.ViolationType(row.Type),
		Severity:     models.Severity(row.Severity),
		Message:      row.Message,
		Timestamp:    row.CreatedAt,
	}, nil
}
