// Package proctor detects integrity violations during an assessment and
// manages the media captured while proctoring.
package proctor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/terra-clan/proctor-engine/internal/models"
)

const (
	// DefaultNoFaceThreshold is the number of consecutive face-absent
	// checks that produce one violation
	DefaultNoFaceThreshold = 3

	writeTimeout = 5 * time.Second
)

// Recorder persists proctoring records
type Recorder interface {
	AppendViolation(ctx context.Context, v *models.Violation) error
	AppendSnapshot(ctx context.Context, s *models.Snapshot) error
}

// Notifier is told about every appended violation
type Notifier func(v *models.Violation)

// MonitorOptions configures a Monitor
type MonitorOptions struct {
	AssignmentID    string
	Config          models.ProctoringConfig
	Recorder        Recorder
	Notify          Notifier
	Detector        FaceDetector
	Clock           clock.PassiveClock
	CheckInterval   time.Duration
	NoFaceThreshold int
	InitialCount    int
}

// Monitor turns proctoring signals into violation records
type Monitor struct {
	assignmentID  string
	cfg           models.ProctoringConfig
	recorder      Recorder
	notify        Notifier
	detector      FaceDetector
	clk           clock.PassiveClock
	checkInterval time.Duration
	threshold     int

	mu           sync.Mutex
	tabActive    bool
	faceDetected bool
	noFaceCount  int
	multipleFace bool
	count        int
	closed       bool
}

// NewMonitor creates a violation monitor
func NewMonitor(opts MonitorOptions) *Monitor {
	threshold := opts.NoFaceThreshold
	if threshold <= 0 {
		threshold = DefaultNoFaceThreshold
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	detector := opts.Detector
	if detector == nil {
		detector = NewSignalDetector()
	}
	return &Monitor{
		assignmentID:  opts.AssignmentID,
		cfg:           opts.Config,
		recorder:      opts.Recorder,
		notify:        opts.Notify,
		detector:      detector,
		clk:           clk,
		checkInterval: opts.CheckInterval,
		threshold:     threshold,
		tabActive:     true,
		faceDetected:  true,
		count:         opts.InitialCount,
	}
}

// VisibilityChanged records a page visibility transition. Each transition
// from visible to hidden counts as one tab switch when browser lock is on.
func (m *Monitor) VisibilityChanged(hidden bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	wasActive := m.tabActive
	m.tabActive = !hidden
	trigger := hidden && wasActive && m.cfg.BrowserLock
	m.mu.Unlock()

	if trigger {
		m.append(models.ViolationTabSwitch, models.SeverityMedium, "Candidate switched away from the assessment tab")
	}
}

// Check consults the face detector once. Called on every check interval.
func (m *Monitor) Check() {
	if !m.cfg.Camera {
		return
	}

	reading := m.detector.Detect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var violation models.ViolationType
	m.faceDetected = reading.Faces > 0

	switch {
	case reading.Faces == 0:
		m.multipleFace = false
		m.noFaceCount++
		if m.noFaceCount >= m.threshold {
			m.noFaceCount = 0
			violation = models.ViolationNoFace
		}
	case reading.Faces > 1:
		m.noFaceCount = 0
		if !m.multipleFace {
			violation = models.ViolationMultipleFaces
		}
		m.multipleFace = true
	default:
		m.noFaceCount = 0
		m.multipleFace = false
	}
	m.mu.Unlock()

	switch violation {
	case models.ViolationNoFace:
		m.append(violation, models.SeverityHigh,
			fmt.Sprintf("No face detected for %s", time.Duration(m.threshold)*m.checkInterval))
	case models.ViolationMultipleFaces:
		m.append(violation, models.SeverityHigh,
			fmt.Sprintf("%d faces detected in camera view", reading.Faces))
	}
}

// PermissionDenied records that a media modality could not be acquired
func (m *Monitor) PermissionDenied(modality models.Capability, err error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	msg := fmt.Sprintf("%s access denied", modality)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	m.append(models.ViolationPermissionDenied, models.SeverityMedium, msg)
}

// append notifies synchronously, then writes. A failed write is logged only.
func (m *Monitor) append(t models.ViolationType, severity models.Severity, message string) {
	v := &models.Violation{
		ID:           uuid.New().String(),
		AssignmentID: m.assignmentID,
		Type:         t,
		Severity:     severity,
		Message:      message,
		Timestamp:    m.clk.Now(),
	}

	m.mu.Lock()
	m.count++
	m.mu.Unlock()

	if m.notify != nil {
		m.notify(v)
	}

	if m.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := m.recorder.AppendViolation(ctx, v); err != nil {
		slog.Error("failed to record violation",
			"assignment_id", m.assignmentID,
			"type", t,
			"error", err,
		)
		return
	}

	slog.Info("violation recorded",
		"assignment_id", m.assignmentID,
		"type", t,
		"severity", severity,
	)
}

// Count returns the number of violations appended so far
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Status returns the current tab and face state
func (m *Monitor) Status() (tabActive, faceDetected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabActive, m.faceDetected
}

// Close stops the monitor from appending anything further
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
