package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/locks"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/proctor"
)

// ErrSessionNotFound is returned when no live controller exists
var ErrSessionNotFound = errors.New("session not found")

// ManagerOptions configures a Manager
type ManagerOptions struct {
	Store        Store
	Clock        clock.WithTickerAndDelayedExecution
	Locker       locks.Locker
	Events       events.Publisher
	Config       Config
	MediaTimeout time.Duration
}

// Manager keeps the live controllers of this instance, one per
// assessment and candidate
type Manager struct {
	opts  ManagerOptions
	group singleflight.Group

	mu    sync.RWMutex
	byID  map[string]*Controller
	byKey map[string]*Controller
}

// NewManager creates a session manager
func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Locker == nil {
		opts.Locker = locks.NewLocal()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Manager{
		opts:  opts,
		byID:  make(map[string]*Controller),
		byKey: make(map[string]*Controller),
	}
}

// Open returns the candidate's live controller for the assessment, loading
// a new one when none is running. Concurrent opens for the same pair share
// one load.
func (m *Manager) Open(ctx context.Context, assessmentID string, candidate models.Candidate) (*Controller, error) {
	key := lockKey(assessmentID, candidate.ID)

	m.mu.RLock()
	c, ok := m.byKey[key]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		m.mu.RLock()
		c, ok := m.byKey[key]
		m.mu.RUnlock()
		if ok {
			return c, nil
		}

		c = NewController(Options{
			AssessmentID: assessmentID,
			Candidate:    candidate,
			Store:        m.opts.Store,
			Clock:        m.opts.Clock,
			Locker:       m.opts.Locker,
			Events:       m.opts.Events,
			Media:        proctor.NewRemoteMedia(m.opts.MediaTimeout),
			Detector:     proctor.NewSignalDetector(),
			Config:       m.opts.Config,
		})
		c.onTerminal = m.remove

		if err := c.Load(ctx); err != nil {
			return nil, err
		}

		m.mu.Lock()
		if !c.State().Terminal() {
			m.byKey[key] = c
			m.byID[c.ID()] = c
		}
		m.mu.Unlock()

		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Controller), nil
}

// Get returns the live controller of an assignment
func (m *Manager) Get(assignmentID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.byID[assignmentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Active reports whether an assignment is being taken on this instance. A
// submission stalled on a failed write is not active, so the sweeper can
// close and score it.
func (m *Manager) Active(assignmentID string) bool {
	c, err := m.Get(assignmentID)
	if err != nil {
		return false
	}
	switch c.State() {
	case StateInProgress:
		return true
	case StateSubmitting:
		return !c.Stalled()
	}
	return false
}

// Close abandons the controller of an assignment
func (m *Manager) Close(assignmentID string) error {
	c, err := m.Get(assignmentID)
	if err != nil {
		return err
	}
	c.Abandon()
	return nil
}

// CloseAll abandons every live controller
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Controller, 0, len(m.byID))
	for _, c := range m.byID {
		all = append(all, c)
	}
	m.mu.RUnlock()

	for _, c := range all {
		c.Abandon()
	}

	slog.Info("sessions closed", "count", len(all))
}

// Len returns the number of live controllers
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *Manager) remove(c *Controller) {
	key := lockKey(c.AssessmentID(), c.Candidate().ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byKey[key] == c {
		delete(m.byKey, key)
	}
	if id := c.ID(); id != "" && m.byID[id] == c {
		delete(m.byID, id)
	}
}
