package proctor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/terra-clan/proctor-engine/internal/models"
)

const (
	DefaultCheckInterval    = 5 * time.Second
	DefaultSnapshotInterval = 30 * time.Second
)

// SessionOptions configures a proctoring Session
type SessionOptions struct {
	AssignmentID     string
	Config           models.ProctoringConfig
	Monitor          *Monitor
	Media            MediaSource
	Recorder         Recorder
	Clock            clock.WithTicker
	CheckInterval    time.Duration
	SnapshotInterval time.Duration
}

// Session owns the media tracks and periodic work of one proctored attempt
type Session struct {
	assignmentID     string
	cfg              models.ProctoringConfig
	monitor          *Monitor
	media            MediaSource
	recorder         Recorder
	clk              clock.WithTicker
	checkInterval    time.Duration
	snapshotInterval time.Duration

	mu       sync.Mutex
	tracks   []Track
	disabled map[models.Capability]bool
	tickers  []clock.Ticker
	started  bool
	stopped  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSession creates a proctoring session. Nothing is acquired until Start.
func NewSession(opts SessionOptions) *Session {
	checkInterval := opts.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	snapshotInterval := opts.SnapshotInterval
	if snapshotInterval <= 0 {
		snapshotInterval = DefaultSnapshotInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Session{
		assignmentID:     opts.AssignmentID,
		cfg:              opts.Config,
		monitor:          opts.Monitor,
		media:            opts.Media,
		recorder:         opts.Recorder,
		clk:              clk,
		checkInterval:    checkInterval,
		snapshotInterval: snapshotInterval,
		disabled:         make(map[models.Capability]bool),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Start begins the periodic checks and acquires every enabled media
// modality. Acquisition failures are recorded as violations and disable
// only the failing modality. Tracks acquired after Stop are released at once.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	check := s.clk.NewTicker(s.checkInterval)
	snapshot := s.clk.NewTicker(s.snapshotInterval)
	s.tickers = []clock.Ticker{check, snapshot}
	s.mu.Unlock()

	go s.run(check, snapshot)

	for _, acq := range plannedAcquisitions(s.cfg) {
		if s.isStopped() {
			return
		}
		s.acquire(ctx, acq)
	}
}

func (s *Session) acquire(ctx context.Context, acq acquisition) {
	if s.media == nil {
		return
	}

	track, err := s.media.Acquire(ctx, acq.modality, acq.withAudio)
	if err != nil {
		s.mu.Lock()
		s.disabled[acq.modality] = true
		stopped := s.stopped
		s.mu.Unlock()

		if stopped {
			return
		}
		slog.Warn("media acquisition failed",
			"assignment_id", s.assignmentID,
			"modality", acq.modality,
			"error", err,
		)
		s.monitor.PermissionDenied(acq.modality, err)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		track.Stop()
		return
	}
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	slog.Info("media acquired",
		"assignment_id", s.assignmentID,
		"modality", acq.modality,
		"track_id", track.ID(),
		"audio", acq.withAudio,
	)
}

func (s *Session) run(check, snapshot clock.Ticker) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-check.C():
			s.monitor.Check()
		case <-snapshot.C():
			s.snapshot()
		}
	}
}

func (s *Session) snapshot() {
	if s.recorder == nil {
		return
	}

	tabActive, faceDetected := s.monitor.Status()
	snap := &models.Snapshot{
		ID:           uuid.New().String(),
		AssignmentID: s.assignmentID,
		Timestamp:    s.clk.Now(),
		Violations:   s.monitor.Count(),
		TabActive:    tabActive,
		FaceDetected: faceDetected,
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.recorder.AppendSnapshot(ctx, snap); err != nil {
		slog.Error("failed to record proctoring snapshot", "assignment_id", s.assignmentID, "error", err)
	}
}

// Stop releases every track, cancels the periodic work and closes the
// monitor. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	tracks := s.tracks
	s.tracks = nil
	for _, t := range s.tickers {
		t.Stop()
	}
	started := s.started
	close(s.stop)
	s.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
	s.monitor.Close()

	if !started {
		close(s.done)
	}

	slog.Info("proctoring stopped", "assignment_id", s.assignmentID, "tracks_released", len(tracks))
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ActiveTracks returns the number of tracks currently held
func (s *Session) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// Disabled reports whether a modality was disabled after a failed acquisition
func (s *Session) Disabled(modality models.Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[modality]
}

// Done is closed once the periodic work has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}
