// Package session runs a candidate's timed, proctored assessment attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/terra-clan/proctor-engine/internal/answers"
	"github.com/terra-clan/proctor-engine/internal/countdown"
	"github.com/terra-clan/proctor-engine/internal/events"
	"github.com/terra-clan/proctor-engine/internal/locks"
	"github.com/terra-clan/proctor-engine/internal/models"
	"github.com/terra-clan/proctor-engine/internal/proctor"
	"github.com/terra-clan/proctor-engine/internal/storage"
)

var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAssignmentExpired  = errors.New("assignment expired")
	ErrPermissionsPending = errors.New("required permissions not granted")
	ErrInvalidState       = errors.New("invalid session state")
	ErrSubmitFailed       = errors.New("submission failed")
	ErrSubmitInProgress   = errors.New("submission in progress")
)

const (
	submitTimeout = 15 * time.Second
	flushTimeout  = 5 * time.Second
)

// State is the controller's position in the attempt lifecycle
type State string

const (
	StateLoading        State = "loading"
	StatePermissionGate State = "permission_gate"
	StateInProgress     State = "in_progress"
	StateSubmitting     State = "submitting"
	StateCompleted      State = "completed"
	StateExpired        State = "expired"
	StateError          State = "error"
	StateClosed         State = "closed"
)

// Terminal returns true once the controller can no longer change
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateExpired, StateError, StateClosed:
		return true
	}
	return false
}

// Event types pushed to observers
const (
	EventTick      = "tick"
	EventViolation = "violation"
	EventState     = "state"
	EventError     = "error"
)

// Event is a notification for the candidate's UI
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Store is everything the controller persists through
type Store interface {
	AssignmentStore
	answers.Persister
	proctor.Recorder
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	CompleteAssignment(ctx context.Context, id string, c models.Completion) (time.Time, error)
}

// Config holds timing parameters of a session
type Config struct {
	AutosaveDebounce time.Duration
	CheckInterval    time.Duration
	SnapshotInterval time.Duration
	NoFaceThreshold  int
}

// Options configures a Controller
type Options struct {
	AssessmentID string
	Candidate    models.Candidate
	Store        Store
	Clock        clock.WithTickerAndDelayedExecution
	Locker       locks.Locker
	Events       events.Publisher
	Media        proctor.MediaSource
	Detector     proctor.FaceDetector
	Config       Config
}

// remoteMedia is implemented by media sources driven over the signal channel
type remoteMedia interface {
	Attach(send func(proctor.Command) error) (detach func())
	Detach()
	Granted(modality models.Capability, trackID string) bool
	Denied(modality models.Capability, reason string) bool
}

// Controller owns one attempt: its clock, answers, proctoring and submission
type Controller struct {
	assessmentID string
	candidate    models.Candidate
	store        Store
	clk          clock.WithTickerAndDelayedExecution
	locker       locks.Locker
	publisher    events.Publisher
	media        proctor.MediaSource
	detector     proctor.FaceDetector
	cfg          Config

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	assessment      *models.Assessment
	assignment      *models.Assignment
	grants          map[models.Capability]bool
	submitRequested bool
	submitInFlight  bool
	autoSubmit      bool
	finalRemaining  time.Duration
	lastErr         error
	result          *models.SubmitResult
	countdown       *countdown.Countdown
	answers         *answers.Store
	monitor         *proctor.Monitor
	proctoring      *proctor.Session
	onTerminal      func(*Controller)
	finished        bool

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

// NewController creates a controller in the loading state
func NewController(opts Options) *Controller {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	locker := opts.Locker
	if locker == nil {
		locker = locks.NewLocal()
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	detector := opts.Detector
	if detector == nil {
		detector = proctor.NewSignalDetector()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		assessmentID: opts.AssessmentID,
		candidate:    opts.Candidate,
		store:        opts.Store,
		clk:          clk,
		locker:       locker,
		publisher:    publisher,
		media:        opts.Media,
		detector:     detector,
		cfg:          opts.Config,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateLoading,
		grants:       make(map[models.Capability]bool),
		observers:    make(map[int]func(Event)),
	}
}

// Load fetches the assessment, fetches or creates the candidate's
// assignment and moves to the permission gate. When nothing needs to be
// granted the attempt begins right away.
func (c *Controller) Load(ctx context.Context) error {
	if s := c.State(); s != StateLoading {
		return fmt.Errorf("%w: cannot load from %s", ErrInvalidState, s)
	}

	assessment, err := c.store.GetAssessment(ctx, c.assessmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrAssessmentNotFound, c.assessmentID)
		}
		return c.fail(err)
	}

	assignment, err := c.provision(ctx, assessment)
	if err != nil {
		return c.fail(err)
	}

	if err := assignment.Validate(assessment); err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	c.assessment = assessment
	c.assignment = assignment

	if assignment.Status == models.AssignmentCompleted {
		c.state = StateCompleted
		c.result = resultOf(assignment)
		c.mu.Unlock()

		slog.Info("assignment already completed", "assignment_id", assignment.ID)
		c.emitState()
		c.finish()
		return nil
	}

	c.answers = answers.New(answers.Options{
		AssignmentID: assignment.ID,
		Questions:    assessment.QuestionIDs(),
		Initial:      assignment.Answers,
		Persister:    c.store,
		Clock:        c.clk,
		Debounce:     c.cfg.AutosaveDebounce,
	})
	c.monitor = proctor.NewMonitor(proctor.MonitorOptions{
		AssignmentID:    assignment.ID,
		Config:          assessment.Proctoring,
		Recorder:        c.store,
		Notify:          c.onViolation,
		Detector:        c.detector,
		Clock:           c.clk,
		CheckInterval:   c.cfg.CheckInterval,
		NoFaceThreshold: c.cfg.NoFaceThreshold,
		InitialCount:    assignment.Violations,
	})
	c.state = StatePermissionGate
	open := RequiredGranted(assessment.Proctoring, c.grants)
	c.mu.Unlock()

	slog.Info("session loaded",
		"assignment_id", assignment.ID,
		"assessment_id", assessment.ID,
		"candidate_id", c.candidate.ID,
		"proctored", assessment.Proctoring.Enabled(),
	)

	if open {
		return c.Begin(ctx)
	}
	c.emitState()
	return nil
}

func (c *Controller) provision(ctx context.Context, assessment *models.Assessment) (*models.Assignment, error) {
	unlock, err := c.locker.Lock(ctx, lockKey(assessment.ID, c.candidate.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock assignment: %w", err)
	}
	defer unlock()

	return LoadOrCreateAssignment(ctx, c.store, c.clk.Now(), assessment, c.candidate)
}

// Grant records a passed device test or an accepted acknowledgement
func (c *Controller) Grant(capability models.Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePermissionGate {
		return fmt.Errorf("%w: cannot grant from %s", ErrInvalidState, c.state)
	}
	c.grants[capability] = true
	return nil
}

// AllGranted reports whether the permission gate is open
func (c *Controller) AllGranted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.assessment == nil {
		return false
	}
	return RequiredGranted(c.assessment.Proctoring, c.grants)
}

// Begin leaves the permission gate: the clock starts and proctoring
// acquires its media in the background
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePermissionGate {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot begin from %s", ErrInvalidState, s)
	}
	if missing := MissingCapabilities(c.assessment.Proctoring, c.grants); len(missing) > 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPermissionsPending, missing)
	}

	c.state = StateInProgress
	c.countdown = countdown.New(c.clk, *c.assignment.ExpiresAt, c.onExpire)
	c.countdown.OnTick(c.onTick)

	if c.assessment.Proctoring.Enabled() {
		c.proctoring = proctor.NewSession(proctor.SessionOptions{
			AssignmentID:     c.assignment.ID,
			Config:           c.assessment.Proctoring,
			Monitor:          c.monitor,
			Media:            c.media,
			Recorder:         c.store,
			Clock:            c.clk,
			CheckInterval:    c.cfg.CheckInterval,
			SnapshotInterval: c.cfg.SnapshotInterval,
		})
	}
	cd, proctoring := c.countdown, c.proctoring
	id := c.assignment.ID
	c.mu.Unlock()

	slog.Info("assessment started", "assignment_id", id, "remaining", cd.Remaining())

	c.emitState()
	cd.Start()
	if proctoring != nil {
		go proctoring.Start(c.ctx)
	}
	return nil
}

// SetAnswer records an answer while the attempt is in progress
func (c *Controller) SetAnswer(questionID, value string) error {
	c.mu.Lock()
	if c.state != StateInProgress {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot answer in %s", ErrInvalidState, s)
	}
	store := c.answers
	c.mu.Unlock()

	return store.Set(questionID, value)
}

// RequestSubmit opens the submit confirmation
func (c *Controller) RequestSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return fmt.Errorf("%w: cannot submit from %s", ErrInvalidState, c.state)
	}
	c.submitRequested = true
	return nil
}

// CancelSubmit closes the submit confirmation
func (c *Controller) CancelSubmit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return fmt.Errorf("%w: nothing to cancel in %s", ErrInvalidState, c.state)
	}
	c.submitRequested = false
	return nil
}

// ConfirmSubmit submits after RequestSubmit, or retries a failed submission
func (c *Controller) ConfirmSubmit(ctx context.Context) (*models.SubmitResult, error) {
	c.mu.Lock()
	if c.state == StateInProgress && !c.submitRequested {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: submit was not requested", ErrInvalidState)
	}
	c.mu.Unlock()

	if err := c.submit(ctx, false); err != nil {
		return nil, err
	}
	return c.Result(), nil
}

func (c *Controller) onExpire() {
	if c.State() != StateInProgress {
		return
	}

	slog.Info("time limit reached, submitting", "assignment_id", c.ID())

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	if err := c.submit(ctx, true); err != nil {
		slog.Error("auto-submit failed", "assignment_id", c.ID(), "error", err)
	}
}

// submit scores and persists the attempt. The first call leaves
// in_progress and stops all active work; after a failed write the state
// stays submitting and the call may be repeated.
func (c *Controller) submit(ctx context.Context, auto bool) error {
	c.mu.Lock()
	switch c.state {
	case StateInProgress:
		c.state = StateSubmitting
		c.autoSubmit = auto
		c.finalRemaining = c.remainingLocked()
		c.stopActiveLocked()
	case StateSubmitting:
		if c.submitInFlight {
			c.mu.Unlock()
			return ErrSubmitInProgress
		}
	default:
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot submit from %s", ErrInvalidState, s)
	}
	c.submitInFlight = true
	c.lastErr = nil
	assessment, assignment := c.assessment, c.assignment
	store, monitor := c.answers, c.monitor
	remaining := c.finalRemaining
	auto = c.autoSubmit
	c.mu.Unlock()

	c.emitState()

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	if err := store.Flush(flushCtx); err != nil {
		slog.Warn("final answer flush failed", "assignment_id", assignment.ID, "error", err)
	}
	cancel()

	completion := Evaluate(assessment, store.Snapshot(), remaining, monitor.Count())

	completedAt, err := c.store.CompleteAssignment(ctx, assignment.ID, completion)
	if err != nil {
		c.mu.Lock()
		c.submitInFlight = false
		c.lastErr = err
		c.mu.Unlock()

		slog.Error("failed to submit assessment", "assignment_id", assignment.ID, "error", err)
		c.emit(Event{Type: EventError, Data: err.Error()})
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	c.mu.Lock()
	c.submitInFlight = false
	if c.state != StateSubmitting {
		// abandoned while the write was in flight
		c.mu.Unlock()
		return nil
	}
	if auto {
		c.state = StateExpired
	} else {
		c.state = StateCompleted
	}
	updated := *c.assignment
	updated.Status = models.AssignmentCompleted
	updated.CompletedAt = &completedAt
	updated.Answers = completion.Answers
	updated.Score = completion.Score
	updated.Passed = completion.Passed
	updated.Violations = completion.Violations
	updated.TimeSpent = completion.TimeSpent
	c.assignment = &updated
	c.result = resultOf(&updated)
	c.mu.Unlock()

	slog.Info("assessment submitted",
		"assignment_id", assignment.ID,
		"score", completion.Score,
		"passed", completion.Passed,
		"violations", completion.Violations,
		"time_spent", completion.TimeSpent,
		"auto", auto,
	)

	if err := c.store.IncrementAssessmentCounter(ctx, assessment.ID, models.CounterSubmissions); err != nil {
		slog.Error("failed to increment submissions counter", "assessment_id", assessment.ID, "error", err)
	}

	event := events.Completed{
		AssignmentID:   assignment.ID,
		AssessmentID:   assessment.ID,
		CandidateID:    assignment.CandidateID,
		CandidateEmail: assignment.CandidateEmail,
		Score:          completion.Score,
		Passed:         completion.Passed,
		Violations:     completion.Violations,
		TimeSpent:      completion.TimeSpent,
		AutoSubmitted:  auto,
		CompletedAt:    completedAt,
	}
	if err := c.publisher.Publish(ctx, events.AssessmentCompleted, event); err != nil {
		slog.Error("failed to publish completion", "assignment_id", assignment.ID, "error", err)
	}

	c.emitState()
	c.finish()
	return nil
}

// Abandon leaves the attempt without submitting. Pending answers are
// flushed; the assignment stays in progress and can be resumed until it
// expires.
func (c *Controller) Abandon() {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.stopActiveLocked()
	c.state = StateClosed
	store := c.answers
	id := c.idLocked()
	c.mu.Unlock()

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := store.Flush(ctx); err != nil {
			slog.Warn("failed to flush answers on close", "assignment_id", id, "error", err)
		}
		cancel()
	}

	slog.Info("session closed", "assignment_id", id)
	c.emitState()
	c.finish()
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.stopActiveLocked()
	c.mu.Unlock()

	slog.Warn("session failed",
		"assessment_id", c.assessmentID,
		"candidate_id", c.candidate.ID,
		"error", err,
	)
	c.emitState()
	c.finish()
	return err
}

// remainingLocked never reports more than the countdown has shown
func (c *Controller) remainingLocked() time.Duration {
	remaining := c.assignment.TimeRemaining(c.clk.Now())
	if c.countdown != nil && c.countdown.Remaining() < remaining {
		remaining = c.countdown.Remaining()
	}
	return remaining
}

// stopActiveLocked stops the clock, autosave and proctoring
func (c *Controller) stopActiveLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
	}
	if c.proctoring != nil {
		c.proctoring.Stop()
	}
	if c.monitor != nil {
		c.monitor.Close()
	}
	if c.answers != nil {
		c.answers.Close()
	}
}

func (c *Controller) finish() {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	hook := c.onTerminal
	c.mu.Unlock()

	c.cancel()
	if r, ok := c.media.(remoteMedia); ok {
		r.Detach()
	}
	if hook != nil {
		hook(c)
	}
}

// --- signals from the candidate's browser ---

// VisibilityChanged forwards a page visibility report
func (c *Controller) VisibilityChanged(hidden bool) {
	if m := c.activeMonitor(); m != nil {
		m.VisibilityChanged(hidden)
	}
}

// ReportFaces forwards the browser's face count to the detector
func (c *Controller) ReportFaces(faces int) {
	if r, ok := c.detector.(interface{ Report(int) }); ok {
		r.Report(faces)
	}
}

// AttachMedia connects the browser channel to a remote media source. The
// returned func disconnects it again; it is a no-op once a newer channel
// has attached.
func (c *Controller) AttachMedia(send func(proctor.Command) error) (detach func()) {
	if r, ok := c.media.(remoteMedia); ok {
		return r.Attach(send)
	}
	return func() {}
}

// MediaGranted resolves a pending acquisition
func (c *Controller) MediaGranted(modality models.Capability, trackID string) bool {
	if r, ok := c.media.(remoteMedia); ok {
		return r.Granted(modality, trackID)
	}
	return false
}

// MediaDenied fails a pending acquisition
func (c *Controller) MediaDenied(modality models.Capability, reason string) bool {
	if r, ok := c.media.(remoteMedia); ok {
		return r.Denied(modality, reason)
	}
	return false
}

func (c *Controller) activeMonitor() *proctor.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress {
		return nil
	}
	return c.monitor
}

// --- observers ---

// Observe registers fn for UI events. The returned function unregisters it.
func (c *Controller) Observe(fn func(Event)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

func (c *Controller) emit(e Event) {
	c.obsMu.Lock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

func (c *Controller) emitState() {
	c.emit(Event{Type: EventState, Data: c.View()})
}

func (c *Controller) onTick(remaining time.Duration) {
	c.emit(Event{Type: EventTick, Data: map[string]int{"remaining": int(remaining / time.Second)}})
}

func (c *Controller) onViolation(v *models.Violation) {
	c.emit(Event{Type: EventViolation, Data: v})

	// the monitor calls in synchronously; don't hold it on the bus
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := c.publisher.Publish(ctx, events.ViolationRecorded, v); err != nil {
			slog.Error("failed to publish violation", "assignment_id", v.AssignmentID, "error", err)
		}
	}()
}

// --- read model ---

// View is the candidate-facing snapshot of the session
type View struct {
	AssignmentID     string               `json:"assignment_id,omitempty"`
	AssessmentID     string               `json:"assessment_id"`
	State            State                `json:"state"`
	Assessment       *models.Assessment   `json:"assessment,omitempty"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	ExpiresAt        *time.Time           `json:"expires_at,omitempty"`
	Answers          map[string]string    `json:"answers,omitempty"`
	PendingAnswers   int                  `json:"pending_answers"`
	LastSavedAt      *time.Time           `json:"last_saved_at,omitempty"`
	Violations       int                  `json:"violations"`
	Required         []models.Capability  `json:"required,omitempty"`
	Granted          []models.Capability  `json:"granted,omitempty"`
	SubmitRequested  bool                 `json:"submit_requested"`
	Result           *models.SubmitResult `json:"result,omitempty"`
	Error            string               `json:"error,omitempty"`
}

// View returns the current read model
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		AssignmentID:    c.idLocked(),
		AssessmentID:    c.assessmentID,
		State:           c.state,
		SubmitRequested: c.submitRequested,
		Result:          c.result,
	}
	if c.lastErr != nil {
		v.Error = c.lastErr.Error()
	}

	if c.assessment != nil {
		v.Assessment = c.assessment.ForCandidate()
		v.Required = RequiredCapabilities(c.assessment.Proctoring)
		for _, capability := range v.Required {
			if c.grants[capability] {
				v.Granted = append(v.Granted, capability)
			}
		}
	}

	if c.assignment != nil {
		v.ExpiresAt = c.assignment.ExpiresAt
		v.Answers = c.assignment.Answers
		v.Violations = c.assignment.Violations
		if !c.state.Terminal() {
			v.RemainingSeconds = int(c.assignment.TimeRemaining(c.clk.Now()) / time.Second)
		}
	}
	if c.countdown != nil {
		v.RemainingSeconds = c.countdown.RemainingSeconds()
	}
	if c.answers != nil && c.result == nil {
		v.Answers = c.answers.Snapshot()
		v.PendingAnswers = c.answers.Pending()
		if saved := c.answers.LastSaved(); !saved.IsZero() {
			v.LastSavedAt = &saved
		}
	}
	if c.monitor != nil && c.result == nil {
		v.Violations = c.monitor.Count()
	}

	return v
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stalled reports a submission whose write failed and is not being retried
func (c *Controller) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSubmitting && !c.submitInFlight && c.lastErr != nil
}

// ID returns the assignment id, empty until loaded
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idLocked()
}

func (c *Controller) idLocked() string {
	if c.assignment == nil {
		return ""
	}
	return c.assignment.ID
}

// AssessmentID returns the assessment being taken
func (c *Controller) AssessmentID() string {
	return c.assessmentID
}

// Candidate returns the candidate identity
func (c *Controller) Candidate() models.Candidate {
	return c.candidate
}

// Result returns the submission result once completed
func (c *Controller) Result() *models.SubmitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Err returns the last error recorded by the controller
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ActiveTracks returns the number of media tracks held by proctoring
func (c *Controller) ActiveTracks() int {
	c.mu.Lock()
	p := c.proctoring
	c.mu.Unlock()
	if p == nil {
		return 0
	}
	return p.ActiveTracks()
}

func resultOf(a *models.Assignment) *models.SubmitResult {
	return &models.SubmitResult{
		AssignmentID: a.ID,
		Score:        a.Score,
		Passed:       a.Passed,
		Violations:   a.Violations,
		TimeSpent:    a.TimeSpent,
		CompletedAt:  a.CompletedAt,
	}
}
