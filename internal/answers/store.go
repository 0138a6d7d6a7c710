// Package answers keeps a candidate's in-progress answers in memory and
// persists them with a debounced partial write.
package answers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

var (
	// ErrUnknownQuestion is returned when setting an answer for a question
	// the assessment does not have
	ErrUnknownQuestion = errors.New("unknown question")

	// ErrClosed is returned when setting an answer after the store was closed
	ErrClosed = errors.New("answer store closed")
)

// DefaultDebounce is the quiescence period before a write is issued
const DefaultDebounce = 2 * time.Second

const flushTimeout = 10 * time.Second

// Persister merges answers into the stored assignment
type Persister interface {
	MergeAnswers(ctx context.Context, assignmentID string, answers map[string]string) error
}

type entry struct {
	value   string
	version uint64
}

// Store holds the answer map of one assignment
type Store struct {
	assignmentID string
	questions    map[string]struct{}
	persister    Persister
	clk          clock.WithDelayedExecution
	debounce     time.Duration

	mu      sync.Mutex
	entries map[string]entry
	dirty   map[string]uint64
	version uint64
	timer   clock.Timer
	gen     uint64
	closed  bool
	saved   time.Time

	// serializes writes so they complete in the order they were issued
	writeMu sync.Mutex
}

// Options configures a Store
type Options struct {
	AssignmentID string
	Questions    map[string]struct{}
	Initial      map[string]string
	Persister    Persister
	Clock        clock.WithDelayedExecution
	Debounce     time.Duration
}

// New creates a store seeded with previously saved answers
func New(opts Options) *Store {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	s := &Store{
		assignmentID: opts.AssignmentID,
		questions:    opts.Questions,
		persister:    opts.Persister,
		clk:          clk,
		debounce:     debounce,
		entries:      make(map[string]entry, len(opts.Initial)),
		dirty:        make(map[string]uint64),
	}
	for qid, v := range opts.Initial {
		s.entries[qid] = entry{value: v}
	}
	return s
}

// Set records an answer and restarts the write debounce
func (s *Store) Set(questionID, value string) error {
	if _, ok := s.questions[questionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.version++
	s.entries[questionID] = entry{value: value, version: s.version}
	s.dirty[questionID] = s.version

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	// fake clocks run AfterFunc callbacks while holding their own lock
	s.timer = s.clk.AfterFunc(s.debounce, func() { go s.fire(gen) })

	return nil
}

// fire runs when the debounce elapses; superseded timers are ignored
func (s *Store) fire(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = s.Flush(ctx)
}

// Flush writes every dirty entry in one partial merge. On failure the
// entries stay dirty and are retried on the next Set or Flush.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make(map[string]string, len(s.dirty))
	versions := make(map[string]uint64, len(s.dirty))
	for qid := range s.dirty {
		e := s.entries[qid]
		batch[qid] = e.value
		versions[qid] = e.version
	}
	s.mu.Unlock()

	if err := s.persister.MergeAnswers(ctx, s.assignmentID, batch); err != nil {
		slog.Error("failed to save answers",
			"assignment_id", s.assignmentID,
			"questions", len(batch),
			"error", err,
		)
		return fmt.Errorf("failed to save answers: %w", err)
	}

	s.mu.Lock()
	for qid, v := range versions {
		if s.dirty[qid] == v {
			delete(s.dirty, qid)
		}
	}
	s.saved = s.clk.Now()
	s.mu.Unlock()

	slog.Debug("answers saved", "assignment_id", s.assignmentID, "questions", len(batch))
	return nil
}

// Get returns the current answer of a question
func (s *Store) Get(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[questionID]
	return e.value, ok
}

// Snapshot returns a copy of all answers
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.entries))
	for qid, e := range s.entries {
		out[qid] = e.value
	}
	return out
}

// Pending returns the number of answers not yet persisted
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// LastSaved returns when a write last succeeded
func (s *Store) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Scheduled reports whether a debounced write is waiting
func (s *Store) Scheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Close cancels the pending write and rejects further answers. Dirty
// entries are kept so a final Flush can still write them.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
