package answers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

type fakePersister struct {
	mu      sync.Mutex
	stored  map[string]string
	calls   []map[string]string
	fail    int
	gate    chan struct{}
	entered chan struct{}
	writes  chan map[string]string
	now     func() time.Time
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		stored: make(map[string]string),
		writes: make(chan map[string]string, 16),
	}
}

func (p *fakePersister) MergeAnswers(ctx context.Context, id string, answers map[string]string) error {
	p.mu.Lock()
	gate, entered, now := p.gate, p.entered, p.now
	p.gate = nil
	p.mu.Unlock()

	if now != nil {
		_ = now()
	}

	if gate != nil {
		close(entered)
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, answers)
	if p.fail > 0 {
		p.fail--
		p.writes <- nil
		return errors.New("store unavailable")
	}
	for k, v := range answers {
		p.stored[k] = v
	}
	p.writes <- answers
	return nil
}

func (p *fakePersister) value(qid string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stored[qid]
}

func (p *fakePersister) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var start = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(p *fakePersister, fc *testingclock.FakeClock) *Store {
	return New(Options{
		AssignmentID: "a1",
		Questions:    map[string]struct{}{"q1": {}, "q2": {}, "q3": {}},
		Initial:      map[string]string{"q3": "saved"},
		Persister:    p,
		Clock:        fc,
		Debounce:     2 * time.Second,
	})
}

func waitWrite(t *testing.T, p *fakePersister) map[string]string {
	t.Helper()
	select {
	case w := <-p.writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStore_SetUpdatesMemoryImmediately(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	s := newTestStore(newFakePersister(), fc)

	if err := s.Set("q1", "B"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, _ := s.Get("q1"); v != "B" {
		t.Errorf("Get(q1) = %q, want B", v)
	}

	snap := s.Snapshot()
	if snap["q1"] != "B" || snap["q3"] != "saved" {
		t.Errorf("Snapshot() = %v", snap)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}
}

func TestStore_RejectsUnknownQuestion(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	s := newTestStore(newFakePersister(), fc)

	err := s.Set("q99", "x")
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("Set() error = %v, want ErrUnknownQuestion", err)
	}
	if _, ok := s.Get("q99"); ok {
		t.Error("unknown question stored in memory")
	}
	if s.Scheduled() {
		t.Error("write scheduled for rejected answer")
	}
}

func TestStore_DebounceCoalescesWrites(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	p := newFakePersister()
	s := newTestStore(p, fc)

	_ = s.Set("q1", "A")
	fc.Step(time.Second)
	_ = s.Set("q1", "B")
	_ = s.Set("q2", "text")

	fc.Step(1500 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if n := p.callCount(); n != 0 {
		t.Fatalf("write issued before quiescence: %d calls", n)
	}

	fc.Step(500 * time.Millisecond)
	w := waitWrite(t, p)

	if len(w) != 2 || w["q1"] != "B" || w["q2"] != "text" {
		t.Errorf("write = %v, want q1=B q2=text", w)
	}
	if _, ok := w["q3"]; ok {
		t.Error("clean answer included in partial write")
	}

	waitFor(t, "clean", func() bool { return s.Pending() == 0 })
	if s.LastSaved().IsZero() {
		t.Error("LastSaved() not recorded")
	}
	if s.Scheduled() {
		t.Error("timer still scheduled after write")
	}
}

func TestStore_DebouncedWriteMayReadClock(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	p := newFakePersister()
	p.now = fc.Now
	s := newTestStore(p, fc)

	_ = s.Set("q1", "A")

	stepped := make(chan struct{})
	go func() {
		fc.Step(2 * time.Second)
		close(stepped)
	}()
	select {
	case <-stepped:
	case <-time.After(2 * time.Second):
		t.Fatal("clock step blocked by debounced write")
	}

	if w := waitWrite(t, p); w["q1"] != "A" {
		t.Fatalf("write = %v, want q1=A", w)
	}
	waitFor(t, "clean", func() bool { return s.Pending() == 0 })
	if got := s.LastSaved(); !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("LastSaved() = %v, want %v", got, start.Add(2*time.Second))
	}
}

func TestStore_FailedWriteRetriedOnNextSet(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	p := newFakePersister()
	p.fail = 1
	s := newTestStore(p, fc)

	_ = s.Set("q1", "A")
	fc.Step(2 * time.Second)
	if w := waitWrite(t, p); w != nil {
		t.Fatalf("expected failed write, got %v", w)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() after failure = %d, want 1", s.Pending())
	}

	_ = s.Set("q2", "B")
	fc.Step(2 * time.Second)
	w := waitWrite(t, p)
	if w["q1"] != "A" || w["q2"] != "B" {
		t.Errorf("retry write = %v, want q1 and q2", w)
	}
	waitFor(t, "clean", func() bool { return s.Pending() == 0 })
}

func TestStore_NewerValueDuringInFlightWrite(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	p := newFakePersister()
	p.gate = make(chan struct{})
	p.entered = make(chan struct{})
	s := newTestStore(p, fc)

	_ = s.Set("q1", "A")
	fc.Step(2 * time.Second)
	<-p.entered

	// write of A is in flight
	_ = s.Set("q1", "B")
	close(p.gate)

	if w := waitWrite(t, p); w["q1"] != "A" {
		t.Fatalf("first write = %v, want A", w)
	}
	waitFor(t, "first write settled", func() bool { return p.value("q1") == "A" })
	if s.Pending() != 1 {
		t.Fatalf("newer value marked clean by older write")
	}

	fc.Step(2 * time.Second)
	if w := waitWrite(t, p); w["q1"] != "B" {
		t.Fatalf("second write = %v, want B", w)
	}
	if got := p.value("q1"); got != "B" {
		t.Errorf("persisted q1 = %q, want B", got)
	}
	waitFor(t, "clean", func() bool { return s.Pending() == 0 })
}

func TestStore_CloseCancelsPendingWrite(t *testing.T) {
	fc := testingclock.NewFakeClock(start)
	p := newFakePersister()
	s := newTestStore(p, fc)

	_ = s.Set("q1", "A")
	s.Close()

	fc.Step(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if p.callCount() != 0 {
		t.Errorf("write issued after Close")
	}
	if s.Scheduled() {
		t.Error("timer still scheduled after Close")
	}

	if err := s.Set("q1", "B"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := p.value("q1"); got != "A" {
		t.Errorf("flushed q1 = %q, want A", got)
	}
}
