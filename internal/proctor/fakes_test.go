package proctor

import (
	"context"
	"errors"
	"sync"

	"github.com/terra-clan/proctor-engine/internal/models"
)

type fakeRecorder struct {
	mu         sync.Mutex
	violations []*models.Violation
	snapshots  []*models.Snapshot
	fail       bool
}

func (r *fakeRecorder) AppendViolation(ctx context.Context, v *models.Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("write failed")
	}
	r.violations = append(r.violations, v)
	return nil
}

func (r *fakeRecorder) AppendSnapshot(ctx context.Context, s *models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("write failed")
	}
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *fakeRecorder) count(t models.ViolationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.violations {
		if v.Type == t {
			n++
		}
	}
	return n
}

func (r *fakeRecorder) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

type fakeTrack struct {
	id       string
	modality models.Capability
	audio    bool

	mu      sync.Mutex
	stopped int
}

func (t *fakeTrack) ID() string                  { return t.id }
func (t *fakeTrack) Modality() models.Capability { return t.modality }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeMedia struct {
	mu     sync.Mutex
	deny   map[models.Capability]bool
	block  map[models.Capability]chan struct{}
	tracks []*fakeTrack
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		deny:  make(map[models.Capability]bool),
		block: make(map[models.Capability]chan struct{}),
	}
}

func (m *fakeMedia) Acquire(ctx context.Context, modality models.Capability, withAudio bool) (Track, error) {
	m.mu.Lock()
	gate := m.block[modality]
	deny := m.deny[modality]
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if deny {
		return nil, ErrPermissionDenied
	}

	track := &fakeTrack{id: string(modality) + "-track", modality: modality, audio: withAudio}
	m.mu.Lock()
	m.tracks = append(m.tracks, track)
	m.mu.Unlock()
	return track, nil
}

func (m *fakeMedia) acquired() []*fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*fakeTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}
