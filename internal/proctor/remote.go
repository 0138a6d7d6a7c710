package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// ErrNoClient is returned when no browser is attached to a RemoteMedia
var ErrNoClient = errors.New("no client connected")

// Command types sent to the browser
const (
	CommandAcquire = "acquire"
	CommandRelease = "release"
)

// Command asks the browser to start or stop capturing
type Command struct {
	Type     string            `json:"type"`
	Modality models.Capability `json:"modality,omitempty"`
	TrackID  string            `json:"track_id,omitempty"`
	Audio    bool              `json:"audio,omitempty"`
}

type acquireResult struct {
	trackID string
	err     error
}

// RemoteMedia is a MediaSource backed by the candidate's browser. Requests
// go out through the attached send function and are resolved by Granted
// or Denied when the browser answers.
type RemoteMedia struct {
	timeout time.Duration

	mu       sync.Mutex
	send     func(Command) error
	attached uint64
	pending  map[models.Capability]chan acquireResult
}

// NewRemoteMedia creates a RemoteMedia waiting at most timeout per request
func NewRemoteMedia(timeout time.Duration) *RemoteMedia {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteMedia{
		timeout: timeout,
		pending: make(map[models.Capability]chan acquireResult),
	}
}

// Attach connects the browser channel, replacing any earlier one. The
// returned func detaches it unless a newer channel was attached since.
func (r *RemoteMedia) Attach(send func(Command) error) (detach func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attached++
	r.send = send
	gen := r.attached

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.attached == gen {
			r.detachLocked()
		}
	}
}

// Detach disconnects whichever channel is attached and fails pending
// requests
func (r *RemoteMedia) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked()
}

func (r *RemoteMedia) detachLocked() {
	r.send = nil
	for modality, ch := range r.pending {
		ch <- acquireResult{err: ErrNoClient}
		delete(r.pending, modality)
	}
}

// Acquire implements MediaSource
func (r *RemoteMedia) Acquire(ctx context.Context, modality models.Capability, withAudio bool) (Track, error) {
	r.mu.Lock()
	send := r.send
	if send == nil {
		r.mu.Unlock()
		return nil, ErrNoClient
	}
	ch := make(chan acquireResult, 1)
	r.pending[modality] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending[modality] == ch {
			delete(r.pending, modality)
		}
		r.mu.Unlock()
	}()

	if err := send(Command{Type: CommandAcquire, Modality: modality, Audio: withAudio}); err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", modality, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return &remoteTrack{id: res.trackID, modality: modality, source: r}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s request: %w", modality, ctx.Err())
	}
}

// Granted resolves a pending request with the browser's track id
func (r *RemoteMedia) Granted(modality models.Capability, trackID string) bool {
	return r.resolve(modality, acquireResult{trackID: trackID})
}

// Denied resolves a pending request with a refusal
func (r *RemoteMedia) Denied(modality models.Capability, reason string) bool {
	err := ErrPermissionDenied
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
	}
	return r.resolve(modality, acquireResult{err: err})
}

func (r *RemoteMedia) resolve(modality models.Capability, res acquireResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.pending[modality]
	if !ok {
		return false
	}
	delete(r.pending, modality)
	ch <- res
	return true
}

func (r *RemoteMedia) release(trackID string) {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()

	if send != nil {
		_ = send(Command{Type: CommandRelease, TrackID: trackID})
	}
}

type remoteTrack struct {
	id       string
	modality models.Capability
	source   *RemoteMedia
	once     sync.Once
}

func (t *remoteTrack) ID() string                  { return t.id }
func (t *remoteTrack) Modality() models.Capability { return t.modality }

func (t *remoteTrack) Stop() {
	t.once.Do(func() { t.source.release(t.id) })
}
