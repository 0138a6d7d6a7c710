package proctor

import "sync"

// FaceReading is the result of one face detection pass
type FaceReading struct {
	Faces int
}

// FaceDetector reports how many faces are currently visible
type FaceDetector interface {
	Detect() FaceReading
}

// SignalDetector returns the latest face count reported by the candidate's
// browser. Until the first report one face is assumed.
type SignalDetector struct {
	mu    sync.Mutex
	faces int
}

// NewSignalDetector creates a detector assuming one visible face
func NewSignalDetector() *SignalDetector {
	return &SignalDetector{faces: 1}
}

// Report stores the latest face count
func (d *SignalDetector) Report(faces int) {
	if faces < 0 {
		faces = 0
	}
	d.mu.Lock()
	d.faces = faces
	d.mu.Unlock()
}

// Detect implements FaceDetector
func (d *SignalDetector) Detect() FaceReading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return FaceReading{Faces: d.faces}
}
