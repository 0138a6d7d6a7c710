package proctor

import (
	"context"
	"errors"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// ErrPermissionDenied is returned by a MediaSource when the candidate refuses access
var ErrPermissionDenied = errors.New("permission denied")

// Track is an acquired media stream
type Track interface {
	ID() string
	Modality() models.Capability
	Stop()
}

// MediaSource acquires media tracks. withAudio asks for microphone audio to
// be carried on the same stream (screen capture).
type MediaSource interface {
	Acquire(ctx context.Context, modality models.Capability, withAudio bool) (Track, error)
}

// acquisition is one media request derived from the proctoring config
type acquisition struct {
	modality  models.Capability
	withAudio bool
}

// plannedAcquisitions lists what to acquire. Screen capture carries the
// microphone when both are on; the microphone is requested on its own
// only without screen capture.
func plannedAcquisitions(cfg models.ProctoringConfig) []acquisition {
	var plan []acquisition
	if cfg.Camera {
		plan = append(plan, acquisition{modality: models.CapabilityCamera})
	}
	if cfg.Screen {
		plan = append(plan, acquisition{modality: models.CapabilityScreen, withAudio: cfg.Microphone})
	}
	if cfg.Microphone && !cfg.Screen {
		plan = append(plan, acquisition{modality: models.CapabilityMicrophone})
	}
	return plan
}
