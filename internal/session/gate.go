package session

import "github.com/terra-clan/proctor-engine/internal/models"

var allCapabilities = []models.Capability{
	models.CapabilityCamera,
	models.CapabilityScreen,
	models.CapabilityMicrophone,
	models.CapabilityBrowserLock,
	models.CapabilityIPTracking,
}

// RequiredCapabilities lists the capabilities a candidate must grant
// before the attempt may begin
func RequiredCapabilities(cfg models.ProctoringConfig) []models.Capability {
	var required []models.Capability
	for _, c := range allCapabilities {
		if cfg.Requires(c) {
			required = append(required, c)
		}
	}
	return required
}

// RequiredGranted reports whether every required capability was granted.
// With nothing required the gate is open.
func RequiredGranted(cfg models.ProctoringConfig, grants map[models.Capability]bool) bool {
	return len(MissingCapabilities(cfg, grants)) == 0
}

// MissingCapabilities lists required capabilities not yet granted
func MissingCapabilities(cfg models.ProctoringConfig, grants map[models.Capability]bool) []models.Capability {
	var missing []models.Capability
	for _, c := range RequiredCapabilities(cfg) {
		if !grants[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
