package light

import (
	"sync"
	"time"
)

// OverrideManager tracks manual pauses per output. While a pause is active
// the agent leaves the output's gamma alone.
type OverrideManager struct {
	mu        sync.RWMutex
	now       func() time.Time
	overrides map[string]time.Time
}

// NewOverrideManager creates a new override manager; nil now means time.Now
func NewOverrideManager(now func() time.Time) *OverrideManager {
	if now == nil {
		now = time.Now
	}
	return &OverrideManager{
		now:       now,
		overrides: make(map[string]time.Time),
	}
}

// SetManualOverride pauses an output for the given duration
func (om *OverrideManager) SetManualOverride(output string, duration time.Duration) time.Time {
	expiresAt := om.now().Add(duration)
	om.RestoreManualOverride(output, expiresAt)
	return expiresAt
}

// RestoreManualOverride reinstates a pause that ends at expiresAt.
// Pauses that already ended are ignored.
func (om *OverrideManager) RestoreManualOverride(output string, expiresAt time.Time) bool {
	om.mu.Lock()
	defer om.mu.Unlock()

	if !om.now().Before(expiresAt) {
		return false
	}
	om.overrides[output] = expiresAt
	return true
}

// ExpiresAt returns when the active pause for output ends
func (om *OverrideManager) ExpiresAt(output string) (time.Time, bool) {
	om.mu.Lock()
	defer om.mu.Unlock()

	expiresAt, exists := om.overrides[output]
	if !exists {
		return time.Time{}, false
	}

	if !om.now().Before(expiresAt) {
		delete(om.overrides, output)
		return time.Time{}, false
	}

	return expiresAt, true
}

// ClearManualOverride removes a manual override for an output
func (om *OverrideManager) ClearManualOverride(output string) bool {
	om.mu.Lock()
	defer om.mu.Unlock()

	_, exists := om.overrides[output]
	delete(om.overrides, output)
	return exists
}

// CleanupExpiredOverrides removes all expired overrides
func (om *OverrideManager) CleanupExpiredOverrides() int {
	om.mu.Lock()
	defer om.mu.Unlock()

	now := om.now()
	cleaned := 0

	for output, expiresAt := range om.overrides {
		if !now.Before(expiresAt) {
			delete(om.overrides, output)
			cleaned++
		}
	}

	return cleaned
}
