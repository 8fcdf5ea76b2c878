package light

import (
	"sync"
	"time"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

// gammaEpsilon is below the three decimals xrandr is given
const gammaEpsilon = 1e-4

type appliedGamma struct {
	gamma circadian.Triple
	at    time.Time
}

// RefreshLimiter remembers what was last applied to each output and when
type RefreshLimiter struct {
	mu          sync.RWMutex
	now         func() time.Time
	lastApplied map[string]appliedGamma
}

// NewRefreshLimiter creates a new limiter; nil now means time.Now
func NewRefreshLimiter(now func() time.Time) *RefreshLimiter {
	if now == nil {
		now = time.Now
	}
	return &RefreshLimiter{
		now:         now,
		lastApplied: make(map[string]appliedGamma),
	}
}

// Changed reports whether gamma differs from what the output last received.
// Outputs with no recorded apply are always changed.
func (rl *RefreshLimiter) Changed(output string, gamma circadian.Triple) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	last, exists := rl.lastApplied[output]
	return !exists || !last.gamma.ApproxEqual(gamma, gammaEpsilon)
}

// RefreshDue reports whether interval has passed since the last apply.
// A zero interval never forces a refresh.
func (rl *RefreshLimiter) RefreshDue(output string, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	last, exists := rl.lastApplied[output]
	if !exists {
		return true
	}
	return rl.now().Sub(last.at) >= interval
}

// RecordApply records a successful apply to an output
func (rl *RefreshLimiter) RecordApply(output string, gamma circadian.Triple) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	at := rl.now()
	rl.lastApplied[output] = appliedGamma{gamma: gamma, at: at}
	return at
}

// Forget drops the record for an output so the next decision applies
func (rl *RefreshLimiter) Forget(output string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.lastApplied, output)
}

// LastApplied returns the last gamma applied to an output and when
func (rl *RefreshLimiter) LastApplied(output string) (circadian.Triple, time.Time, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	last, exists := rl.lastApplied[output]
	return last.gamma, last.at, exists
}
