package light

import (
	"log/slog"
	"time"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

// Decision actions
const (
	ActionApply    = "apply"
	ActionSkip     = "skip"
	ActionMaintain = "maintain"
)

// Decision reasons
const (
	ReasonManualOverride = "manual_override_active"
	ReasonInitial        = "initial_apply"
	ReasonChanged        = "gamma_changed"
	ReasonRefresh        = "refresh_interval_elapsed"
	ReasonUnchanged      = "gamma_unchanged"
)

// Decision is the outcome of one evaluation of an output
type Decision struct {
	Action  string                 // "apply", "skip", "maintain"
	Output  string                 // display output the decision is for
	Reading circadian.Reading      // gamma computed for the evaluated hour
	Reason  string                 // concise reason for the decision
	Details map[string]interface{} // additional context for debugging
}

// MakeGammaDecision implements the per-tick decision rules (Rules 0-3)
func MakeGammaDecision(
	output string,
	reading circadian.Reading,
	overrideManager *OverrideManager,
	refreshLimiter *RefreshLimiter,
	refreshInterval time.Duration,
	logger *slog.Logger,
) *Decision {
	// Rule 0: Manual pause - leave the output alone
	if expiresAt, paused := overrideManager.ExpiresAt(output); paused {
		logger.Debug("Rule 0: Manual override active",
			"output", output,
			"expires_at", expiresAt)
		return &Decision{
			Action:  ActionMaintain,
			Output:  output,
			Reading: reading,
			Reason:  ReasonManualOverride,
			Details: map[string]interface{}{
				"rule":       0,
				"expires_at": expiresAt.Format(time.RFC3339),
			},
		}
	}

	last, lastAt, applied := refreshLimiter.LastApplied(output)

	// Rule 1: Nothing applied yet
	if !applied {
		logger.Debug("Rule 1: First apply", "output", output, "gamma", reading.Gamma.String())
		return &Decision{
			Action:  ActionApply,
			Output:  output,
			Reading: reading,
			Reason:  ReasonInitial,
			Details: map[string]interface{}{
				"rule":  1,
				"phase": reading.Phase.String(),
			},
		}
	}

	// Rule 2: Gamma moved since the last apply
	if refreshLimiter.Changed(output, reading.Gamma) {
		logger.Debug("Rule 2: Gamma changed",
			"output", output,
			"previous", last.String(),
			"gamma", reading.Gamma.String())
		return &Decision{
			Action:  ActionApply,
			Output:  output,
			Reading: reading,
			Reason:  ReasonChanged,
			Details: map[string]interface{}{
				"rule":     2,
				"phase":    reading.Phase.String(),
				"progress": reading.Progress,
				"previous": last.Xrandr(),
			},
		}
	}

	// Rule 3: Unchanged, but other clients may have reset the ramp
	if refreshLimiter.RefreshDue(output, refreshInterval) {
		logger.Debug("Rule 3: Refresh interval elapsed",
			"output", output,
			"last_applied", lastAt)
		return &Decision{
			Action:  ActionApply,
			Output:  output,
			Reading: reading,
			Reason:  ReasonRefresh,
			Details: map[string]interface{}{
				"rule":         3,
				"interval_sec": refreshInterval.Seconds(),
			},
		}
	}

	return &Decision{
		Action:  ActionSkip,
		Output:  output,
		Reading: reading,
		Reason:  ReasonUnchanged,
		Details: map[string]interface{}{
			"rule":         "fallback",
			"last_applied": lastAt.Format(time.RFC3339),
		},
	}
}
