package light

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock(hour, minute int) *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 10, hour, minute, 0, 0, time.UTC)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func duskReading() circadian.Reading {
	return circadian.Reading{
		Hour:     20,
		Phase:    circadian.Dusk,
		Progress: 0.5,
		Gamma:    circadian.Triple{Red: 1, Green: 0.825, Blue: 0.725},
	}
}

func TestMakeGammaDecision_Rule0_ManualOverride(t *testing.T) {
	clock := newFakeClock(20, 0)
	overrides := NewOverrideManager(clock.Now)
	limiter := NewRefreshLimiter(clock.Now)

	overrides.SetManualOverride("eDP-1", 30*time.Minute)

	decision := MakeGammaDecision("eDP-1", duskReading(), overrides, limiter, 5*time.Minute, quietLogger())

	if decision.Action != ActionMaintain {
		t.Errorf("Expected action 'maintain', got '%s'", decision.Action)
	}
	if decision.Reason != ReasonManualOverride {
		t.Errorf("Expected reason '%s', got '%s'", ReasonManualOverride, decision.Reason)
	}
}

func TestMakeGammaDecision_Rule0_OverrideExpires(t *testing.T) {
	clock := newFakeClock(20, 0)
	overrides := NewOverrideManager(clock.Now)
	limiter := NewRefreshLimiter(clock.Now)

	overrides.SetManualOverride("eDP-1", 30*time.Minute)
	clock.Advance(30 * time.Minute)

	decision := MakeGammaDecision("eDP-1", duskReading(), overrides, limiter, 0, quietLogger())

	if decision.Action != ActionApply {
		t.Errorf("Expected action 'apply' after expiry, got '%s'", decision.Action)
	}
	if _, active := overrides.ExpiresAt("eDP-1"); active {
		t.Error("Expected expired override to be removed")
	}
}

func TestMakeGammaDecision_Rule0_OtherOutputUnaffected(t *testing.T) {
	clock := newFakeClock(20, 0)
	overrides := NewOverrideManager(clock.Now)
	limiter := NewRefreshLimiter(clock.Now)

	overrides.SetManualOverride("HDMI-1", time.Hour)

	decision := MakeGammaDecision("eDP-1", duskReading(), overrides, limiter, 0, quietLogger())
	if decision.Action != ActionApply {
		t.Errorf("Expected action 'apply', got '%s'", decision.Action)
	}
}

func TestMakeGammaDecision_Rule1_Initial(t *testing.T) {
	clock := newFakeClock(20, 0)

	decision := MakeGammaDecision("eDP-1", duskReading(),
		NewOverrideManager(clock.Now), NewRefreshLimiter(clock.Now), 0, quietLogger())

	if decision.Action != ActionApply || decision.Reason != ReasonInitial {
		t.Errorf("Expected apply/%s, got %s/%s", ReasonInitial, decision.Action, decision.Reason)
	}
	if decision.Output != "eDP-1" {
		t.Errorf("Expected output 'eDP-1', got '%s'", decision.Output)
	}
}

func TestMakeGammaDecision_Rule2_Changed(t *testing.T) {
	clock := newFakeClock(20, 0)
	limiter := NewRefreshLimiter(clock.Now)
	limiter.RecordApply("eDP-1", circadian.Neutral)

	decision := MakeGammaDecision("eDP-1", duskReading(),
		NewOverrideManager(clock.Now), limiter, 0, quietLogger())

	if decision.Action != ActionApply || decision.Reason != ReasonChanged {
		t.Errorf("Expected apply/%s, got %s/%s", ReasonChanged, decision.Action, decision.Reason)
	}
}

func TestMakeGammaDecision_Rule3_Refresh(t *testing.T) {
	clock := newFakeClock(20, 0)
	limiter := NewRefreshLimiter(clock.Now)
	overrides := NewOverrideManager(clock.Now)
	reading := duskReading()

	limiter.RecordApply("eDP-1", reading.Gamma)
	clock.Advance(4 * time.Minute)

	decision := MakeGammaDecision("eDP-1", reading, overrides, limiter, 5*time.Minute, quietLogger())
	if decision.Action != ActionSkip {
		t.Errorf("Expected action 'skip' before refresh interval, got '%s'", decision.Action)
	}

	clock.Advance(time.Minute)
	decision = MakeGammaDecision("eDP-1", reading, overrides, limiter, 5*time.Minute, quietLogger())
	if decision.Action != ActionApply || decision.Reason != ReasonRefresh {
		t.Errorf("Expected apply/%s, got %s/%s", ReasonRefresh, decision.Action, decision.Reason)
	}
}

func TestMakeGammaDecision_RefreshDisabled(t *testing.T) {
	clock := newFakeClock(20, 0)
	limiter := NewRefreshLimiter(clock.Now)
	reading := duskReading()

	limiter.RecordApply("eDP-1", reading.Gamma)
	clock.Advance(24 * time.Hour)

	decision := MakeGammaDecision("eDP-1", reading, NewOverrideManager(clock.Now), limiter, 0, quietLogger())
	if decision.Action != ActionSkip {
		t.Errorf("Expected action 'skip' with refresh disabled, got '%s'", decision.Action)
	}
}

func TestRefreshLimiter_IgnoresSubDisplayPrecision(t *testing.T) {
	limiter := NewRefreshLimiter(nil)
	limiter.RecordApply("eDP-1", circadian.Triple{Red: 1, Green: 0.8, Blue: 0.7})

	if limiter.Changed("eDP-1", circadian.Triple{Red: 1, Green: 0.80001, Blue: 0.7}) {
		t.Error("Expected a change below display precision to be ignored")
	}
	if !limiter.Changed("eDP-1", circadian.Triple{Red: 1, Green: 0.79, Blue: 0.7}) {
		t.Error("Expected a visible change to be detected")
	}

	limiter.Forget("eDP-1")
	if _, _, ok := limiter.LastApplied("eDP-1"); ok {
		t.Error("Expected Forget to drop the record")
	}
}

func TestOverrideManager_RestoreIgnoresPast(t *testing.T) {
	clock := newFakeClock(12, 0)
	overrides := NewOverrideManager(clock.Now)

	if overrides.RestoreManualOverride("eDP-1", clock.t.Add(-time.Minute)) {
		t.Error("Expected an ended pause not to be restored")
	}
	if !overrides.RestoreManualOverride("eDP-1", clock.t.Add(time.Minute)) {
		t.Error("Expected a running pause to be restored")
	}

	clock.Advance(2 * time.Minute)
	if cleaned := overrides.CleanupExpiredOverrides(); cleaned != 1 {
		t.Errorf("Expected 1 cleaned override, got %d", cleaned)
	}
}
