// Package circadian maps the hour of the day to per-channel gamma gains.
//
// A day is split into three phases. During the day the screen runs at full
// gain, during dusk the gains fade linearly towards the configured night
// target, and during the night the target is held until the next day starts.
// All hour arithmetic is done modulo 24, so any phase may span midnight.
package circadian

import (
	"fmt"
	"math"
)

// HoursPerDay is the length of the phase cycle.
const HoursPerDay = 24.0

// DayPhase is one of the three phases of the cycle.
type DayPhase int

const (
	Day DayPhase = iota
	Dusk
	Night
)

func (p DayPhase) String() string {
	switch p {
	case Day:
		return "day"
	case Dusk:
		return "dusk"
	case Night:
		return "night"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p DayPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name produced by MarshalText.
func (p *DayPhase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase is the inverse of DayPhase.String.
func ParsePhase(s string) (DayPhase, error) {
	switch s {
	case "day":
		return Day, nil
	case "dusk":
		return Dusk, nil
	case "night":
		return Night, nil
	}
	return Day, fmt.Errorf("unknown day phase %q", s)
}

// Hours holds the phase boundaries as fractional hours (20.5 is 20:30).
type Hours struct {
	DayStart   float64 `json:"day_start" yaml:"day_start"`
	DuskStart  float64 `json:"dusk_start" yaml:"dusk_start"`
	NightStart float64 `json:"night_start" yaml:"night_start"`
}

// DefaultHours returns 05:00 / 17:00 / 21:00.
func DefaultHours() Hours {
	return Hours{DayStart: 5, DuskStart: 17, NightStart: 21}
}

// Normalize returns the boundaries folded into [0,24).
func (h Hours) Normalize() Hours {
	return Hours{
		DayStart:   NormalizeHour(h.DayStart),
		DuskStart:  NormalizeHour(h.DuskStart),
		NightStart: NormalizeHour(h.NightStart),
	}
}

// Validate checks the cyclic order day < dusk <= night < day+24.
// Dusk and night may coincide, which makes the fade an instant jump.
func (h Hours) Validate() error {
	for name, v := range map[string]float64{
		"day start":   h.DayStart,
		"dusk start":  h.DuskStart,
		"night start": h.NightStart,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite hour", ErrInvalidConfiguration, name)
		}
	}

	n := h.Normalize()
	dusk, night := n.offsets()
	switch {
	case dusk == 0:
		return fmt.Errorf("%w: dusk start %s equals day start", ErrInvalidConfiguration, FormatClock(n.DuskStart))
	case night == 0:
		return fmt.Errorf("%w: night start %s equals day start", ErrInvalidConfiguration, FormatClock(n.NightStart))
	case dusk > night:
		return fmt.Errorf("%w: day %s -> dusk %s -> night %s violates day phase order",
			ErrInvalidConfiguration, FormatClock(n.DayStart), FormatClock(n.DuskStart), FormatClock(n.NightStart))
	}
	return nil
}

// offsets returns the dusk and night boundaries measured from the day start,
// both in [0,24). Assumes normalized boundaries.
func (h Hours) offsets() (dusk, night float64) {
	return NormalizeHour(h.DuskStart - h.DayStart), NormalizeHour(h.NightStart - h.DayStart)
}

// PhaseAt classifies hour against valid boundaries. The returned progress is
// the position inside the dusk window in [0,1]; it is 0 for Day and 1 for
// Night.
func PhaseAt(h Hours, hour float64) (DayPhase, float64) {
	n := h.Normalize()
	dusk, night := n.offsets()
	rel := NormalizeHour(NormalizeHour(hour) - n.DayStart)

	switch {
	case rel < dusk:
		return Day, 0
	case rel < night:
		width := night - dusk
		if width <= 0 {
			return Night, 1
		}
		return Dusk, clamp01((rel - dusk) / width)
	default:
		return Night, 1
	}
}

// NormalizeHour folds any finite hour into [0,24).
func NormalizeHour(hour float64) float64 {
	h := math.Mod(hour, HoursPerDay)
	if h < 0 {
		h += HoursPerDay
	}
	// -1e-17 + 24 rounds to 24
	if h >= HoursPerDay {
		h = 0
	}
	return h
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
