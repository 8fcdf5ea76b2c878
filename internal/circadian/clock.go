package circadian

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var clockLayouts = []string{"15:04:05", "15:04"}

// HourOf converts the wall-clock part of t, in t's location, to a fractional hour.
func HourOf(t time.Time) float64 {
	h, m, s := t.Clock()
	return float64(h) + float64(m)/60 + float64(s)/3600 + float64(t.Nanosecond())/3.6e12
}

// ParseClock accepts "HH:MM", "HH:MM:SS" or a decimal hour such as "20.5".
// "24:00" is accepted and means midnight.
func ParseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}

	if strings.Contains(s, ":") {
		if s == "24:00" || s == "24:00:00" {
			return 0, nil
		}
		for _, layout := range clockLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				return HourOf(t), nil
			}
		}
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}

	h, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, fmt.Errorf("invalid hour %q", s)
	}
	return h, nil
}

// FormatClock renders a fractional hour as HH:MM, rounded to the minute.
func FormatClock(hour float64) string {
	minutes := int(math.Round(NormalizeHour(hour)*60)) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
