package circadian

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfiguration is returned when the phase boundaries break the
// cyclic day -> dusk -> night order or a night gain is out of range.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Triple is a set of per-channel gains in [0,1].
type Triple struct {
	Red   float64 `json:"red" yaml:"red"`
	Green float64 `json:"green" yaml:"green"`
	Blue  float64 `json:"blue" yaml:"blue"`
}

// Neutral is the full-gain triple used for the whole day phase.
var Neutral = Triple{Red: 1, Green: 1, Blue: 1}

// Clamp limits every channel to [0,1].
func (t Triple) Clamp() Triple {
	return Triple{Red: clamp01(t.Red), Green: clamp01(t.Green), Blue: clamp01(t.Blue)}
}

// Lerp moves from t towards to by fraction f, f clamped to [0,1].
func (t Triple) Lerp(to Triple, f float64) Triple {
	f = clamp01(f)
	return Triple{
		Red:   t.Red + (to.Red-t.Red)*f,
		Green: t.Green + (to.Green-t.Green)*f,
		Blue:  t.Blue + (to.Blue-t.Blue)*f,
	}
}

// ApproxEqual reports whether every channel differs by at most eps.
func (t Triple) ApproxEqual(o Triple, eps float64) bool {
	return math.Abs(t.Red-o.Red) <= eps &&
		math.Abs(t.Green-o.Green) <= eps &&
		math.Abs(t.Blue-o.Blue) <= eps
}

func (t Triple) String() string {
	return fmt.Sprintf("red=%.3f green=%.3f blue=%.3f", t.Red, t.Green, t.Blue)
}

// Xrandr formats the triple the way `xrandr --gamma` expects it.
func (t Triple) Xrandr() string {
	return fmt.Sprintf("%.3f:%.3f:%.3f", t.Red, t.Green, t.Blue)
}

func (t Triple) validate() error {
	for name, v := range map[string]float64{"red": t.Red, "green": t.Green, "blue": t.Blue} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: night %s gain %v outside [0,1]", ErrInvalidConfiguration, name, v)
		}
	}
	return nil
}

// Config is the immutable input of the mapper.
type Config struct {
	Hours Hours  `json:"hours" yaml:"hours"`
	Night Triple `json:"night" yaml:"night"`
}

// DefaultNight dims green and blue, keeping red at full gain.
func DefaultNight() Triple {
	return Triple{Red: 1.0, Green: 0.6, Blue: 0.3}
}

// DefaultConfig returns the default boundaries and night target.
func DefaultConfig() Config {
	return Config{Hours: DefaultHours(), Night: DefaultNight()}
}

// NewConfig normalizes the boundaries and validates the result.
func NewConfig(hours Hours, night Triple) (Config, error) {
	cfg := Config{Hours: hours, Night: night}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Hours = hours.Normalize()
	return cfg, nil
}

// Validate checks the phase order and the night gains.
func (c Config) Validate() error {
	if err := c.Hours.Validate(); err != nil {
		return err
	}
	return c.Night.validate()
}

// Reading is the full result of evaluating the mapper at one hour.
type Reading struct {
	Hour     float64  `json:"hour"`
	Phase    DayPhase `json:"phase"`
	Progress float64  `json:"progress"`
	Gamma    Triple   `json:"gamma"`
}

// Evaluate computes the phase and gains for hour.
func Evaluate(cfg Config, hour float64) (Reading, error) {
	if err := cfg.Validate(); err != nil {
		return Reading{}, err
	}
	if math.IsNaN(hour) || math.IsInf(hour, 0) {
		return Reading{}, fmt.Errorf("hour %v is not finite", hour)
	}

	phase, progress := PhaseAt(cfg.Hours, hour)
	reading := Reading{Hour: NormalizeHour(hour), Phase: phase, Progress: progress}

	switch phase {
	case Day:
		reading.Gamma = Neutral
	case Dusk:
		reading.Gamma = Neutral.Lerp(cfg.Night, progress).Clamp()
	default:
		reading.Gamma = cfg.Night.Clamp()
	}
	return reading, nil
}

// GammaAt maps hour to the gains for cfg.
func GammaAt(cfg Config, hour float64) (Triple, error) {
	reading, err := Evaluate(cfg, hour)
	if err != nil {
		return Triple{}, err
	}
	return reading.Gamma, nil
}
