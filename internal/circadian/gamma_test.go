package circadian

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-9

func exampleConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := NewConfig(
		Hours{DayStart: 6, DuskStart: 18, NightStart: 22},
		Triple{Red: 1.0, Green: 0.65, Blue: 0.45},
	)
	require.NoError(t, err)
	return cfg
}

func TestGammaAt_Example(t *testing.T) {
	cfg := exampleConfig(t)

	tests := []struct {
		name     string
		hour     float64
		expected Triple
	}{
		{"midday", 12, Neutral},
		{"middle of dusk", 20, Triple{Red: 1.0, Green: 0.825, Blue: 0.725}},
		{"late night", 23, Triple{Red: 1.0, Green: 0.65, Blue: 0.45}},
		{"after midnight", 2, Triple{Red: 1.0, Green: 0.65, Blue: 0.45}},
		{"day start", 6, Neutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GammaAt(cfg, tt.hour)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected.Red, got.Red, epsilon)
			assert.InDelta(t, tt.expected.Green, got.Green, epsilon)
			assert.InDelta(t, tt.expected.Blue, got.Blue, epsilon)
		})
	}
}

func TestGammaAt_DayIsExactlyNeutral(t *testing.T) {
	configs := []Config{
		exampleConfig(t),
		DefaultConfig(),
		{Hours: Hours{DayStart: 10, DuskStart: 19, NightStart: 1}, Night: DefaultNight()},
		{Hours: Hours{DayStart: 22, DuskStart: 4, NightStart: 6}, Night: Triple{Red: 0.2, Green: 0.1, Blue: 0}},
	}

	for _, cfg := range configs {
		require.NoError(t, cfg.Validate())
		n := cfg.Hours.Normalize()
		dusk, _ := n.offsets()
		for step := 0.0; step < dusk; step += 0.25 {
			got, err := GammaAt(cfg, n.DayStart+step)
			require.NoError(t, err)
			assert.Equal(t, Neutral, got, "hour %.2f", n.DayStart+step)
		}
	}
}

func TestGammaAt_NightStartIsExactlyTarget(t *testing.T) {
	cases := []Hours{
		{DayStart: 6, DuskStart: 18, NightStart: 22},
		{DayStart: 5, DuskStart: 17, NightStart: 21},
		{DayStart: 10, DuskStart: 19, NightStart: 1},
		{DayStart: 7.25, DuskStart: 19.5, NightStart: 23.75},
	}
	night := Triple{Red: 0.9, Green: 0.55, Blue: 0.35}

	for _, hours := range cases {
		cfg, err := NewConfig(hours, night)
		require.NoError(t, err)

		got, err := GammaAt(cfg, hours.NightStart)
		require.NoError(t, err)
		assert.Equal(t, night, got)
	}
}

func TestGammaAt_DuskIsMonotonic(t *testing.T) {
	cfg := exampleConfig(t)

	prev := Neutral
	for hour := 18.05; hour < 22; hour += 0.05 {
		got, err := GammaAt(cfg, hour)
		require.NoError(t, err)

		for _, ch := range []struct{ got, day, night, prev float64 }{
			{got.Red, 1, cfg.Night.Red, prev.Red},
			{got.Green, 1, cfg.Night.Green, prev.Green},
			{got.Blue, 1, cfg.Night.Blue, prev.Blue},
		} {
			assert.LessOrEqual(t, ch.got, ch.day)
			assert.GreaterOrEqual(t, ch.got, ch.night)
			assert.LessOrEqual(t, ch.got, ch.prev+epsilon, "hour %.2f", hour)
		}
		prev = got
	}
}

func TestGammaAt_Idempotent(t *testing.T) {
	cfg := exampleConfig(t)
	for _, hour := range []float64{0, 5.99, 18.5, 21.999, 23} {
		a, err := GammaAt(cfg, hour)
		require.NoError(t, err)
		b, err := GammaAt(cfg, hour)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestGammaAt_DuskEqualsNight(t *testing.T) {
	cfg, err := NewConfig(Hours{DayStart: 6, DuskStart: 20, NightStart: 20}, DefaultNight())
	require.NoError(t, err)

	at, err := GammaAt(cfg, 20)
	require.NoError(t, err)
	assert.Equal(t, DefaultNight(), at)

	before, err := GammaAt(cfg, 19.999)
	require.NoError(t, err)
	assert.Equal(t, Neutral, before)

	after, err := GammaAt(cfg, 20.5)
	require.NoError(t, err)
	assert.Equal(t, DefaultNight(), after)
}

func TestGammaAt_HourOutsideRange(t *testing.T) {
	cfg := exampleConfig(t)

	wrapped, err := GammaAt(cfg, 20+24)
	require.NoError(t, err)
	direct, err := GammaAt(cfg, 20)
	require.NoError(t, err)
	assert.True(t, wrapped.ApproxEqual(direct, epsilon))

	negative, err := GammaAt(cfg, -1)
	require.NoError(t, err)
	assert.Equal(t, cfg.Night, negative)
}

func TestGammaAt_NightStartPastMidnight(t *testing.T) {
	// 25:00 is read as 01:00
	cfg, err := NewConfig(Hours{DayStart: 7, DuskStart: 21, NightStart: 25}, DefaultNight())
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Hours.NightStart)

	reading, err := Evaluate(cfg, 23)
	require.NoError(t, err)
	assert.Equal(t, Dusk, reading.Phase)
	assert.InDelta(t, 0.5, reading.Progress, epsilon)

	reading, err = Evaluate(cfg, 3)
	require.NoError(t, err)
	assert.Equal(t, Night, reading.Phase)
	assert.Equal(t, DefaultNight(), reading.Gamma)
}

func TestValidate_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		hours Hours
		night Triple
	}{
		{"dusk before day", Hours{DayStart: 6, DuskStart: 22, NightStart: 18}, DefaultNight()},
		{"dusk equals day", Hours{DayStart: 6, DuskStart: 6, NightStart: 18}, DefaultNight()},
		{"night equals day", Hours{DayStart: 6, DuskStart: 18, NightStart: 30}, DefaultNight()},
		{"red above one", DefaultHours(), Triple{Red: 1.2, Green: 0.5, Blue: 0.5}},
		{"negative blue", DefaultHours(), Triple{Red: 1, Green: 0.5, Blue: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.hours, tt.night)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration), "got %v", err)

			_, err = GammaAt(Config{Hours: tt.hours, Night: tt.night}, 12)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestTripleFormatting(t *testing.T) {
	tr := Triple{Red: 1, Green: 0.825, Blue: 0.7254}
	assert.Equal(t, "red=1.000 green=0.825 blue=0.725", tr.String())
	assert.Equal(t, "1.000:0.825:0.725", tr.Xrandr())
}
