package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveApplied(t *testing.T) {
	r := New()

	r.ObserveApplied(circadian.Triple{Red: 1, Green: 0.825, Blue: 0.725}, 1700000000)
	r.ObserveReading(circadian.Reading{Phase: circadian.Dusk, Progress: 0.5})

	body := scrape(t, r)
	assert.Contains(t, body, `circadian_gamma_gain{channel="green"} 0.825`)
	assert.Contains(t, body, "circadian_day_phase 1")
	assert.Contains(t, body, "circadian_dusk_progress 0.5")
	assert.Contains(t, body, `circadian_decisions_total{result="applied"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Decisions.WithLabelValues(ResultSkipped).Inc()

	assert.Contains(t, scrape(t, a), `circadian_decisions_total{result="skipped"} 1`)
	assert.NotContains(t, scrape(t, b), `result="skipped"`)
}
