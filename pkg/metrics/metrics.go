// Package metrics exposes the gamma service state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

// Apply results used as the "result" label
const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
	ResultPaused  = "paused"
	ResultFailed  = "failed"
)

// Registry holds all gamma service metrics.
type Registry struct {
	reg *prometheus.Registry

	Gain         *prometheus.GaugeVec
	Phase        prometheus.Gauge
	DuskProgress prometheus.Gauge
	Paused       prometheus.Gauge
	LastApplied  prometheus.Gauge
	Decisions    *prometheus.CounterVec
}

// New creates a registry with its own collector set, so several agents
// (and tests) can coexist in one process.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		Gain: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circadian_gamma_gain",
			Help: "Gamma gain currently applied per channel",
		}, []string{"channel"}),

		Phase: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circadian_day_phase",
			Help: "Current day phase (0 day, 1 dusk, 2 night)",
		}),

		DuskProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circadian_dusk_progress",
			Help: "Fraction of the dusk transition completed",
		}),

		Paused: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circadian_paused",
			Help: "1 while a manual pause is active",
		}),

		LastApplied: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circadian_last_applied_timestamp_seconds",
			Help: "Unix timestamp of the last successful gamma apply",
		}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circadian_decisions_total",
			Help: "Service loop decisions by result",
		}, []string{"result"}),
	}
}

// ObserveReading records the phase of a reading, applied or not
func (r *Registry) ObserveReading(reading circadian.Reading) {
	r.Phase.Set(float64(reading.Phase))
	r.DuskProgress.Set(reading.Progress)
}

// ObserveApplied records a successful apply at unix time ts
func (r *Registry) ObserveApplied(gamma circadian.Triple, ts float64) {
	r.Gain.WithLabelValues("red").Set(gamma.Red)
	r.Gain.WithLabelValues("green").Set(gamma.Green)
	r.Gain.WithLabelValues("blue").Set(gamma.Blue)
	r.LastApplied.Set(ts)
	r.Decisions.WithLabelValues(ResultApplied).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
