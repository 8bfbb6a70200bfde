// Package metrics holds the Prometheus collectors for the batch pipeline
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all batch metrics. A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	BatchRuns      *prometheus.CounterVec
	BatchRunning   prometheus.Gauge
	DatesProcessed *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec
	PhaseFailures  *prometheus.CounterVec
	FactorResults  *prometheus.CounterVec
	Snapshots      *prometheus.CounterVec
}

// NewRegistry creates the collectors and registers them on a private registry
// alongside the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		BatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbatch_batch_runs_total",
				Help: "Batch runs by final status",
			},
			[]string{"status"},
		),

		BatchRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskbatch_batch_running",
				Help: "1 while a backfill is executing",
			},
		),

		DatesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbatch_dates_processed_total",
				Help: "Calculation dates processed by outcome",
			},
			[]string{"result"},
		),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskbatch_phase_duration_seconds",
				Help:    "Duration of each batch phase in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase", "result"},
		),

		PhaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbatch_phase_failures_total",
				Help: "Phase failures by phase and criticality",
			},
			[]string{"phase", "criticality"},
		),

		FactorResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbatch_factor_results_total",
				Help: "Symbol factor (symbol, method) outcomes",
			},
			[]string{"outcome"},
		),

		Snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbatch_snapshots_total",
				Help: "Snapshot writes by outcome",
			},
			[]string{"outcome"},
		),
	}

	r.reg.MustRegister(
		r.BatchRuns,
		r.BatchRunning,
		r.DatesProcessed,
		r.PhaseDuration,
		r.PhaseFailures,
		r.FactorResults,
		r.Snapshots,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) RunStarted() {
	if r == nil {
		return
	}
	r.BatchRunning.Set(1)
}

// RunFinished records a run's final status.
func (r *Registry) RunFinished(status string) {
	if r == nil {
		return
	}
	r.BatchRunning.Set(0)
	r.BatchRuns.WithLabelValues(status).Inc()
}

// ObservePhase records one phase execution.
func (r *Registry) ObservePhase(phase string, d time.Duration, failed bool, criticality string) {
	if r == nil {
		return
	}
	result := "success"
	if failed {
		result = "failure"
		r.PhaseFailures.WithLabelValues(phase, criticality).Inc()
	}
	r.PhaseDuration.WithLabelValues(phase, result).Observe(d.Seconds())
}

func (r *Registry) DateProcessed(success bool) {
	if r == nil {
		return
	}
	if success {
		r.DatesProcessed.WithLabelValues("success").Inc()
		return
	}
	r.DatesProcessed.WithLabelValues("failure").Inc()
}

// FactorOutcomes adds the counts of one factor engine run.
func (r *Registry) FactorOutcomes(computed, cached, omitted, failed int) {
	if r == nil {
		return
	}
	r.FactorResults.WithLabelValues("computed").Add(float64(computed))
	r.FactorResults.WithLabelValues("cached").Add(float64(cached))
	r.FactorResults.WithLabelValues("omitted").Add(float64(omitted))
	r.FactorResults.WithLabelValues("failed").Add(float64(failed))
}

// SnapshotOutcome counts one snapshot write: "written", "duplicate" or "failed".
func (r *Registry) SnapshotOutcome(outcome string) {
	if r == nil {
		return
	}
	r.Snapshots.WithLabelValues(outcome).Inc()
}
