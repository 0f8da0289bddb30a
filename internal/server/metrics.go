package server

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uber-go/tally/v4"

	"github.com/cwbudde/psdmads/internal/runner"
)

const subsystem = "psdmads"

// Metrics are the job server's Prometheus collectors.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	jobsRunning prometheus.Gauge
	rounds      *prometheus.CounterVec
	meshUpdates prometheus.Counter
	evaluations prometheus.Counter
	bestF       *prometheus.GaugeVec
	checkpoints *prometheus.CounterVec

	// scope carries the coordinator metrics of every job into the same
	// registry.
	scope       tally.Scope
	scopeCloser io.Closer
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "jobs_total",
				Help:      "Count of jobs that reached a final state.",
			},
			[]string{"state"},
		),
		jobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      "jobs_running",
				Help:      "Number of jobs currently running.",
			},
		),
		rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "rounds_total",
				Help:      "Count of worker rounds by role and outcome.",
			},
			[]string{"role", "success"},
		),
		meshUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "mesh_updates_total",
				Help:      "Count of shared mesh updates.",
			},
		),
		evaluations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "evaluations_total",
				Help:      "Count of blackbox evaluations across jobs.",
			},
		),
		bestF: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      "best_objective",
				Help:      "Best feasible objective value of a job.",
			},
			[]string{"job_id"},
		),
		checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "checkpoints_total",
				Help:      "Count of checkpoint writes by result.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.jobsTotal,
		m.jobsRunning,
		m.rounds,
		m.meshUpdates,
		m.evaluations,
		m.bestF,
		m.checkpoints,
	)
	m.scope, m.scopeCloser = runner.NewScope(reg, runner.ScopeInterval, nil)
	return m
}

// Close flushes and stops the coordinator scope.
func (m *Metrics) Close() error { return m.scopeCloser.Close() }

func (m *Metrics) jobStarted() { m.jobsRunning.Inc() }

func (m *Metrics) jobFinished(jobID string, state JobState) {
	m.jobsRunning.Dec()
	m.jobsTotal.WithLabelValues(string(state)).Inc()
	m.bestF.DeleteLabelValues(jobID)
}

func (m *Metrics) round(role string, success, meshUpdated bool) {
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.rounds.WithLabelValues(role, outcome).Inc()
	if meshUpdated {
		m.meshUpdates.Inc()
	}
}

func (m *Metrics) evaluated(n int) {
	if n > 0 {
		m.evaluations.Add(float64(n))
	}
}

func (m *Metrics) best(jobID string, f float64) { m.bestF.WithLabelValues(jobID).Set(f) }

func (m *Metrics) checkpoint(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.checkpoints.WithLabelValues(result).Inc()
}
