package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects execution counters for the engine. A nil *Metrics is
// valid and records nothing, so callers never need to guard call sites.
type Metrics struct {
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepRetries    *prometheus.CounterVec
	cacheHitsTotal *prometheus.CounterVec
	breakerOpens   *prometheus.CounterVec
	plansTotal     *prometheus.CounterVec
	planDuration   prometheus.Histogram
	sanitizedTotal *prometheus.CounterVec
	scheduledRuns  *prometheus.CounterVec
	stepsInFlight  prometheus.Gauge
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_steps_total",
				Help: "Total number of plan steps by final status",
			},
			[]string{"tool", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolplan_step_duration_seconds",
				Help:    "Wall-clock duration of step execution including retries",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool"},
		),
		stepRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_step_retries_total",
				Help: "Total number of retry attempts after a transient failure",
			},
			[]string{"tool"},
		),
		cacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_cache_hits_total",
				Help: "Total number of result cache hits",
			},
			[]string{"tool"},
		),
		breakerOpens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_breaker_opens_total",
				Help: "Total number of invocations rejected by an open circuit breaker",
			},
			[]string{"tool"},
		),
		plansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_plans_total",
				Help: "Total number of executed plans by final status",
			},
			[]string{"status"},
		),
		planDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolplan_plan_duration_seconds",
				Help:    "Wall-clock duration of whole plan runs",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
		),
		sanitizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_sanitized_outputs_total",
				Help: "Total number of tool outputs that contained redacted content",
			},
			[]string{"category"},
		),
		scheduledRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolplan_scheduled_runs_total",
				Help: "Total number of plan runs triggered by the scheduler",
			},
			[]string{"job"},
		),
		stepsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolplan_steps_in_flight",
				Help: "Current number of steps executing",
			},
		),
	}
}

func (m *Metrics) ObserveStep(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(tool, status).Inc()
	m.stepDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) ObserveRetry(tool string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(tool).Inc()
}

func (m *Metrics) ObserveCacheHit(tool string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) ObserveBreakerOpen(tool string) {
	if m == nil {
		return
	}
	m.breakerOpens.WithLabelValues(tool).Inc()
}

func (m *Metrics) ObservePlan(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.plansTotal.WithLabelValues(status).Inc()
	m.planDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSanitized(category string) {
	if m == nil {
		return
	}
	m.sanitizedTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveScheduledRun(job string) {
	if m == nil {
		return
	}
	m.scheduledRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) StepStarted() {
	if m == nil {
		return
	}
	m.stepsInFlight.Inc()
}

func (m *Metrics) StepFinished() {
	if m == nil {
		return
	}
	m.stepsInFlight.Dec()
}
