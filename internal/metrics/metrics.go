package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entrypoint"

// Probe outcomes.
const (
	OutcomeReady    = "ready"
	OutcomeNotReady = "not_ready"
)

// Registry owns the entrypoint's collectors.
type Registry struct {
	registry *prometheus.Registry

	stepDuration  *prometheus.GaugeVec
	stepFailures  *prometheus.CounterVec
	probeAttempts *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New creates a Registry with process and Go runtime collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		stepDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of the last run of each bootstrap step",
			},
			[]string{"step"},
		),
		stepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_failures_total",
				Help:      "Total number of failed bootstrap steps",
			},
			[]string{"step"},
		),
		probeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_attempts_total",
				Help:      "Total number of readiness probe attempts",
			},
			[]string{"target", "outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_requests_total",
				Help:      "Total number of status endpoint requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// ObserveStep records how long a step took and whether it failed.
func (r *Registry) ObserveStep(step string, duration time.Duration, err error) {
	r.stepDuration.WithLabelValues(step).Set(duration.Seconds())
	if err != nil {
		r.stepFailures.WithLabelValues(step).Inc()
	}
}

// ObserveProbe counts one readiness probe attempt.
func (r *Registry) ObserveProbe(target string, _ int, err error) {
	outcome := OutcomeReady
	if err != nil {
		outcome = OutcomeNotReady
	}
	r.probeAttempts.WithLabelValues(target, outcome).Inc()
}

// ObserveRequest counts one status endpoint request.
func (r *Registry) ObserveRequest(method, path, statusCode string) {
	r.httpRequests.WithLabelValues(method, path, statusCode).Inc()
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
