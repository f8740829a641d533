// Package metrics exposes resolver activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bottleneck_resolves_total",
		Help: "Resolutions by strategy and terminal run status",
	}, []string{"strategy", "status"})

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bottleneck_resolve_duration_seconds",
		Help:    "Wall-clock duration of a resolution",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"strategy"})

	explorationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bottleneck_explorations_total",
		Help: "Single-attractor explorations by attractor kind and outcome",
	}, []string{"attractor", "status"})

	evolveIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bottleneck_evolve_iterations_total",
		Help: "Attractor evolve calls performed during explorations",
	}, []string{"attractor"})

	persistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bottleneck_persistence_failures_total",
		Help: "Gateway writes that failed and were reported as warnings",
	}, []string{"operation"})
)

func ObserveResolve(strategy, status string, elapsed time.Duration) {
	resolvesTotal.WithLabelValues(strategy, status).Inc()
	resolveDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func ObserveExploration(attractor, status string, iterations int) {
	explorationsTotal.WithLabelValues(attractor, status).Inc()
	evolveIterations.WithLabelValues(attractor).Add(float64(iterations))
}

func PersistenceFailure(operation string) {
	persistenceFailures.WithLabelValues(operation).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
