// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocall",
		Name:      "sweeps_total",
		Help:      "Scheduler sweeps by result.",
	}, []string{"result"})

	RunsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocall",
		Name:      "runs_dispatched_total",
		Help:      "Runs handed to the worker pool by trigger.",
	}, []string{"trigger"})

	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocall",
		Name:      "runs_finished_total",
		Help:      "Runs that reached a terminal status.",
	}, []string{"status"})

	CallsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocall",
		Name:      "calls_total",
		Help:      "Outbound calls attempted by the call executor.",
	}, []string{"result"})

	FallbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autocall",
		Name:      "fallback_attempts_total",
		Help:      "External API attempts made by fallback clients.",
	}, []string{"client", "result"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autocall",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
