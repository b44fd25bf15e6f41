// Package metrics holds the Prometheus collectors of the bidder. Everything
// registers with the default registry, served by the debug server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var opWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ccabid",
	Name:      "op_wait_seconds",
	Help:      "Time spent blocked on RPCs and stores, by operation.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"op"})

// OpWait records how long op blocked.
func OpWait(op string, took time.Duration) {
	opWaitSeconds.WithLabelValues(op).Observe(took.Seconds())
}

var HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ccabid",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request duration in seconds, by server, route and status code.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"server", "route", "code"})
