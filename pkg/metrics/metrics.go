// Package metrics exposes Prometheus instrumentation for the probe-wait
// controller.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	probeTemperature = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "probetherm",
			Name:      "probe_temperature_celsius",
			Help:      "Last sampled probe temperature.",
		},
	)
	waitSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "probetherm",
			Subsystem: "wait",
			Name:      "sessions_total",
			Help:      "Completed M199 wait sessions by direction and result.",
		},
		[]string{"direction", "result"},
	)
	waitIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "probetherm",
			Subsystem: "wait",
			Name:      "iterations_total",
			Help:      "Poll-loop iterations across all wait sessions.",
		},
	)
	waitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "probetherm",
			Subsystem: "wait",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of M199 wait sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 11),
		},
	)
)

// Register installs the collectors in the default registry. Safe to call
// from every record helper.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(probeTemperature, waitSessions, waitIterations, waitDuration)
	})
}

// SetProbeTemperature records the latest probe reading.
func SetProbeTemperature(celsius float64) {
	Register()
	probeTemperature.Set(celsius)
}

// RecordWaitSession counts a finished wait and observes its duration.
func RecordWaitSession(direction, result string, duration time.Duration) {
	Register()
	waitSessions.WithLabelValues(direction, result).Inc()
	waitDuration.Observe(duration.Seconds())
}

// RecordWaitIteration counts one poll-loop iteration.
func RecordWaitIteration() {
	Register()
	waitIterations.Inc()
}

// Handler returns the /metrics exposition handler.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Serve blocks serving /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
