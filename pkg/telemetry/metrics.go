package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	PollsTotal      *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SandboxRuns     *prometheus.CounterVec
	SandboxDuration prometheus.Histogram
	InFlight        prometheus.Gauge
	RepliesPosted   prometheus.Counter
	Authorized      prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
	Subscribers     prometheus.Gauge
}{
	PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codebot",
		Name:      "polls_total",
		Help:      "Total poll cycles by status.",
	}, []string{"status"}),

	RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codebot",
		Name:      "requests_total",
		Help:      "Total mention requests by outcome (answered, reconciled, skipped, failed, dropped).",
	}, []string{"outcome"}),

	RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codebot",
		Name:      "request_duration_seconds",
		Help:      "Time spent processing one request in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"}),

	SandboxRuns: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codebot",
		Name:      "sandbox_runs_total",
		Help:      "Total sandbox invocations by result kind.",
	}, []string{"kind"}),

	SandboxDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codebot",
		Name:      "sandbox_duration_seconds",
		Help:      "Sandbox pipeline wall time in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}),

	InFlight: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codebot",
		Name:      "requests_in_flight",
		Help:      "Requests dispatched in the current poll cycle and not yet completed.",
	}),

	RepliesPosted: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codebot",
		Name:      "replies_posted_total",
		Help:      "Replies successfully published to the feed.",
	}),

	Authorized: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codebot",
		Name:      "authorized",
		Help:      "1 when the feed client is authorized, 0 otherwise.",
	}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codebot",
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),

	Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codebot",
		Name:      "stream_subscribers",
		Help:      "Number of connected notification stream clients.",
	}),
}
