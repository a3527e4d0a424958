package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pybuddy_http_requests_total",
			Help: "HTTP requests by route, method and status class",
		},
		[]string{"route", "method", "status"},
	)

	GradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pybuddy_grades_total",
			Help: "Grading attempts by function name and outcome",
		},
		[]string{"function", "outcome"},
	)

	GradeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pybuddy_grade_duration_seconds",
			Help:    "Wall-clock time of a grading attempt including sandbox startup",
			Buckets: latencyBuckets,
		},
		[]string{"outcome"},
	)

	ChatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pybuddy_chat_turns_total",
			Help: "Tutor chat turns by provider and status",
		},
		[]string{"provider", "status"},
	)

	ChatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pybuddy_chat_latency_seconds",
			Help:    "Chat completion latency",
			Buckets: latencyBuckets,
		},
		[]string{"provider"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pybuddy_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pybuddy_sessions_active",
			Help: "Tutor sessions currently held in memory",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		GradesTotal,
		GradeDuration,
		ChatTurnsTotal,
		ChatLatency,
		RateLimitedTotal,
		ActiveSessions,
	)
}

func ObserveGrade(function, outcome string, d time.Duration) {
	GradesTotal.WithLabelValues(function, outcome).Inc()
	GradeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func ObserveChat(provider, status string, d time.Duration) {
	ChatTurnsTotal.WithLabelValues(provider, status).Inc()
	ChatLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func IncrementRateLimited() {
	RateLimitedTotal.Inc()
}

func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

// StatusClass maps an HTTP status code to "2xx", "4xx", ...
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
