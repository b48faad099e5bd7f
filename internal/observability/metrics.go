package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	examSessionsStartedTotal *prometheus.CounterVec
	examFinalizationsTotal   *prometheus.CounterVec
	duplicateFinalizations   prometheus.Counter
	finalizationRetriesTotal prometheus.Counter
	violationsRecordedTotal  *prometheus.CounterVec
	violationsDroppedTotal   prometheus.Counter
	studentsBlockedTotal     prometheus.Counter
	feedClientsActive        prometheus.Gauge
	watchConnectionsTotal    prometheus.Counter
	gradingWritesTotal       *prometheus.CounterVec
	requestLatencySeconds    *prometheus.HistogramVec
	requestsTotal            *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		examSessionsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_sessions_started_total",
			Help: "Total exam sessions started, labelled by fresh start vs resume.",
		}, []string{"mode"})

		examFinalizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_finalizations_total",
			Help: "Total finalizing writes, labelled by trigger and resulting status.",
		}, []string{"trigger", "status"})

		duplicateFinalizations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_duplicate_finalizations_total",
			Help: "Finalize attempts suppressed by the idempotency guard.",
		})

		finalizationRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exam_finalization_retries_total",
			Help: "Automatic retries of a failed finalizing write.",
		})

		violationsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_violations_recorded_total",
			Help: "Proctoring violations persisted, labelled by event type.",
		}, []string{"event_type"})

		violationsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_violations_dropped_total",
			Help: "Proctoring events dropped because the monitor queue was full.",
		})

		studentsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_students_blocked_total",
			Help: "Times a student crossed the violation threshold and was blocked.",
		})

		feedClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "submission_feed_clients_active",
			Help: "Currently connected submission feed (SSE) subscribers.",
		})

		watchConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_watch_connections_total",
			Help: "Instructor websocket connections opened on the proctoring watch.",
		})

		gradingWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_writes_total",
			Help: "Grading writes performed, labelled by first grade vs regrade.",
		}, []string{"kind"})

		requestLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total API requests served.",
		}, []string{"method", "route", "status"})

		prometheus.MustRegister(
			examSessionsStartedTotal,
			examFinalizationsTotal,
			duplicateFinalizations,
			finalizationRetriesTotal,
			violationsRecordedTotal,
			violationsDroppedTotal,
			studentsBlockedTotal,
			feedClientsActive,
			watchConnectionsTotal,
			gradingWritesTotal,
			requestLatencySeconds,
			requestsTotal,
		)
	})
}

// ExamSessionsStarted exposes the session start counter.
func ExamSessionsStarted() *prometheus.CounterVec {
	RegisterMetrics()
	return examSessionsStartedTotal
}

// ExamFinalizations exposes the finalizing write counter.
func ExamFinalizations() *prometheus.CounterVec {
	RegisterMetrics()
	return examFinalizationsTotal
}

// DuplicateFinalizations exposes the suppressed-duplicate counter.
func DuplicateFinalizations() prometheus.Counter {
	RegisterMetrics()
	return duplicateFinalizations
}

// FinalizationRetries exposes the automatic retry counter.
func FinalizationRetries() prometheus.Counter {
	RegisterMetrics()
	return finalizationRetriesTotal
}

// ViolationsRecorded exposes the persisted violation counter.
func ViolationsRecorded() *prometheus.CounterVec {
	RegisterMetrics()
	return violationsRecordedTotal
}

// ViolationsDropped exposes the dropped-event counter.
func ViolationsDropped() prometheus.Counter {
	RegisterMetrics()
	return violationsDroppedTotal
}

// StudentsBlocked exposes the threshold-crossing counter.
func StudentsBlocked() prometheus.Counter {
	RegisterMetrics()
	return studentsBlockedTotal
}

// FeedClientsActive exposes the SSE subscriber gauge.
func FeedClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return feedClientsActive
}

// WatchConnections exposes the proctoring watch connection counter.
func WatchConnections() prometheus.Counter {
	RegisterMetrics()
	return watchConnectionsTotal
}

// GradingWrites exposes the grading write counter.
func GradingWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingWritesTotal
}

// RequestLatency exposes the request latency histogram.
func RequestLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return requestLatencySeconds
}

// Requests exposes the request counter.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}
