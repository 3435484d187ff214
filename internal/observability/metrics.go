package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indextts_synthesis_requests_total",
		Help: "Total number of synthesis requests by front end and outcome",
	}, []string{"frontend", "status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "indextts_synthesis_latency_seconds",
		Help:    "Time spent inside the synthesis engine",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	})

	queueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "indextts_queue_wait_seconds",
		Help:    "Time a request waited for the engine",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 180},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indextts_queue_depth",
		Help: "Requests waiting for the engine",
	})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indextts_engine_in_flight",
		Help: "Synthesis calls currently inside the engine (0 or 1)",
	})

	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indextts_active_sessions",
		Help: "Number of open interactive sessions",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indextts_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indextts_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indextts_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indextts_audio_bytes_total",
		Help: "Total audio bytes produced",
	})
)

// RecordSynthesis records the outcome of one orchestrated request
func RecordSynthesis(frontend, status string) {
	synthesisRequests.WithLabelValues(frontend, status).Inc()
}

// ObserveEngineLatency records time spent inside the engine
func ObserveEngineLatency(d time.Duration) {
	synthesisLatency.Observe(d.Seconds())
}

// ObserveQueueWait records how long a request waited for the engine
func ObserveQueueWait(d time.Duration) {
	queueWait.Observe(d.Seconds())
}

// QueueEnter and QueueLeave track the number of waiting requests
func QueueEnter() { queueDepth.Inc() }
func QueueLeave() { queueDepth.Dec() }

// EngineEnter and EngineLeave track calls inside the engine
func EngineEnter() { inFlight.Inc() }
func EngineLeave() { inFlight.Dec() }

// SessionOpened and SessionClosed track interactive sessions
func SessionOpened() { activeSessions.Inc() }
func SessionClosed() { activeSessions.Dec() }

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes produced
func RecordAudioBytes(bytes int64) {
	audioBytesOut.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
