package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	framesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragrelay",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames forwarded to subscribers, by type.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragrelay",
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Malformed upstream frames dropped, by type.",
		},
		[]string{"type"},
	)
	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragrelay",
			Subsystem: "relay",
			Name:      "duration_seconds",
			Help:      "Upstream interaction duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode", "outcome"},
	)
	transcriptRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragrelay",
			Subsystem: "transcript",
			Name:      "records_written_total",
			Help:      "Transcript records written, by reconciliation action.",
		},
		[]string{"action"},
	)
	transcriptWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragrelay",
			Subsystem: "transcript",
			Name:      "reconciliations_total",
			Help:      "Reconciliations applied, by action.",
		},
		[]string{"action"},
	)
	persistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragrelay",
			Subsystem: "transcript",
			Name:      "persistence_failures_total",
			Help:      "Terminal results delivered but not persisted.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesRelayed, framesDropped, relayDuration,
			transcriptRecords, transcriptWrites, persistenceFailures,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// Telemetry implements ports.Telemetry on the process-wide Prometheus registry.
type Telemetry struct{}

// NewTelemetry registers the collectors and returns a Telemetry.
func NewTelemetry() Telemetry {
	RegisterMetrics()
	return Telemetry{}
}

func (Telemetry) FrameRelayed(frameType string) {
	framesRelayed.WithLabelValues(frameType).Inc()
}

func (Telemetry) FrameDropped(frameType string) {
	framesDropped.WithLabelValues(frameType).Inc()
}

func (Telemetry) RelayFinished(mode, outcome string, elapsed time.Duration) {
	relayDuration.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
}

func (Telemetry) TranscriptWritten(action string, records int) {
	transcriptWrites.WithLabelValues(action).Inc()
	transcriptRecords.WithLabelValues(action).Add(float64(records))
}

func (Telemetry) PersistenceFailed() {
	persistenceFailures.Inc()
}
