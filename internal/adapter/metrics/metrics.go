package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "siem_forwarder"

// IngestMetrics holds all Prometheus metrics for the producer-facing ingest API.
type IngestMetrics struct {
	EventsTotal       *prometheus.CounterVec
	BytesTotal        prometheus.Counter
	APIKeyCacheHits   prometheus.Counter
	APIKeyCacheMisses prometheus.Counter
}

// NewIngestMetrics initializes the ingest metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &IngestMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of ingested events by status.",
		}, []string{"status"}), // status: accepted, error_parse, error_size, error_invalid, error_media_type
		BytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of bytes ingested.",
		}),
		APIKeyCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_hits_total",
			Help:      "Total number of API key cache hits.",
		}),
		APIKeyCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "api_key_cache_misses_total",
			Help:      "Total number of API key cache misses.",
		}),
	}
}

// ForwarderMetrics holds the buffering and dispatch metrics.
type ForwarderMetrics struct {
	SubmittedTotal     prometheus.Counter
	DroppedTotal       *prometheus.CounterVec
	BufferDepth        prometheus.Gauge
	FlushesTotal       *prometheus.CounterVec
	FlushDuration      prometheus.Histogram
	SinkEventsTotal    *prometheus.CounterVec
	SinkDeliverSeconds *prometheus.HistogramVec
	ReportsDropped     prometheus.Counter
}

// NewForwarderMetrics initializes the forwarder metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewForwarderMetrics(reg prometheus.Registerer) *ForwarderMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &ForwarderMetrics{
		SubmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "submitted_events_total",
			Help:      "Total number of events submitted to the forwarder.",
		}),
		DroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "dropped_events_total",
			Help:      "Total number of events dropped by the forwarder by reason.",
		}, []string{"reason"}), // reason: overflow, requeue_overflow, no_sinks
		BufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "buffer_depth",
			Help:      "Number of events currently buffered.",
		}),
		FlushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "flushes_total",
			Help:      "Total number of flushes by trigger and outcome.",
		}, []string{"trigger", "outcome"}), // outcome: success, partial, failed
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "flush_duration_seconds",
			Help:      "Wall time of a flush including every sink.",
			Buckets:   prometheus.DefBuckets,
		}),
		SinkEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "events_total",
			Help:      "Total number of delivery attempts per sink by status.",
		}, []string{"sink", "status"}), // status: processed, failed
		SinkDeliverSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "deliver_duration_seconds",
			Help:      "Duration of a single sink delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sink"}),
		ReportsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "reports_dropped_total",
			Help:      "Flush reports discarded because no reader kept up.",
		}),
	}
}
