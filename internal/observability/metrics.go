package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sw",
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through detection",
	}, []string{"stream_id"})

	HorsesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sw",
		Name:      "horses_detected_total",
		Help:      "Total number of horse detections kept after thresholding",
	}, []string{"stream_id"})

	TracksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sw",
		Name:      "tracks_created_total",
		Help:      "Total number of new tracks minted",
	}, []string{"stream_id"})

	TracksRevived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sw",
		Name:      "tracks_revived_total",
		Help:      "Total number of lost tracks revived by appearance",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sw",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sw",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of chunk jobs by kind and outcome",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"kind", "status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sw",
		Name:      "queue_depth",
		Help:      "Number of pending chunk jobs in the work queue",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sw",
		Name:      "active_jobs",
		Help:      "Number of chunk jobs currently being processed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sw",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sw",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
