package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detmap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detmap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Evaluation metrics
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detmap_evaluations_total",
			Help: "Total number of IoU, NMS and mAP computations",
		},
		[]string{"kind", "status"}, // kind: iou, nms, evaluate, sweep
	)

	evaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detmap_evaluation_duration_seconds",
			Help:    "Computation time in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"kind"},
	)

	meanAveragePrecision = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detmap_mean_average_precision",
			Help:    "Distribution of reported mAP values",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	recordsProcessed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detmap_records_processed",
			Help:    "Number of boxes per request",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		},
		[]string{"kind"}, // kind: predictions, ground_truths, detections
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detmap_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// Request body metrics
	requestSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "detmap_request_size_bytes",
			Help:    "Size of request bodies in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detmap_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detmap_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
