// Package server exposes IoU, suppression and mAP evaluation over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/suppress"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	evaluation  evaluation.Config
	suppression suppress.Config
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	Evaluation  evaluation.Config // Defaults for fields a request leaves out
	Suppression suppress.Config
	RateLimit   RateLimitConfig
}

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// IoURequest asks for the overlap of two boxes.
type IoURequest struct {
	BoxA   []float64 `json:"box_a"`
	BoxB   []float64 `json:"box_b"`
	Format string    `json:"format,omitempty"`
}

type IoUResponse struct {
	Success bool    `json:"success"`
	IoU     float64 `json:"iou"`
}

// NMSRequest carries detections as tuples or objects plus optional overrides.
type NMSRequest struct {
	Detections    json.RawMessage `json:"detections"`
	IoUThreshold  *float64        `json:"iou_threshold,omitempty"`
	ProbThreshold *float64        `json:"prob_threshold,omitempty"`
	Format        string          `json:"format,omitempty"`
	Method        string          `json:"method,omitempty"`
	Sigma         *float64        `json:"sigma,omitempty"`
}

type NMSResponse struct {
	Success    bool                 `json:"success"`
	Detections []suppress.Detection `json:"detections"`
	Count      int                  `json:"count"`
}

// EvaluateRequest carries predictions and ground truths as tuples or objects.
type EvaluateRequest struct {
	Predictions      json.RawMessage `json:"predictions"`
	GroundTruths     json.RawMessage `json:"ground_truths"`
	IoUThreshold     *float64        `json:"iou_threshold,omitempty"`
	Format           string          `json:"format,omitempty"`
	NumClasses       *int            `json:"num_classes,omitempty"`
	EmptyClassPolicy string          `json:"empty_class_policy,omitempty"`
	COCO             bool            `json:"coco,omitempty"`
	NMS              bool            `json:"nms,omitempty"`
}

type EvaluateResponse struct {
	Success bool                    `json:"success"`
	MeanAP  float64                 `json:"mean_average_precision"`
	Result  *evaluation.Result      `json:"result,omitempty"`
	Sweep   *evaluation.SweepResult `json:"sweep,omitempty"`
}

// NewServer creates a new evaluation server instance.
func NewServer(config Config) (*Server, error) {
	if config.Evaluation.Format == "" {
		config.Evaluation = evaluation.DefaultConfig()
	}
	if err := config.Evaluation.Validate(); err != nil {
		return nil, err
	}
	if config.Suppression.Format == "" {
		config.Suppression = suppress.DefaultConfig()
	}
	if err := config.Suppression.Validate(); err != nil {
		return nil, err
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}

	s := &Server{
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		evaluation:  config.Evaluation,
		suppression: config.Suppression,
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.RequestsPerHour,
			config.RateLimit.MaxRequestsPerDay,
			config.RateLimit.MaxDataPerDay,
		)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/version", s.corsMiddleware(s.versionHandler))
	mux.HandleFunc("/v1/iou", s.corsMiddleware(s.rateLimitMiddleware(s.iouHandler)))
	mux.HandleFunc("/v1/nms", s.corsMiddleware(s.rateLimitMiddleware(s.nmsHandler)))
	mux.HandleFunc("/v1/evaluate", s.corsMiddleware(s.rateLimitMiddleware(s.evaluateHandler)))
	mux.HandleFunc("/v1/evaluate/ws", s.rateLimitMiddleware(s.evaluateWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
