package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/detmap/internal/dataset"
	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/MeKo-Tech/detmap/internal/suppress"
	"github.com/MeKo-Tech/detmap/internal/version"
	"github.com/pkg/errors"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// versionHandler returns build information.
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, commit, date := version.Info()
	s.writeJSON(w, http.StatusOK, VersionResponse{Version: v, GitCommit: commit, BuildDate: date})
}

// iouHandler computes the IoU of two boxes.
func (s *Server) iouHandler(w http.ResponseWriter, r *http.Request) {
	var req IoURequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	start := time.Now()
	iou, err := s.computeIoU(req)
	if err != nil {
		evaluationsTotal.WithLabelValues("iou", "error").Inc()
		s.writeError(w, err)
		return
	}
	evaluationsTotal.WithLabelValues("iou", "success").Inc()
	evaluationDuration.WithLabelValues("iou").Observe(time.Since(start).Seconds())

	s.writeJSON(w, http.StatusOK, IoUResponse{Success: true, IoU: iou})
}

func (s *Server) computeIoU(req IoURequest) (float64, error) {
	format, err := s.boxFormat(req.Format)
	if err != nil {
		return 0, err
	}
	a, err := geometry.BoxFromSlice(req.BoxA)
	if err != nil {
		return 0, errors.Wrap(err, "box_a")
	}
	b, err := geometry.BoxFromSlice(req.BoxB)
	if err != nil {
		return 0, errors.Wrap(err, "box_b")
	}
	return geometry.IoU(a, b, format)
}

// nmsHandler runs non-maximum suppression over the submitted detections.
func (s *Server) nmsHandler(w http.ResponseWriter, r *http.Request) {
	var req NMSRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	start := time.Now()
	kept, err := s.runSuppression(req)
	if err != nil {
		evaluationsTotal.WithLabelValues("nms", "error").Inc()
		s.writeError(w, err)
		return
	}
	evaluationsTotal.WithLabelValues("nms", "success").Inc()
	evaluationDuration.WithLabelValues("nms").Observe(time.Since(start).Seconds())

	s.writeJSON(w, http.StatusOK, NMSResponse{Success: true, Detections: kept, Count: len(kept)})
}

func (s *Server) runSuppression(req NMSRequest) ([]suppress.Detection, error) {
	cfg, err := s.suppressionConfig(req)
	if err != nil {
		return nil, err
	}
	dets, err := decodeRecords(req.Detections, "detections", dataset.DecodeDetections)
	if err != nil {
		return nil, err
	}
	recordsProcessed.WithLabelValues("detections").Observe(float64(len(dets)))

	kept, err := suppress.Apply(dets, cfg)
	if err != nil {
		return nil, err
	}
	if kept == nil {
		kept = []suppress.Detection{}
	}
	return kept, nil
}

func (s *Server) suppressionConfig(req NMSRequest) (suppress.Config, error) {
	cfg := s.suppression
	if req.Format != "" {
		f, err := geometry.ParseFormat(req.Format)
		if err != nil {
			return cfg, err
		}
		cfg.Format = f
	}
	if req.IoUThreshold != nil {
		cfg.IoUThreshold = *req.IoUThreshold
	}
	if req.ProbThreshold != nil {
		cfg.ProbThreshold = *req.ProbThreshold
	}
	if req.Method != "" {
		cfg.Method = req.Method
	}
	if req.Sigma != nil {
		cfg.Sigma = *req.Sigma
	}
	return cfg, cfg.Validate()
}

// evaluateHandler computes mAP, or the COCO-style sweep when requested.
func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	job, err := s.prepareEvaluation(req)
	if err != nil {
		evaluationsTotal.WithLabelValues("evaluate", "error").Inc()
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	resp, err := job.run(ctx, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// evaluationJob is a validated evaluation request ready to run.
type evaluationJob struct {
	cfg   evaluation.Config
	preds []evaluation.Prediction
	gts   []evaluation.GroundTruth
	coco  bool
}

func (s *Server) prepareEvaluation(req EvaluateRequest) (*evaluationJob, error) {
	cfg := s.evaluation
	if req.Format != "" {
		f, err := geometry.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		cfg.Format = f
	}
	if req.IoUThreshold != nil {
		cfg.IoUThreshold = *req.IoUThreshold
	}
	if req.NumClasses != nil {
		cfg.NumClasses = *req.NumClasses
	}
	if req.EmptyClassPolicy != "" {
		cfg.EmptyClassPolicy = req.EmptyClassPolicy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	preds, err := decodeRecords(req.Predictions, "predictions", dataset.DecodePredictions)
	if err != nil {
		return nil, err
	}
	gts, err := decodeRecords(req.GroundTruths, "ground_truths", dataset.DecodeGroundTruths)
	if err != nil {
		return nil, err
	}
	if req.NMS {
		sc := s.suppression
		sc.Format = cfg.Format
		if preds, err = evaluation.SuppressPredictions(preds, sc); err != nil {
			return nil, err
		}
	}

	recordsProcessed.WithLabelValues("predictions").Observe(float64(len(preds)))
	recordsProcessed.WithLabelValues("ground_truths").Observe(float64(len(gts)))
	return &evaluationJob{cfg: cfg, preds: preds, gts: gts, coco: req.COCO}, nil
}

// run evaluates the job and records metrics. A nil progress callback reports nothing.
func (j *evaluationJob) run(ctx context.Context, progress evaluation.ProgressCallback) (*EvaluateResponse, error) {
	kind := "evaluate"
	if j.coco {
		kind = "sweep"
	}

	ev, err := evaluation.NewEvaluator(j.cfg)
	if err != nil {
		evaluationsTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	if progress != nil {
		ev.WithProgress(progress)
	}

	start := time.Now()
	resp := &EvaluateResponse{Success: true}
	if j.coco {
		resp.Sweep, err = ev.EvaluateThresholds(ctx, j.preds, j.gts, evaluation.COCOThresholds())
		if err == nil {
			resp.MeanAP = resp.Sweep.MeanAP
		}
	} else {
		resp.Result, err = ev.Evaluate(ctx, j.preds, j.gts)
		if err == nil {
			resp.MeanAP = resp.Result.MeanAP
		}
	}
	if err != nil {
		evaluationsTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}

	evaluationsTotal.WithLabelValues(kind, "success").Inc()
	evaluationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	meanAveragePrecision.Observe(resp.MeanAP)
	slog.Info("Evaluation served",
		"kind", kind, "predictions", len(j.preds), "ground_truths", len(j.gts),
		"map", resp.MeanAP, "duration", time.Since(start))
	return resp, nil
}

// decodeRecords parses a JSON array of tuples or objects. A missing field is an empty list.
func decodeRecords[T any](
	raw json.RawMessage,
	field string,
	decode func(io.Reader, dataset.Kind) ([]T, error),
) ([]T, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []T{}, nil
	}
	out, err := decode(bytes.NewReader(raw), dataset.KindJSON)
	if err != nil {
		return nil, errors.Wrap(err, field)
	}
	return out, nil
}

func (s *Server) boxFormat(name string) (geometry.Format, error) {
	if name == "" {
		return s.evaluation.Format, nil
	}
	return geometry.ParseFormat(name)
}

// decodeRequest enforces POST and the upload limit, then decodes the JSON body into v.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	if r.ContentLength > 0 {
		requestSizeBytes.Observe(float64(r.ContentLength))
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		s.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps caller mistakes to 400 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, geometry.ErrInvalidArgument) {
		status = http.StatusBadRequest
	} else {
		slog.Error("Request failed", "error", err)
	}
	s.writeErrorResponse(w, err.Error(), status)
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
