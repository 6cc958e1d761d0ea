package evaluation

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/pkg/errors"
)

// COCOThresholds returns the IoU thresholds 0.50, 0.55, ..., 0.95.
func COCOThresholds() []float64 {
	out := make([]float64, 10)
	for i := range out {
		out[i] = math.Round((0.5+0.05*float64(i))*100) / 100
	}
	return out
}

// EvaluateThresholds runs one evaluation per IoU threshold and averages the resulting mAPs.
func (e *Evaluator) EvaluateThresholds(
	ctx context.Context,
	preds []Prediction,
	gts []GroundTruth,
	thresholds []float64,
) (*SweepResult, error) {
	if len(thresholds) == 0 {
		return nil, errors.Wrap(geometry.ErrInvalidArgument, "no iou thresholds given")
	}

	sweep := &SweepResult{
		Thresholds: append([]float64(nil), thresholds...),
		Results:    make([]*Result, 0, len(thresholds)),
	}
	start := time.Now()
	var sum float64
	for _, thr := range thresholds {
		cfg := e.cfg
		cfg.IoUThreshold = thr
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		sub := &Evaluator{cfg: cfg, classes: e.classes, progress: e.progress}
		res, err := sub.Evaluate(ctx, preds, gts)
		if err != nil {
			return nil, errors.Wrapf(err, "iou threshold %.2f", thr)
		}
		sweep.Results = append(sweep.Results, res)
		sum += res.MeanAP
	}
	sweep.MeanAP = sum / float64(len(thresholds))

	slog.Debug("Threshold sweep completed",
		"thresholds", len(thresholds), "map", sweep.MeanAP, "duration", time.Since(start))
	return sweep, nil
}
