// Package evaluation computes per-class Average Precision and mean Average
// Precision (mAP) of object-detection predictions against ground truth.
package evaluation

import (
	"time"

	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/pkg/errors"
)

const (
	// PolicyZero scores a class without ground truth as AP 0 and keeps it in the mean.
	PolicyZero = "zero"
	// PolicySkip excludes a class without ground truth from the mean.
	PolicySkip = "skip"
)

// Prediction is one model-produced box.
type Prediction struct {
	ImageID    int          `json:"image_id" yaml:"image_id"`
	ClassID    int          `json:"class_id" yaml:"class_id"`
	Confidence float64      `json:"confidence" yaml:"confidence"`
	Box        geometry.Box `json:"box" yaml:"box"`
}

// GroundTruth is one annotated object instance.
type GroundTruth struct {
	ImageID int          `json:"image_id" yaml:"image_id"`
	ClassID int          `json:"class_id" yaml:"class_id"`
	Box     geometry.Box `json:"box" yaml:"box"`
}

// PredictionFromTuple converts [image_id, class_id, confidence, b0, b1, b2, b3].
func PredictionFromTuple(v []float64) (Prediction, error) {
	if len(v) != 7 {
		return Prediction{}, errors.Wrapf(geometry.ErrInvalidArgument, "prediction needs 7 values, got %d", len(v))
	}
	img, err := geometry.ParseID(v[0], "image_id")
	if err != nil {
		return Prediction{}, err
	}
	class, err := geometry.ParseID(v[1], "class_id")
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{ImageID: img, ClassID: class, Confidence: v[2], Box: geometry.Box{v[3], v[4], v[5], v[6]}}, nil
}

// GroundTruthFromTuple converts [image_id, class_id, b0, b1, b2, b3].
func GroundTruthFromTuple(v []float64) (GroundTruth, error) {
	if len(v) != 6 {
		return GroundTruth{}, errors.Wrapf(geometry.ErrInvalidArgument, "ground truth needs 6 values, got %d", len(v))
	}
	img, err := geometry.ParseID(v[0], "image_id")
	if err != nil {
		return GroundTruth{}, err
	}
	class, err := geometry.ParseID(v[1], "class_id")
	if err != nil {
		return GroundTruth{}, err
	}
	return GroundTruth{ImageID: img, ClassID: class, Box: geometry.Box{v[2], v[3], v[4], v[5]}}, nil
}

// Tuple returns the prediction as [image_id, class_id, confidence, b0, b1, b2, b3].
func (p Prediction) Tuple() []float64 {
	return []float64{float64(p.ImageID), float64(p.ClassID), p.Confidence, p.Box[0], p.Box[1], p.Box[2], p.Box[3]}
}

// Tuple returns the ground truth as [image_id, class_id, b0, b1, b2, b3].
func (g GroundTruth) Tuple() []float64 {
	return []float64{float64(g.ImageID), float64(g.ClassID), g.Box[0], g.Box[1], g.Box[2], g.Box[3]}
}

// Curve is a precision/recall curve. Index 0 holds the (recall=0, precision=1) anchor.
type Curve struct {
	Recall    []float64 `json:"recall"`
	Precision []float64 `json:"precision"`
}

// ClassResult is the evaluation outcome for one class.
type ClassResult struct {
	ClassID          int     `json:"class_id"`
	AveragePrecision float64 `json:"average_precision"`
	Predictions      int     `json:"predictions"`
	GroundTruths     int     `json:"ground_truths"`
	TruePositives    int     `json:"true_positives"`
	FalsePositives   int     `json:"false_positives"`
	Skipped          bool    `json:"skipped,omitempty"`
	Note             string  `json:"note,omitempty"`
	Curve            Curve   `json:"curve"`
}

// FalseNegatives returns the number of ground truths never matched.
func (c ClassResult) FalseNegatives() int {
	return c.GroundTruths - c.TruePositives
}

// Result is the outcome of one evaluation at a single IoU threshold.
type Result struct {
	MeanAP              float64       `json:"mean_average_precision"`
	IoUThreshold        float64       `json:"iou_threshold"`
	Format              string        `json:"box_format"`
	Evaluated           int           `json:"evaluated_classes"`
	Classes             []ClassResult `json:"classes"`
	IgnoredPredictions  int           `json:"ignored_predictions,omitempty"`
	IgnoredGroundTruths int           `json:"ignored_ground_truths,omitempty"`
	Duration            time.Duration `json:"duration_ns"`
}

// SweepResult holds evaluations over several IoU thresholds.
type SweepResult struct {
	Thresholds []float64 `json:"iou_thresholds"`
	Results    []*Result `json:"results"`
	MeanAP     float64   `json:"mean_average_precision"`
}

// Config holds evaluation parameters.
type Config struct {
	IoUThreshold     float64         // A match needs IoU strictly greater than this
	Format           geometry.Format // Box encoding of predictions and ground truths
	NumClasses       int             // Classes 0..NumClasses-1 are evaluated
	EmptyClassPolicy string          // zero or skip
	Workers          int             // Parallel class workers (0 = runtime.NumCPU())
}

// DefaultConfig returns the PASCAL VOC style defaults.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:     0.5,
		Format:           geometry.FormatCorners,
		NumClasses:       20,
		EmptyClassPolicy: PolicyZero,
		Workers:          0,
	}
}

// Validate checks the configuration. Format problems surface before any work is done.
func (c Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Wrapf(geometry.ErrInvalidArgument, "iou threshold %.3f outside [0, 1]", c.IoUThreshold)
	}
	if c.NumClasses < 0 {
		return errors.Wrapf(geometry.ErrInvalidArgument, "num classes must not be negative, got %d", c.NumClasses)
	}
	switch c.EmptyClassPolicy {
	case PolicyZero, PolicySkip:
	default:
		return errors.Wrapf(geometry.ErrInvalidArgument, "unknown empty class policy %q", c.EmptyClassPolicy)
	}
	if c.Workers < 0 {
		return errors.Wrapf(geometry.ErrInvalidArgument, "workers must not be negative, got %d", c.Workers)
	}
	return nil
}
