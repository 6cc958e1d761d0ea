// Package suppress implements class-aware Non-Maximum Suppression over detections.
package suppress

import (
	"sort"

	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/pkg/errors"
)

const (
	MethodHard     = "hard"
	MethodLinear   = "linear"
	MethodGaussian = "gaussian"
)

// Detection is a single candidate box with a class hypothesis and confidence.
type Detection struct {
	ClassID    int          `json:"class_id" yaml:"class_id"`
	Confidence float64      `json:"confidence" yaml:"confidence"`
	Box        geometry.Box `json:"box" yaml:"box"`
}

// DetectionFromTuple converts [class_id, confidence, b0, b1, b2, b3] into a Detection.
func DetectionFromTuple(v []float64) (Detection, error) {
	if len(v) != 6 {
		return Detection{}, errors.Wrapf(geometry.ErrInvalidArgument, "detection needs 6 values, got %d", len(v))
	}
	class, err := geometry.ParseID(v[0], "class_id")
	if err != nil {
		return Detection{}, err
	}
	return Detection{ClassID: class, Confidence: v[1], Box: geometry.Box{v[2], v[3], v[4], v[5]}}, nil
}

// Tuple returns the detection as [class_id, confidence, b0, b1, b2, b3].
func (d Detection) Tuple() []float64 {
	return []float64{float64(d.ClassID), d.Confidence, d.Box[0], d.Box[1], d.Box[2], d.Box[3]}
}

// Config holds suppression parameters.
type Config struct {
	IoUThreshold  float64         // Same-class boxes with IoU >= threshold are suppressed
	ProbThreshold float64         // Detections with confidence <= threshold are dropped
	Format        geometry.Format // Box encoding
	Method        string          // hard, linear or gaussian
	Sigma         float64         // Gaussian decay width
}

// DefaultConfig returns the conventional suppression settings.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:  0.5,
		ProbThreshold: 0.0,
		Format:        geometry.FormatCorners,
		Method:        MethodHard,
		Sigma:         0.5,
	}
}

// Validate checks the configuration before any detection is processed.
func (c Config) Validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	switch c.Method {
	case MethodHard, MethodLinear, MethodGaussian:
	default:
		return errors.Wrapf(geometry.ErrInvalidArgument, "unknown suppression method %q", c.Method)
	}
	if c.Method == MethodGaussian && c.Sigma <= 0 {
		return errors.Wrapf(geometry.ErrInvalidArgument, "gaussian sigma must be positive, got %v", c.Sigma)
	}
	return nil
}

// Apply runs the suppression method selected by cfg.Method.
func Apply(dets []Detection, cfg Config) ([]Detection, error) {
	if cfg.Method == "" {
		cfg.Method = MethodHard
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Method == MethodHard {
		return nonMaxSuppression(dets, cfg), nil
	}
	return softNonMaxSuppression(dets, cfg), nil
}

// NonMaxSuppression performs greedy class-aware NMS.
// Surviving detections are returned unmodified, ordered by descending confidence.
func NonMaxSuppression(dets []Detection, cfg Config) ([]Detection, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	return nonMaxSuppression(dets, cfg), nil
}

func nonMaxSuppression(dets []Detection, cfg Config) []Detection {
	candidates := filterAndSort(dets, cfg.ProbThreshold)
	corners := toCorners(candidates, cfg.Format)
	suppressed := make([]bool, len(candidates))
	kept := make([]Detection, 0, len(candidates))

	for a := range candidates {
		if suppressed[a] {
			continue
		}
		kept = append(kept, candidates[a])

		for b := a + 1; b < len(candidates); b++ {
			if suppressed[b] || candidates[b].ClassID != candidates[a].ClassID {
				continue
			}
			if geometry.CornersIoU(corners[a], corners[b]) >= cfg.IoUThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

// filterAndSort drops detections at or below probThreshold and stable-sorts the rest by confidence.
func filterAndSort(dets []Detection, probThreshold float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence > probThreshold {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func toCorners(dets []Detection, f geometry.Format) []geometry.Corners {
	out := make([]geometry.Corners, len(dets))
	for i, d := range dets {
		out[i] = f.ToCorners(d.Box)
	}
	return out
}
