package geometry

import (
	"math"

	"github.com/pkg/errors"
)

// Epsilon keeps the IoU denominator non-zero for degenerate boxes.
const Epsilon = 1e-6

// IoU computes Intersection over Union of two boxes given in format f.
func IoU(a, b Box, f Format) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	return CornersIoU(f.ToCorners(a), f.ToCorners(b)), nil
}

// CornersIoU computes IoU for boxes already in corner form.
// Intersection is clamped to zero per axis; box areas are not.
func CornersIoU(a, b Corners) float64 {
	iw := math.Max(0, math.Min(a.MaxX, b.MaxX)-math.Max(a.MinX, b.MinX))
	ih := math.Max(0, math.Min(a.MaxY, b.MaxY)-math.Max(a.MinY, b.MinY))
	intersection := iw * ih

	union := a.Area() + b.Area() - intersection
	return intersection / (union + Epsilon)
}

// BatchIoU computes the element-wise IoU of two equally sized box batches.
func BatchIoU(a, b []Box, f Format) ([]float64, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, errors.Wrapf(ErrInvalidArgument, "batch sizes differ: %d vs %d", len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = CornersIoU(f.ToCorners(a[i]), f.ToCorners(b[i]))
	}
	return out, nil
}
