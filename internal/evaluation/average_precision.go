package evaluation

import (
	"sort"

	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/MeKo-Tech/detmap/internal/mempool"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// ClassEvaluator scores the predictions of a single class against that class's ground truth.
// Inputs are already restricted to classID.
type ClassEvaluator interface {
	EvaluateClass(classID int, preds []Prediction, gts []GroundTruth, iouThreshold float64, format geometry.Format) ClassResult
}

// GreedyMatcher matches predictions to ground truth in descending confidence order.
// Each ground truth can be claimed by at most one prediction.
type GreedyMatcher struct{}

// EvaluateClass implements ClassEvaluator. The format must already be validated.
func (GreedyMatcher) EvaluateClass(
	classID int,
	preds []Prediction,
	gts []GroundTruth,
	iouThreshold float64,
	format geometry.Format,
) ClassResult {
	res := ClassResult{
		ClassID:      classID,
		Predictions:  len(preds),
		GroundTruths: len(gts),
	}

	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	// Ground truth per image, in input order. Occupancy flags share one buffer;
	// an image's slots start at its offset.
	truths := make(map[int][]geometry.Corners)
	for _, gt := range gts {
		truths[gt.ImageID] = append(truths[gt.ImageID], format.ToCorners(gt.Box))
	}
	offsets := make(map[int]int, len(truths))
	next := 0
	for _, gt := range gts {
		if _, ok := offsets[gt.ImageID]; !ok {
			offsets[gt.ImageID] = next
			next += len(truths[gt.ImageID])
		}
	}
	matched := mempool.GetBool(len(gts))
	defer mempool.PutBool(matched)

	tp := mempool.GetFloat64(len(sorted))
	fp := mempool.GetFloat64(len(sorted))
	defer mempool.PutFloat64(tp)
	defer mempool.PutFloat64(fp)

	for i, p := range sorted {
		box := format.ToCorners(p.Box)
		bestIoU, bestIdx := 0.0, -1
		for j, gt := range truths[p.ImageID] {
			if iou := geometry.CornersIoU(box, gt); iou > bestIoU {
				bestIoU, bestIdx = iou, j
			}
		}

		if bestIdx >= 0 && bestIoU > iouThreshold && !matched[offsets[p.ImageID]+bestIdx] {
			matched[offsets[p.ImageID]+bestIdx] = true
			tp[i] = 1
			res.TruePositives++
		} else {
			fp[i] = 1
			res.FalsePositives++
		}
	}

	res.Curve = buildCurve(tp, fp, len(gts))
	res.AveragePrecision = res.Curve.Area()
	return res
}

// buildCurve turns per-prediction TP/FP flags into a precision/recall curve with the (0, 1) anchor.
func buildCurve(tp, fp []float64, totalTruths int) Curve {
	n := len(tp)
	c := Curve{
		Recall:    make([]float64, n+1),
		Precision: make([]float64, n+1),
	}
	c.Precision[0] = 1
	if n == 0 {
		return c
	}

	cumTP := floats.CumSum(mempool.GetFloat64(n), tp)
	cumFP := floats.CumSum(mempool.GetFloat64(n), fp)
	defer mempool.PutFloat64(cumTP)
	defer mempool.PutFloat64(cumFP)
	for k := range n {
		c.Recall[k+1] = cumTP[k] / (float64(totalTruths) + geometry.Epsilon)
		c.Precision[k+1] = cumTP[k] / (cumTP[k] + cumFP[k] + geometry.Epsilon)
	}
	return c
}

// Area integrates precision over recall with the trapezoidal rule.
// Curves with fewer than two points have zero area.
func (c Curve) Area() float64 {
	if len(c.Recall) < 2 || len(c.Recall) != len(c.Precision) {
		return 0
	}
	return integrate.Trapezoidal(c.Recall, c.Precision)
}
