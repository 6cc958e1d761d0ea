package suppress

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/detmap/internal/geometry"
)

// SoftNonMaxSuppression decays the confidence of overlapping same-class detections
// instead of discarding them. Detections whose decayed confidence falls to or below
// cfg.ProbThreshold are dropped. Returned detections carry the decayed confidence.
func SoftNonMaxSuppression(dets []Detection, cfg Config) ([]Detection, error) {
	if cfg.Method == MethodHard || cfg.Method == "" {
		cfg.Method = MethodGaussian
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return softNonMaxSuppression(dets, cfg), nil
}

func softNonMaxSuppression(dets []Detection, cfg Config) []Detection {
	regs := filterAndSort(dets, cfg.ProbThreshold)
	if len(regs) <= 1 {
		return regs
	}
	corners := toCorners(regs, cfg.Format)

	n := len(regs)
	for i := range n {
		maxIdx := i
		for j := i + 1; j < n; j++ {
			if regs[j].Confidence > regs[maxIdx].Confidence {
				maxIdx = j
			}
		}
		regs[i], regs[maxIdx] = regs[maxIdx], regs[i]
		corners[i], corners[maxIdx] = corners[maxIdx], corners[i]

		for j := i + 1; j < n; j++ {
			if regs[j].ClassID != regs[i].ClassID {
				continue
			}
			iou := geometry.CornersIoU(corners[i], corners[j])
			regs[j].Confidence *= softWeight(iou, cfg.IoUThreshold, cfg.Sigma, cfg.Method)
		}
	}

	kept := make([]Detection, 0, n)
	for _, r := range regs {
		if r.Confidence > cfg.ProbThreshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	return kept
}

// softWeight returns the decay factor applied to an overlapping detection.
func softWeight(iou, iouThreshold, sigma float64, method string) float64 {
	switch method {
	case MethodLinear:
		if iou >= iouThreshold {
			return 1.0 - iou
		}
		return 1.0
	case MethodGaussian:
		return math.Exp(-(iou * iou) / sigma)
	default:
		if iou >= iouThreshold {
			return 0.0
		}
		return 1.0
	}
}
