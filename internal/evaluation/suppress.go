package evaluation

import (
	"github.com/MeKo-Tech/detmap/internal/suppress"
)

// SuppressPredictions applies suppression independently to the predictions of each image.
// Images keep their first-appearance order; within an image survivors are ordered by
// descending confidence.
func SuppressPredictions(preds []Prediction, cfg suppress.Config) ([]Prediction, error) {
	if cfg.Method == "" {
		cfg.Method = suppress.MethodHard
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var order []int
	byImage := make(map[int][]suppress.Detection)
	for _, p := range preds {
		if _, ok := byImage[p.ImageID]; !ok {
			order = append(order, p.ImageID)
		}
		byImage[p.ImageID] = append(byImage[p.ImageID], suppress.Detection{
			ClassID:    p.ClassID,
			Confidence: p.Confidence,
			Box:        p.Box,
		})
	}

	out := make([]Prediction, 0, len(preds))
	for _, img := range order {
		kept, err := suppress.Apply(byImage[img], cfg)
		if err != nil {
			return nil, err
		}
		for _, d := range kept {
			out = append(out, Prediction{ImageID: img, ClassID: d.ClassID, Confidence: d.Confidence, Box: d.Box})
		}
	}
	return out, nil
}
