package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// EvaluationFixture is a small labelled dataset with its known mAP.
// Records are plain tuples: predictions [img, class, conf, b0..b3],
// ground truths [img, class, b0..b3].
type EvaluationFixture struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	BoxFormat    string      `json:"box_format"`
	NumClasses   int         `json:"num_classes"`
	IoUThreshold float64     `json:"iou_threshold"`
	Predictions  [][]float64 `json:"predictions"`
	GroundTruths [][]float64 `json:"ground_truths"`
	ExpectedMAP  float64     `json:"expected_map"`
	Tolerance    float64     `json:"tolerance"`
}

// LoadFixture loads an evaluation fixture from testdata/fixtures/<name>.json.
func LoadFixture(t *testing.T, name string) EvaluationFixture {
	t.Helper()

	fixturePath := GetFixturePath(t, name)
	data, err := os.ReadFile(fixturePath) //nolint:gosec // G304: Reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", fixturePath)

	var fixture EvaluationFixture
	require.NoError(t, json.Unmarshal(data, &fixture), "Failed to unmarshal fixture JSON")
	return fixture
}

// GetFixturePath returns the path of a named fixture file.
func GetFixturePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(GetFixturesDir(t), name+".json")
}

// SaveFixture saves an evaluation fixture to JSON file.
func SaveFixture(t *testing.T, dir string, fixture EvaluationFixture) string {
	t.Helper()

	require.NoError(t, EnsureDir(dir))
	fixturePath := filepath.Join(dir, fixture.Name+".json")

	data, err := json.MarshalIndent(fixture, "", "  ")
	require.NoError(t, err, "Failed to marshal fixture to JSON")
	require.NoError(t, os.WriteFile(fixturePath, data, 0o600), "Failed to write fixture file: %s", fixturePath)
	return fixturePath
}

// WriteRecords writes records as a JSON tuple array and returns the file path.
func WriteRecords(t *testing.T, dir, name string, records [][]float64) string {
	t.Helper()

	if records == nil {
		records = [][]float64{}
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// SampleFixtures returns the built-in evaluation scenarios.
func SampleFixtures() []EvaluationFixture {
	return []EvaluationFixture{
		{
			Name:         "perfect_match",
			Description:  "One prediction exactly on the only ground truth",
			BoxFormat:    "corners",
			NumClasses:   1,
			IoUThreshold: 0.5,
			Predictions:  [][]float64{{0, 0, 0.9, 0, 0, 10, 10}},
			GroundTruths: [][]float64{{0, 0, 0, 0, 10, 10}},
			ExpectedMAP:  1,
			Tolerance:    1e-5,
		},
		{
			Name:         "no_overlap",
			Description:  "The only prediction misses the ground truth",
			BoxFormat:    "corners",
			NumClasses:   1,
			IoUThreshold: 0.5,
			Predictions:  [][]float64{{0, 0, 0.9, 20, 20, 30, 30}},
			GroundTruths: [][]float64{{0, 0, 0, 0, 10, 10}},
			ExpectedMAP:  0,
			Tolerance:    1e-9,
		},
		{
			Name:         "duplicate_detection",
			Description:  "Two overlapping predictions compete for one ground truth; the lower one is a false positive",
			BoxFormat:    "corners",
			NumClasses:   1,
			IoUThreshold: 0.5,
			Predictions: [][]float64{
				{0, 0, 0.8, 0, 0, 10, 9},
				{0, 0, 0.9, 1, 0, 10, 10},
			},
			GroundTruths: [][]float64{{0, 0, 0, 0, 10, 10}},
			ExpectedMAP:  1,
			Tolerance:    1e-5,
		},
		{
			Name:         "two_classes",
			Description:  "Two images, two classes, one false positive ranked between two hits",
			BoxFormat:    "corners",
			NumClasses:   2,
			IoUThreshold: 0.5,
			Predictions: [][]float64{
				{0, 0, 0.9, 0, 0, 10, 10},
				{1, 0, 0.8, 50, 50, 60, 60},
				{1, 0, 0.7, 20, 20, 40, 40},
				{0, 1, 0.6, 0, 0, 10, 10},
			},
			GroundTruths: [][]float64{
				{0, 0, 0, 0, 10, 10},
				{1, 0, 20, 20, 40, 40},
				{0, 1, 0, 0, 10, 10},
			},
			// class 0: 0.5 + 0.25*(0.5+2/3); class 1: 1
			ExpectedMAP: (0.5 + 0.25*(0.5+2.0/3.0) + 1) / 2,
			Tolerance:   1e-4,
		},
		{
			Name:         "midpoint_format",
			Description:  "Boxes given as center, width and height",
			BoxFormat:    "midpoint",
			NumClasses:   1,
			IoUThreshold: 0.5,
			Predictions:  [][]float64{{0, 0, 0.9, 5, 5, 10, 10}},
			GroundTruths: [][]float64{{0, 0, 5, 5, 10, 10}},
			ExpectedMAP:  1,
			Tolerance:    1e-5,
		},
		{
			Name:         "empty_classes",
			Description:  "Classes without ground truth score zero and stay in the mean",
			BoxFormat:    "corners",
			NumClasses:   3,
			IoUThreshold: 0.5,
			Predictions:  [][]float64{{0, 0, 0.9, 0, 0, 10, 10}, {0, 2, 0.4, 0, 0, 10, 10}},
			GroundTruths: [][]float64{{0, 0, 0, 0, 10, 10}},
			ExpectedMAP:  1.0 / 3.0,
			Tolerance:    1e-5,
		},
	}
}

// CreateSampleFixtures writes SampleFixtures to the fixtures directory.
func CreateSampleFixtures(t *testing.T) {
	t.Helper()

	dir := GetFixturesDir(t)
	for _, f := range SampleFixtures() {
		SaveFixture(t, dir, f)
	}
}
