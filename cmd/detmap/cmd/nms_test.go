package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/detmap/internal/suppress"
	"github.com/MeKo-Tech/detmap/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nmsInput = [][]float64{
	{0, 0.9, 0, 0, 10, 10},
	{0, 0.8, 1, 1, 10, 10},
	{1, 0.7, 0, 0, 10, 10},
	{0, 0.2, 50, 50, 60, 60},
}

func TestNMSCommand_Tuples(t *testing.T) {
	dir := isolate(t)
	path := testutil.WriteRecords(t, dir, "dets.json", nmsInput)

	out, _, err := execute(t, "nms", path)
	require.NoError(t, err)

	var kept [][]float64
	require.NoError(t, json.Unmarshal([]byte(out), &kept))
	assert.Equal(t, [][]float64{
		{0, 0.9, 0, 0, 10, 10},
		{1, 0.7, 0, 0, 10, 10},
		{0, 0.2, 50, 50, 60, 60},
	}, kept)
}

func TestNMSCommand_Thresholds(t *testing.T) {
	dir := isolate(t)
	path := testutil.WriteRecords(t, dir, "dets.json", nmsInput)

	t.Run("probability threshold", func(t *testing.T) {
		out, _, err := execute(t, "nms", path, "--prob", "0.5")
		require.NoError(t, err)

		var kept [][]float64
		require.NoError(t, json.Unmarshal([]byte(out), &kept))
		assert.Len(t, kept, 2)
	})

	t.Run("high iou threshold keeps overlapping boxes", func(t *testing.T) {
		out, _, err := execute(t, "nms", path, "--iou", "0.9")
		require.NoError(t, err)

		var kept [][]float64
		require.NoError(t, json.Unmarshal([]byte(out), &kept))
		assert.Len(t, kept, 4)
	})
}

func TestNMSCommand_ObjectsAndOutputFile(t *testing.T) {
	dir := isolate(t)
	path := testutil.WriteRecords(t, dir, "dets.json", nmsInput)
	outPath := filepath.Join(dir, "kept.json")

	out, _, err := execute(t, "nms", path, "--objects", "--method", "linear", "--output", outPath)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var kept []suppress.Detection
	require.NoError(t, json.Unmarshal(data, &kept))
	// Soft suppression rescores instead of removing
	require.Len(t, kept, 4)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-9)
	for i := 1; i < len(kept); i++ {
		assert.GreaterOrEqual(t, kept[i-1].Confidence, kept[i].Confidence)
	}
}

func TestNMSCommand_CSVInput(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "dets.csv")
	csv := "class_id,confidence,x1,y1,x2,y2\n0,0.9,0,0,10,10\n0,0.8,0,0,10,10\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o600))

	out, _, err := execute(t, "nms", path)
	require.NoError(t, err)

	var kept [][]float64
	require.NoError(t, json.Unmarshal([]byte(out), &kept))
	assert.Len(t, kept, 1)
}

func TestNMSCommand_Stdin(t *testing.T) {
	isolate(t)
	root := GetRootCommand()
	var stdout strings.Builder
	root.SetOut(&stdout)
	root.SetErr(new(strings.Builder))
	root.SetIn(strings.NewReader("- [0, 0.9, 0, 0, 10, 10]\n- [0, 0.5, 0, 0, 10, 10]\n"))
	root.SetArgs([]string{"nms", "--kind", "yaml", "-"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "[\n  [\n    0,\n    0.9,\n    0,\n    0,\n    10,\n    10\n  ]\n]\n", stdout.String())
}

func TestNMSCommand_Errors(t *testing.T) {
	dir := isolate(t)
	path := testutil.WriteRecords(t, dir, "dets.json", nmsInput)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing file", args: []string{"nms", filepath.Join(dir, "nope.json")}},
		{name: "unknown method", args: []string{"nms", path, "--method", "fancy"}},
		{name: "unknown box format", args: []string{"nms", path, "--format", "polygon"}},
		{name: "threshold out of range", args: []string{"nms", path, "--iou", "2"}},
		{name: "unsupported extension", args: []string{"nms", filepath.Join(dir, "dets.txt")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
