// Package dataset loads predictions, ground truths and detections from JSON,
// YAML and CSV files.
//
// Every file holds a list of records. A record is either a plain numeric tuple
// in the field order of the record type, or an object with named fields:
//
//	[[0, 1, 0.9, 10, 10, 50, 50], ...]
//	[{"image_id": 0, "class_id": 1, "confidence": 0.9, "box": [10, 10, 50, 50]}, ...]
//
// CSV files carry one tuple per row; a leading non-numeric header row is skipped.
package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/MeKo-Tech/detmap/internal/suppress"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind is the encoding of a dataset file.
type Kind string

const (
	KindJSON Kind = "json"
	KindYAML Kind = "yaml"
	KindCSV  Kind = "csv"
)

// KindFromPath derives the encoding from the file extension.
func KindFromPath(path string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindJSON, nil
	case ".yaml", ".yml":
		return KindYAML, nil
	case ".csv":
		return KindCSV, nil
	default:
		return "", errors.Wrapf(geometry.ErrInvalidArgument, "unsupported dataset file extension %q", filepath.Ext(path))
	}
}

// ParseKind converts a user supplied encoding name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindJSON, KindYAML, KindCSV:
		return k, nil
	case "yml":
		return KindYAML, nil
	default:
		return "", errors.Wrapf(geometry.ErrInvalidArgument, "unsupported dataset encoding %q", s)
	}
}

// record is implemented by every type this package decodes.
type record interface {
	evaluation.Prediction | evaluation.GroundTruth | suppress.Detection
	Tuple() []float64
}

// LoadPredictions reads predictions from path.
func LoadPredictions(path string) ([]evaluation.Prediction, error) {
	return load(path, evaluation.PredictionFromTuple)
}

// LoadGroundTruths reads ground truth annotations from path.
func LoadGroundTruths(path string) ([]evaluation.GroundTruth, error) {
	return load(path, evaluation.GroundTruthFromTuple)
}

// LoadDetections reads single-image detections from path.
func LoadDetections(path string) ([]suppress.Detection, error) {
	return load(path, suppress.DetectionFromTuple)
}

// DecodePredictions reads predictions encoded as kind from r.
func DecodePredictions(r io.Reader, kind Kind) ([]evaluation.Prediction, error) {
	return decode(r, kind, evaluation.PredictionFromTuple)
}

// DecodeGroundTruths reads ground truth annotations encoded as kind from r.
func DecodeGroundTruths(r io.Reader, kind Kind) ([]evaluation.GroundTruth, error) {
	return decode(r, kind, evaluation.GroundTruthFromTuple)
}

// DecodeDetections reads detections encoded as kind from r.
func DecodeDetections(r io.Reader, kind Kind) ([]suppress.Detection, error) {
	return decode(r, kind, suppress.DetectionFromTuple)
}

func load[T record](path string, fromTuple func([]float64) (T, error)) ([]T, error) {
	kind, err := KindFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // G304: reading user-specified dataset file is intended
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	out, err := decode(f, kind, fromTuple)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return out, nil
}

func decode[T record](r io.Reader, kind Kind, fromTuple func([]float64) (T, error)) ([]T, error) {
	switch kind {
	case KindJSON:
		return decodeJSON(r, fromTuple)
	case KindYAML:
		return decodeYAML(r, fromTuple)
	case KindCSV:
		return decodeCSV(r, fromTuple)
	default:
		return nil, errors.Wrapf(geometry.ErrInvalidArgument, "unsupported dataset encoding %q", string(kind))
	}
}

// normalize round-trips an object-form record through its tuple so that
// both forms pass the same id checks.
func normalize[T record](v T, fromTuple func([]float64) (T, error)) (T, error) {
	return fromTuple(v.Tuple())
}

func decodeJSON[T record](r io.Reader, fromTuple func([]float64) (T, error)) ([]T, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrapf(geometry.ErrInvalidArgument, "decode json: %v", err)
	}

	out := make([]T, 0, len(raw))
	for i, msg := range raw {
		var (
			rec T
			err error
		)
		if trimmed := bytes.TrimSpace(msg); len(trimmed) > 0 && trimmed[0] == '[' {
			var tuple []float64
			if err = json.Unmarshal(trimmed, &tuple); err == nil {
				rec, err = fromTuple(tuple)
			}
		} else {
			if err = json.Unmarshal(msg, &rec); err == nil {
				rec, err = normalize(rec, fromTuple)
			}
		}
		if err != nil {
			return nil, recordError(err, i)
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeYAML[T record](r io.Reader, fromTuple func([]float64) (T, error)) ([]T, error) {
	var nodes []yaml.Node
	if err := yaml.NewDecoder(r).Decode(&nodes); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(geometry.ErrInvalidArgument, "decode yaml: %v", err)
	}

	out := make([]T, 0, len(nodes))
	for i := range nodes {
		var (
			rec T
			err error
		)
		if nodes[i].Kind == yaml.SequenceNode {
			var tuple []float64
			if err = nodes[i].Decode(&tuple); err == nil {
				rec, err = fromTuple(tuple)
			}
		} else {
			if err = nodes[i].Decode(&rec); err == nil {
				rec, err = normalize(rec, fromTuple)
			}
		}
		if err != nil {
			return nil, recordError(err, i)
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeCSV[T record](r io.Reader, fromTuple func([]float64) (T, error)) ([]T, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(geometry.ErrInvalidArgument, "decode csv: %v", err)
	}

	out := make([]T, 0, len(rows))
	for i, row := range rows {
		tuple, err := parseRow(row)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, recordError(err, i)
		}
		rec, err := fromTuple(tuple)
		if err != nil {
			return nil, recordError(err, i)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(row []string) ([]float64, error) {
	tuple := make([]float64, len(row))
	for j, cell := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, errors.Wrapf(geometry.ErrInvalidArgument, "column %d: %q is not a number", j, cell)
		}
		tuple[j] = v
	}
	return tuple, nil
}

// recordError attaches the record index and keeps ErrInvalidArgument visible to errors.Is.
func recordError(err error, index int) error {
	if errors.Is(err, geometry.ErrInvalidArgument) {
		return errors.Wrapf(err, "record %d", index)
	}
	return errors.Wrapf(geometry.ErrInvalidArgument, "record %d: %v", index, err)
}
