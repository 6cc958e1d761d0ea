package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/detmap/internal/dataset"
	"github.com/MeKo-Tech/detmap/internal/report"
	"github.com/MeKo-Tech/detmap/internal/suppress"
	"github.com/spf13/cobra"
)

func newNMSCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nms FILE",
		Short: "Apply class-aware Non-Maximum Suppression to detections",
		Long: `Apply class-aware Non-Maximum Suppression to the detections of one image.

FILE holds [class_id, confidence, b0, b1, b2, b3] tuples or objects with
class_id, confidence and box, encoded as JSON, YAML or CSV. Use - to read
from stdin (see --kind). Survivors are written as JSON ordered by descending
confidence.

Examples:
  detmap nms detections.json
  detmap nms detections.csv --iou 0.45 --prob 0.25
  detmap nms detections.yaml --method gaussian --sigma 0.5 --objects
  cat detections.json | detmap nms -`,
		Args: cobra.ExactArgs(1),
		RunE: runNMS,
	}

	cmd.Flags().Float64("iou", 0.5, "suppress same-class boxes with IoU at or above this threshold")
	cmd.Flags().Float64("prob", 0.0, "drop detections with confidence at or below this threshold")
	cmd.Flags().String("method", suppress.MethodHard, "suppression method: hard, linear or gaussian")
	cmd.Flags().Float64("sigma", 0.5, "gaussian decay width")
	cmd.Flags().StringP("format", "f", "", "box format: corners or midpoint (default from config)")
	cmd.Flags().String("kind", string(dataset.KindJSON), "input encoding when reading stdin: json, yaml or csv")
	cmd.Flags().Bool("objects", false, "write objects instead of tuples")
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	return cmd
}

func runNMS(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if cmd.Flags().Changed("iou") {
		cfg.Suppression.IoUThreshold, _ = cmd.Flags().GetFloat64("iou")
	}
	if cmd.Flags().Changed("prob") {
		cfg.Suppression.ProbThreshold, _ = cmd.Flags().GetFloat64("prob")
	}
	if cmd.Flags().Changed("method") {
		cfg.Suppression.Method, _ = cmd.Flags().GetString("method")
	}
	if cmd.Flags().Changed("sigma") {
		cfg.Suppression.Sigma, _ = cmd.Flags().GetFloat64("sigma")
	}
	if cmd.Flags().Changed("format") {
		cfg.Evaluation.BoxFormat, _ = cmd.Flags().GetString("format")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	nmsCfg, err := cfg.ToSuppressionConfig()
	if err != nil {
		return err
	}

	dets, err := loadDetections(cmd, args[0])
	if err != nil {
		return err
	}

	start := time.Now()
	kept, err := suppress.Apply(dets, nmsCfg)
	if err != nil {
		return err
	}
	slog.Debug("Suppression completed",
		"method", nmsCfg.Method, "input", len(dets), "kept", len(kept), "duration", time.Since(start))

	var payload any
	if objects, _ := cmd.Flags().GetBool("objects"); objects {
		if kept == nil {
			kept = []suppress.Detection{}
		}
		payload = kept
	} else {
		tuples := make([][]float64, len(kept))
		for i, d := range kept {
			tuples[i] = d.Tuple()
		}
		payload = tuples
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}
	output, _ := cmd.Flags().GetString("output")
	return report.Write(cmd.OutOrStdout(), output, string(data))
}

func loadDetections(cmd *cobra.Command, path string) ([]suppress.Detection, error) {
	if path != "-" {
		return dataset.LoadDetections(path)
	}
	kindName, _ := cmd.Flags().GetString("kind")
	kind, err := dataset.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	return dataset.DecodeDetections(cmd.InOrStdin(), kind)
}
