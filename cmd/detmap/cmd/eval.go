package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/detmap/internal/config"
	"github.com/MeKo-Tech/detmap/internal/dataset"
	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/report"
	"github.com/spf13/cobra"
)

func newEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Compute mean Average Precision of predictions against ground truth",
		Long: `Compute mean Average Precision (mAP) of predicted boxes against ground truth boxes.

Predictions are [image_id, class_id, confidence, b0, b1, b2, b3] tuples and
ground truths are [image_id, class_id, b0, b1, b2, b3] tuples, or objects with
the same field names, stored as JSON, YAML or CSV.

Examples:
  detmap eval --predictions preds.json --ground-truth gts.json --num-classes 20
  detmap eval -p preds.csv -g gts.csv --num-classes 3 --iou 0.75 --format json
  detmap eval -p preds.json -g gts.json --num-classes 80 --coco --nms
  detmap eval -p preds.json -g gts.json --box-format midpoint --output report.csv --format csv`,
		Args: cobra.NoArgs,
		RunE: runEval,
	}

	cmd.Flags().StringP("predictions", "p", "", "predictions file (json, yaml or csv)")
	cmd.Flags().StringP("ground-truth", "g", "", "ground truth file (json, yaml or csv)")
	cmd.Flags().IntP("num-classes", "n", 20, "number of classes; ids 0..n-1 are evaluated")
	cmd.Flags().Float64("iou", 0.5, "IoU a prediction must exceed to match a ground truth")
	cmd.Flags().String("box-format", "corners", "box format: corners or midpoint")
	cmd.Flags().Bool("coco", false, "average mAP over IoU thresholds 0.50:0.05:0.95")
	cmd.Flags().Bool("nms", false, "apply per-image Non-Maximum Suppression to predictions first")
	cmd.Flags().String("empty-class-policy", evaluation.PolicyZero,
		"classes without ground truth: zero (count AP 0) or skip (exclude from mean)")
	cmd.Flags().Int("workers", 0, "parallel class workers (0 = number of CPUs)")
	cmd.Flags().StringSlice("class-names", nil, "comma-separated class names for the report")
	cmd.Flags().StringP("format", "f", report.FormatText, "report format: text, json or csv")
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	cmd.Flags().Int("precision", 4, "decimal places in text and csv reports")
	cmd.Flags().String("locale", "en", "number locale of text reports (e.g. en, de)")
	cmd.Flags().Bool("curves", false, "include precision/recall curves in json reports")
	cmd.Flags().Bool("progress", false, "print per-class progress to stderr")

	_ = cmd.MarkFlagRequired("predictions")
	_ = cmd.MarkFlagRequired("ground-truth")
	return cmd
}

// applyEvalFlags overrides configuration values with explicitly set flags.
func applyEvalFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("num-classes") {
		cfg.Evaluation.NumClasses, _ = flags.GetInt("num-classes")
	}
	if flags.Changed("iou") {
		cfg.Evaluation.IoUThreshold, _ = flags.GetFloat64("iou")
	}
	if flags.Changed("box-format") {
		cfg.Evaluation.BoxFormat, _ = flags.GetString("box-format")
	}
	if flags.Changed("coco") {
		cfg.Evaluation.COCO, _ = flags.GetBool("coco")
	}
	if flags.Changed("nms") {
		cfg.Suppression.Enabled, _ = flags.GetBool("nms")
	}
	if flags.Changed("empty-class-policy") {
		cfg.Evaluation.EmptyClassPolicy, _ = flags.GetString("empty-class-policy")
	}
	if flags.Changed("workers") {
		cfg.Evaluation.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("class-names") {
		cfg.Evaluation.ClassNames, _ = flags.GetStringSlice("class-names")
	}
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}
	if flags.Changed("output") {
		cfg.Output.File, _ = flags.GetString("output")
	}
	if flags.Changed("precision") {
		cfg.Output.Precision, _ = flags.GetInt("precision")
	}
	if flags.Changed("locale") {
		cfg.Output.Locale, _ = flags.GetString("locale")
	}
	if flags.Changed("curves") {
		cfg.Output.Curves, _ = flags.GetBool("curves")
	}
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	applyEvalFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	evalCfg, err := cfg.ToEvaluationConfig()
	if err != nil {
		return err
	}

	predPath, _ := cmd.Flags().GetString("predictions")
	gtPath, _ := cmd.Flags().GetString("ground-truth")

	preds, err := dataset.LoadPredictions(predPath)
	if err != nil {
		return err
	}
	gts, err := dataset.LoadGroundTruths(gtPath)
	if err != nil {
		return err
	}
	slog.Debug("Loaded evaluation inputs", "predictions", len(preds), "ground_truths", len(gts))

	if cfg.Suppression.Enabled {
		nmsCfg, err := cfg.ToSuppressionConfig()
		if err != nil {
			return err
		}
		before := len(preds)
		if preds, err = evaluation.SuppressPredictions(preds, nmsCfg); err != nil {
			return err
		}
		slog.Debug("Suppressed predictions", "before", before, "after", len(preds))
	}

	evaluator, err := evaluation.NewEvaluator(evalCfg)
	if err != nil {
		return err
	}
	if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
		evaluator.WithProgress(evaluation.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Evaluating classes"))
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cfg.ToReportOptions()
	var content string
	if cfg.Evaluation.COCO {
		sweep, err := evaluator.EvaluateThresholds(ctx, preds, gts, evaluation.COCOThresholds())
		if err != nil {
			return evalError(err)
		}
		content, err = report.FormatSweep(sweep, opts)
		if err != nil {
			return err
		}
	} else {
		res, err := evaluator.Evaluate(ctx, preds, gts)
		if err != nil {
			return evalError(err)
		}
		content, err = report.Format(res, opts)
		if err != nil {
			return err
		}
	}

	return report.Write(cmd.OutOrStdout(), cfg.Output.File, content)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func evalError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("evaluation interrupted: %w", err)
	}
	return fmt.Errorf("evaluation failed: %w", err)
}
