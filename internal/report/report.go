// Package report renders evaluation results as text, JSON or CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Options controls rendering.
type Options struct {
	Format        string   // text, json or csv
	Precision     int      // Decimal places for text and csv numbers
	Locale        string   // BCP 47 tag used for text number formatting
	ClassNames    []string // Optional display names indexed by class id
	IncludeCurves bool     // Emit precision/recall curves in JSON
}

// DefaultOptions returns text output with four decimals in English.
func DefaultOptions() Options {
	return Options{Format: FormatText, Precision: 4, Locale: "en"}
}

// Format renders a single-threshold evaluation result.
func Format(res *evaluation.Result, opts Options) (string, error) {
	if res == nil {
		return "", fmt.Errorf("nil evaluation result")
	}
	switch opts.Format {
	case FormatJSON:
		return formatJSON(toView(res, opts), opts)
	case FormatCSV:
		return formatCSV([]*evaluation.Result{res}, opts)
	case FormatText, "":
		return formatText(res, opts), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

// FormatSweep renders an evaluation over several IoU thresholds.
func FormatSweep(sweep *evaluation.SweepResult, opts Options) (string, error) {
	if sweep == nil {
		return "", fmt.Errorf("nil sweep result")
	}
	switch opts.Format {
	case FormatJSON:
		view := sweepView{Thresholds: sweep.Thresholds, MeanAP: sweep.MeanAP}
		for _, r := range sweep.Results {
			view.Results = append(view.Results, toView(r, opts))
		}
		return formatJSON(view, opts)
	case FormatCSV:
		return formatCSV(sweep.Results, opts)
	case FormatText, "":
		return formatSweepText(sweep, opts), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

// Write stores content in file, or writes it to out when file is empty.
func Write(out io.Writer, file, content string) error {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if file != "" {
		if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}
	_, err := io.WriteString(out, content)
	return err
}

type classView struct {
	ClassID          int               `json:"class_id"`
	Name             string            `json:"name,omitempty"`
	AveragePrecision float64           `json:"average_precision"`
	Predictions      int               `json:"predictions"`
	GroundTruths     int               `json:"ground_truths"`
	TruePositives    int               `json:"true_positives"`
	FalsePositives   int               `json:"false_positives"`
	FalseNegatives   int               `json:"false_negatives"`
	Skipped          bool              `json:"skipped,omitempty"`
	Note             string            `json:"note,omitempty"`
	Curve            *evaluation.Curve `json:"curve,omitempty"`
}

type resultView struct {
	MeanAP              float64     `json:"mean_average_precision"`
	IoUThreshold        float64     `json:"iou_threshold"`
	Format              string      `json:"box_format"`
	Evaluated           int         `json:"evaluated_classes"`
	IgnoredPredictions  int         `json:"ignored_predictions,omitempty"`
	IgnoredGroundTruths int         `json:"ignored_ground_truths,omitempty"`
	DurationMs          float64     `json:"duration_ms"`
	Classes             []classView `json:"classes"`
}

type sweepView struct {
	Thresholds []float64    `json:"iou_thresholds"`
	MeanAP     float64      `json:"mean_average_precision"`
	Results    []resultView `json:"results"`
}

func toView(res *evaluation.Result, opts Options) resultView {
	v := resultView{
		MeanAP:              res.MeanAP,
		IoUThreshold:        res.IoUThreshold,
		Format:              res.Format,
		Evaluated:           res.Evaluated,
		IgnoredPredictions:  res.IgnoredPredictions,
		IgnoredGroundTruths: res.IgnoredGroundTruths,
		DurationMs:          float64(res.Duration.Microseconds()) / 1000,
		Classes:             make([]classView, len(res.Classes)),
	}
	for i, c := range res.Classes {
		cv := classView{
			ClassID:          c.ClassID,
			Name:             className(opts, c.ClassID),
			AveragePrecision: c.AveragePrecision,
			Predictions:      c.Predictions,
			GroundTruths:     c.GroundTruths,
			TruePositives:    c.TruePositives,
			FalsePositives:   c.FalsePositives,
			FalseNegatives:   c.FalseNegatives(),
			Skipped:          c.Skipped,
			Note:             c.Note,
		}
		if opts.IncludeCurves {
			curve := c.Curve
			cv.Curve = &curve
		}
		v.Classes[i] = cv
	}
	return v
}

func className(opts Options, id int) string {
	if id >= 0 && id < len(opts.ClassNames) {
		return opts.ClassNames[id]
	}
	return ""
}

func formatJSON(v any, _ Options) (string, error) {
	bts, err := json.MarshalIndent(v, "", "  ")
	return string(bts), err
}

func formatCSV(results []*evaluation.Result, opts Options) (string, error) {
	prec := precision(opts)
	rows := [][]string{{
		"iou_threshold", "class_id", "name", "average_precision", "ground_truths", "predictions",
		"true_positives", "false_positives", "false_negatives", "skipped", "note",
	}}
	for _, res := range results {
		if res == nil {
			continue
		}
		thr := strconv.FormatFloat(res.IoUThreshold, 'f', 2, 64)
		for _, c := range res.Classes {
			rows = append(rows, []string{
				thr,
				strconv.Itoa(c.ClassID),
				className(opts, c.ClassID),
				strconv.FormatFloat(c.AveragePrecision, 'f', prec, 64),
				strconv.Itoa(c.GroundTruths),
				strconv.Itoa(c.Predictions),
				strconv.Itoa(c.TruePositives),
				strconv.Itoa(c.FalsePositives),
				strconv.Itoa(c.FalseNegatives()),
				strconv.FormatBool(c.Skipped),
				c.Note,
			})
		}
		rows = append(rows, []string{
			thr, "mean", "", strconv.FormatFloat(res.MeanAP, 'f', prec, 64), "", "", "", "", "", "", "",
		})
	}

	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.WriteAll(rows); err != nil {
		return "", err
	}
	return output.String(), nil
}

func printer(opts Options) (*message.Printer, language.Tag) {
	tag, err := language.Parse(opts.Locale)
	if err != nil || opts.Locale == "" {
		tag = language.English
	}
	return message.NewPrinter(tag), tag
}

// decimal formats v with a fixed number of fractional digits in the printer's locale.
func decimal(v float64, prec int) number.Formatter {
	return number.Decimal(v, number.Scale(prec))
}

func precision(opts Options) int {
	if opts.Precision < 0 {
		return 0
	}
	return opts.Precision
}

func formatText(res *evaluation.Result, opts Options) string {
	p, tag := printer(opts)
	prec := precision(opts)

	var output strings.Builder
	output.WriteString(p.Sprintf("mAP@%.2f: %v\n", res.IoUThreshold, decimal(res.MeanAP, prec)))
	output.WriteString(p.Sprintf("Box format: %s, evaluated classes: %d of %d\n",
		cases.Title(tag).String(res.Format), res.Evaluated, len(res.Classes)))
	if res.IgnoredPredictions > 0 || res.IgnoredGroundTruths > 0 {
		output.WriteString(p.Sprintf("Ignored (class id out of range): %d predictions, %d ground truths\n",
			res.IgnoredPredictions, res.IgnoredGroundTruths))
	}
	if len(res.Classes) == 0 {
		return output.String()
	}

	output.WriteString("\n")
	tw := tabwriter.NewWriter(&output, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "class\tAP\tGT\tpred\tTP\tFP\tFN\tnote")
	for _, c := range res.Classes {
		label := strconv.Itoa(c.ClassID)
		if name := className(opts, c.ClassID); name != "" {
			label += " " + name
		}
		ap := p.Sprint(decimal(c.AveragePrecision, prec))
		if c.Skipped {
			ap = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			label, ap,
			p.Sprint(c.GroundTruths), p.Sprint(c.Predictions),
			p.Sprint(c.TruePositives), p.Sprint(c.FalsePositives), p.Sprint(c.FalseNegatives()),
			c.Note)
	}
	_ = tw.Flush()
	return output.String()
}

func formatSweepText(sweep *evaluation.SweepResult, opts Options) string {
	p, _ := printer(opts)
	prec := precision(opts)

	var output strings.Builder
	if n := len(sweep.Thresholds); n > 0 {
		output.WriteString(p.Sprintf("mAP@[%.2f:%.2f]: %v\n",
			sweep.Thresholds[0], sweep.Thresholds[n-1], decimal(sweep.MeanAP, prec)))
	}
	for _, r := range sweep.Results {
		output.WriteString(p.Sprintf("  mAP@%.2f: %v\n", r.IoUThreshold, decimal(r.MeanAP, prec)))
	}
	return output.String()
}
