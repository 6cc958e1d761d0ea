package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/spf13/cobra"
)

func newIoUCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iou BOX_A BOX_B",
		Short: "Compute the Intersection over Union of two boxes",
		Long: `Compute the Intersection over Union of two boxes given as four comma-separated numbers.

Examples:
  detmap iou 0,0,10,10 5,5,15,15
  detmap iou --format midpoint 5,5,10,10 10,10,10,10
  detmap iou --json 0,0,2,2 1,1,3,3`,
		Args: cobra.ExactArgs(2),
		RunE: runIoU,
	}

	cmd.Flags().StringP("format", "f", "", "box format: corners or midpoint (default from config)")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	cmd.Flags().Int("precision", -1, "decimal places (default from config)")
	return cmd
}

func runIoU(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	formatName := cfg.Evaluation.BoxFormat
	if cmd.Flags().Changed("format") {
		formatName, _ = cmd.Flags().GetString("format")
	}
	precision := cfg.Output.Precision
	if cmd.Flags().Changed("precision") {
		precision, _ = cmd.Flags().GetInt("precision")
	}

	format, err := geometry.ParseFormat(formatName)
	if err != nil {
		return err
	}
	a, err := parseBox(args[0])
	if err != nil {
		return fmt.Errorf("box A: %w", err)
	}
	b, err := parseBox(args[1])
	if err != nil {
		return fmt.Errorf("box B: %w", err)
	}

	iou, err := geometry.IoU(a, b, format)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		return enc.Encode(map[string]any{"iou": iou, "format": format.String()})
	}
	_, err = fmt.Fprintln(out, strconv.FormatFloat(iou, 'f', precision, 64))
	return err
}

// parseBox parses "a,b,c,d" into a Box.
func parseBox(s string) (geometry.Box, error) {
	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Box{}, fmt.Errorf("invalid coordinate %q: %w", p, geometry.ErrInvalidArgument)
		}
		values = append(values, v)
	}
	return geometry.BoxFromSlice(values)
}
