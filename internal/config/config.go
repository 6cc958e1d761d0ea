package config

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/MeKo-Tech/detmap/internal/report"
	"github.com/MeKo-Tech/detmap/internal/suppress"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	eval := evaluation.DefaultConfig()
	nms := suppress.DefaultConfig()
	out := report.DefaultOptions()

	return Config{
		LogLevel: "info",
		Verbose:  false,
		Evaluation: EvaluationConfig{
			IoUThreshold:     eval.IoUThreshold,
			BoxFormat:        eval.Format.String(),
			NumClasses:       eval.NumClasses,
			EmptyClassPolicy: eval.EmptyClassPolicy,
			Workers:          eval.Workers,
			COCO:             false,
		},
		Suppression: SuppressionConfig{
			Enabled:       false,
			IoUThreshold:  nms.IoUThreshold,
			ProbThreshold: nms.ProbThreshold,
			Method:        nms.Method,
			Sigma:         nms.Sigma,
		},
		Output: OutputConfig{
			Format:    out.Format,
			Precision: out.Precision,
			Locale:    out.Locale,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,

			RateLimitEnabled:  false,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     100 * 1024 * 1024,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	// Validate output format
	validFormats := []string{report.FormatText, report.FormatJSON, report.FormatCSV}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.Precision < 0 || c.Output.Precision > 12 {
		return fmt.Errorf("invalid output precision: %d (must be between 0 and 12)", c.Output.Precision)
	}

	// Validate evaluation settings
	if _, err := geometry.ParseFormat(c.Evaluation.BoxFormat); err != nil {
		return fmt.Errorf("invalid evaluation.box_format: %w", err)
	}
	if err := validateThreshold(c.Evaluation.IoUThreshold, "evaluation.iou_threshold"); err != nil {
		return err
	}
	if c.Evaluation.NumClasses < 0 {
		return fmt.Errorf("invalid evaluation.num_classes: %d (must not be negative)", c.Evaluation.NumClasses)
	}
	validPolicies := []string{evaluation.PolicyZero, evaluation.PolicySkip}
	if !contains(validPolicies, c.Evaluation.EmptyClassPolicy) {
		return fmt.Errorf("invalid empty class policy: %s (must be one of: %s)",
			c.Evaluation.EmptyClassPolicy, strings.Join(validPolicies, ", "))
	}
	if c.Evaluation.Workers < 0 {
		return fmt.Errorf("invalid evaluation workers: %d (must not be negative)", c.Evaluation.Workers)
	}

	// Validate suppression settings
	if err := validateThreshold(c.Suppression.IoUThreshold, "suppression.iou_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Suppression.ProbThreshold, "suppression.prob_threshold"); err != nil {
		return err
	}
	validMethods := []string{suppress.MethodHard, suppress.MethodLinear, suppress.MethodGaussian}
	if !contains(validMethods, c.Suppression.Method) {
		return fmt.Errorf("invalid suppression method: %s (must be one of: %s)",
			c.Suppression.Method, strings.Join(validMethods, ", "))
	}
	if c.Suppression.Sigma <= 0 {
		return fmt.Errorf("invalid suppression sigma: %.2f (must be positive)", c.Suppression.Sigma)
	}

	// Validate server settings
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.RequestsPerHour < 0 ||
		c.Server.MaxRequestsPerDay < 0 || c.Server.MaxDataPerDay < 0 {
		return fmt.Errorf("invalid rate limit: limits must not be negative")
	}

	return nil
}

// ToEvaluationConfig converts the config to the evaluator configuration.
func (c *Config) ToEvaluationConfig() (evaluation.Config, error) {
	format, err := geometry.ParseFormat(c.Evaluation.BoxFormat)
	if err != nil {
		return evaluation.Config{}, err
	}
	cfg := evaluation.DefaultConfig()
	cfg.IoUThreshold = c.Evaluation.IoUThreshold
	cfg.Format = format
	cfg.NumClasses = c.Evaluation.NumClasses
	cfg.Workers = c.Evaluation.Workers
	if c.Evaluation.EmptyClassPolicy != "" {
		cfg.EmptyClassPolicy = c.Evaluation.EmptyClassPolicy
	}
	return cfg, nil
}

// ToSuppressionConfig converts the config to the suppression configuration.
// Boxes are interpreted in the evaluation box format.
func (c *Config) ToSuppressionConfig() (suppress.Config, error) {
	format, err := geometry.ParseFormat(c.Evaluation.BoxFormat)
	if err != nil {
		return suppress.Config{}, err
	}
	cfg := suppress.DefaultConfig()
	cfg.IoUThreshold = c.Suppression.IoUThreshold
	cfg.ProbThreshold = c.Suppression.ProbThreshold
	cfg.Format = format
	if c.Suppression.Method != "" {
		cfg.Method = c.Suppression.Method
	}
	if c.Suppression.Sigma > 0 {
		cfg.Sigma = c.Suppression.Sigma
	}
	return cfg, nil
}

// ToReportOptions converts the output settings to report options.
func (c *Config) ToReportOptions() report.Options {
	opts := report.DefaultOptions()
	if c.Output.Format != "" {
		opts.Format = c.Output.Format
	}
	opts.Precision = c.Output.Precision
	if c.Output.Locale != "" {
		opts.Locale = c.Output.Locale
	}
	opts.ClassNames = c.Evaluation.ClassNames
	opts.IncludeCurves = c.Output.Curves
	return opts
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
