//nolint:lll
package config

// Config represents the complete configuration for the detmap evaluation tool.
// It includes settings for all commands (iou, nms, eval, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Evaluation configuration
	Evaluation EvaluationConfig `mapstructure:"evaluation" yaml:"evaluation" json:"evaluation"`

	// Suppression applied to predictions before scoring
	Suppression SuppressionConfig `mapstructure:"suppression" yaml:"suppression" json:"suppression"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// EvaluationConfig contains mAP evaluation settings.
type EvaluationConfig struct {
	IoUThreshold     float64  `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	BoxFormat        string   `mapstructure:"box_format" yaml:"box_format" json:"box_format"`
	NumClasses       int      `mapstructure:"num_classes" yaml:"num_classes" json:"num_classes"`
	ClassNames       []string `mapstructure:"class_names" yaml:"class_names" json:"class_names"`
	EmptyClassPolicy string   `mapstructure:"empty_class_policy" yaml:"empty_class_policy" json:"empty_class_policy"`
	Workers          int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	COCO             bool     `mapstructure:"coco" yaml:"coco" json:"coco"`
}

// SuppressionConfig contains Non-Maximum Suppression settings.
type SuppressionConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	IoUThreshold  float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	ProbThreshold float64 `mapstructure:"prob_threshold" yaml:"prob_threshold" json:"prob_threshold"`
	Method        string  `mapstructure:"method" yaml:"method" json:"method"`
	Sigma         float64 `mapstructure:"sigma" yaml:"sigma" json:"sigma"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format    string `mapstructure:"format" yaml:"format" json:"format"`
	File      string `mapstructure:"file" yaml:"file" json:"file"`
	Precision int    `mapstructure:"precision" yaml:"precision" json:"precision"`
	Locale    string `mapstructure:"locale" yaml:"locale" json:"locale"`
	Curves    bool   `mapstructure:"curves" yaml:"curves" json:"curves"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Per-client rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}
