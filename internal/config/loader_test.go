package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// isolate points every config search path at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Chdir(tmpDir)
	return tmpDir
}

// TestNewLoader tests loader creation.
func TestNewLoader(t *testing.T) {
	v := viper.New()
	if NewLoaderWithViper(v).v != v {
		t.Error("NewLoaderWithViper() should wrap the given viper instance")
	}
	if NewLoaderWithViper(nil).v == nil {
		t.Error("NewLoaderWithViper(nil) should create a viper instance")
	}
}

// TestLoadWithNoConfigFile tests loading with no config file present.
func TestLoadWithNoConfigFile(t *testing.T) {
	isolate(t)

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Evaluation.NumClasses != 20 {
		t.Errorf("Expected default num_classes 20, got %d", cfg.Evaluation.NumClasses)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
}

// TestLoadFromSearchPath tests that detmap.yaml in the working directory is found.
func TestLoadFromSearchPath(t *testing.T) {
	dir := isolate(t)
	content := "evaluation:\n  num_classes: 3\n  class_names: [cat, dog, bird]\n"
	if err := os.WriteFile(filepath.Join(dir, "detmap.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoaderWithViper(viper.New())
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Evaluation.NumClasses != 3 {
		t.Errorf("Expected num_classes 3, got %d", cfg.Evaluation.NumClasses)
	}
	if len(cfg.Evaluation.ClassNames) != 3 || cfg.Evaluation.ClassNames[2] != "bird" {
		t.Errorf("Unexpected class names: %v", cfg.Evaluation.ClassNames)
	}
	if !strings.HasSuffix(loader.GetConfigFileUsed(), "detmap.yaml") {
		t.Errorf("Unexpected config file used: %s", loader.GetConfigFileUsed())
	}
}

// TestLoadWithValidYAMLFile tests loading from a valid YAML file.
func TestLoadWithValidYAMLFile(t *testing.T) {
	tmpDir := isolate(t)
	configFile := filepath.Join(tmpDir, "custom.yaml")

	yamlContent := `
log_level: debug
verbose: true
evaluation:
  iou_threshold: 0.75
  box_format: midpoint
  num_classes: 5
  empty_class_policy: skip
  coco: true
suppression:
  enabled: true
  method: linear
output:
  format: json
  precision: 2
server:
  port: 9090
`
	if err := os.WriteFile(configFile, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" || !cfg.Verbose {
		t.Errorf("Global settings not loaded: %+v", cfg)
	}
	if cfg.Evaluation.IoUThreshold != 0.75 || cfg.Evaluation.BoxFormat != "midpoint" || cfg.Evaluation.NumClasses != 5 {
		t.Errorf("Evaluation settings not loaded: %+v", cfg.Evaluation)
	}
	if cfg.Evaluation.EmptyClassPolicy != "skip" || !cfg.Evaluation.COCO {
		t.Errorf("Evaluation policy/coco not loaded: %+v", cfg.Evaluation)
	}
	if !cfg.Suppression.Enabled || cfg.Suppression.Method != "linear" {
		t.Errorf("Suppression settings not loaded: %+v", cfg.Suppression)
	}
	// Unset keys keep their defaults
	if cfg.Suppression.IoUThreshold != 0.5 {
		t.Errorf("Expected default suppression iou 0.5, got %v", cfg.Suppression.IoUThreshold)
	}
	if cfg.Output.Format != "json" || cfg.Output.Precision != 2 {
		t.Errorf("Output settings not loaded: %+v", cfg.Output)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
}

// TestLoadWithInvalidValues tests validation of loaded values.
func TestLoadWithInvalidValues(t *testing.T) {
	tmpDir := isolate(t)
	configFile := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(configFile, []byte("evaluation:\n  box_format: polygon\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Expected validation error, got %v", err)
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(configFile)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Evaluation.BoxFormat != "polygon" {
		t.Errorf("Expected raw box format, got %s", cfg.Evaluation.BoxFormat)
	}
}

// TestLoadWithMissingFile tests that an explicit missing file is an error.
func TestLoadWithMissingFile(t *testing.T) {
	tmpDir := isolate(t)

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(tmpDir, "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected missing file error, got %v", err)
	}
}

// TestLoadWithMalformedFile tests YAML syntax errors.
func TestLoadWithMalformedFile(t *testing.T) {
	tmpDir := isolate(t)
	configFile := filepath.Join(tmpDir, "broken.yaml")
	if err := os.WriteFile(configFile, []byte("evaluation: [unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err == nil || !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Expected read error, got %v", err)
	}
}

// TestEnvironmentVariables tests DETMAP_ environment overrides.
func TestEnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("DETMAP_LOG_LEVEL", "warn")
	t.Setenv("DETMAP_EVALUATION_NUM_CLASSES", "7")
	t.Setenv("DETMAP_SUPPRESSION_ENABLED", "true")
	t.Setenv("DETMAP_SERVER_PORT", "7070")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.LogLevel)
	}
	if cfg.Evaluation.NumClasses != 7 {
		t.Errorf("Expected num_classes 7, got %d", cfg.Evaluation.NumClasses)
	}
	if !cfg.Suppression.Enabled {
		t.Error("Expected suppression enabled from environment")
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected port 7070, got %d", cfg.Server.Port)
	}
}

// TestLoadWithoutValidation tests that search-path loading can skip validation.
func TestLoadWithoutValidation(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "detmap.yaml"), []byte("evaluation:\n  iou_threshold: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLoaderWithViper(viper.New()).Load(); err == nil {
		t.Fatal("Load() should reject iou_threshold 3")
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithoutValidation()
	if err != nil {
		t.Fatalf("LoadWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Evaluation.IoUThreshold != 3 {
		t.Errorf("Expected raw iou_threshold 3, got %v", cfg.Evaluation.IoUThreshold)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "evaluation.iou_threshold") {
		t.Errorf("Expected iou_threshold validation error, got %v", err)
	}
}

// TestGetResolvedConfig tests the merged settings map.
func TestGetResolvedConfig(t *testing.T) {
	isolate(t)
	t.Setenv("DETMAP_EVALUATION_NUM_CLASSES", "7")

	loader := NewLoaderWithViper(viper.New())
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	resolved := loader.GetResolvedConfig()
	evaluation, ok := resolved["evaluation"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected evaluation section, got %T", resolved["evaluation"])
	}
	if got := fmt.Sprint(evaluation["num_classes"]); got != "7" {
		t.Errorf("Expected num_classes 7 from environment, got %s", got)
	}
	if got := fmt.Sprint(evaluation["box_format"]); got != "corners" {
		t.Errorf("Expected default box_format corners, got %s", got)
	}
	if _, ok := resolved["server"]; !ok {
		t.Error("Expected server section in resolved settings")
	}
}

// TestGenerateDefaultConfigFile tests writing and re-reading a default config.
func TestGenerateDefaultConfigFile(t *testing.T) {
	tmpDir := isolate(t)
	configFile := filepath.Join(tmpDir, "generated.yaml")

	if err := GenerateDefaultConfigFile(configFile); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}

	data, err := os.ReadFile(configFile) //nolint:gosec // G304: test-controlled path
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	if !strings.Contains(string(data), "iou_threshold") {
		t.Errorf("Generated config missing keys:\n%s", data)
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(configFile)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if cfg.Evaluation.NumClasses != DefaultConfig().Evaluation.NumClasses {
		t.Errorf("Generated config does not round-trip defaults: %+v", cfg.Evaluation)
	}
}

// TestGetConfigSearchPaths tests search path order.
func TestGetConfigSearchPaths(t *testing.T) {
	tmpDir := isolate(t)

	paths := GetConfigSearchPaths()
	if paths[0] != "." {
		t.Errorf("Expected current directory first, got %s", paths[0])
	}
	if paths[len(paths)-1] != "/etc/detmap" {
		t.Errorf("Expected /etc/detmap last, got %s", paths[len(paths)-1])
	}
	found := false
	for _, p := range paths {
		if p == filepath.Join(tmpDir, "detmap") {
			found = true
		}
	}
	if !found {
		t.Errorf("XDG path missing from %v", paths)
	}
}
