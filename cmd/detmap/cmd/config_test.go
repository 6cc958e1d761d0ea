package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/detmap/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigShow(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "config", "show")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.DefaultConfig().Evaluation.NumClasses, cfg.Evaluation.NumClasses)
	assert.Equal(t, "corners", cfg.Evaluation.BoxFormat)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestConfigShow_WithFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evaluation:\n  iou_threshold: 0.75\n"), 0o600))

	out, _, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# config file: "+path))

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.InDelta(t, 0.75, cfg.Evaluation.IoUThreshold, 1e-12)
}

func TestConfigShow_Resolved(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evaluation:\n  num_classes: 4\nexperiment: baseline\n"), 0o600))

	out, _, err := execute(t, "--config", path, "config", "show", "--resolved")
	require.NoError(t, err)

	var settings map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &settings))
	// Unknown keys survive only in the raw view.
	assert.Equal(t, "baseline", settings["experiment"])
	evaluation, ok := settings["evaluation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4, evaluation["num_classes"])
	assert.Equal(t, "corners", evaluation["box_format"])
}

func TestConfigValidate(t *testing.T) {
	dir := isolate(t)

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("evaluation:\n  iou_threshold: 0.6\n"), 0o600))
	out, _, err := execute(t, "config", "validate", good)
	require.NoError(t, err)
	assert.Equal(t, good+": configuration is valid\n", out)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("evaluation:\n  iou_threshold: 3\n"), 0o600))

	// The root command refuses the file before any subcommand runs...
	_, _, err = execute(t, "--config", bad, "config", "show")
	require.Error(t, err)

	// ...while validate loads it and names the offending key.
	_, _, err = execute(t, "--config", bad, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
	assert.Contains(t, err.Error(), "evaluation.iou_threshold")

	_, _, err = execute(t, "config", "validate", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestConfigValidate_SearchPath(t *testing.T) {
	dir := isolate(t)
	out, _, err := execute(t, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "defaults: configuration is valid\n", out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "detmap.yaml"), []byte("suppression:\n  method: fancy\n"), 0o600))
	_, _, err = execute(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suppression method")
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "generated.yaml")

	out, _, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote default configuration to "+path)

	loaded, err := config.NewLoaderWithViper(nil).LoadWithFile(path)
	require.NoError(t, err)
	defaults := config.DefaultConfig()
	assert.InDelta(t, defaults.Evaluation.IoUThreshold, loaded.Evaluation.IoUThreshold, 1e-12)
	assert.Equal(t, defaults.Evaluation.NumClasses, loaded.Evaluation.NumClasses)
	assert.Equal(t, defaults.Evaluation.EmptyClassPolicy, loaded.Evaluation.EmptyClassPolicy)
	assert.Equal(t, defaults.Server, loaded.Server)

	_, _, err = execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = execute(t, "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestConfigInit_DefaultName(t *testing.T) {
	dir := isolate(t)
	_, _, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "detmap.yaml"))
}

func TestConfigPaths(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "config", "paths")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(config.GetConfigSearchPaths(), "\n")+"\n", out)
}
