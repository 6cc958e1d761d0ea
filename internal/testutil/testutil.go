// Package testutil provides project-root discovery and evaluation fixtures for tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// layout lists the paths a detmap checkout must contain, relative to the root.
var layout = []string{
	"go.mod",
	filepath.Join("cmd", "detmap"),
	filepath.Join("internal", "evaluation"),
	filepath.Join("testdata", "fixtures"),
}

// FindModuleRoot walks up from start to the nearest directory holding go.mod.
func FindModuleRoot(start string) (string, error) {
	dir := start
	for {
		if FileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find go.mod file starting from %s", start)
		}
		dir = parent
	}
}

// ValidateProjectRoot reports the first layout entry missing under root.
func ValidateProjectRoot(root string) error {
	for _, rel := range layout {
		if !FileExists(filepath.Join(root, rel)) {
			return fmt.Errorf("%s not found under %s", rel, root)
		}
	}
	return nil
}

// GetProjectRoot returns the validated detmap checkout containing this package.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}

	root, err := FindModuleRoot(filepath.Dir(filename))
	if err != nil {
		return "", err
	}
	if err := ValidateProjectRoot(root); err != nil {
		return "", fmt.Errorf("invalid project root %s: %w", root, err)
	}
	return root, nil
}

// GetFixturesDir returns testdata/fixtures under the project root.
func GetFixturesDir(t *testing.T) string {
	t.Helper()

	root, err := GetProjectRoot()
	require.NoError(t, err, "Failed to find project root")
	return filepath.Join(root, "testdata", "fixtures")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists reports whether path exists. Directories count.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
