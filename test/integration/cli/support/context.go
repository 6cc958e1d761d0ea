package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/detmap/internal/server"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand string
	LastOutput  string
	LastStderr  string
	LastError   error

	// Test environment
	TempDir  string
	savedEnv map[string]*string

	// Server state
	HTTPServer   *httptest.Server
	TestServer   *server.Server
	ServerConfig server.Config

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "detmap-integration-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	testCtx := &TestContext{
		TempDir:         tempDir,
		savedEnv:        make(map[string]*string),
		LastHTTPHeaders: make(map[string]string),
	}

	// Keep the developer's own configuration files out of the scenarios.
	testCtx.SetEnv("HOME", tempDir)
	testCtx.SetEnv("XDG_CONFIG_HOME", tempDir)
	return testCtx, nil
}

// SetEnv sets an environment variable for the rest of the scenario.
func (testCtx *TestContext) SetEnv(key, value string) {
	if _, seen := testCtx.savedEnv[key]; !seen {
		if old, ok := os.LookupEnv(key); ok {
			testCtx.savedEnv[key] = &old
		} else {
			testCtx.savedEnv[key] = nil
		}
	}
	_ = os.Setenv(key, value)
}

// Path returns the absolute path of name inside the scenario's temp directory.
func (testCtx *TestContext) Path(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// substitute expands {tmp} to the scenario's temp directory.
func (testCtx *TestContext) substitute(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}

// Cleanup stops the server, restores the environment and removes temp files.
func (testCtx *TestContext) Cleanup() error {
	testCtx.StopServer()

	for key, value := range testCtx.savedEnv {
		if value == nil {
			_ = os.Unsetenv(key)
		} else {
			_ = os.Setenv(key, *value)
		}
	}
	testCtx.savedEnv = make(map[string]*string)

	if testCtx.TempDir != "" {
		if err := os.RemoveAll(testCtx.TempDir); err != nil {
			return fmt.Errorf("failed to remove temp directory: %w", err)
		}
	}
	return nil
}
