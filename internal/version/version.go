// Package version holds build metadata injected through ldflags.
package version

import "fmt"

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("detmap %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
