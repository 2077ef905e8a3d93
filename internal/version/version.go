// Package version provides build-time version information.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the full version line shown by the binaries.
func String() string {
	return fmt.Sprintf("buddyai %s (commit %s, built %s)", Version, Commit, BuildDate)
}
