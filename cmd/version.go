package cmd

import "fmt"

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// versionString formats the build information for display.
func versionString() string {
	return fmt.Sprintf("Quarry %s (built %s, commit %s)", AppVersion, BuildTime, GitCommit)
}
