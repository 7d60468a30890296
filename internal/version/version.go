// Package version provides build-time version information for pyshim.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables set via ldflags.
// Example: go build -ldflags="-X github.com/andywolf/pyshim/internal/version.Version=v1.0.0"
var (
	// Version is the semantic version (e.g., "v1.2.3"). Set via ldflags.
	Version = "dev"

	// Commit is the git commit SHA. Set via ldflags.
	Commit = "unknown"

	// BuildDate is the RFC3339 timestamp of the build. Set via ldflags.
	BuildDate = "unknown"
)

// BuildInfo is the version report served by the API and `version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get collects the build information of the running binary.
func Get() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns the version string (e.g., "v1.2.3" or "dev").
func Short() string {
	return Version
}

// Info returns a single-line version string with commit and build info.
// Format: "pyshim v1.2.3 (commit: abc1234, built: 2024-01-15T10:30:00Z, go: go1.23.x)"
func Info() string {
	b := Get()
	return fmt.Sprintf("pyshim %s (commit: %s, built: %s, go: %s)",
		b.Version, shortCommit(b.Commit), b.BuildDate, b.GoVersion)
}

// Full returns a multi-line verbose version output.
func Full() string {
	b := Get()
	return fmt.Sprintf(`pyshim %s
  Commit:     %s
  Built:      %s
  Go version: %s
  OS/Arch:    %s`,
		b.Version, b.Commit, b.BuildDate, b.GoVersion, b.Platform)
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
