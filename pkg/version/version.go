// Package version provides build and version information for Biblio.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of Biblio.
// Set via ldflags at build time, or defaults to dev:
// -X github.com/biblio-mcp/biblio/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags at build time.
var (
	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary (set at runtime).
	GoVersion = runtime.Version()
)

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("biblio %s (commit %s, built %s, %s)", Version, Commit, Date, GoVersion)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Info holds structured build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// GetInfo returns the build information as a struct.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
	}
}
