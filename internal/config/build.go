package config

import "fmt"

// Set at link time:
//
//	go build -ldflags "-X mandatesync/internal/config.version=1.4.0 \
//	    -X mandatesync/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X mandatesync/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build metadata for the startup log line.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", b.Version, b.Commit, b.BuildTime)
}
