// Package version holds build metadata injected with -ldflags.
package version

// Set at build time:
//
//	-ldflags "-X github.com/sydlexius/coremonitor/internal/version.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)
