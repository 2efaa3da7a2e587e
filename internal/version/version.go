// Package version holds build metadata injected via -ldflags at link time.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
