// Package build carries link-time metadata, set with e.g.
// -ldflags '-X ccabid/build.Version=v1.2.3 -X ccabid/build.Date=2024-06-01'.
package build

var (
	Version = "dev"
	Date    = "unknown"
	Network = ""
)
