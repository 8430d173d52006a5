// Package buildinfo carries the version stamped into oro binaries.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Set at build time via -ldflags "-X oro/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns a compact build identifier for banners and logs. Without
// ldflags it falls back to the VCS revision recorded by the go tool.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	if rev := vcsRevision(); rev != "" {
		return rev
	}
	return "dev"
}

// Long includes the commit and build date.
func Long() string {
	return fmt.Sprintf("oro %s (commit %s, built %s)", Short(), Commit, Date)
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return ""
}
