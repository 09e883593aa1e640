// Package version carries build metadata set with -ldflags -X.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// revision returns GitSHA, or the VCS revision stamped by the go tool when
// the binary was built without ldflags.
func revision() string {
	if GitSHA != "unknown" {
		return GitSHA
	}
	info, ok := readBuildInfo()
	if !ok {
		return GitSHA
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return GitSHA
}

// String renders the build information on one line for -version and the
// status endpoint.
func String() string {
	return fmt.Sprintf("nepa %s (%s, built %s)", Version, revision(), BuildTime)
}
