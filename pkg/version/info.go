// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Unknown is reported when a build metadata field was not provided.
const Unknown = "unknown"

var (
	// AppVersion is overridden at build time:
	// go build -ldflags="-X github.com/dteflow/dteflow/pkg/version.AppVersion=v1.2.3"
	AppVersion = "dev"

	// GitCommit is overridden at build time. When absent, the VCS
	// revision from the embedded build info is used instead.
	GitCommit = ""

	// BuildTime is overridden at build time (RFC3339 recommended).
	BuildTime = ""
)

// Info is the build metadata reported by the version command and the
// startup log line.
type Info struct {
	Service   string `json:"service" yaml:"service"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Current returns the build metadata for the running binary.
func Current(serviceName string) Info {
	return Info{
		Service:   fallback(serviceName, Unknown),
		Version:   fallback(AppVersion, "dev"),
		Commit:    fallback(GitCommit, vcsRevision()),
		BuildTime: fallback(BuildTime, Unknown),
		GoVersion: runtime.Version(),
	}
}

// String returns a log-friendly one-line representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s, %s)",
		i.Service, i.Version, i.Commit, i.BuildTime, i.GoVersion)
}

func fallback(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// vcsRevision reads the commit hash stamped by the Go toolchain for
// module-aware builds. Returns Unknown for test binaries and builds
// outside a repository.
func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Unknown
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return setting.Value
		}
	}
	return Unknown
}
