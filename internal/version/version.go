// Package version reports what build of the notifier is running.
package version

import "runtime/debug"

// Set at build time via -ldflags "-X".
var (
	Version   = "0.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build description served on /version.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build description. Commit and date fall back to the VCS
// stamp the Go toolchain embeds when ldflags did not set them.
func Get() Info {
	info := Info{Version: Version, Commit: GitCommit, BuildDate: BuildDate}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == "unknown":
			info.Commit = s.Value
		case s.Key == "vcs.time" && info.BuildDate == "unknown":
			info.BuildDate = s.Value
		}
	}
	return info
}
