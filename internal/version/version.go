package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/kairos-io/diskcore/internal/version.version=..."
var (
	version   = ""
	gitCommit = ""
)

// BuildInfo is what the binary knows about how it was built.
type BuildInfo struct {
	Version   string `json:"version,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// GetVersion is the release version, falling back to the module version
// recorded by the go tool and then to "dev".
func GetVersion() string {
	return Get().Version
}

func Get() BuildInfo {
	info := BuildInfo{Version: version, GitCommit: gitCommit, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.GitCommit == "" {
		info.GitCommit = "none"
	}
	return info
}
