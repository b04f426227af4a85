package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/jetsoncontrols/ha-nax/internal/version.Version=v1.2.3 \
//	                   -X github.com/jetsoncontrols/ha-nax/internal/version.Commit=abc123"
//
// Unset values come from the VCS stamp in the build info, then fall back
// to "dev".
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		populateFromBuildInfo()
	}
	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func populateFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	applyBuildSettings(info.Settings)
}

func applyBuildSettings(settings []debug.BuildSetting) {
	var revision, modified, vcsTime string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if Commit == "" && revision != "" {
		Commit = revision[:min(len(revision), 7)]
		if modified == "true" {
			Commit += "-dirty"
		}
	}
	if Version == "" && vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			Version = fmt.Sprintf("dev-%s", t.Format("20060102"))
		}
	}
}

// Full returns the version with its commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Info is the version block served by the HTTP API and printed by
// "naxctl version --json".
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

// Get returns the running binary's Info.
func Get() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
}
