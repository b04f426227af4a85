package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestApplyBuildSettings(t *testing.T) {
	tests := []struct {
		name        string
		settings    []debug.BuildSetting
		wantVersion string
		wantCommit  string
	}{
		{
			name: "clean checkout",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.time", Value: "2026-03-04T10:00:00Z"},
				{Key: "vcs.modified", Value: "false"},
			},
			wantVersion: "dev-20260304",
			wantCommit:  "0123456",
		},
		{
			name: "dirty short revision",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc"},
				{Key: "vcs.modified", Value: "true"},
			},
			wantCommit: "abc-dirty",
		},
		{name: "no vcs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldV, oldC := Version, Commit
			t.Cleanup(func() { Version, Commit = oldV, oldC })
			Version, Commit = "", ""

			applyBuildSettings(tt.settings)
			if Version != tt.wantVersion || Commit != tt.wantCommit {
				t.Errorf("got %q/%q, want %q/%q", Version, Commit, tt.wantVersion, tt.wantCommit)
			}
		})
	}
}

func TestApplyBuildSettings_KeepsLdflags(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })
	Version, Commit = "v1.2.3", "feedbee"

	applyBuildSettings([]debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789"}})
	if Version != "v1.2.3" || Commit != "feedbee" {
		t.Errorf("ldflags values overwritten: %q/%q", Version, Commit)
	}
}

func TestFullAndGet(t *testing.T) {
	if !strings.Contains(Full(), Version) || !strings.Contains(Full(), Commit) {
		t.Errorf("Full() = %q", Full())
	}
	info := Get()
	if info.Version != Version || info.Go == "" || info.OS == "" {
		t.Errorf("Get() = %+v", info)
	}
}
