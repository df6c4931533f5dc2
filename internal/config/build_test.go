package config

import (
	"runtime/debug"
	"testing"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo, ok bool) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, ok }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestNewBuildInfo_Defaults(t *testing.T) {
	withBuildInfo(t, nil, false)

	info := NewBuildInfo()
	want := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}
	if info != want {
		t.Errorf("NewBuildInfo() = %+v, want %+v", info, want)
	}
}

func TestNewBuildInfo_VCSStamp(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}}, true)

	info := NewBuildInfo()
	if info.Commit != "0123456789ab-dirty" {
		t.Errorf("Commit = %q, want short dirty revision", info.Commit)
	}
	if info.BuildTime != "2026-10-01T08:00:00Z" {
		t.Errorf("BuildTime = %q", info.BuildTime)
	}
	if info.Version != "dev" {
		t.Errorf("Version = %q, want dev", info.Version)
	}
}

func TestNewBuildInfo_LinkerValuesWin(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "fedcba9876543210"},
	}}, true)
	origCommit := commit
	commit = "abc1234"
	t.Cleanup(func() { commit = origCommit })

	if got := NewBuildInfo().Commit; got != "abc1234" {
		t.Errorf("Commit = %q, want linker value", got)
	}
}
