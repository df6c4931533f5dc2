package config

import "runtime/debug"

// Set at link time, for example:
//
//	go build -ldflags "-X scheduledpayments/internal/config.version=1.2.3"
//
// commit and buildTime may be left unset: they are then taken from the VCS
// stamp the go command embeds in the binary.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

// NewBuildInfo returns the build metadata, linker values first.
func NewBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	var modified bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "none" && s.Value != "" {
				info.Commit = s.Value
				if len(info.Commit) > 12 {
					info.Commit = info.Commit[:12]
				}
			}
		case "vcs.time":
			if info.BuildTime == "unknown" && s.Value != "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if modified && info.Commit != "none" && commit == "none" {
		info.Commit += "-dirty"
	}
	return info
}
