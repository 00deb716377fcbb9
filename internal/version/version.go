package version

import (
	"runtime"
	"strings"
)

// Set at build time with -ldflags "-X civicreport/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

func Current() Info {
	out := Info{
		Version:   strings.TrimSpace(Version),
		Commit:    strings.TrimSpace(Commit),
		BuildTime: strings.TrimSpace(BuildTime),
		GoVersion: runtime.Version(),
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	if out.Commit == "" {
		out.Commit = "unknown"
	}
	return out
}

func (i Info) String() string {
	s := "civicreport " + i.Version + " (" + i.Commit
	if i.BuildTime != "" {
		s += ", built " + i.BuildTime
	}
	return s + ", " + i.GoVersion + ")"
}
