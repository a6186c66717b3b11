package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Linker-overridable build metadata.
var (
	Version    = "0.1.0"
	CommitHash = ""
	BuildDate  = ""
)

// Info is normalized build metadata for display.
type Info struct {
	Version    string
	CommitHash string
	BuildDate  string
	GoVersion  string
}

// Current returns build metadata from linker overrides, with runtime build
// settings as fallback when available.
func Current() Info {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		bi = nil
	}
	return resolve(Version, CommitHash, BuildDate, bi)
}

func resolve(version, commit, date string, bi *debug.BuildInfo) Info {
	info := Info{
		Version:    strings.TrimSpace(version),
		CommitHash: strings.TrimSpace(commit),
		BuildDate:  strings.TrimSpace(date),
		GoVersion:  runtime.Version(),
	}

	var vcsRevision, vcsTime string
	vcsDirty := false
	if bi != nil {
		if (info.Version == "" || info.Version == "0.1.0") && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		if bi.GoVersion != "" {
			info.GoVersion = bi.GoVersion
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				vcsRevision = strings.TrimSpace(s.Value)
			case "vcs.time":
				vcsTime = strings.TrimSpace(s.Value)
			case "vcs.modified":
				vcsDirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
			}
		}
	}

	if info.CommitHash == "" {
		info.CommitHash = vcsRevision
		if info.CommitHash != "" && vcsDirty && !strings.HasSuffix(info.CommitHash, "-dirty") {
			info.CommitHash += "-dirty"
		}
	}
	if info.BuildDate == "" {
		info.BuildDate = vcsTime
	}
	if parsed, err := time.Parse(time.RFC3339, info.BuildDate); err == nil {
		info.BuildDate = parsed.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.CommitHash == "" {
		info.CommitHash = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

// ShortCommit returns the first 12 characters of the commit hash, keeping
// a -dirty suffix.
func (i Info) ShortCommit() string {
	hash, dirty := strings.CutSuffix(i.CommitHash, "-dirty")
	if len(hash) > 12 {
		hash = hash[:12]
	}
	if dirty {
		hash += "-dirty"
	}
	return hash
}

// String is the one-line form printed by `switchyard version`.
func (i Info) String() string {
	return fmt.Sprintf("switchyard %s (commit %s, built %s, %s)", i.Version, i.ShortCommit(), i.BuildDate, i.GoVersion)
}
