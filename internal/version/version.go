package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is set via ldflags during build:
	// go build -ldflags "-X github.com/r9s-ai/dashgate/internal/version.Version=v1.2.3"
	Version = "dev"

	// Commit is set via -X github.com/r9s-ai/dashgate/internal/version.Commit=abc123
	Commit = "unknown"

	// BuildDate (RFC3339) is set via -X github.com/r9s-ai/dashgate/internal/version.BuildDate=...
	BuildDate = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("dashgate %s\ncommit: %s\nbuilt at: %s\ngo version: %s\nplatform: %s",
		i.Version, i.Commit, i.BuildDate, i.GoVersion, i.Platform)
}

// Short is the version plus an abbreviated commit when one is known.
func Short() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return fmt.Sprintf("%s (%s)", Version, Commit[:7])
	}
	return Version
}
