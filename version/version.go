package version

import (
	"fmt"
	"runtime"
)

// Name is the program name reported by GET / and the CLI.
const Name = "gemstore"

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the release version reported to clients
	Version = "0.1"
)

// Info contains version and build information
type Info struct {
	Name       string `json:"name"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		Name:       Name,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	if i.CommitHash != "dev" {
		return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Short(), i.BuildTime)
	}
	return fmt.Sprintf("%s %s (dev build)", i.Name, i.Version)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
