// Package buildinfo identifies the running agent binary.
//
// The identity shows up in three places: the "origin" block of the Home
// Assistant discovery payload, the "who" of the logind sleep inhibitor,
// and the output of the version command. Release builds stamp the
// variables below with
//
//	go build -ldflags "-X github.com/nugget/hostreporter/internal/buildinfo.Version=v1.2.3 \
//	    -X github.com/nugget/hostreporter/internal/buildinfo.GitCommit=$(git rev-parse --short HEAD)"
//
// Unstamped builds report "dev" and "unknown".
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Name is the agent name advertised as discovery origin and used as
// the logind inhibitor owner.
const Name = "hostreporter"

// SupportURL is advertised in the discovery origin block.
const SupportURL = "https://github.com/nugget/hostreporter"

// Stamped by -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Fields lists the keys of [Info] in display order.
var Fields = []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch", "uptime"}

// Info returns the build metadata keyed by [Fields].
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since the process started, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("%s %s (%s@%s) built %s", Name, Version, GitCommit, GitBranch, BuildTime)
}
