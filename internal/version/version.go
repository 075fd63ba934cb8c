// Package version carries build metadata for the gateway binary.
// The variables are stamped with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit.
	// Set via: -ldflags "-X reviewgate/internal/version.Version=..."
	Version = "unknown"

	// BuildDate is the UTC build timestamp (RFC 3339).
	// Set via: -ldflags "-X reviewgate/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the full commit SHA.
	// Set via: -ldflags "-X reviewgate/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info is the build metadata plus per-process identity. InstanceID tells
// gateway replicas apart in logs and metrics when counters are shared.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process-wide Info, computed on first use.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func (i Info) String() string {
	return fmt.Sprintf("reviewgate %s (commit %s, built %s)", i.Version, i.GitCommit, i.BuildDate)
}
