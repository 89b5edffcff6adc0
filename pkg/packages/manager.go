// Package packages implements the package capability: a direct backend that
// shells out to the distribution's package tool and a broker backend that
// talks to PackageKit over D-Bus.
package packages

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Manager is the package capability consumed by the diff engine and the transaction
type Manager interface {
	// Name identifies the backend in logs and metadata
	Name() string
	IsAvailable(ctx context.Context) bool
	// ListInstalled maps installed package names to versions
	ListInstalled(ctx context.Context) (map[string]string, error)
	// Install installs name at version, or the newest version for types.LatestVersion
	Install(ctx context.Context, name, version string) error
	Remove(ctx context.Context, name string) error
	// CheckConflicts lists installed packages that installing name would displace
	CheckConflicts(ctx context.Context, name string) ([]string, error)
}

// Backend selects a package backend variant
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendDirect Backend = "direct"
	BackendBroker Backend = "broker"
)

// ParseBackend parses a backend name, defaulting the empty string to auto
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendDirect, BackendBroker:
		return b, nil
	default:
		return "", fmt.Errorf("unknown package backend %q (want auto, direct or broker)", s)
	}
}

// Options configures backend selection
type Options struct {
	Backend Backend
	// Tool forces the direct backend's tool (dnf or brew); empty detects one
	Tool string
	// UseSudo runs mutating direct-backend commands through sudo
	UseSudo bool
	// Timeout bounds each broker job
	Timeout time.Duration
}

// DefaultTimeout bounds broker jobs when no timeout is configured
const DefaultTimeout = 5 * time.Minute
