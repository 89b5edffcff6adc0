package types

import (
	"fmt"
	"strings"
)

// LatestVersion is the version requirement satisfied by any installed version
const LatestVersion = "latest"

// Resolution governs how a managed file is linked to its repository source
type Resolution string

const (
	// ResolutionAuto links relatively when possible and accepts any link resolving to the source
	ResolutionAuto Resolution = "auto"
	// ResolutionRelative always links with a path relative to the destination's directory
	ResolutionRelative Resolution = "relative"
	// ResolutionAbsolute always links with the source's absolute path
	ResolutionAbsolute Resolution = "absolute"
	// ResolutionFollow links to the fully resolved source, following any symlinks in it
	ResolutionFollow Resolution = "follow"
	// ResolutionReplace copies the source instead of linking
	ResolutionReplace Resolution = "replace"
)

// ParseResolution parses a resolution mode, defaulting the empty string to auto
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return ResolutionAuto, nil
	case ResolutionAuto, ResolutionRelative, ResolutionAbsolute, ResolutionFollow, ResolutionReplace:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resolution mode %q", s)
	}
}

// Scope selects which service manager instance a service belongs to
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeSystem Scope = "system"
)

// ParseScope parses a service scope, defaulting the empty string to user
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case "":
		return ScopeUser, nil
	case ScopeUser, ScopeSystem:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown service scope %q", s)
	}
}

// PackageDecl is one declared package requirement
type PackageDecl struct {
	Name string `json:"name" yaml:"name"`
	// Version is an exact version or LatestVersion
	Version string `json:"version" yaml:"version"`
	// Absent asks for the package to be removed when installed
	Absent bool `json:"absent,omitempty" yaml:"absent,omitempty"`
}

// ServiceDecl is one declared service state
type ServiceDecl struct {
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Running bool   `json:"running" yaml:"running"`
	Scope   Scope  `json:"scope" yaml:"scope"`
}

// FileDecl is one managed file
type FileDecl struct {
	ID          string     `json:"id" yaml:"id"`
	Source      string     `json:"source" yaml:"source"`
	Destination string     `json:"destination" yaml:"destination"`
	Resolution  Resolution `json:"resolution" yaml:"resolution"`
	// Absent asks for a link to Source at Destination to be removed
	Absent bool `json:"absent,omitempty" yaml:"absent,omitempty"`
}

// DeclaredState is the parsed user declaration. Slices keep declaration
// order, which the diff engine preserves within each phase.
type DeclaredState struct {
	Packages []PackageDecl `json:"packages" yaml:"packages"`
	Services []ServiceDecl `json:"services" yaml:"services"`
	Files    []FileDecl    `json:"files" yaml:"files"`
}

// EntryKind classifies what lives at a filesystem path
type EntryKind int

const (
	EntryAbsent EntryKind = iota
	EntrySymlink
	EntryRegular
	EntryDirectory
)

func (k EntryKind) String() string {
	switch k {
	case EntryAbsent:
		return "absent"
	case EntrySymlink:
		return "symlink"
	case EntryRegular:
		return "regular"
	case EntryDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Entry describes a filesystem path without following a final symlink
type Entry struct {
	Kind EntryKind `json:"kind"`
	// Target is the raw link text for symlinks
	Target string `json:"target,omitempty"`
	// ContentHash is set for regular files and directories
	ContentHash string `json:"content_hash,omitempty"`
}

// Exists reports whether anything is present at the path
func (e Entry) Exists() bool { return e.Kind != EntryAbsent }

// ServiceStatus is the queried enabled/running pair of a service. Fixed
// marks a unit whose enablement cannot be changed with enable/disable,
// such as a unit without an install section.
type ServiceStatus struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
	Fixed   bool `json:"fixed,omitempty"`
}

// ServiceKey identifies a service within a scope
type ServiceKey struct {
	Name  string
	Scope Scope
}

func (k ServiceKey) String() string { return string(k.Scope) + "/" + k.Name }

// FileObservation is what was found for one declared file
type FileObservation struct {
	Destination Entry `json:"destination"`
	Source      Entry `json:"source"`
	// SourceResolved is the source with every symlink evaluated, empty if it cannot be resolved
	SourceResolved string `json:"source_resolved,omitempty"`
}

// ActualState is a fresh observation of the live system. It is never persisted.
type ActualState struct {
	PackagesAvailable bool
	Packages          map[string]string

	ServicesAvailable bool
	Services          map[ServiceKey]ServiceStatus

	// Files is keyed by destination path
	Files map[string]FileObservation
}

// NewActualState returns an ActualState with initialized maps
func NewActualState() ActualState {
	return ActualState{
		Packages: make(map[string]string),
		Services: make(map[ServiceKey]ServiceStatus),
		Files:    make(map[string]FileObservation),
	}
}

// Key identifies the declared service, defaulting an unset scope to user
func (d ServiceDecl) Key() ServiceKey {
	scope := d.Scope
	if scope == "" {
		scope = ScopeUser
	}
	return ServiceKey{Name: d.Name, Scope: scope}
}
