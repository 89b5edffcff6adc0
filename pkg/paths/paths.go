// Package paths provides centralized path handling for flux.
// State, staging and backup locations live under the XDG base directories
// and can be overridden through the environment.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/adrg/xdg"
)

// Environment variable names
const (
	// EnvStateDir overrides the XDG state directory for flux
	EnvStateDir = "FLUX_STATE_DIR"

	// EnvConfigDir overrides the XDG config directory for flux
	EnvConfigDir = "FLUX_CONFIG_DIR"

	// EnvHome is the standard home directory variable
	EnvHome = "HOME"
)

// Fixed names inside the flux state directory. These are not user-configurable.
const (
	// FluxDirName is the directory name for flux-specific files
	FluxDirName = "flux"

	// StagingDirName holds per-transaction staging directories
	StagingDirName = "staging"

	// BackupDirName holds backups of replaced destinations, keyed by transaction id
	BackupDirName = "backups"

	// LockFileName is the advisory lock guarding managed state
	LockFileName = "flux.lock"

	// JournalFileName is the sqlite transaction journal
	JournalFileName = "journal.db"

	// ConfigFileName is the tool settings file inside the config directory
	ConfigFileName = "config.toml"

	// DeclarationFileName is the declared-state file inside the repository
	DeclarationFileName = "flux.toml"
)

// Paths resolves every on-disk location flux reads or writes outside the
// managed destinations themselves.
type Paths struct {
	stateDir  string
	configDir string
}

// New creates a Paths instance honoring FLUX_STATE_DIR and FLUX_CONFIG_DIR.
func New() (*Paths, error) {
	p := &Paths{}

	if dir := os.Getenv(EnvStateDir); dir != "" {
		p.stateDir = ExpandHome(dir)
	} else if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		p.stateDir = filepath.Join(stateHome, FluxDirName)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrFileAccess, "cannot determine home directory")
		}
		p.stateDir = filepath.Join(home, ".local", "state", FluxDirName)
	}

	if dir := os.Getenv(EnvConfigDir); dir != "" {
		p.configDir = ExpandHome(dir)
	} else {
		p.configDir = filepath.Join(xdg.ConfigHome, FluxDirName)
	}

	abs, err := filepath.Abs(p.stateDir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to get absolute path for %s", p.stateDir)
	}
	p.stateDir = abs

	return p, nil
}

// StateDir is the root of flux's own persistent state
func (p *Paths) StateDir() string { return p.stateDir }

// ConfigDir is where the tool settings file lives
func (p *Paths) ConfigDir() string { return p.configDir }

// ConfigFile is the tool settings file
func (p *Paths) ConfigFile() string { return filepath.Join(p.configDir, ConfigFileName) }

// StagingRoot is the parent of per-transaction staging directories
func (p *Paths) StagingRoot() string { return filepath.Join(p.stateDir, StagingDirName) }

// BackupRoot is the default backup root when the settings do not name one
func (p *Paths) BackupRoot() string { return filepath.Join(p.stateDir, BackupDirName) }

// LockPath is the advisory lock file acquired by every transaction
func (p *Paths) LockPath() string { return filepath.Join(p.stateDir, LockFileName) }

// JournalPath is the sqlite journal database
func (p *Paths) JournalPath() string { return filepath.Join(p.stateDir, JournalFileName) }

// DeclarationFile returns the declared-state file inside a repository
func DeclarationFile(repoPath string) string {
	return filepath.Join(ExpandHome(repoPath), DeclarationFileName)
}

// ExpandHome expands a leading ~ to the user's home directory
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv(EnvHome)
		if homeDir == "" {
			return path
		}
	}

	if len(path) == 1 {
		return homeDir
	}
	if path[1] == '/' {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// HomeRelative returns path relative to the home directory. ok is false
// when path lies outside it; rel is then path without its leading
// separator.
func HomeRelative(path string) (rel string, ok bool) {
	clean := filepath.Clean(path)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if r, err := filepath.Rel(home, clean); err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) && r != "." {
			return r, true
		}
	}
	return strings.TrimLeft(clean, string(filepath.Separator)), false
}
