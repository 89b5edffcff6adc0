package config

import (
	"os"
	"strings"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/packages"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every settings environment variable
	EnvPrefix = "FLUX_"
	// EnvConfigFile points at an alternative user config file
	EnvConfigFile = "FLUX_CONFIG"
)

// Settings are flux's own options
type Settings struct {
	RepoPath                string        `koanf:"repo_path"`
	BackupDir               string        `koanf:"backup_dir"`
	StagingDir              string        `koanf:"staging_dir"`
	Profile                 string        `koanf:"profile"`
	SymlinkResolution       string        `koanf:"symlink_resolution"`
	PackageBackend          string        `koanf:"package_backend"`
	PackageTool             string        `koanf:"package_tool"`
	UseSudo                 bool          `koanf:"use_sudo"`
	OperationTimeout        time.Duration `koanf:"operation_timeout"`
	LockWait                time.Duration `koanf:"lock_wait"`
	TolerateMissingBackends bool          `koanf:"tolerate_missing_backends"`
	Journal                 bool          `koanf:"journal"`
	MetricsTextfile         string        `koanf:"metrics_textfile"`

	// Resolution and Backend are the parsed forms, filled by Load
	Resolution types.Resolution `koanf:"-"`
	Backend    packages.Backend `koanf:"-"`
	// ConfigFile is the user config file that was read, if any
	ConfigFile string `koanf:"-"`
}

// LoadOptions tweaks where settings come from
type LoadOptions struct {
	// ConfigFile overrides $FLUX_CONFIG and the XDG location
	ConfigFile string
	// Overrides are applied last, keyed like the config file
	Overrides map[string]interface{}
	// Paths supplies default state locations; resolved with paths.New when nil
	Paths *paths.Paths
}

// Load reads, layers and validates the settings
func Load(opts LoadOptions) (*Settings, error) {
	logger := logging.GetLogger("config")

	p := opts.Paths
	if p == nil {
		var err error
		if p, err = paths.New(); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "cannot resolve flux directories")
		}
	}

	k := koanf.New(".")

	// 1. Built-in defaults
	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "failed to load defaults")
	}

	// 2. User config file
	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(EnvConfigFile)
	}
	explicit := configFile != ""
	if !explicit {
		configFile = p.ConfigFile()
	}
	configFile = paths.ExpandHome(configFile)
	loaded := ""
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to load config from %s", configFile).
				WithDetail("path", configFile)
		}
		loaded = configFile
		logger.Debug().Str("path", configFile).Msg("Loaded user config")
	} else if explicit {
		return nil, errors.Wrapf(err, errors.ErrConfigLoad, "config file %s not found", configFile).
			WithDetail("path", configFile)
	}

	// 3. Environment
	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load env vars")
	}

	// 4. Caller overrides
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to apply overrides")
		}
	}

	var s Settings
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &s,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &s, unmarshalConf); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "failed to unmarshal configuration")
	}
	s.ConfigFile = loaded

	if err := s.finish(p); err != nil {
		return nil, err
	}
	return &s, nil
}

// envKey maps FLUX_PACKAGE_BACKEND to package_backend. Variables that
// select directories rather than settings are skipped.
func envKey(name string) string {
	switch name {
	case EnvConfigFile, paths.EnvStateDir, paths.EnvConfigDir:
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
}

// finish validates enumerations and fills derived paths
func (s *Settings) finish(p *paths.Paths) error {
	res, err := types.ParseResolution(s.SymlinkResolution)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValid, "invalid symlink_resolution")
	}
	s.Resolution = res

	backend, err := packages.ParseBackend(s.PackageBackend)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValid, "invalid package_backend")
	}
	s.Backend = backend

	switch s.PackageTool {
	case "", packages.ToolDnf, packages.ToolBrew:
	default:
		return errors.Newf(errors.ErrConfigValid, "invalid package_tool %q, want %s or %s",
			s.PackageTool, packages.ToolDnf, packages.ToolBrew)
	}

	if s.OperationTimeout < 0 || s.LockWait < 0 {
		return errors.New(errors.ErrConfigValid, "operation_timeout and lock_wait must not be negative")
	}
	if strings.TrimSpace(s.Profile) == "" {
		s.Profile = "default"
	}

	if s.RepoPath == "" {
		return errors.New(errors.ErrConfigValid, "repo_path is empty")
	}
	s.RepoPath = paths.ExpandHome(s.RepoPath)
	s.BackupDir = paths.ExpandHome(s.BackupDir)
	if s.BackupDir == "" {
		s.BackupDir = p.BackupRoot()
	}
	s.StagingDir = paths.ExpandHome(s.StagingDir)
	if s.StagingDir == "" {
		s.StagingDir = p.StagingRoot()
	}
	s.MetricsTextfile = paths.ExpandHome(s.MetricsTextfile)
	return nil
}
