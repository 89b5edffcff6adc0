package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/packages"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) (*paths.Paths, string) {
	t.Helper()
	root := t.TempDir()
	t.Setenv(paths.EnvStateDir, filepath.Join(root, "state"))
	t.Setenv(paths.EnvConfigDir, filepath.Join(root, "config"))
	t.Setenv(EnvConfigFile, "")
	for _, key := range []string{"FLUX_PROFILE", "FLUX_PACKAGE_BACKEND", "FLUX_USE_SUDO", "FLUX_OPERATION_TIMEOUT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	require.NoError(t, os.Unsetenv(EnvConfigFile))
	p, err := paths.New()
	require.NoError(t, err)
	return p, root
}

func TestLoadDefaults(t *testing.T) {
	p, _ := isolate(t)

	s, err := Load(LoadOptions{Paths: p})
	require.NoError(t, err)

	assert.Equal(t, paths.ExpandHome("~/.dotfiles"), s.RepoPath)
	assert.Equal(t, "default", s.Profile)
	assert.Equal(t, types.ResolutionAuto, s.Resolution)
	assert.Equal(t, packages.BackendAuto, s.Backend)
	assert.Equal(t, 5*time.Minute, s.OperationTimeout)
	assert.Equal(t, time.Duration(0), s.LockWait)
	assert.True(t, s.Journal)
	assert.False(t, s.UseSudo)
	assert.Equal(t, p.BackupRoot(), s.BackupDir)
	assert.Equal(t, p.StagingRoot(), s.StagingDir)
	assert.Empty(t, s.ConfigFile)
}

func TestLoadLayering(t *testing.T) {
	p, root := isolate(t)
	require.NoError(t, os.MkdirAll(p.ConfigDir(), 0755))
	require.NoError(t, os.WriteFile(p.ConfigFile(), []byte(`
repo_path = "`+filepath.Join(root, "dots")+`"
profile = "laptop"
package_backend = "direct"
package_tool = "dnf"
operation_timeout = "90s"
`), 0644))

	t.Setenv("FLUX_PROFILE", "desktop")
	t.Setenv("FLUX_USE_SUDO", "true")

	s, err := Load(LoadOptions{
		Paths:     p,
		Overrides: map[string]interface{}{"package_backend": "broker"},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "dots"), s.RepoPath, "file")
	assert.Equal(t, "desktop", s.Profile, "env beats file")
	assert.True(t, s.UseSudo)
	assert.Equal(t, packages.BackendBroker, s.Backend, "overrides beat env")
	assert.Equal(t, packages.ToolDnf, s.PackageTool)
	assert.Equal(t, 90*time.Second, s.OperationTimeout)
	assert.Equal(t, p.ConfigFile(), s.ConfigFile)
}

func TestLoadExplicitConfigFileMustExist(t *testing.T) {
	p, root := isolate(t)
	_, err := Load(LoadOptions{Paths: p, ConfigFile: filepath.Join(root, "missing.toml")})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigLoad))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		override map[string]interface{}
		code     errors.ErrorCode
	}{
		{"resolution", map[string]interface{}{"symlink_resolution": "sideways"}, errors.ErrConfigValid},
		{"backend", map[string]interface{}{"package_backend": "apt"}, errors.ErrConfigValid},
		{"tool", map[string]interface{}{"package_tool": "pacman"}, errors.ErrConfigValid},
		{"negative wait", map[string]interface{}{"lock_wait": "-1s"}, errors.ErrConfigValid},
		{"duration", map[string]interface{}{"operation_timeout": "soon"}, errors.ErrConfigParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := isolate(t)
			_, err := Load(LoadOptions{Paths: p, Overrides: tt.override})
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetErrorCode(err))
		})
	}
}

func TestLoadMalformedUserFile(t *testing.T) {
	p, _ := isolate(t)
	require.NoError(t, os.MkdirAll(p.ConfigDir(), 0755))
	require.NoError(t, os.WriteFile(p.ConfigFile(), []byte("profile = \n"), 0644))

	_, err := Load(LoadOptions{Paths: p})
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigParse))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "package_backend", envKey("FLUX_PACKAGE_BACKEND"))
	assert.Equal(t, "", envKey(EnvConfigFile))
	assert.Equal(t, "", envKey(paths.EnvStateDir))
}

func TestDefaultConfigContent(t *testing.T) {
	assert.Contains(t, DefaultConfigContent(), `package_backend = "auto"`)
}
