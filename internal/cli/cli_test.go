package cli

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Chrono-byte/flux/pkg/apply"
	"github.com/Chrono-byte/flux/pkg/config"
	"github.com/Chrono-byte/flux/pkg/packages"
	"github.com/Chrono-byte/flux/pkg/paths"
	"github.com/Chrono-byte/flux/pkg/testutil"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/Chrono-byte/flux/pkg/ui"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const declaration = `
[services.syncthing]
scope = "user"

[tools.git]
files = [{ repo = "gitconfig", dest = ".gitconfig" }]
`

type stubConfirmer struct {
	answer bool
	asked  int
}

func (s *stubConfirmer) Confirm(string, string) (bool, error) {
	s.asked++
	return s.answer, nil
}

type cliFixture struct {
	t       *testing.T
	tree    *testutil.Tree
	svcs    *testutil.FakeServices
	confirm *stubConfirmer
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	tree := testutil.NewTree(t)
	configDir := filepath.Join(tree.Root, "config")
	t.Setenv("XDG_STATE_HOME", filepath.Join(tree.Root, "xdg-state"))
	t.Setenv(paths.EnvStateDir, tree.State)
	t.Setenv(paths.EnvConfigDir, configDir)
	for _, key := range []string{config.EnvConfigFile, "FLUX_PROFILE", "FLUX_JOURNAL", "FLUX_USE_SUDO", "FLUX_PACKAGE_BACKEND"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	require.NoError(t, os.MkdirAll(configDir, 0o755))
	settings := fmt.Sprintf("repo_path = %q\n", tree.Repo)
	require.NoError(t, os.WriteFile(filepath.Join(configDir, paths.ConfigFileName), []byte(settings), 0o644))
	tree.RepoFile(paths.DeclarationFileName, declaration)
	tree.RepoFile("git/gitconfig", "[user]\n")

	return &cliFixture{
		t:       t,
		tree:    tree,
		svcs:    testutil.NewFakeServices(nil),
		confirm: &stubConfirmer{},
	}
}

func (f *cliFixture) exec(args ...string) int {
	f.t.Helper()
	f.stdout.Reset()
	f.stderr.Reset()
	deps := dependencies{
		setup: func(ctx context.Context, opts apply.SetupOptions) (*apply.Environment, error) {
			opts.Selector = packages.Selector{
				LookPath: func(string) bool { return false },
				Dial:     func() (packages.Bus, error) { return nil, stderrors.New("no system bus") },
			}
			opts.Services = f.svcs
			opts.Home = f.tree.Home
			return apply.Setup(ctx, opts)
		},
		confirmer: func() ui.Confirmer { return f.confirm },
	}
	root := newRootCmd(deps)
	root.SetOut(&f.stdout)
	root.SetErr(&f.stderr)
	return run(context.Background(), root, args)
}

func (f *cliFixture) syncthing() types.ServiceStatus {
	return f.svcs.State[types.ServiceKey{Name: "syncthing", Scope: types.ScopeUser}]
}

func TestApplyDryRun(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("apply", "--dry-run", "--format", "text")

	assert.Equal(t, apply.ExitOK, code)
	assert.Contains(t, f.stdout.String(), "Plan (dry run)")
	assert.Contains(t, f.stdout.String(), "enable syncthing (user)")
	assert.Equal(t, 0, f.confirm.asked)
	assert.NoFileExists(t, f.tree.HomePath(".gitconfig"))
	assert.Empty(t, f.svcs.Calls)
}

func TestApplyYesThenStatusIsClean(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("apply", "--yes", "-m", "first run", "--format", "text")
	require.Equal(t, apply.ExitOK, code, f.stderr.String())

	assert.Equal(t, 0, f.confirm.asked)
	assert.Contains(t, f.stdout.String(), "[verified] transaction")
	assert.Equal(t, filepath.Join("..", "repo", "git", "gitconfig"), f.tree.Readlink(f.tree.HomePath(".gitconfig")))
	assert.Equal(t, types.ServiceStatus{Enabled: true, Running: true}, f.syncthing())

	code = f.exec("status", "--exit-code", "--format", "text")
	assert.Equal(t, apply.ExitOK, code)
	assert.Contains(t, f.stdout.String(), "Nothing to do")

	code = f.exec("history", "--format", "json")
	require.Equal(t, apply.ExitOK, code, f.stderr.String())
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "first run", entries[0]["description"])
	assert.Equal(t, "verified", entries[0]["state"])
}

func TestApplyAsksForConfirmation(t *testing.T) {
	f := newCLIFixture(t)
	f.confirm.answer = false

	code := f.exec("apply", "--format", "text")

	assert.Equal(t, apply.ExitOK, code)
	assert.Equal(t, 1, f.confirm.asked)
	assert.Contains(t, f.stdout.String(), "Aborted")
	assert.NoFileExists(t, f.tree.HomePath(".gitconfig"))
}

func TestApplyRolledBackExitCode(t *testing.T) {
	f := newCLIFixture(t)
	f.svcs.Fail["start syncthing"] = stderrors.New("unit failed to start")

	code := f.exec("apply", "--yes", "--format", "text")

	assert.Equal(t, apply.ExitRolledBack, code)
	assert.Contains(t, f.stdout.String(), "[rolled_back]")
	assert.NoFileExists(t, f.tree.HomePath(".gitconfig"))
	assert.Equal(t, types.ServiceStatus{}, f.syncthing())
}

func TestStatusExitCodeOnDrift(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("status", "--exit-code", "--format", "json")

	assert.Equal(t, apply.ExitFailed, code)
	var plan map[string]interface{}
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &plan))
	assert.Contains(t, plan, "diff")
}

func TestConfigErrorsExitOne(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("apply", "--backend", "apt", "--format", "json")

	assert.Equal(t, apply.ExitFailed, code)
	var rendered map[string]interface{}
	require.NoError(t, json.Unmarshal(f.stderr.Bytes(), &rendered))
	assert.Equal(t, "CONFIG_INVALID", rendered["code"])
}

func TestUnknownFormat(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("status", "--format", "xml")

	assert.Equal(t, apply.ExitFailed, code)
	assert.Contains(t, f.stderr.String(), "unknown format: xml")
}

func TestUnknownFlag(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("apply", "--bogus")

	assert.Equal(t, apply.ExitFailed, code)
	assert.Contains(t, f.stderr.String(), "unknown flag: --bogus")
}

func TestVersionCmd(t *testing.T) {
	f := newCLIFixture(t)

	code := f.exec("version")

	assert.Equal(t, apply.ExitOK, code)
	assert.Contains(t, f.stdout.String(), "flux version dev")
}

func TestManCmd(t *testing.T) {
	f := newCLIFixture(t)
	dir := filepath.Join(f.tree.Root, "man")

	code := f.exec("man", dir)

	require.Equal(t, apply.ExitOK, code, f.stderr.String())
	assert.FileExists(t, filepath.Join(dir, "flux.1"))
	assert.FileExists(t, filepath.Join(dir, "flux-apply.1"))
}

func TestSelectionOverrides(t *testing.T) {
	var sel selectionFlags
	fs := pflag.NewFlagSet("apply", pflag.ContinueOnError)
	sel.register(fs)
	require.NoError(t, fs.Parse([]string{"--profile", "work", "--sudo"}))

	assert.Equal(t, map[string]interface{}{"profile": "work", "use_sudo": true}, sel.overrides(fs))
}

func TestRestoreAfterApply(t *testing.T) {
	f := newCLIFixture(t)
	gitconfig := f.tree.HomeFile(".gitconfig", "[user]\n\tname = old\n")

	code := f.exec("apply", "--yes", "--format", "text")
	require.Equal(t, apply.ExitOK, code, f.stderr.String())
	assert.Equal(t, "[user]\n", f.tree.Read(gitconfig))

	code = f.exec("history", "--format", "json")
	require.Equal(t, apply.ExitOK, code, f.stderr.String())
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &entries))
	require.Len(t, entries, 1)
	id := entries[0]["id"].(string)

	code = f.exec("restore", "--list", id, "--format", "json")
	require.Equal(t, apply.ExitOK, code, f.stderr.String())
	var listed ui.Backups
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &listed))
	require.Len(t, listed.Backups, 1)
	assert.Equal(t, gitconfig, listed.Backups[0].Target)
	assert.False(t, listed.Restored)
	assert.Equal(t, "[user]\n", f.tree.Read(gitconfig))

	code = f.exec("restore", id, gitconfig, "--format", "text")
	require.Equal(t, apply.ExitOK, code, f.stderr.String())
	assert.Contains(t, f.stdout.String(), "Restored from "+id)
	assert.Equal(t, "[user]\n\tname = old\n", f.tree.Read(gitconfig))

	code = f.exec("restore", "tx-missing")
	assert.Equal(t, apply.ExitFailed, code)
}
