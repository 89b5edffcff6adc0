package packages

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   []string
	outputs map[string]string
	fail    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, fail: map[string]error{}}
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, line)
	if err, ok := r.fail[line]; ok {
		return "", err
	}
	return r.outputs[line], nil
}

func TestDirectDnfListInstalled(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["dnf repoquery --installed --queryformat %{name} %{version}\n"] = "bash 5.2.26\ngit 2.44.0\n\nbroken\n"
	m := NewDirect(ToolDnf, false, runner)

	installed, err := m.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bash": "5.2.26", "git": "2.44.0"}, installed)
}

func TestDirectDnfInstallAndRemove(t *testing.T) {
	runner := newFakeRunner()
	m := NewDirect(ToolDnf, true, runner)
	ctx := context.Background()

	require.NoError(t, m.Install(ctx, "git", types.LatestVersion))
	require.NoError(t, m.Install(ctx, "ripgrep", "14.1.0"))
	require.NoError(t, m.Remove(ctx, "nano"))

	assert.Equal(t, []string{
		"sudo dnf install -y git",
		"sudo dnf install -y ripgrep-14.1.0",
		"sudo dnf remove -y nano",
	}, runner.calls)
}

func TestDirectInstallFailurePropagates(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["dnf install -y nosuch"] = errors.New(errors.ErrCommand, "exit status 1")
	m := NewDirect(ToolDnf, false, runner)

	err := m.Install(context.Background(), "nosuch", types.LatestVersion)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCommand))
}

func TestDirectDnfCheckConflicts(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["dnf repoquery --conflicts podman-docker"] = "docker-ce\nmoby-engine < 20\nmoby-engine\n"
	runner.outputs["dnf repoquery --installed --queryformat %{name} %{version}\n"] = "moby-engine 24.0.5\nbash 5.2\n"
	m := NewDirect(ToolDnf, false, runner)

	conflicts, err := m.CheckConflicts(context.Background(), "podman-docker")
	require.NoError(t, err)
	assert.Equal(t, []string{"moby-engine"}, conflicts)
}

func TestDirectBrew(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["brew list --versions"] = "jq 1.6 1.7.1\nfzf 0.46.0\n"
	m := NewDirect(ToolBrew, true, runner)
	ctx := context.Background()

	installed, err := m.ListInstalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.7.1", installed["jq"])

	require.NoError(t, m.Install(ctx, "python", "3.12"))
	require.NoError(t, m.Remove(ctx, "fzf"))
	assert.Contains(t, runner.calls, "brew install python@3.12", "brew never runs under sudo")
	assert.Contains(t, runner.calls, "brew uninstall fzf")

	conflicts, err := m.CheckConflicts(ctx, "jq")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDirectUnknownTool(t *testing.T) {
	m := NewDirect("pacman", false, newFakeRunner())
	_, err := m.ListInstalled(context.Background())
	assert.True(t, errors.IsErrorCode(err, errors.ErrBackendUnavailable))
}

func TestDetectTool(t *testing.T) {
	only := func(names ...string) func(string) bool {
		return func(n string) bool {
			for _, name := range names {
				if name == n {
					return true
				}
			}
			return false
		}
	}

	tool, ok := DetectTool(only("brew", "dnf"))
	assert.True(t, ok)
	assert.Equal(t, ToolDnf, tool)

	tool, ok = DetectTool(only("brew"))
	assert.True(t, ok)
	assert.Equal(t, ToolBrew, tool)

	_, ok = DetectTool(only())
	assert.False(t, ok)
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendAuto, "auto": BackendAuto, "Direct": BackendDirect, "broker": BackendBroker} {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			got, err := ParseBackend(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
	_, err := ParseBackend("zypper")
	assert.Error(t, err)
}
