package diff_test

import (
	"context"
	"os"
	"testing"

	"github.com/Chrono-byte/flux/pkg/diff"
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/testutil"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAndCompute(t *testing.T) {
	tree := testutil.NewTree(t)
	ctx := context.Background()

	vimrc := tree.RepoFile("vim/vimrc", "set number\n")
	bashrc := tree.RepoFile("bash/bashrc", "export EDITOR=vim\n")
	tree.HomeFile(".bashrc", "# distro default\n")

	declared := types.DeclaredState{
		Packages: []types.PackageDecl{{Name: "git", Version: types.LatestVersion}},
		Services: []types.ServiceDecl{{Name: "syncthing", Enabled: true, Running: true, Scope: types.ScopeUser}},
		Files: []types.FileDecl{
			{ID: "vimrc", Source: vimrc, Destination: tree.HomePath(".vimrc"), Resolution: types.ResolutionAuto},
			{ID: "bashrc", Source: bashrc, Destination: tree.HomePath(".bashrc"), Resolution: types.ResolutionAuto},
		},
	}
	backends := diff.Backends{
		Packages: testutil.NewFakePackages(nil),
		Services: testutil.NewFakeServices(nil),
		Files:    filesystem.NewManager(filesystem.NewOS()),
	}

	actual, err := diff.Observe(ctx, declared, backends)
	require.NoError(t, err)
	assert.True(t, actual.PackagesAvailable)
	assert.True(t, actual.ServicesAvailable)
	assert.Equal(t, types.EntryAbsent, actual.Files[tree.HomePath(".vimrc")].Destination.Kind)
	assert.Equal(t, types.EntryRegular, actual.Files[tree.HomePath(".bashrc")].Destination.Kind)

	o := diff.Options{BackupRoot: tree.State + "/backups", TransactionID: "tx"}
	got := diff.Compute(declared, actual, o).Operations()

	assert.Equal(t, []types.Operation{
		types.InstallPackage("git", types.LatestVersion),
		types.CreateSymlink(vimrc, tree.HomePath(".vimrc"), types.ResolutionAuto),
		types.BackupAndReplace(bashrc, tree.HomePath(".bashrc"),
			diff.BackupPath(o.BackupRoot, "tx", tree.HomePath(".bashrc")), types.ResolutionAuto),
		types.EnableService("syncthing", types.ScopeUser),
		types.StartService("syncthing", types.ScopeUser),
	}, got)
}

func TestObserveSatisfiedLinkProducesNoOperation(t *testing.T) {
	tree := testutil.NewTree(t)
	src := tree.RepoFile("git/gitconfig", "[user]\n")
	dest := tree.HomePath(".gitconfig")
	require.NoError(t, os.Symlink("../repo/git/gitconfig", dest))

	declared := types.DeclaredState{Files: []types.FileDecl{
		{ID: "git", Source: src, Destination: dest, Resolution: types.ResolutionRelative},
	}}
	backends := diff.Backends{Files: filesystem.NewManager(filesystem.NewOS())}

	actual, err := diff.Observe(context.Background(), declared, backends)
	require.NoError(t, err)
	assert.True(t, diff.Compute(declared, actual, diff.Options{}).IsEmpty())
}

func TestObserveUnavailableBackends(t *testing.T) {
	pkgs := testutil.NewFakePackages(map[string]string{"git": "2.44.0"})
	pkgs.Available = false
	svcs := testutil.NewFakeServices(nil)
	svcs.Available = false

	declared := types.DeclaredState{
		Packages: []types.PackageDecl{{Name: "git", Version: types.LatestVersion}},
		Services: []types.ServiceDecl{{Name: "sshd", Enabled: true, Scope: types.ScopeSystem}},
	}
	actual, err := diff.Observe(context.Background(), declared, diff.Backends{
		Packages: pkgs,
		Services: svcs,
	})
	require.NoError(t, err)
	assert.False(t, actual.PackagesAvailable)
	assert.False(t, actual.ServicesAvailable)

	// an unobservable backend reads as empty state
	ops := diff.Compute(declared, actual, diff.Options{}).Operations()
	assert.Equal(t, []types.Operation{
		types.InstallPackage("git", types.LatestVersion),
		types.EnableService("sshd", types.ScopeSystem),
	}, ops)
}

func TestObserveSkipsUndeclaredCategories(t *testing.T) {
	pkgs := testutil.NewFakePackages(map[string]string{"git": "2.44.0"})
	actual, err := diff.Observe(context.Background(), types.DeclaredState{}, diff.Backends{Packages: pkgs})
	require.NoError(t, err)
	assert.Empty(t, actual.Packages)
}
