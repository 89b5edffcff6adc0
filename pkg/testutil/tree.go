package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tree is an isolated on-disk layout with a repository, a home directory
// and a state directory, all under t.TempDir()
type Tree struct {
	t     testing.TB
	Root  string
	Repo  string
	Home  string
	State string
}

// NewTree creates the directories of a Tree
func NewTree(t testing.TB) *Tree {
	t.Helper()
	root := t.TempDir()
	tr := &Tree{
		t:     t,
		Root:  root,
		Repo:  filepath.Join(root, "repo"),
		Home:  filepath.Join(root, "home"),
		State: filepath.Join(root, "state"),
	}
	for _, dir := range []string{tr.Repo, tr.Home, tr.State} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	return tr
}

// RepoFile writes a file inside the repository and returns its path
func (tr *Tree) RepoFile(rel, content string) string {
	return tr.write(filepath.Join(tr.Repo, rel), content)
}

// HomeFile writes a file inside the home directory and returns its path
func (tr *Tree) HomeFile(rel, content string) string {
	return tr.write(filepath.Join(tr.Home, rel), content)
}

// HomePath returns a path inside the home directory without creating it
func (tr *Tree) HomePath(rel string) string {
	return filepath.Join(tr.Home, rel)
}

// Read returns a file's content
func (tr *Tree) Read(path string) string {
	tr.t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(tr.t, err)
	return string(data)
}

// Readlink returns a symlink's text
func (tr *Tree) Readlink(path string) string {
	tr.t.Helper()
	text, err := os.Readlink(path)
	require.NoError(tr.t, err)
	return text
}

func (tr *Tree) write(path, content string) string {
	tr.t.Helper()
	require.NoError(tr.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(tr.t, os.WriteFile(path, []byte(content), 0644))
	return path
}
