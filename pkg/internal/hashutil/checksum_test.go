package hashutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/internal/hashutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileChecksum(t *testing.T) {
	fsys := filesystem.NewOS()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("Hello, World!\n"), 0644))

	sum, err := hashutil.FileChecksum(fsys, path)
	require.NoError(t, err)
	assert.Len(t, sum, 71) // "sha256:" + 64 hex chars
	assert.Equal(t, hashutil.BytesChecksum([]byte("Hello, World!\n")), sum)

	_, err = hashutil.FileChecksum(fsys, "/non/existent/file")
	assert.Error(t, err)
}

func TestTreeChecksum(t *testing.T) {
	fsys := filesystem.NewOS()
	build := func(content string) string {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a"), []byte(content), 0644))
		require.NoError(t, os.Symlink("sub/a", filepath.Join(root, "link")))
		return root
	}

	one, err := hashutil.TreeChecksum(fsys, build("x"))
	require.NoError(t, err)
	two, err := hashutil.TreeChecksum(fsys, build("x"))
	require.NoError(t, err)
	three, err := hashutil.TreeChecksum(fsys, build("y"))
	require.NoError(t, err)

	assert.Equal(t, one, two)
	assert.NotEqual(t, one, three)
}
