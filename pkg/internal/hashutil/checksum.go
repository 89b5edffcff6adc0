package hashutil

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/Chrono-byte/flux/pkg/types"
)

// BytesChecksum returns the "sha256:<hex>" checksum of data
func BytesChecksum(data []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}

// FileChecksum calculates the SHA256 checksum of a regular file
func FileChecksum(fsys types.FS, name string) (string, error) {
	data, err := fsys.ReadFile(name)
	if err != nil {
		return "", err
	}
	return BytesChecksum(data), nil
}

// TreeChecksum hashes a directory tree. Relative paths, entry kinds, link
// targets and file contents all contribute, in sorted order.
func TreeChecksum(fsys types.FS, root string) (string, error) {
	h := sha256.New()
	write := func(s string) { _, _ = h.Write([]byte(s)) }
	if err := hashTree(fsys, root, "", write); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func hashTree(fsys types.FS, dir, rel string, write func(string)) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		name := filepath.Join(rel, entry.Name())
		info, err := fsys.Lstat(full)
		if err != nil {
			return err
		}
		mode := info.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			target, err := fsys.Readlink(full)
			if err != nil {
				return err
			}
			write("l " + name + " " + target + "\n")
		case mode.IsDir():
			write("d " + name + "\n")
			if err := hashTree(fsys, full, name, write); err != nil {
				return err
			}
		case mode.IsRegular():
			sum, err := FileChecksum(fsys, full)
			if err != nil {
				return err
			}
			write(fmt.Sprintf("f %s %o %s\n", name, mode.Perm(), sum))
		default:
			write("o " + name + "\n")
		}
	}
	return nil
}
