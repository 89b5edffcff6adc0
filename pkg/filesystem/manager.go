package filesystem

import (
	stderrors "errors"
	"io/fs"
	"path/filepath"

	"github.com/Chrono-byte/flux/pkg/errors"
	"github.com/Chrono-byte/flux/pkg/internal/hashutil"
	"github.com/Chrono-byte/flux/pkg/logging"
	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Manager is the file capability. The first four methods realize the file
// operations of a diff; the rest exist so a transaction can validate,
// stage and undo them.
type Manager interface {
	EntryKind(path string) (types.Entry, error)
	CreateSymlink(source, target string, res types.Resolution) error
	RemoveSymlink(target string) error
	BackupAndReplace(source, target, backupPath string, res types.Resolution) error

	// ResolvePath evaluates every symlink in path
	ResolvePath(path string) (string, error)
	// Writable fails unless the nearest existing ancestor of path is writable
	Writable(path string) error
	// Stage copies source into the staging area at staged
	Stage(source, staged string) error
	// Restore puts the content saved at backupPath back at target
	Restore(backupPath, target string) error
	// RestoreLink atomically points target at linkText
	RestoreLink(linkText, target string) error
	// RemoveEntry removes whatever lives at target; absent is not an error
	RemoveEntry(target string) error
}

// OSManager implements Manager on top of a types.FS
type OSManager struct {
	fs     types.FS
	logger zerolog.Logger
	// access is swapped in tests
	access func(path string, mode uint32) error
}

// NewManager creates a file backend over fsys
func NewManager(fsys types.FS) *OSManager {
	return &OSManager{
		fs:     fsys,
		logger: logging.GetLogger("filesystem"),
		access: unix.Access,
	}
}

// EntryKind inspects path without following a final symlink
func (m *OSManager) EntryKind(path string) (types.Entry, error) {
	info, err := m.fs.Lstat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return types.Entry{Kind: types.EntryAbsent}, nil
		}
		return types.Entry{}, errors.Wrapf(err, errors.ErrFileAccess, "cannot inspect %s", path)
	}

	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		target, err := m.fs.Readlink(path)
		if err != nil {
			return types.Entry{}, errors.Wrapf(err, errors.ErrFileAccess, "cannot read link %s", path)
		}
		return types.Entry{Kind: types.EntrySymlink, Target: target}, nil
	case mode.IsDir():
		sum, err := hashutil.TreeChecksum(m.fs, path)
		if err != nil {
			return types.Entry{}, errors.Wrapf(err, errors.ErrFileAccess, "cannot hash directory %s", path)
		}
		return types.Entry{Kind: types.EntryDirectory, ContentHash: sum}, nil
	default:
		sum, err := hashutil.FileChecksum(m.fs, path)
		if err != nil {
			return types.Entry{}, errors.Wrapf(err, errors.ErrFileAccess, "cannot hash %s", path)
		}
		return types.Entry{Kind: types.EntryRegular, ContentHash: sum}, nil
	}
}

// ResolvePath evaluates every symlink in path
func (m *OSManager) ResolvePath(path string) (string, error) {
	resolved, err := m.fs.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

// Writable checks the nearest existing ancestor of path for write access
func (m *OSManager) Writable(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	for {
		info, err := m.fs.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return errors.Newf(errors.ErrFileAccess, "%s is not a directory", dir)
			}
			if err := m.access(dir, unix.W_OK); err != nil {
				return errors.Wrapf(err, errors.ErrFileAccess, "%s is not writable", dir)
			}
			return nil
		}
		if !stderrors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, errors.ErrFileAccess, "cannot inspect %s", dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return errors.Newf(errors.ErrFileAccess, "no existing ancestor for %s", path)
		}
		dir = parent
	}
}

// CreateSymlink links target to source, replacing an existing link. For
// replace resolution a copy of source is placed instead. Regular files and
// directories at target are never overwritten.
func (m *OSManager) CreateSymlink(source, target string, res types.Resolution) error {
	if err := m.refuseNonLink(target); err != nil {
		return err
	}
	if err := m.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrSymlinkCreate, "cannot create parent of %s", target)
	}
	return m.place(source, target, res)
}

// RemoveSymlink removes the link at target. Anything else at target is an error.
func (m *OSManager) RemoveSymlink(target string) error {
	entry, err := m.EntryKind(target)
	if err != nil {
		return err
	}
	switch entry.Kind {
	case types.EntryAbsent:
		return nil
	case types.EntrySymlink:
		if err := m.fs.Remove(target); err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "cannot remove link %s", target)
		}
		return nil
	default:
		return errors.Newf(errors.ErrFileAccess, "%s is a %s, not a symlink", target, entry.Kind)
	}
}

// BackupAndReplace copies whatever lives at target to backupPath, then
// places the link (or copy) for source at target. An existing backupPath
// is never overwritten.
func (m *OSManager) BackupAndReplace(source, target, backupPath string, res types.Resolution) error {
	info, err := m.fs.Lstat(target)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "nothing to back up at %s", target)
	}
	if _, err := m.fs.Lstat(backupPath); err == nil {
		return errors.Newf(errors.ErrFileAccess, "backup path %s already exists", backupPath)
	}

	if err := m.fs.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot create backup directory for %s", backupPath)
	}
	if err := m.copyTree(target, backupPath); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot back up %s", target)
	}
	m.logger.Debug().Str("target", target).Str("backup", backupPath).Msg("Backed up destination")

	if info.IsDir() {
		if err := m.fs.RemoveAll(target); err != nil {
			return m.restoreAfter(err, backupPath, target)
		}
	}
	if err := m.place(source, target, res); err != nil {
		if info.IsDir() {
			return m.restoreAfter(err, backupPath, target)
		}
		return err
	}
	return nil
}

func (m *OSManager) restoreAfter(cause error, backupPath, target string) error {
	if rerr := m.Restore(backupPath, target); rerr != nil {
		return errors.Wrapf(stderrors.Join(cause, rerr), errors.ErrFileAccess,
			"replacing %s failed and the original could not be restored from %s", target, backupPath)
	}
	return errors.Wrapf(cause, errors.ErrFileAccess, "cannot replace %s", target)
}

// Stage copies source to staged, creating parents
func (m *OSManager) Stage(source, staged string) error {
	if err := m.fs.MkdirAll(filepath.Dir(staged), 0700); err != nil {
		return errors.Wrapf(err, errors.ErrResource, "cannot create staging directory for %s", staged)
	}
	if err := m.copyTree(source, staged); err != nil {
		return errors.Wrapf(err, errors.ErrResource, "cannot stage %s", source)
	}
	return nil
}

// Restore copies the backup back to target, replacing what is there now
func (m *OSManager) Restore(backupPath, target string) error {
	info, err := m.fs.Lstat(backupPath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "backup %s is missing", backupPath)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		linkText, err := m.fs.Readlink(backupPath)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "cannot read backup link %s", backupPath)
		}
		return m.RestoreLink(linkText, target)
	}
	if err := m.placeCopy(backupPath, target); err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot restore %s from %s", target, backupPath)
	}
	return nil
}

// RestoreLink atomically points target at linkText
func (m *OSManager) RestoreLink(linkText, target string) error {
	if err := m.refuseDirectory(target); err != nil {
		return err
	}
	if err := m.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrSymlinkCreate, "cannot create parent of %s", target)
	}
	return m.placeLink(linkText, target)
}

// RemoveEntry removes whatever lives at target
func (m *OSManager) RemoveEntry(target string) error {
	info, err := m.fs.Lstat(target)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot inspect %s", target)
	}
	if info.IsDir() {
		err = m.fs.RemoveAll(target)
	} else {
		err = m.fs.Remove(target)
	}
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot remove %s", target)
	}
	return nil
}

func (m *OSManager) place(source, target string, res types.Resolution) error {
	if res == types.ResolutionReplace {
		if err := m.placeCopy(source, target); err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "cannot copy %s to %s", source, target)
		}
		return nil
	}

	var resolved string
	if res == types.ResolutionFollow {
		r, err := m.ResolvePath(source)
		if err != nil {
			return errors.Wrapf(err, errors.ErrSymlinkCreate, "cannot resolve %s", source)
		}
		resolved = r
	}
	linkText, err := LinkText(source, resolved, target, res)
	if err != nil {
		return errors.Wrap(err, errors.ErrSymlinkCreate, "cannot compute link text")
	}
	return m.placeLink(linkText, target)
}

func (m *OSManager) placeLink(linkText, target string) error {
	tmp := tempSibling(target)
	if err := m.fs.Symlink(linkText, tmp); err != nil {
		return errors.Wrapf(err, errors.ErrSymlinkCreate, "cannot create link %s", tmp)
	}
	if err := m.fs.Rename(tmp, target); err != nil {
		_ = m.fs.Remove(tmp)
		return errors.Wrapf(err, errors.ErrSymlinkCreate, "cannot move link into place at %s", target)
	}
	m.logger.Debug().Str("target", target).Str("link", linkText).Msg("Placed symlink")
	return nil
}

// placeCopy copies source next to target and renames it into place. A
// directory copy cannot be renamed over a non-directory, so whatever is at
// target is removed first in that case.
func (m *OSManager) placeCopy(source, target string) error {
	if err := m.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp := tempSibling(target)
	if err := m.copyTree(source, tmp); err != nil {
		_ = m.fs.RemoveAll(tmp)
		return err
	}

	srcInfo, err := m.fs.Lstat(tmp)
	if err != nil {
		return err
	}
	if existing, err := m.fs.Lstat(target); err == nil && (srcInfo.IsDir() || existing.IsDir()) {
		if err := m.RemoveEntry(target); err != nil {
			_ = m.fs.RemoveAll(tmp)
			return err
		}
	}
	if err := m.fs.Rename(tmp, target); err != nil {
		_ = m.fs.RemoveAll(tmp)
		return err
	}
	return nil
}

// copyTree copies files, directories and links from src to dst, keeping permissions
func (m *OSManager) copyTree(src, dst string) error {
	info, err := m.fs.Lstat(src)
	if err != nil {
		return err
	}

	switch mode := info.Mode(); {
	case mode&fs.ModeSymlink != 0:
		linkText, err := m.fs.Readlink(src)
		if err != nil {
			return err
		}
		return m.fs.Symlink(linkText, dst)
	case mode.IsDir():
		if err := m.fs.MkdirAll(dst, 0700); err != nil {
			return err
		}
		entries, err := m.fs.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := m.copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return m.fs.Chmod(dst, mode.Perm())
	default:
		data, err := m.fs.ReadFile(src)
		if err != nil {
			return err
		}
		if err := m.fs.WriteFile(dst, data, mode.Perm()); err != nil {
			return err
		}
		return m.fs.Chmod(dst, mode.Perm())
	}
}

func (m *OSManager) refuseNonLink(target string) error {
	info, err := m.fs.Lstat(target)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot inspect %s", target)
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return errors.Newf(errors.ErrSymlinkCreate, "refusing to overwrite non-symlink %s", target)
	}
	return nil
}

func (m *OSManager) refuseDirectory(target string) error {
	info, err := m.fs.Lstat(target)
	if err == nil && info.IsDir() {
		return errors.Newf(errors.ErrSymlinkCreate, "refusing to replace directory %s with a link", target)
	}
	return nil
}

func tempSibling(target string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".flux-"+uuid.NewString()[:8])
}
