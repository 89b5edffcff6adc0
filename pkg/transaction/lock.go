package transaction

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Chrono-byte/flux/pkg/errors"
	"golang.org/x/sys/unix"
)

// Lock is the exclusive advisory lock guarding managed state. Begin takes
// it for a transaction; other writers such as restore take it directly.
type Lock struct {
	path string
	file *os.File
}

var flockFn = unix.Flock
var lockSleep = time.Sleep

var lockPollEvery = 100 * time.Millisecond

// AcquireLock opens or creates path and takes an exclusive advisory lock on
// it, polling for up to wait. A zero wait fails fast.
func AcquireLock(ctx context.Context, path string, wait time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrResource, "cannot create lock directory for %s", path)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrResource, "cannot open lock file %s", path)
	}

	deadline := time.Now().Add(wait)
	for {
		err := flockFn(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !stderrors.Is(err, unix.EWOULDBLOCK) && !stderrors.Is(err, unix.EAGAIN) {
			_ = file.Close()
			return nil, errors.Wrapf(err, errors.ErrResource, "cannot lock %s", path)
		}
		if !time.Now().Before(deadline) || ctx.Err() != nil {
			_ = file.Close()
			return nil, errors.Newf(errors.ErrLockHeld, "another flux transaction holds %s", path).
				WithDetail("path", path).
				WithDetail("waited", wait.String())
		}
		lockSleep(lockPollEvery)
	}

	// the pid is informational only
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0)
	}
	return &Lock{path: path, file: file}, nil
}

// Release unlocks and closes the lock file. The file itself is left in
// place so that concurrent waiters keep locking the same inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	if err := flockFn(int(file.Fd()), unix.LOCK_UN); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
