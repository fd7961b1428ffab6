// Package local implements backend.FS over a POSIX directory tree, guarding
// Read and Write with a per-path advisory lock (github.com/gofrs/flock) the
// way github.com/cs3org/reva/pkg/storage/utils/filelocks guards node access.
// Exists, Stat, Truncate, Rename, Unlink and MakeDirs take no lock.
// It is grounded on src/sgfsdriver/plugins/local/local.py from the original
// Python driver, which serializes every call under a single re-entrant lock;
// here the lock is scoped per path instead, since the replication engine
// above already serializes access to a given replica.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/sgfsdriver/replica/internal/logging"
	"github.com/sgfsdriver/replica/pkg/backend"
	"github.com/sgfsdriver/replica/pkg/errtypes"
)

// FS is a backend.FS rooted at a work directory on the local machine.
type FS struct {
	root string
}

// Options configures the local backend.
type Options struct {
	// WorkRoot is the directory all driver paths are resolved relative to.
	WorkRoot string
}

// New returns a local backend rooted at opts.WorkRoot. The root must already
// exist.
func New(opts Options) (*FS, error) {
	if opts.WorkRoot == "" {
		return nil, errtypes.Usage("WorkRoot must not be empty")
	}
	if _, err := os.Stat(opts.WorkRoot); err != nil {
		return nil, errors.Wrap(err, "work root does not exist")
	}
	return &FS{root: opts.WorkRoot}, nil
}

func (f *FS) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Join(f.root, strings.TrimPrefix(p, "/"))
	}
	return filepath.Join(f.root, p)
}

// lockPath acquires an advisory exclusive lock on a sidecar ".lock" file
// next to p, and returns the unlock func. Any failure to create or lock the
// lock file is returned as an error, and the caller's operation does not
// proceed.
func (f *FS) lockPath(p string) (func(), error) {
	lk := flock.New(p + ".lock")
	if err := lk.Lock(); err != nil {
		return nil, errors.Wrap(err, "advisory lock")
	}
	return func() { _ = lk.Unlock() }, nil
}

// Exists implements backend.FS.
func (f *FS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(f.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat")
}

// Stat implements backend.FS.
func (f *FS) Stat(_ context.Context, path string) (backend.Stat, error) {
	fi, err := os.Stat(f.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return backend.Stat{}, errtypes.NotFound(path)
		}
		return backend.Stat{}, errors.Wrap(err, "stat")
	}
	return backend.Stat{
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}, nil
}

// Read implements backend.FS.
func (f *FS) Read(_ context.Context, path string, offset int64, n int) ([]byte, error) {
	unlock, err := f.lockPath(f.resolve(path))
	if err != nil {
		return nil, err
	}
	defer unlock()

	file, err := os.Open(f.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(path)
		}
		return nil, errors.Wrap(err, "open")
	}
	defer file.Close()

	buf := make([]byte, n)
	read, err := file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read")
	}
	return buf[:read], nil
}

// Write implements backend.FS.
func (f *FS) Write(ctx context.Context, path string, offset int64, buf []byte) error {
	resolved := f.resolve(path)
	unlock, err := f.lockPath(resolved)
	if err != nil {
		return err
	}
	defer unlock()

	file, err := os.OpenFile(resolved, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer file.Close()

	if _, err := file.WriteAt(buf, offset); err != nil {
		return errors.Wrap(err, "write")
	}
	logging.FromContext(ctx).Debug().Str("path", path).Int64("offset", offset).Int("bytes", len(buf)).Msg("local write")
	return file.Sync()
}

// Truncate implements backend.FS.
func (f *FS) Truncate(_ context.Context, path string, size int64) error {
	if err := os.Truncate(f.resolve(path), size); err != nil {
		if os.IsNotExist(err) {
			return errtypes.NotFound(path)
		}
		return errors.Wrap(err, "truncate")
	}
	return nil
}

// Rename implements backend.FS.
func (f *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := os.Rename(f.resolve(oldPath), f.resolve(newPath)); err != nil {
		return errors.Wrap(err, "rename")
	}
	logging.FromContext(ctx).Debug().Str("old", oldPath).Str("new", newPath).Msg("local rename")
	return nil
}

// Unlink implements backend.FS.
func (f *FS) Unlink(ctx context.Context, path string) error {
	if err := os.Remove(f.resolve(path)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "unlink")
	}
	logging.FromContext(ctx).Debug().Str("path", path).Msg("local unlink")
	return nil
}

// MakeDirs implements backend.FS.
func (f *FS) MakeDirs(_ context.Context, path string) error {
	if err := os.MkdirAll(f.resolve(path), 0o755); err != nil {
		return errors.Wrap(err, "make dirs")
	}
	return nil
}
