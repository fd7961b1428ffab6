package replication_test

import (
	"context"
	"sync"
	"time"

	"github.com/sgfsdriver/replica/pkg/backend"
	"github.com/sgfsdriver/replica/pkg/errtypes"
)

// memFS is an in-memory backend.FS used across this package's tests. It
// gives tests deterministic, crash-free backing storage while still
// exercising every primitive the replication engine calls; crash-point
// testing (P3) is done by copying its files map and replaying up to a
// chosen call.
type memFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte)}
}

// clone returns a deep copy, used to snapshot state at a simulated crash
// point.
func (f *memFS) clone() *memFS {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := newMemFS()
	for k, v := range f.files {
		cp := make([]byte, len(v))
		copy(cp, v)
		out.files[k] = cp
	}
	return out
}

func (f *memFS) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok, nil
}

func (f *memFS) Stat(_ context.Context, path string) (backend.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return backend.Stat{}, errtypes.NotFound(path)
	}
	return backend.Stat{Size: int64(len(data)), ModTime: time.Unix(0, 0)}, nil
}

func (f *memFS) Read(_ context.Context, path string, offset int64, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, errtypes.NotFound(path)
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + int64(n)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (f *memFS) Write(_ context.Context, path string, offset int64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.files[path]
	need := int(offset) + len(buf)
	if need > len(data) {
		grown := make([]byte, need)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], buf)
	f.files[path] = data
	return nil
}

func (f *memFS) Truncate(_ context.Context, path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return errtypes.NotFound(path)
	}
	if int64(len(data)) == size {
		return nil
	}
	if int64(len(data)) > size {
		f.files[path] = data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, data)
	f.files[path] = grown
	return nil
}

func (f *memFS) Rename(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[oldPath]
	if !ok {
		return errtypes.NotFound(oldPath)
	}
	if _, exists := f.files[newPath]; exists {
		return errtypes.AlreadyExists(newPath)
	}
	f.files[newPath] = data
	delete(f.files, oldPath)
	return nil
}

func (f *memFS) Unlink(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

func (f *memFS) MakeDirs(context.Context, string) error { return nil }
