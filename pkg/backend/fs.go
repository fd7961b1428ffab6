// Package backend defines the minimal byte-addressable file store that the
// replication engine is built on. It is a capability interface, not tied to
// any specific backend's error vocabulary: callers inject a concrete FS
// (pkg/backend/local, pkg/backend/s3, ...) and the engine never imports a
// backend package directly.
package backend

import (
	"context"
	"time"
)

// Stat describes a path on the backend. Fields beyond Size and IsDir are
// informational; the replication engine only ever consults Size.
type Stat struct {
	IsDir      bool
	Size       int64
	Checksum   string
	CreateTime time.Time
	ModTime    time.Time
}

// FS is the abstract backend filesystem contract (spec §4.4). Implementations
// must provide durable single-operation writes; atomicity across operations
// is the caller's responsibility (that caller is pkg/replication).
type FS interface {
	// Exists reports whether path refers to an existing file or directory.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns metadata for path. It returns an error satisfying
	// errtypes.IsNotFound if path does not exist.
	Stat(ctx context.Context, path string) (Stat, error)

	// Read returns up to n bytes starting at offset. A short read (fewer
	// than n bytes, file permitting) is acceptable; callers that require
	// an exact length must check len(result).
	Read(ctx context.Context, path string, offset int64, n int) ([]byte, error)

	// Write durably stores buf at offset, extending the file if needed.
	Write(ctx context.Context, path string, offset int64, buf []byte) error

	// Truncate resizes path to exactly size bytes. Backends that cannot
	// shrink files (append-only object stores) return an error satisfying
	// errtypes.IsUsage when asked to shrink.
	Truncate(ctx context.Context, path string, size int64) error

	// Rename moves oldPath to newPath. Implementations are not required to
	// replace an existing newPath; the engine only ever renames into a
	// destination it has already verified absent.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Unlink removes path. Unlinking a path that does not exist is not an
	// error.
	Unlink(ctx context.Context, path string) error

	// MakeDirs creates the directory hierarchy for path, including any
	// missing parents.
	MakeDirs(ctx context.Context, path string) error
}
