package replication

import (
	"context"
	"path"
	"sync"

	"github.com/pkg/errors"

	"github.com/sgfsdriver/replica/pkg/backend"
	"github.com/sgfsdriver/replica/pkg/errtypes"
)

// incompleteSuffix is the reserved file-name suffix for a replica's
// transactional shadow (spec §6).
const incompleteSuffix = "part"

// Replica is the public component of the block replication engine: it owns
// a data path, an undo log, a metadata sidecar, and a transactional state
// (spec §2, §4.3). It is grounded on the replica class in
// src/sgfsdriver/lib/replication.py, re-architected per spec §9 around a
// single non-reentrant mutex: public methods lock and delegate to unexported
// "Locked" helpers that assume the lock is already held, rather than the
// Python original's re-entrant lock shared across public methods that call
// each other directly.
type Replica struct {
	mu sync.Mutex

	fs             backend.FS
	blockSize      uint32
	dataPath       string
	incompletePath string

	log  *undoLog
	meta *metaFile

	inTransaction bool
	fileExists    bool

	// loggedIDs bounds the undo log to one snapshot per block id for the
	// lifetime of the current transaction (spec §9 open question: only the
	// first snapshot is needed for correct rollback).
	loggedIDs map[int64]bool
}

func incompletePath(dataPath string) string { return dataPath + "." + incompleteSuffix }

// Open constructs a Replica for the logical path p. Its initial state is
// derived entirely from what exists on the backend: IN_TX if p+".part"
// exists, COMMITTED otherwise (spec §4.3.1). Open never mutates on-disk
// state; callers must call FixConsistency before using the replica.
func Open(ctx context.Context, fs backend.FS, p string, blockSize uint32) (*Replica, error) {
	if blockSize == 0 {
		return nil, errtypes.Usage("block_size must be positive")
	}

	r := &Replica{
		fs:             fs,
		blockSize:      blockSize,
		dataPath:       p,
		incompletePath: incompletePath(p),
	}

	log, err := openUndoLog(ctx, fs, p)
	if err != nil {
		return nil, err
	}
	r.log = log

	meta, err := openMetaFile(ctx, fs, p)
	if err != nil {
		return nil, err
	}
	r.meta = meta

	exists, err := fs.Exists(ctx, r.dataPath)
	if err != nil {
		return nil, errors.Wrap(err, "check data path existence")
	}
	if exists {
		r.fileExists = true
	} else {
		partExists, err := fs.Exists(ctx, r.incompletePath)
		if err != nil {
			return nil, errors.Wrap(err, "check incomplete path existence")
		}
		if partExists {
			r.fileExists = true
			r.inTransaction = true
		}
	}

	return r, nil
}

func (r *Replica) makeParentDirsLocked(ctx context.Context, p string) error {
	parent := path.Dir(p)
	if err := r.fs.MakeDirs(ctx, parent); err != nil {
		return &errtypes.BackendIO{Op: "make_dirs", Path: parent, Err: err}
	}
	return nil
}

// FixConsistency is the idempotent, open-time recovery primitive: it
// normalizes any on-disk state into COMMITTED (spec §4.3.1, §4.3.4).
func (r *Replica) FixConsistency(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fixConsistencyLocked(ctx)
}

func (r *Replica) fixConsistencyLocked(ctx context.Context) error {
	if r.fileExists {
		if r.inTransaction {
			if err := r.rollbackLocked(ctx); err != nil {
				return err
			}
		} else {
			if err := r.meta.compactBlockMeta(ctx, true); err != nil {
				return err
			}
			expectedSize := r.meta.getDataFileSize()
			st, err := r.fs.Stat(ctx, r.dataPath)
			if err != nil {
				return errors.Wrap(err, "stat data path")
			}
			if expectedSize != uint64(st.Size) {
				if err := r.fs.Truncate(ctx, r.dataPath, int64(expectedSize)); err != nil {
					return &errtypes.BackendIO{Op: "truncate", Path: r.dataPath, Err: err}
				}
			}
		}
	}
	return r.log.clear(ctx)
}

// BeginTransaction moves a COMMITTED replica into IN_TX: P is renamed to
// P.part (if it exists) and the pre-transaction file size is recorded in
// the undo log's event log.
func (r *Replica) BeginTransaction(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inTransaction {
		return errtypes.StateViolation("already in transaction")
	}

	var fileSize int64
	if r.fileExists {
		st, err := r.fs.Stat(ctx, r.dataPath)
		if err != nil {
			return errors.Wrap(err, "stat data path")
		}
		fileSize = st.Size
		if err := r.fs.Rename(ctx, r.dataPath, r.incompletePath); err != nil {
			return &errtypes.BackendIO{Op: "rename", Path: r.dataPath, Err: err}
		}
	}

	if err := r.log.clear(ctx); err != nil {
		return err
	}
	if err := r.log.writeEventLog(ctx, sizeEventLog{Size: fileSize}, true); err != nil {
		return err
	}
	r.loggedIDs = make(map[int64]bool)
	r.inTransaction = true
	return nil
}

// Commit moves an IN_TX replica back to COMMITTED, making its writes
// durable: the undo log is cleared, the metadata sidecar is synced, P.part
// is truncated to the sidecar's reported size, and renamed to P. If the
// sidecar reports zero bytes, P.part and the sidecar are removed instead
// (spec §4.3.1).
func (r *Replica) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inTransaction {
		return errtypes.StateViolation("not in transaction")
	}

	if err := r.log.clear(ctx); err != nil {
		return err
	}
	if err := r.meta.sync(ctx); err != nil {
		return err
	}

	fileSize := r.meta.getDataFileSize()
	if fileSize > 0 {
		if err := r.fs.Truncate(ctx, r.incompletePath, int64(fileSize)); err != nil {
			return &errtypes.BackendIO{Op: "truncate", Path: r.incompletePath, Err: err}
		}
		if err := r.fs.Rename(ctx, r.incompletePath, r.dataPath); err != nil {
			return &errtypes.BackendIO{Op: "rename", Path: r.incompletePath, Err: err}
		}
		r.fileExists = true
	} else if r.fileExists {
		if err := r.fs.Unlink(ctx, r.incompletePath); err != nil {
			return &errtypes.BackendIO{Op: "unlink", Path: r.incompletePath, Err: err}
		}
		if err := r.meta.clear(ctx); err != nil {
			return err
		}
		r.fileExists = false
	}

	r.inTransaction = false
	r.loggedIDs = nil
	return nil
}

// Rollback reverses every block log entry of the current transaction,
// restores the pre-transaction file size, and returns the replica to
// COMMITTED (spec §4.3.1).
func (r *Replica) Rollback(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbackLocked(ctx)
}

func (r *Replica) rollbackLocked(ctx context.Context) error {
	if !r.inTransaction {
		return errtypes.StateViolation("not in transaction")
	}

	blockLogs := r.log.blockLogs
	if len(blockLogs) > 0 {
		restores := make([]rawWrite, 0, len(blockLogs))
		for _, bl := range blockLogs {
			if len(bl.Data) > 0 {
				restores = append(restores, rawWrite{ID: bl.ID, Data: bl.Data[:bl.Size]})
			}

			flag := FlagEmpty
			if len(bl.Data) > 0 {
				flag = FlagDataIn
			}
			if err := r.meta.writeBlockMeta(ctx, bl.ID, BlockMeta{Flag: flag, Version: bl.Version, Size: bl.Size}, false); err != nil {
				return err
			}
		}
		if err := r.writeRawBlocksLocked(ctx, restores); err != nil {
			return err
		}
	}

	var newFileSize int64
	for _, el := range r.log.eventLogs {
		newFileSize = el.Size
	}

	if r.fileExists {
		if newFileSize > 0 {
			if err := r.fs.Truncate(ctx, r.incompletePath, newFileSize); err != nil {
				return &errtypes.BackendIO{Op: "truncate", Path: r.incompletePath, Err: err}
			}
		} else {
			if err := r.fs.Unlink(ctx, r.incompletePath); err != nil {
				return &errtypes.BackendIO{Op: "unlink", Path: r.incompletePath, Err: err}
			}
			if err := r.meta.clear(ctx); err != nil {
				return err
			}
			r.fileExists = false
		}
	}

	if err := r.meta.sync(ctx); err != nil {
		return err
	}
	if err := r.log.clear(ctx); err != nil {
		return err
	}

	if r.fileExists {
		if err := r.fs.Rename(ctx, r.incompletePath, r.dataPath); err != nil {
			return &errtypes.BackendIO{Op: "rename", Path: r.incompletePath, Err: err}
		}
	}

	r.inTransaction = false
	r.loggedIDs = nil
	return nil
}

// rawWrite is a raw, block-addressed byte write against the incomplete
// path; it carries no version or flag, only physical bytes.
type rawWrite struct {
	ID   int64
	Data []byte
}

func (r *Replica) readRawBlockLocked(ctx context.Context, id int64, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	data, err := r.fs.Read(ctx, r.incompletePath, id*int64(r.blockSize), int(size))
	if err != nil {
		return nil, &errtypes.BackendIO{Op: "read", Path: r.incompletePath, Err: err}
	}
	if uint32(len(data)) != size {
		return nil, &errtypes.BackendIO{Op: "read", Path: r.incompletePath, Err: errors.New("short read")}
	}
	return data, nil
}

func (r *Replica) writeRawBlocksLocked(ctx context.Context, writes []rawWrite) error {
	for _, w := range writes {
		if len(w.Data) == 0 {
			continue
		}
		if err := r.fs.Write(ctx, r.incompletePath, w.ID*int64(r.blockSize), w.Data); err != nil {
			return &errtypes.BackendIO{Op: "write", Path: r.incompletePath, Err: err}
		}
		r.fileExists = true
	}
	return nil
}

// validateWriteRequests rejects malformed requests before any mutation
// happens, so a usage error never leaves partial on-disk effects.
func validateWriteRequests(reqs []WriteRequest) error {
	for _, req := range reqs {
		if req.ID < 0 {
			return errtypes.Usage("negative block id")
		}
		if req.Version == 0 {
			return errtypes.Usage("version 0 is reserved")
		}
		if len(req.Data) == 0 {
			return errtypes.Usage("write with empty data")
		}
	}
	return nil
}

// WriteDataBlocks writes a batch of versioned blocks within the current
// transaction (spec §4.3.2). For every block that already has live content,
// the old bytes are captured in the undo log and the slot is marked
// REF_LOG before the new bytes are written, so that a crash at any point
// leaves fix_consistency able to restore the pre-transaction block.
func (r *Replica) WriteDataBlocks(ctx context.Context, reqs []WriteRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inTransaction {
		return errtypes.StateViolation("not in transaction")
	}
	if err := validateWriteRequests(reqs); err != nil {
		return err
	}
	if len(reqs) == 0 {
		return nil
	}

	if r.fileExists {
		priorMeta := make([]BlockMeta, len(reqs))
		priorData := make([][]byte, len(reqs))
		for i, req := range reqs {
			priorMeta[i] = r.meta.readBlockMeta(req.ID)
			data, err := r.readRawBlockLocked(ctx, req.ID, priorMeta[i].Size)
			if err != nil {
				return err
			}
			priorData[i] = data
		}

		for i, req := range reqs {
			if !r.loggedIDs[req.ID] {
				if err := r.log.writeBlockLog(ctx, blockLog{
					ID:      req.ID,
					Data:    priorData[i],
					Version: priorMeta[i].Version,
					Size:    priorMeta[i].Size,
				}, false); err != nil {
					return err
				}
				r.loggedIDs[req.ID] = true
			}
			if err := r.meta.writeBlockMeta(ctx, req.ID, BlockMeta{
				Flag:    FlagRefLog,
				Version: priorMeta[i].Version,
				Size:    priorMeta[i].Size,
			}, false); err != nil {
				return err
			}
		}

		if err := r.log.sync(ctx); err != nil {
			return err
		}
		if err := r.meta.sync(ctx); err != nil {
			return err
		}
	} else {
		if err := r.makeParentDirsLocked(ctx, r.dataPath); err != nil {
			return err
		}
	}

	writes := make([]rawWrite, len(reqs))
	for i, req := range reqs {
		writes[i] = rawWrite{ID: req.ID, Data: req.Data}
	}
	if err := r.writeRawBlocksLocked(ctx, writes); err != nil {
		return err
	}

	for _, req := range reqs {
		if err := r.meta.writeBlockMeta(ctx, req.ID, BlockMeta{
			Flag:    FlagDataIn,
			Version: req.Version,
			Size:    uint32(len(req.Data)),
		}, false); err != nil {
			return err
		}
	}
	return r.meta.sync(ctx)
}

// ReadDataBlocks reads a batch of blocks outside any transaction (spec
// §4.3.2). A result's Data is nil whenever the requested version does not
// match the stored one, the slot is empty, or no data file exists: a
// version mismatch is a predicate for the caller to invalidate stale reads,
// not an error.
func (r *Replica) ReadDataBlocks(ctx context.Context, reqs []ReadRequest) ([]ReadResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inTransaction {
		return nil, errtypes.StateViolation("in transaction")
	}

	results := make([]ReadResult, 0, len(reqs))
	for _, req := range reqs {
		if req.ID < 0 {
			return nil, errtypes.Usage("negative block id")
		}

		meta := r.meta.readBlockMeta(req.ID)
		result := ReadResult{ID: req.ID, Version: req.Version}

		if meta.Version == req.Version && meta.Size > 0 && r.fileExists {
			data, err := r.fs.Read(ctx, r.dataPath, req.ID*int64(r.blockSize), int(meta.Size))
			if err != nil {
				return nil, &errtypes.BackendIO{Op: "read", Path: r.dataPath, Err: err}
			}
			if uint32(len(data)) != meta.Size {
				return nil, &errtypes.BackendIO{Op: "read", Path: r.dataPath, Err: errors.New("short read")}
			}
			result.Data = data
		}

		results = append(results, result)
	}
	return results, nil
}

// DeleteDataBlocks marks a batch of blocks empty within the current
// transaction, guarded by the version the caller expects to find (spec
// §4.3.2). A mismatched version leaves the slot untouched. The
// pre-transaction content of any block touched for the first time in this
// transaction is captured in the undo log first, symmetrically with
// WriteDataBlocks, so a crash mid-delete is as recoverable as a crash
// mid-write (the original driver omits this capture; spec P3 requires
// every crash point to be recoverable, so this port adds it).
func (r *Replica) DeleteDataBlocks(ctx context.Context, reqs []DeleteRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inTransaction {
		return errtypes.StateViolation("not in transaction")
	}
	if !r.fileExists {
		return nil
	}

	logged := false
	for _, req := range reqs {
		if req.ID < 0 {
			return errtypes.Usage("negative block id")
		}

		meta := r.meta.readBlockMeta(req.ID)
		if meta.Version != req.Version || meta.IsEmpty() {
			continue
		}

		if !r.loggedIDs[req.ID] {
			data, err := r.readRawBlockLocked(ctx, req.ID, meta.Size)
			if err != nil {
				return err
			}
			if err := r.log.writeBlockLog(ctx, blockLog{
				ID:      req.ID,
				Data:    data,
				Version: meta.Version,
				Size:    meta.Size,
			}, false); err != nil {
				return err
			}
			r.loggedIDs[req.ID] = true
			logged = true
		}

		if err := r.meta.deleteBlockMeta(ctx, req.ID, false); err != nil {
			return err
		}
	}

	if logged {
		if err := r.log.sync(ctx); err != nil {
			return err
		}
	}
	return r.meta.sync(ctx)
}

// Rename moves the replica's data file, metadata sidecar, and undo log to
// newPath, all or nothing (spec P7): the destination for all three is
// checked absent before any of them moves.
func (r *Replica) Rename(ctx context.Context, newPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inTransaction {
		return errtypes.StateViolation("in transaction")
	}

	if err := r.makeParentDirsLocked(ctx, newPath); err != nil {
		return err
	}

	for _, p := range []string{newPath, metaFilePath(newPath), undoLogPath(newPath)} {
		exists, err := r.fs.Exists(ctx, p)
		if err != nil {
			return errors.Wrap(err, "check rename destination")
		}
		if exists {
			return errtypes.NameConflict(p)
		}
	}

	if r.fileExists {
		if err := r.fs.Rename(ctx, r.dataPath, newPath); err != nil {
			return &errtypes.BackendIO{Op: "rename", Path: r.dataPath, Err: err}
		}
	}
	if err := r.meta.rename(ctx, newPath); err != nil {
		return err
	}
	if err := r.log.rename(ctx, newPath); err != nil {
		return err
	}

	r.dataPath = newPath
	r.incompletePath = incompletePath(newPath)
	return nil
}

// GetDataFileSize returns the sum of all block sizes recorded in the
// metadata sidecar, including holes (spec §4.3.2: authoritative truth comes
// from the sidecar, not from a backend stat call).
func (r *Replica) GetDataFileSize(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inTransaction {
		return 0, errtypes.StateViolation("in transaction")
	}
	return r.meta.getDataFileSize(), nil
}

// GetDataBlockLen returns the length of the metadata sidecar (one more than
// the highest live block id, per the compaction invariant I2).
func (r *Replica) GetDataBlockLen(ctx context.Context) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inTransaction {
		return 0, errtypes.StateViolation("in transaction")
	}
	return uint32(r.meta.getBlockMetaLen()), nil
}

// IsLogPath reports whether p is one of this package's reserved sidecar
// suffixes (.part, .meta, .undo), for directory-listing consumers that must
// suppress them (spec §6).
func IsLogPath(p string) bool {
	return isUndoLogPath(p) || isMetaPath(p) || isIncompletePath(p)
}

func isMetaPath(p string) bool {
	suffix := "." + metaFileSuffix
	return len(p) > len(suffix) && p[len(p)-len(suffix):] == suffix
}

func isIncompletePath(p string) bool {
	suffix := "." + incompleteSuffix
	return len(p) > len(suffix) && p[len(p)-len(suffix):] == suffix
}
