// Package replication implements the block replication engine: versioned,
// fixed-size blocks of a logical "replica file" stored on a backend.FS, with
// crash-consistent transactional updates guarded by an undo log and a
// metadata sidecar (spec §2-§4). It is grounded on
// src/sgfsdriver/lib/replication.py and src/sgfsdriver/lib/metadata.py from
// the original Python driver, re-architected per spec §9: tagged variants
// instead of stringly-typed flags, explicit binary framing instead of
// pickle, and a non-reentrant mutex with private locked helpers instead of
// a Python RLock shared across public methods that call each other.
package replication

// Flag is the state of a single block slot in the metadata sidecar.
type Flag uint8

const (
	// FlagEmpty means the slot is logically absent: a hole of zero length,
	// not zero bytes (spec I6).
	FlagEmpty Flag = iota
	// FlagDataIn means the block's bytes live in the data file at offset
	// id*block_size.
	FlagDataIn
	// FlagRefLog means the block was replaced in the current transaction
	// and its original content lives in the undo log.
	FlagRefLog
)

func (f Flag) String() string {
	switch f {
	case FlagEmpty:
		return "EMPTY"
	case FlagDataIn:
		return "DATAIN"
	case FlagRefLog:
		return "REF_LOG"
	default:
		return "UNKNOWN"
	}
}

// eventLogTypeSize is the only event-log record type the wire format
// currently defines (spec §6): a pre-transaction data-file size.
const eventLogTypeSize uint8 = 0

// BlockMeta is the authoritative per-block record held in the metadata
// sidecar (spec §3): a flag, an opaque caller-assigned version (0 reserved
// for "none"), and the block's physical size in bytes.
type BlockMeta struct {
	Flag    Flag
	Version int64
	Size    uint32
}

func emptyBlockMeta() BlockMeta { return BlockMeta{Flag: FlagEmpty, Version: 0, Size: 0} }

// IsEmpty reports whether the slot holds no live data.
func (m BlockMeta) IsEmpty() bool { return m.Flag == FlagEmpty }

// blockLog is an undo-log entry capturing a block's content, version, and
// size just before it was overwritten in the current transaction.
type blockLog struct {
	ID      int64
	Data    []byte
	Version int64
	Size    uint32
}

// sizeEventLog is an undo-log entry capturing the data file's size just
// before the current transaction began.
type sizeEventLog struct {
	Size int64
}

// WriteRequest names a block to write: its id, the version to label it
// with, and its content. Version must be non-zero (0 is reserved, spec I5)
// and Data must be non-empty.
type WriteRequest struct {
	ID      int64
	Version int64
	Data    []byte
}

// ReadRequest names a block to read along with the version the caller
// expects to find there.
type ReadRequest struct {
	ID      int64
	Version int64
}

// ReadResult is the outcome of a single ReadRequest. Data is nil when the
// slot is a hole: absent, version-mismatched, or beyond the end of the
// metadata sidecar. A version mismatch is not an error; it is the predicate
// callers use to invalidate stale reads (spec §4.3.2).
type ReadResult struct {
	ID      int64
	Version int64
	Data    []byte
}

// DeleteRequest names a block to delete, guarded by the version the caller
// expects to find there; a mismatched version leaves the block untouched.
type DeleteRequest struct {
	ID      int64
	Version int64
}
