// Package errtypes contains the error taxonomy used throughout the
// replication engine. Errors are returned to the caller, never swallowed
// internally; each kind carries a predicate interface so callers can test
// for it with errors.As without depending on string matching.
package errtypes

import "fmt"

// NotFound is returned when a referenced path does not exist.
type NotFound string

func (e NotFound) Error() string { return "not found: " + string(e) }

// IsNotFound implements the IsNotFound predicate.
func (e NotFound) IsNotFound() {}

// AlreadyExists is returned when a rename target is already occupied.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "already exists: " + string(e) }

// IsAlreadyExists implements the IsAlreadyExists predicate.
func (e AlreadyExists) IsAlreadyExists() {}

// NameConflict is returned when a rename cannot proceed because the
// destination path or one of its reserved sibling paths (.meta, .undo)
// already exists.
type NameConflict string

func (e NameConflict) Error() string { return "name conflict: " + string(e) }

// IsNameConflict implements the IsNameConflict predicate.
func (e NameConflict) IsNameConflict() {}

// StateViolation is returned when a mutating operation is invoked outside
// the state it requires (e.g. write_data_blocks without begin_transaction).
type StateViolation string

func (e StateViolation) Error() string { return "state violation: " + string(e) }

// IsStateViolation implements the IsStateViolation predicate.
func (e StateViolation) IsStateViolation() {}

// Usage is returned for malformed requests: empty data on a non-zero write,
// a negative block id, or a reserved (zero) version supplied by the caller.
type Usage string

func (e Usage) Error() string { return "usage error: " + string(e) }

// IsUsage implements the IsUsage predicate.
func (e Usage) IsUsage() {}

// CorruptMeta is returned when the metadata sidecar exists but fails to
// deserialize. The engine refuses to continue and leaves on-disk state
// untouched so an operator can inspect it.
type CorruptMeta string

func (e CorruptMeta) Error() string { return "corrupt metadata: " + string(e) }

// IsCorruptMeta implements the IsCorruptMeta predicate.
func (e CorruptMeta) IsCorruptMeta() {}

// CorruptUndo is the undo-log analogue of CorruptMeta.
type CorruptUndo string

func (e CorruptUndo) Error() string { return "corrupt undo log: " + string(e) }

// IsCorruptUndo implements the IsCorruptUndo predicate.
func (e CorruptUndo) IsCorruptUndo() {}

// BackendIO wraps a failure reported by the backend filesystem on a
// specific primitive. It is non-recoverable within the core: the replica
// is left in whatever on-disk state it reached, and the next
// fix_consistency call is expected to restore the invariants.
type BackendIO struct {
	Op   string
	Path string
	Err  error
}

func (e *BackendIO) Error() string {
	return fmt.Sprintf("backend io error: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes the underlying backend error for errors.Is/As.
func (e *BackendIO) Unwrap() error { return e.Err }

// IsBackendIO implements the IsBackendIO predicate.
func (e *BackendIO) IsBackendIO() {}

// IsNotFound is implemented by errors reporting a missing path.
type IsNotFound interface{ IsNotFound() }

// IsAlreadyExists is implemented by errors reporting an occupied destination.
type IsAlreadyExists interface{ IsAlreadyExists() }

// IsNameConflict is implemented by errors reporting an occupied rename destination or reserved sibling.
type IsNameConflict interface{ IsNameConflict() }

// IsStateViolation is implemented by errors reporting a misuse of the state machine.
type IsStateViolation interface{ IsStateViolation() }

// IsUsage is implemented by errors reporting a malformed request.
type IsUsage interface{ IsUsage() }

// IsCorruptMeta is implemented by errors reporting undeserializable metadata.
type IsCorruptMeta interface{ IsCorruptMeta() }

// IsCorruptUndo is implemented by errors reporting an undeserializable undo log.
type IsCorruptUndo interface{ IsCorruptUndo() }

// IsBackendIO is implemented by errors reporting a failed backend primitive.
type IsBackendIO interface{ IsBackendIO() }
