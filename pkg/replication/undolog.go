package replication

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sgfsdriver/replica/pkg/backend"
	"github.com/sgfsdriver/replica/pkg/errtypes"
)

// undoLogSuffix is the reserved file-name suffix for the undo log sidecar
// (spec §6).
const undoLogSuffix = "undo"

// undoLog persists what must be restored to roll back the current
// transaction: block logs (displaced block content) and event logs
// (currently only the pre-transaction file size). It is grounded on the
// undo_log class in src/sgfsdriver/lib/replication.py.
type undoLog struct {
	fs         backend.FS
	dataPath   string
	logPath    string
	blockLogs  []blockLog
	eventLogs  []sizeEventLog
	synced     bool
	fileExists bool
}

func undoLogPath(dataPath string) string { return dataPath + "." + undoLogSuffix }

// isUndoLogPath reports whether p is an undo-log sidecar path, for
// directory scanners that must suppress reserved suffixes.
func isUndoLogPath(p string) bool {
	return len(p) > len(undoLogSuffix)+1 && p[len(p)-len(undoLogSuffix)-1:] == "."+undoLogSuffix
}

// openUndoLog reads dataPath's undo log if present; it never fails on a
// missing log.
func openUndoLog(ctx context.Context, fs backend.FS, dataPath string) (*undoLog, error) {
	l := &undoLog{
		fs:       fs,
		dataPath: dataPath,
		logPath:  undoLogPath(dataPath),
		synced:   true,
	}

	exists, err := fs.Exists(ctx, l.logPath)
	if err != nil {
		return nil, errors.Wrap(err, "check undo log existence")
	}
	if !exists {
		return l, nil
	}

	st, err := fs.Stat(ctx, l.logPath)
	if err != nil {
		return nil, errors.Wrap(err, "stat undo log")
	}
	buf, err := fs.Read(ctx, l.logPath, 0, int(st.Size))
	if err != nil {
		return nil, errors.Wrap(err, "read undo log")
	}
	blockLogs, eventLogs, err := decodeUndo(buf)
	if err != nil {
		return nil, err
	}
	l.blockLogs = blockLogs
	l.eventLogs = eventLogs
	l.fileExists = true
	return l, nil
}

func (l *undoLog) writeBlockLog(ctx context.Context, bl blockLog, syncNow bool) error {
	l.blockLogs = append(l.blockLogs, bl)
	l.synced = false
	if syncNow {
		return l.sync(ctx)
	}
	return nil
}

func (l *undoLog) writeEventLog(ctx context.Context, el sizeEventLog, syncNow bool) error {
	l.eventLogs = append(l.eventLogs, el)
	l.synced = false
	if syncNow {
		return l.sync(ctx)
	}
	return nil
}

// sync flushes dirty in-memory state to a single framed write at offset 0.
func (l *undoLog) sync(ctx context.Context) error {
	if l.synced {
		return nil
	}
	buf := encodeUndo(l.blockLogs, l.eventLogs)
	if err := l.fs.Write(ctx, l.logPath, 0, buf); err != nil {
		return &errtypes.BackendIO{Op: "write", Path: l.logPath, Err: err}
	}
	l.synced = true
	l.fileExists = true
	return nil
}

// clear removes the log file if present and drops in-memory state.
func (l *undoLog) clear(ctx context.Context) error {
	if l.fileExists {
		if err := l.fs.Unlink(ctx, l.logPath); err != nil {
			return &errtypes.BackendIO{Op: "unlink", Path: l.logPath, Err: err}
		}
	}
	l.blockLogs = nil
	l.eventLogs = nil
	l.synced = true
	l.fileExists = false
	return nil
}

// rename moves the log file next to newDataPath, failing cleanly if the
// destination already exists.
func (l *undoLog) rename(ctx context.Context, newDataPath string) error {
	newLogPath := undoLogPath(newDataPath)
	exists, err := l.fs.Exists(ctx, newLogPath)
	if err != nil {
		return errors.Wrap(err, "check undo log destination")
	}
	if exists {
		return errtypes.NameConflict(newLogPath)
	}
	if l.fileExists {
		if err := l.fs.Rename(ctx, l.logPath, newLogPath); err != nil {
			return &errtypes.BackendIO{Op: "rename", Path: l.logPath, Err: err}
		}
	}
	l.dataPath = newDataPath
	l.logPath = newLogPath
	return nil
}
