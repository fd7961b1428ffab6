package replication

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sgfsdriver/replica/pkg/errtypes"
)

// encodeMeta serializes an ordered list of BlockMeta per spec §6: a 4-byte
// little-endian count followed by repeated (flag u8, version i64, size u32)
// triples. This replaces the original driver's use of Python pickle with a
// self-describing, language-neutral framing that survives the process being
// replaced between writes.
func encodeMeta(blocks []BlockMeta) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, uint32(len(blocks))) //nolint:errcheck // bytes.Buffer never errors
	for _, b := range blocks {
		binary.Write(buf, binary.LittleEndian, uint8(b.Flag))
		binary.Write(buf, binary.LittleEndian, b.Version)
		binary.Write(buf, binary.LittleEndian, b.Size)
	}
	return buf.Bytes()
}

// decodeMeta is the inverse of encodeMeta. It returns errtypes.CorruptMeta
// if buf is truncated or malformed.
func decodeMeta(buf []byte) ([]BlockMeta, error) {
	r := bytes.NewReader(buf)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errtypes.CorruptMeta("missing block count: " + err.Error())
	}

	blocks := make([]BlockMeta, 0, count)
	for i := uint32(0); i < count; i++ {
		var flag uint8
		var version int64
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &flag); err != nil {
			return nil, errtypes.CorruptMeta("truncated flag: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
			return nil, errtypes.CorruptMeta("truncated version: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, errtypes.CorruptMeta("truncated size: " + err.Error())
		}
		blocks = append(blocks, BlockMeta{Flag: Flag(flag), Version: version, Size: size})
	}
	return blocks, nil
}

// encodeUndo serializes the undo log per spec §6:
//
//	u32 block_count || repeated {i64 id, i64 version, u32 size, bytes[size] data}
//	u32 event_count || repeated {u8 type=0, i64 size}
func encodeUndo(blockLogs []blockLog, eventLogs []sizeEventLog) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, uint32(len(blockLogs))) //nolint:errcheck
	for _, bl := range blockLogs {
		binary.Write(buf, binary.LittleEndian, bl.ID)
		binary.Write(buf, binary.LittleEndian, bl.Version)
		binary.Write(buf, binary.LittleEndian, uint32(len(bl.Data)))
		buf.Write(bl.Data)
	}
	binary.Write(buf, binary.LittleEndian, uint32(len(eventLogs))) //nolint:errcheck
	for _, el := range eventLogs {
		binary.Write(buf, binary.LittleEndian, uint8(0))
		binary.Write(buf, binary.LittleEndian, el.Size)
	}
	return buf.Bytes()
}

// decodeUndo is the inverse of encodeUndo. It returns errtypes.CorruptUndo
// if buf is truncated, malformed, or names an unknown event-log type.
func decodeUndo(buf []byte) ([]blockLog, []sizeEventLog, error) {
	r := bytes.NewReader(buf)

	var blockCount uint32
	if err := binary.Read(r, binary.LittleEndian, &blockCount); err != nil {
		return nil, nil, errtypes.CorruptUndo("missing block count: " + err.Error())
	}

	blockLogs := make([]blockLog, 0, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		var id, version int64
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, nil, errtypes.CorruptUndo("truncated id: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
			return nil, nil, errtypes.CorruptUndo("truncated version: " + err.Error())
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, nil, errtypes.CorruptUndo("truncated size: " + err.Error())
		}
		var data []byte
		if size > 0 {
			data = make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, nil, errtypes.CorruptUndo("truncated block data: " + err.Error())
			}
		}
		blockLogs = append(blockLogs, blockLog{ID: id, Version: version, Size: size, Data: data})
	}

	var eventCount uint32
	if err := binary.Read(r, binary.LittleEndian, &eventCount); err != nil {
		return nil, nil, errtypes.CorruptUndo("missing event count: " + err.Error())
	}
	eventLogs := make([]sizeEventLog, 0, eventCount)
	for i := uint32(0); i < eventCount; i++ {
		var typ uint8
		var size int64
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, nil, errtypes.CorruptUndo("truncated event type: " + err.Error())
		}
		if typ != eventLogTypeSize {
			return nil, nil, errtypes.CorruptUndo("unknown event log type")
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, nil, errtypes.CorruptUndo("truncated event size: " + err.Error())
		}
		eventLogs = append(eventLogs, sizeEventLog{Size: size})
	}

	return blockLogs, eventLogs, nil
}
