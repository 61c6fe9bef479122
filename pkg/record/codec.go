package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

// castagnoliTable matches the teacher repo's WAL checksum table — the
// hardware-accelerated Castagnoli polynomial, not the default IEEE one.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

func appendRunId(buf []byte, r types.RunId) []byte {
	return append(buf, r[:]...)
}

func readRunId(buf []byte, offset int, base int64) (types.RunId, int, error) {
	var r types.RunId
	if offset+len(r) > len(buf) {
		return r, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	copy(r[:], buf[offset:offset+len(r)])
	return r, len(r), nil
}

func appendKey(buf []byte, k types.Key) []byte {
	kb := k.Bytes()
	return appendLenPrefixedBytes(buf, kb)
}

func readKey(buf []byte, offset int, base int64) (types.Key, int, error) {
	raw, n, err := readLenPrefixedBytes(buf, offset, base)
	if err != nil {
		return types.Key{}, 0, err
	}
	k, perr := types.ParseKeyBytes(raw)
	if perr != nil {
		return types.Key{}, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	return k, n, nil
}

// buildPayload dispatches to the per-type payload encoder. It returns the
// wire RecordType alongside the bytes so EncodeEntry can write both.
func buildPayload(e Entry) (RecordType, []byte, error) {
	switch ent := e.(type) {
	case BeginTxnEntry:
		buf := appendUint64(nil, ent.TxnId)
		buf = appendRunId(buf, ent.RunId)
		buf = appendUint64(buf, uint64(ent.TimestampUnixMicros))
		return RecordBeginTxn, buf, nil
	case WriteEntry:
		buf := appendUint64(nil, ent.TxnId)
		buf = appendRunId(buf, ent.RunId)
		buf = appendKey(buf, ent.Key)
		buf = appendValue(buf, ent.Value)
		buf = appendUint64(buf, ent.Version)
		return RecordWrite, buf, nil
	case DeleteEntry:
		buf := appendUint64(nil, ent.TxnId)
		buf = appendRunId(buf, ent.RunId)
		buf = appendKey(buf, ent.Key)
		buf = appendUint64(buf, ent.Version)
		return RecordDelete, buf, nil
	case CommitTxnEntry:
		buf := appendUint64(nil, ent.TxnId)
		buf = appendRunId(buf, ent.RunId)
		return RecordCommitTxn, buf, nil
	case AbortTxnEntry:
		buf := appendUint64(nil, ent.TxnId)
		buf = appendRunId(buf, ent.RunId)
		return RecordAbortTxn, buf, nil
	case CheckpointEntry:
		buf := appendUint64(nil, ent.WalOffset)
		buf = appendUint32(buf, uint32(len(ent.ActiveRuns)))
		for _, r := range ent.ActiveRuns {
			buf = appendRunId(buf, r)
		}
		return RecordCheckpoint, buf, nil
	case UnknownEntry:
		return RecordType(ent.Tag), append([]byte(nil), ent.Payload...), nil
	default:
		return 0, nil, errUnsupportedEntry
	}
}

// parsePayload is the inverse of buildPayload, dispatching on the wire type
// tag. An unrecognized tag decodes into UnknownEntry rather than failing —
// the whole point of length-prefixing is to let unknown record kinds be
// skipped, not rejected.
func parsePayload(tag RecordType, payload []byte, base int64) (Entry, error) {
	switch tag {
	case RecordBeginTxn:
		txnId, n, err := readUint64(payload, 0, base)
		if err != nil {
			return nil, err
		}
		runId, n2, err := readRunId(payload, n, base)
		if err != nil {
			return nil, err
		}
		ts, _, err := readUint64(payload, n+n2, base)
		if err != nil {
			return nil, err
		}
		return BeginTxnEntry{TxnId: txnId, RunId: runId, TimestampUnixMicros: int64(ts)}, nil
	case RecordWrite:
		off := 0
		txnId, n, err := readUint64(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		runId, n, err := readRunId(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		key, n, err := readKey(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		val, n, err := readValue(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		version, _, err := readUint64(payload, off, base)
		if err != nil {
			return nil, err
		}
		return WriteEntry{TxnId: txnId, RunId: runId, Key: key, Value: val, Version: version}, nil
	case RecordDelete:
		off := 0
		txnId, n, err := readUint64(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		runId, n, err := readRunId(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		key, n, err := readKey(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		version, _, err := readUint64(payload, off, base)
		if err != nil {
			return nil, err
		}
		return DeleteEntry{TxnId: txnId, RunId: runId, Key: key, Version: version}, nil
	case RecordCommitTxn:
		txnId, n, err := readUint64(payload, 0, base)
		if err != nil {
			return nil, err
		}
		runId, _, err := readRunId(payload, n, base)
		if err != nil {
			return nil, err
		}
		return CommitTxnEntry{TxnId: txnId, RunId: runId}, nil
	case RecordAbortTxn:
		txnId, n, err := readUint64(payload, 0, base)
		if err != nil {
			return nil, err
		}
		runId, _, err := readRunId(payload, n, base)
		if err != nil {
			return nil, err
		}
		return AbortTxnEntry{TxnId: txnId, RunId: runId}, nil
	case RecordCheckpoint:
		off := 0
		walOffset, n, err := readUint64(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		count, n, err := readUint32(payload, off, base)
		if err != nil {
			return nil, err
		}
		off += n
		runs := make([]types.RunId, 0, count)
		for i := uint32(0); i < count; i++ {
			r, n, err := readRunId(payload, off, base)
			if err != nil {
				return nil, err
			}
			off += n
			runs = append(runs, r)
		}
		return CheckpointEntry{WalOffset: walOffset, ActiveRuns: runs}, nil
	default:
		// Unknown record kind: preserve raw bytes so the caller can skip
		// it without understanding its shape. The type byte must still
		// fit in a byte — RecordType wider than 255 cannot occur since
		// the wire tag is a single byte.
		return UnknownEntry{Tag: uint8(tag), Payload: append([]byte(nil), payload...)}, nil
	}
}

// DecodedFrameLength reads the u32 length prefix from the first four bytes
// of a frame. Exposed so a streaming reader can size its next read without
// duplicating the little-endian layout.
func DecodedFrameLength(lenPrefix []byte) int {
	return int(binary.LittleEndian.Uint32(lenPrefix[0:4]))
}

// MaxPayloadLen exposes the payload size cap so callers sizing reads before
// calling DecodeEntry can reject an implausible declared length up front.
func MaxPayloadLen() int {
	return maxPayloadLen
}

// EncodeEntry serializes e into the wire frame described in spec §4.1:
// [u32 length][u8 type_tag][payload][u32 CRC32], where length is the
// payload's length (not counting the type tag or the trailing CRC) and the
// CRC covers (type_tag ∥ payload).
func EncodeEntry(e Entry) ([]byte, error) {
	tag, payload, err := buildPayload(e)
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayloadLen {
		return nil, strataerr.NewCorruptionError(0, strataerr.CorruptBadLength)
	}

	frame := make([]byte, 0, 4+1+len(payload)+4)
	frame = appendUint32(frame, uint32(len(payload)))
	frame = append(frame, byte(tag))
	frame = append(frame, payload...)

	sum := crc32.Checksum(frame[4:], castagnoliTable)
	frame = appendUint32(frame, sum)
	return frame, nil
}

// DecodeEntry reads one frame starting at buf[0:], returning the decoded
// entry and the number of bytes consumed. base is the absolute file offset
// of buf[0], used only to annotate corruption errors.
//
// A buffer shorter than required for a complete frame returns
// (nil, 0, ErrShortBuffer) — this is the "clean EOF" case spec §4.1
// describes: a partial write at the tail of the file is the expected
// consequence of a crash mid-append, not a corruption error. Callers that
// read from a growing file (the WAL reader) must treat ErrShortBuffer as
// "stop here", never surface it as an integrity failure.
func DecodeEntry(buf []byte, base int64) (Entry, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrShortBuffer
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if length > maxPayloadLen {
		return nil, 0, strataerr.NewCorruptionError(base, strataerr.CorruptBadLength)
	}

	frameLen := 4 + 1 + int(length) + 4
	if len(buf) < frameLen {
		return nil, 0, ErrShortBuffer
	}

	tag := RecordType(buf[4])
	payload := buf[5 : 5+int(length)]
	wantCrc := binary.LittleEndian.Uint32(buf[5+int(length) : frameLen])
	gotCrc := crc32.Checksum(buf[4:5+int(length)], castagnoliTable)
	if gotCrc != wantCrc {
		return nil, 0, strataerr.NewCorruptionError(base, strataerr.CorruptCrcMismatch)
	}

	entry, err := parsePayload(tag, payload, base+5)
	if err != nil {
		return nil, 0, err
	}
	return entry, frameLen, nil
}
