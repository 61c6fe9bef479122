package snapshot

import (
	"encoding/binary"
	"time"

	"github.com/strata-systems/strata-core/pkg/record"
	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

func microsToTime(micros uint64) time.Time {
	return time.UnixMicro(int64(micros)).UTC()
}

// SectionStorageKV identifies the primitive section holding the entire
// versioned key space. It is the only primitive this core defines — other
// primitives (JSON documents, vector indexes) are facade-owned and would
// register their own TypeId here without this package needing to know
// their shape.
const SectionStorageKV uint32 = 1

// EncodeStorageSection asks the store to serialize every key's full
// version chain into one section payload: a count, then per key a
// length-prefixed raw key, a version count, and each VersionedValue in
// newest-first order. Reusing record's bincode Value codec keeps the
// on-disk Value representation identical between the WAL and snapshots —
// there is exactly one way this core encodes a Value.
func EncodeStorageSection(entries []storage.KeyedVersionChain) []byte {
	buf := make([]byte, 0, 1024)
	buf = appendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = appendLenPrefixed(buf, e.KeyBytes)
		buf = appendUint32(buf, uint32(len(e.Versions)))
		for _, vv := range e.Versions {
			buf = appendUint64(buf, vv.Version)
			tomb := byte(0)
			if vv.IsTombstone {
				tomb = 1
			}
			buf = append(buf, tomb)
			hasExpiry := byte(0)
			if vv.ExpiresAt != nil {
				hasExpiry = 1
			}
			buf = append(buf, hasExpiry)
			if vv.ExpiresAt != nil {
				buf = appendUint64(buf, uint64(vv.ExpiresAt.UnixMicro()))
			}
			buf = append(buf, record.EncodeValue(vv.Value)...)
		}
	}
	return buf
}

// DecodeStorageSection reverses EncodeStorageSection.
func DecodeStorageSection(data []byte) ([]storage.KeyedVersionChain, error) {
	off := 0
	count, n, err := readUint32(data, off)
	if err != nil {
		return nil, err
	}
	off += n

	out := make([]storage.KeyedVersionChain, 0, count)
	for i := uint32(0); i < count; i++ {
		keyBytes, n, err := readLenPrefixed(data, off)
		if err != nil {
			return nil, err
		}
		off += n

		versionCount, n, err := readUint32(data, off)
		if err != nil {
			return nil, err
		}
		off += n

		versions := make([]types.VersionedValue, 0, versionCount)
		for j := uint32(0); j < versionCount; j++ {
			version, n, err := readUint64(data, off)
			if err != nil {
				return nil, err
			}
			off += n
			if off+2 > len(data) {
				return nil, strataerr.NewCorruptionError(int64(off), strataerr.CorruptBadLength)
			}
			isTombstone := data[off] != 0
			hasExpiry := data[off+1] != 0
			off += 2

			var vv types.VersionedValue
			vv.Version = version
			vv.IsTombstone = isTombstone
			if hasExpiry {
				micros, n, err := readUint64(data, off)
				if err != nil {
					return nil, err
				}
				off += n
				t := microsToTime(micros)
				vv.ExpiresAt = &t
			}
			val, n, err := record.DecodeValue(data, off)
			if err != nil {
				return nil, err
			}
			off += n
			vv.Value = val
			versions = append(versions, vv)
		}

		out = append(out, storage.KeyedVersionChain{KeyBytes: keyBytes, Versions: versions})
	}
	return out, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readUint32(buf []byte, offset int) (uint32, int, error) {
	if offset+4 > len(buf) {
		return 0, 0, strataerr.NewCorruptionError(int64(offset), strataerr.CorruptBadLength)
	}
	return binary.LittleEndian.Uint32(buf[offset : offset+4]), 4, nil
}

func readUint64(buf []byte, offset int) (uint64, int, error) {
	if offset+8 > len(buf) {
		return 0, 0, strataerr.NewCorruptionError(int64(offset), strataerr.CorruptBadLength)
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+8]), 8, nil
}

func readLenPrefixed(buf []byte, offset int) ([]byte, int, error) {
	n, consumed, err := readUint32(buf, offset)
	if err != nil {
		return nil, 0, err
	}
	offset += consumed
	if offset+int(n) > len(buf) {
		return nil, 0, strataerr.NewCorruptionError(int64(offset), strataerr.CorruptBadLength)
	}
	out := make([]byte, n)
	copy(out, buf[offset:offset+int(n)])
	return out, consumed + int(n), nil
}
