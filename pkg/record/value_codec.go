package record

import (
	"encoding/binary"
	"math"

	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

// appendValue recursively encodes v in bincode style: a one-byte kind
// discriminant followed by the kind's fixed or length-prefixed payload.
// Object keys are written in sorted order so that two calls encoding the
// same logical value always produce the same bytes, regardless of Go's
// randomized map iteration order.
func appendValue(buf []byte, v types.Value) []byte {
	buf = append(buf, byte(v.Kind()))
	switch v.Kind() {
	case types.KindNull:
		// no payload
	case types.KindBool:
		b, _ := v.AsBool()
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case types.KindInt64:
		i, _ := v.AsInt64()
		buf = appendUint64(buf, uint64(i))
	case types.KindFloat64:
		f, _ := v.AsFloat64()
		buf = appendUint64(buf, math.Float64bits(f))
	case types.KindString:
		s, _ := v.AsString()
		buf = appendLenPrefixedBytes(buf, []byte(s))
	case types.KindBytes:
		b, _ := v.AsBytes()
		buf = appendLenPrefixedBytes(buf, b)
	case types.KindArray:
		arr, _ := v.AsArray()
		buf = appendUint32(buf, uint32(len(arr)))
		for _, elem := range arr {
			buf = appendValue(buf, elem)
		}
	case types.KindObject:
		keys := v.SortedObjectKeys()
		obj, _ := v.AsObject()
		buf = appendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendLenPrefixedBytes(buf, []byte(k))
			buf = appendValue(buf, obj[k])
		}
	}
	return buf
}

// readValue decodes a Value encoded by appendValue, returning the number of
// bytes consumed from buf[offset:]. Truncated or implausible inputs return
// a strataerr.CorruptionError; the offset reported is absolute (base +
// offset) so callers can attribute the failure to the right place in the
// enclosing frame.
func readValue(buf []byte, offset int, base int64) (types.Value, int, error) {
	start := offset
	if offset >= len(buf) {
		return types.Value{}, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	kind := types.Kind(buf[offset])
	offset++

	switch kind {
	case types.KindNull:
		return types.Null(), offset - start, nil
	case types.KindBool:
		if offset >= len(buf) {
			return types.Value{}, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
		}
		b := buf[offset] != 0
		offset++
		return types.Bool(b), offset - start, nil
	case types.KindInt64:
		u, n, err := readUint64(buf, offset, base)
		if err != nil {
			return types.Value{}, 0, err
		}
		return types.Int64(int64(u)), (offset + n) - start, nil
	case types.KindFloat64:
		u, n, err := readUint64(buf, offset, base)
		if err != nil {
			return types.Value{}, 0, err
		}
		return types.Float64(math.Float64frombits(u)), (offset + n) - start, nil
	case types.KindString:
		b, n, err := readLenPrefixedBytes(buf, offset, base)
		if err != nil {
			return types.Value{}, 0, err
		}
		return types.String(string(b)), (offset + n) - start, nil
	case types.KindBytes:
		b, n, err := readLenPrefixedBytes(buf, offset, base)
		if err != nil {
			return types.Value{}, 0, err
		}
		return types.Bytes(b), (offset + n) - start, nil
	case types.KindArray:
		count, n, err := readUint32(buf, offset, base)
		if err != nil {
			return types.Value{}, 0, err
		}
		offset += n
		elems := make([]types.Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, m, err := readValue(buf, offset, base)
			if err != nil {
				return types.Value{}, 0, err
			}
			elems = append(elems, elem)
			offset += m
		}
		return types.Array(elems), offset - start, nil
	case types.KindObject:
		count, n, err := readUint32(buf, offset, base)
		if err != nil {
			return types.Value{}, 0, err
		}
		offset += n
		obj := make(map[string]types.Value, count)
		for i := uint32(0); i < count; i++ {
			kb, m, err := readLenPrefixedBytes(buf, offset, base)
			if err != nil {
				return types.Value{}, 0, err
			}
			offset += m
			val, m2, err := readValue(buf, offset, base)
			if err != nil {
				return types.Value{}, 0, err
			}
			offset += m2
			obj[string(kb)] = val
		}
		return types.Object(obj), offset - start, nil
	default:
		return types.Value{}, 0, strataerr.NewCorruptionError(base+int64(start), strataerr.CorruptUnknownType)
	}
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

func appendLenPrefixedBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readUint32(buf []byte, offset int, base int64) (uint32, int, error) {
	if offset+4 > len(buf) {
		return 0, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	return binary.LittleEndian.Uint32(buf[offset : offset+4]), 4, nil
}

func readUint64(buf []byte, offset int, base int64) (uint64, int, error) {
	if offset+8 > len(buf) {
		return 0, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	return binary.LittleEndian.Uint64(buf[offset : offset+8]), 8, nil
}

func readLenPrefixedBytes(buf []byte, offset int, base int64) ([]byte, int, error) {
	n, consumed, err := readUint32(buf, offset, base)
	if err != nil {
		return nil, 0, err
	}
	offset += consumed
	if n > maxPayloadLen {
		return nil, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	if offset+int(n) > len(buf) {
		return nil, 0, strataerr.NewCorruptionError(base+int64(offset), strataerr.CorruptBadLength)
	}
	out := make([]byte, n)
	copy(out, buf[offset:offset+int(n)])
	return out, consumed + int(n), nil
}

// maxPayloadLen caps any single length-prefixed field, guarding against
// interpreting corrupted bytes as an absurd allocation request.
const maxPayloadLen = 1 << 30 // 1 GiB
