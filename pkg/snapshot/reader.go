package snapshot

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/strata-systems/strata-core/pkg/strataerr"
)

// Envelope is a fully parsed, CRC-verified snapshot.
type Envelope struct {
	Header   Header
	Sections []Section
}

// Validate verifies magic, format version, and the trailing CRC32 without
// constructing an Envelope — cheap enough to call before committing to a
// full parse.
func Validate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return strataerr.WrapIoError("snapshot validate", err)
	}
	return validateBytes(data)
}

func validateBytes(data []byte) error {
	if len(data) < len(Magic)+4 {
		return strataerr.NewCorruptionError(0, strataerr.CorruptBadLength)
	}
	if string(data[:len(Magic)]) != Magic {
		return strataerr.NewCorruptionError(0, strataerr.CorruptUnknownType)
	}
	if len(data) < 4 {
		return strataerr.NewCorruptionError(int64(len(data)), strataerr.CorruptBadLength)
	}
	body := data[:len(data)-4]
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	got := crc32.Checksum(body, castagnoliTable)
	if got != want {
		return strataerr.NewCorruptionError(int64(len(body)), strataerr.CorruptCrcMismatch)
	}
	return nil
}

// ReadHeader returns only the envelope's fixed-size header, without parsing
// any section payloads.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, strataerr.WrapIoError("snapshot read", err)
	}
	h, _, err := parseHeader(data)
	return h, err
}

// ReadEnvelope fully parses and CRC-verifies the snapshot at path. Sections
// whose TypeId is not recognized by the caller are still returned — it is
// the caller's job to skip or retain them, per spec §4.5.
func ReadEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, strataerr.WrapIoError("snapshot read", err)
	}
	if err := validateBytes(data); err != nil {
		return Envelope{}, err
	}

	header, offset, err := parseHeader(data)
	if err != nil {
		return Envelope{}, err
	}

	sections := make([]Section, 0, header.SectionCount)
	for i := uint8(0); i < header.SectionCount; i++ {
		s, n, err := parseSection(data, offset)
		if err != nil {
			return Envelope{}, err
		}
		sections = append(sections, s)
		offset += n
	}

	return Envelope{Header: header, Sections: sections}, nil
}

func parseHeader(data []byte) (Header, int, error) {
	off := 0
	if len(data) < len(Magic) {
		return Header{}, 0, strataerr.NewCorruptionError(0, strataerr.CorruptBadLength)
	}
	if string(data[:len(Magic)]) != Magic {
		return Header{}, 0, strataerr.NewCorruptionError(0, strataerr.CorruptUnknownType)
	}
	off += len(Magic)

	need := off + 4 + 8 + 8 + 8 + 1
	if len(data) < need {
		return Header{}, 0, strataerr.NewCorruptionError(int64(off), strataerr.CorruptBadLength)
	}

	var h Header
	h.FormatVersion = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	h.TimestampMicros = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	h.WalOffset = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	h.CommittedTxnCount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	h.SectionCount = data[off]
	off++

	return h, off, nil
}

func parseSection(data []byte, offset int) (Section, int, error) {
	start := offset
	if offset+4+1+4 > len(data) {
		return Section{}, 0, strataerr.NewCorruptionError(int64(offset), strataerr.CorruptBadLength)
	}
	typeId := binary.LittleEndian.Uint32(data[offset : offset+4])
	offset += 4
	compressed := data[offset] != 0
	offset++
	length := binary.LittleEndian.Uint32(data[offset : offset+4])
	offset += 4

	if offset+int(length) > len(data) {
		return Section{}, 0, strataerr.NewCorruptionError(int64(offset), strataerr.CorruptBadLength)
	}
	payload := append([]byte(nil), data[offset:offset+int(length)]...)
	offset += int(length)

	return Section{TypeId: typeId, Compressed: compressed, Data: payload}, offset - start, nil
}
