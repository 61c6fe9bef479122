package snapshot

import (
	"github.com/klauspost/compress/zstd"

	"github.com/strata-systems/strata-core/pkg/strataerr"
)

// CompressSection wraps raw section bytes with zstd, returning a Section
// with Compressed set so the reader knows to reverse it. Used for the
// storage-KV section once a run's working set is large enough that the
// compression ratio outweighs the CPU cost of the round trip.
func CompressSection(typeId uint32, raw []byte) (Section, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return Section{}, strataerr.WrapIoError("snapshot compress", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)
	return Section{TypeId: typeId, Compressed: true, Data: compressed}, nil
}

// DecompressSection reverses CompressSection. Called only when
// Section.Compressed is true; callers with a raw section should use
// Section.Data directly.
func DecompressSection(s Section) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, strataerr.WrapIoError("snapshot decompress", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(s.Data, nil)
	if err != nil {
		return nil, strataerr.WrapIoError("snapshot decompress", err)
	}
	return out, nil
}
