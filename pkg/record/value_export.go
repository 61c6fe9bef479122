package record

import "github.com/strata-systems/strata-core/pkg/types"

// EncodeValue exposes the bincode-style Value encoder used inside WAL
// entries so the snapshot writer can serialize stored values with the same
// deterministic, bit-exact format rather than inventing a second one.
func EncodeValue(v types.Value) []byte {
	return appendValue(nil, v)
}

// DecodeValue exposes the matching decoder. offset/consumed let callers
// walk a buffer containing many concatenated values.
func DecodeValue(buf []byte, offset int) (types.Value, int, error) {
	return readValue(buf, offset, 0)
}
