package storage

import (
	"encoding/binary"
	"errors"

	"github.com/strata-systems/strata-core/pkg/types"
)

var errMalformedStorageKey = errors.New("storage: key bytes do not match the namespace encoding")

// parseStorageKeyRun extracts the run id embedded in a types.Key.Bytes()
// blob without decoding the rest of the namespace — ScanByRun only needs
// this one field, and the full key shape is already enforced at the
// types.Key boundary that produced these bytes.
func parseStorageKeyRun(raw []byte) (types.RunId, error) {
	var zero types.RunId
	off := 0
	skipStr := func() bool {
		if off+2 > len(raw) {
			return false
		}
		l := int(binary.LittleEndian.Uint16(raw[off : off+2]))
		off += 2
		if off+l > len(raw) {
			return false
		}
		off += l
		return true
	}
	if !skipStr() || !skipStr() || !skipStr() {
		return zero, errMalformedStorageKey
	}
	if off+16 > len(raw) {
		return zero, errMalformedStorageKey
	}
	var run types.RunId
	copy(run[:], raw[off:off+16])
	return run, nil
}
