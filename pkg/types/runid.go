// Package types defines the core data model: run identifiers, namespaces,
// type tags, composite keys, the JSON-isomorphic Value sum type, and
// versioned values.
package types

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// RunId is an opaque 128-bit identifier for an execution session. It is
// never reused. The all-zero value is the sentinel "default run".
type RunId [16]byte

// DefaultRunId is the sentinel value denoting the implicit default run.
var DefaultRunId = RunId{}

// NewRunId mints a fresh, never-reused run id using a time-ordered
// (version 7) UUID, the same generator the teacher repo uses for row ids.
func NewRunId() RunId {
	id, err := uuid.NewV7()
	if err != nil {
		// Entropy source failure; the teacher repo panics in the same
		// circumstance rather than silently handing out a colliding id.
		panic(err)
	}
	return RunId(id)
}

// IsDefault reports whether r is the sentinel default run.
func (r RunId) IsDefault() bool {
	return r == DefaultRunId
}

func (r RunId) String() string {
	return hex.EncodeToString(r[:])
}

// ParseRunId parses the hex form produced by String.
func ParseRunId(s string) (RunId, error) {
	var r RunId
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, err
	}
	if len(b) != len(r) {
		return r, errShortRunId
	}
	copy(r[:], b)
	return r, nil
}
