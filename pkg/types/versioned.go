package types

import "time"

// NoVersion is the reserved version meaning "this key never existed". Any
// actually stored value has a version >= 1.
const NoVersion uint64 = 0

// VersionedValue pairs a Value with the commit version that produced it and
// an optional expiry instant (TTL). A Value of KindNull with IsTombstone
// true represents a deletion marker, not a stored null — callers that need
// to distinguish "key holds JSON null" from "key was deleted" must check
// IsTombstone, not the Value's Kind.
type VersionedValue struct {
	Value       Value
	Version     uint64
	ExpiresAt   *time.Time
	IsTombstone bool
}

// Expired reports whether the value's TTL has elapsed as of now.
func (vv VersionedValue) Expired(now time.Time) bool {
	return vv.ExpiresAt != nil && !vv.ExpiresAt.After(now)
}
