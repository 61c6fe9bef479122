package types

import (
	"encoding/binary"
	"errors"
)

var errMalformedKeyBytes = errors.New("types: key bytes do not match the expected namespace/tag encoding")

// Namespace is the hierarchical scope (tenant, app, agent, run) a key lives
// under. Namespace is orthogonal to version history: a run is always
// addressed within a namespace, but the version chain is keyed on the full
// (namespace, tag, user bytes) tuple, not on the run alone.
type Namespace struct {
	Tenant string
	App    string
	Agent  string
	Run    RunId
}

// Bytes renders the namespace to a canonical, order-preserving byte form:
// each string field is length-prefixed (u16) so that no field's content can
// bleed into the next, followed by the raw 16-byte run id.
func (n Namespace) Bytes() []byte {
	size := 2 + len(n.Tenant) + 2 + len(n.App) + 2 + len(n.Agent) + len(n.Run)
	buf := make([]byte, 0, size)
	buf = appendLenPrefixed(buf, n.Tenant)
	buf = appendLenPrefixed(buf, n.App)
	buf = appendLenPrefixed(buf, n.Agent)
	buf = append(buf, n.Run[:]...)
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

// TypeTag discriminates entries by primitive. Numeric codes above the last
// assigned constant are reserved for forward compatibility: a reader that
// doesn't recognize a tag must skip the record, never treat it as fatal.
type TypeTag uint8

const (
	TagKV TypeTag = iota + 1
	TagEvent
	TagState
	TagJSON
	TagVector
	TagRunMeta
	// maxKnownTag marks the boundary; codes above it are unknown-but-legal.
	maxKnownTag
)

// Known reports whether t is one of the tags this build understands. An
// unknown tag is not an error — callers that only need to preserve or skip
// records (the WAL replayer, the snapshot reader) must handle it without
// failing.
func (t TypeTag) Known() bool {
	return t >= TagKV && t < maxKnownTag
}

func (t TypeTag) String() string {
	switch t {
	case TagKV:
		return "kv"
	case TagEvent:
		return "event"
	case TagState:
		return "state"
	case TagJSON:
		return "json"
	case TagVector:
		return "vector"
	case TagRunMeta:
		return "run_meta"
	default:
		return "unknown"
	}
}

// Key is the composite (namespace, type_tag, user_bytes) address of an
// entry. User bytes are opaque to the core: validation (non-empty, no NUL,
// no reserved prefix) is the facade's responsibility. The core must not
// misinterpret any byte sequence handed to it.
type Key struct {
	Namespace Namespace
	Tag       TypeTag
	UserBytes []byte
}

// Bytes renders the external binary form described in spec §6:
// namespace_bytes ∥ 0x00 ∥ type_tag_byte ∥ user_bytes. The NUL separator
// is safe only because facades keep NUL out of namespace components and
// user bytes; the core does not enforce that here, it just trusts it.
func (k Key) Bytes() []byte {
	ns := k.Namespace.Bytes()
	buf := make([]byte, 0, len(ns)+2+len(k.UserBytes))
	buf = append(buf, ns...)
	buf = append(buf, 0x00, byte(k.Tag))
	buf = append(buf, k.UserBytes...)
	return buf
}

// StorageKey is the string form used as a Go map key. string(Key.Bytes())
// copies the backing array on conversion, which is exactly the sharing
// boundary we want: map keys must not alias caller-owned slices.
func (k Key) StorageKey() string {
	return string(k.Bytes())
}

// ParseKeyBytes reverses Key.Bytes(): three length-prefixed namespace
// strings, a 16-byte run id, a 0x00 separator, a type tag byte, and the
// remaining opaque user bytes. Returns errMalformedKeyBytes if raw is
// shorter than its own length prefixes claim.
func ParseKeyBytes(raw []byte) (Key, error) {
	off := 0
	readStr := func() (string, bool) {
		if off+2 > len(raw) {
			return "", false
		}
		l := int(binary.LittleEndian.Uint16(raw[off : off+2]))
		off += 2
		if off+l > len(raw) {
			return "", false
		}
		s := string(raw[off : off+l])
		off += l
		return s, true
	}

	tenant, ok := readStr()
	if !ok {
		return Key{}, errMalformedKeyBytes
	}
	app, ok := readStr()
	if !ok {
		return Key{}, errMalformedKeyBytes
	}
	agent, ok := readStr()
	if !ok {
		return Key{}, errMalformedKeyBytes
	}
	if off+16 > len(raw) {
		return Key{}, errMalformedKeyBytes
	}
	var runId RunId
	copy(runId[:], raw[off:off+16])
	off += 16

	if off+2 > len(raw) || raw[off] != 0x00 {
		return Key{}, errMalformedKeyBytes
	}
	tag := TypeTag(raw[off+1])
	off += 2

	userBytes := append([]byte(nil), raw[off:]...)

	return Key{
		Namespace: Namespace{Tenant: tenant, App: app, Agent: agent, Run: runId},
		Tag:       tag,
		UserBytes: userBytes,
	}, nil
}

// HasPrefix reports whether k's binary form starts with the given raw
// prefix bytes; used by scan_prefix over an already-encoded namespace+tag
// prefix.
func HasPrefix(keyBytes []byte, prefix []byte) bool {
	if len(keyBytes) < len(prefix) {
		return false
	}
	for i := range prefix {
		if keyBytes[i] != prefix[i] {
			return false
		}
	}
	return true
}

// TenantAppAgentPrefix renders the byte prefix shared by every key under a
// (tenant, app, agent) triple regardless of run id — used by scans that
// range across every run in scope (e.g. listing active runs), since Run is
// embedded inside Namespace.Bytes() rather than appended after it and so
// cannot be matched by a simple shared-prefix scan on its own.
func TenantAppAgentPrefix(tenant, app, agent string) []byte {
	size := 2 + len(tenant) + 2 + len(app) + 2 + len(agent)
	buf := make([]byte, 0, size)
	buf = appendLenPrefixed(buf, tenant)
	buf = appendLenPrefixed(buf, app)
	buf = appendLenPrefixed(buf, agent)
	return buf
}

// NamespaceTagPrefix renders the byte prefix shared by every key in the
// given namespace under the given tag — namespace_bytes ∥ 0x00 ∥ tag — the
// prefix scan_prefix matches against.
func NamespaceTagPrefix(ns Namespace, tag TypeTag) []byte {
	nb := ns.Bytes()
	buf := make([]byte, 0, len(nb)+2)
	buf = append(buf, nb...)
	buf = append(buf, 0x00, byte(tag))
	return buf
}
