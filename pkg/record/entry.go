// Package record implements the Encoding component (spec §4.1): a pure,
// CRC-checked, typed record framing shared by the WAL and the snapshot
// writer. Framing is hand-rolled bincode-style binary rather than a general
// serialization library, because the spec requires bit-exact determinism
// and guaranteed single-bit-flip CRC detection within the covered region —
// a property a generic codec does not promise.
package record

import "github.com/strata-systems/strata-core/pkg/types"

// RecordType discriminates the kinds of WAL/snapshot records. Unknown
// discriminants decode into UnknownEntry rather than failing, so that a
// reader built against an older version of this package can still replay a
// WAL produced by a newer one, skipping what it doesn't understand.
type RecordType uint8

const (
	RecordBeginTxn RecordType = iota + 1
	RecordWrite
	RecordDelete
	RecordCommitTxn
	// RecordAbortTxn is unused by this implementation — the absence of a
	// CommitTxn is the abort signal (spec §9 open question) — but the
	// discriminant is reserved so a reader never mistakes one for
	// corruption if some future writer emits it.
	RecordAbortTxn
	// RecordCheckpoint records the WAL offset a snapshot covers, used only
	// for truncation bookkeeping; it carries no correctness-relevant
	// replay semantics (spec §9 open question).
	RecordCheckpoint
	// RecordJSONPatch and RecordVectorUpdate are reserved discriminants for
	// facade-owned payloads. This package has no decoder for them: they
	// decode as UnknownEntry, and replay skips them without applying
	// anything.
	RecordJSONPatch
	RecordVectorUpdate
)

func (t RecordType) String() string {
	switch t {
	case RecordBeginTxn:
		return "begin_txn"
	case RecordWrite:
		return "write"
	case RecordDelete:
		return "delete"
	case RecordCommitTxn:
		return "commit_txn"
	case RecordAbortTxn:
		return "abort_txn"
	case RecordCheckpoint:
		return "checkpoint"
	case RecordJSONPatch:
		return "json_patch"
	case RecordVectorUpdate:
		return "vector_update"
	default:
		return "unknown"
	}
}

// Entry is any decoded WAL/snapshot record.
type Entry interface {
	Type() RecordType
}

// BeginTxnEntry marks the start of a transaction's durable footprint.
type BeginTxnEntry struct {
	TxnId     uint64
	RunId     types.RunId
	TimestampUnixMicros int64
}

func (BeginTxnEntry) Type() RecordType { return RecordBeginTxn }

// WriteEntry records a put (or a CAS that validated) at a specific commit
// version — versions are never re-assigned on replay.
type WriteEntry struct {
	TxnId   uint64
	RunId   types.RunId
	Key     types.Key
	Value   types.Value
	Version uint64
}

func (WriteEntry) Type() RecordType { return RecordWrite }

// DeleteEntry records a tombstone insertion at a specific commit version.
type DeleteEntry struct {
	TxnId   uint64
	RunId   types.RunId
	Key     types.Key
	Version uint64
}

func (DeleteEntry) Type() RecordType { return RecordDelete }

// CommitTxnEntry is the durability point: a transaction is durable iff this
// record has been fsynced.
type CommitTxnEntry struct {
	TxnId uint64
	RunId types.RunId
}

func (CommitTxnEntry) Type() RecordType { return RecordCommitTxn }

// AbortTxnEntry is never emitted by this implementation (see RecordAbortTxn
// doc) but decodes cleanly if encountered; replay treats it as a no-op.
type AbortTxnEntry struct {
	TxnId uint64
	RunId types.RunId
}

func (AbortTxnEntry) Type() RecordType { return RecordAbortTxn }

// CheckpointEntry records the WAL offset a snapshot covers plus an advisory
// list of run ids that were active at checkpoint time. ActiveRuns is
// metadata only — spec §9 explicitly leaves its replay semantics
// unspecified, so nothing here treats it as a correctness input.
type CheckpointEntry struct {
	WalOffset  uint64
	ActiveRuns []types.RunId
}

func (CheckpointEntry) Type() RecordType { return RecordCheckpoint }

// UnknownEntry preserves an unrecognized record's raw payload so the
// replay/skip machinery can move past it using only the length prefix,
// without needing to understand its shape.
type UnknownEntry struct {
	Tag     uint8
	Payload []byte
}

func (UnknownEntry) Type() RecordType { return RecordType(0) }
