// Package strataerr defines the structured error taxonomy shared across the
// core: the expected, non-exceptional errors (NotFound, WrongType,
// InvalidKey, InvalidState, Conflict, Overflow, TransactionTimeout) are
// plain typed structs in the style of the teacher repo's pkg/errors, since
// callers are expected to switch on them and nothing about them is
// exceptional. Corruption and IoError are built with cockroachdb/errors so
// they carry a captured stack trace for diagnosis, without losing the
// typed-error contract (errors.As still recovers the struct).
package strataerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// NotFoundError reports that a key or run was absent where presence was
// expected (e.g. get_run on an unknown run id).
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.What) }

// WrongTypeError reports an operation incompatible with the stored value's
// shape (e.g. an integer increment attempted on a string).
type WrongTypeError struct {
	Op       string
	Expected string
	Got      string
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Op, e.Expected, e.Got)
}

// InvalidKeyError reports a structurally invalid key. Non-retryable.
type InvalidKeyError struct {
	Reason string
}

func (e *InvalidKeyError) Error() string { return fmt.Sprintf("invalid key: %s", e.Reason) }

// InvalidStateError reports an operation attempted against a transaction
// that has already left the Active/Validating states. Non-retryable.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: transaction is %s", e.Op, e.State)
}

// ConflictKind distinguishes the two ways optimistic validation can fail.
type ConflictKind int

const (
	ConflictReadWrite ConflictKind = iota
	ConflictCAS
)

func (k ConflictKind) String() string {
	if k == ConflictCAS {
		return "cas"
	}
	return "read_write"
}

// Conflict is one entry in a ValidationFailed error's conflict list.
type Conflict struct {
	Kind    ConflictKind
	Key     []byte
	Read    uint64 // version this transaction observed (read_set) or expected (CAS)
	Current uint64 // version storage currently holds
}

// ValidationFailedError is returned by Commit when validation finds one or
// more conflicts. The conflict list is exhaustive: every phase of
// validation runs, none short-circuits, so callers can see every conflict
// at once rather than retrying one at a time.
type ValidationFailedError struct {
	Conflicts []Conflict
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed: %d conflict(s)", len(e.Conflicts))
}

// OverflowError reports a checked-arithmetic failure (e.g. increment past
// the int64 range).
type OverflowError struct {
	Op string
}

func (e *OverflowError) Error() string { return fmt.Sprintf("overflow in %s", e.Op) }

// TransactionTimeoutError reports that a caller-imposed deadline elapsed
// before the transaction reached its durability point.
type TransactionTimeoutError struct {
	TxnId uint64
}

func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction %d exceeded its deadline", e.TxnId)
}

// CorruptionKind classifies why decoding a record failed.
type CorruptionKind int

const (
	CorruptBadLength CorruptionKind = iota
	CorruptUnknownType
	CorruptCrcMismatch
)

func (k CorruptionKind) String() string {
	switch k {
	case CorruptBadLength:
		return "bad_length"
	case CorruptUnknownType:
		return "unknown_type"
	case CorruptCrcMismatch:
		return "crc_mismatch"
	default:
		return "unknown"
	}
}

// CorruptionError reports a WAL or snapshot integrity failure at a specific
// byte offset. It is built with cockroachdb/errors so the original call
// site is preserved in the error chain even though the typed fields are
// what callers inspect.
type CorruptionError struct {
	Offset int64
	Kind   CorruptionKind
	cause  error
}

func NewCorruptionError(offset int64, kind CorruptionKind) error {
	ce := &CorruptionError{Offset: offset, Kind: kind}
	ce.cause = errors.Newf("corruption at offset %d: %s", offset, kind)
	return ce
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption at offset %d: %s", e.Offset, e.Kind)
}

func (e *CorruptionError) Unwrap() error { return e.cause }

// WrapIoError wraps a raw I/O error with a captured stack trace while
// keeping it matchable with errors.Is against the underlying cause.
func WrapIoError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "strata: io error during %s", op)
}
