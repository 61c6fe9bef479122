package record

import "errors"

// ErrShortBuffer is returned by DecodeEntry when buf does not yet contain a
// complete frame. Per spec §4.1 this is the expected shape of a crash
// mid-append, not corruption — the WAL reader stops cleanly on it instead
// of raising strataerr.CorruptionError.
var ErrShortBuffer = errors.New("record: buffer does not contain a complete frame")

var errUnsupportedEntry = errors.New("record: unsupported entry type for encoding")
