package wal

import "time"

// DurabilityMode selects when an appended entry is guaranteed to survive a
// process crash. It is configuration, chosen at open, not a per-append
// choice — mixing modes on one file would make the loss window undefined.
type DurabilityMode int

const (
	// None issues no fsync at all. Appends are flushed to the OS page cache
	// only; data can be lost if the OS or machine crashes before the page
	// cache is written back.
	// Intended for tests that don't care about crash durability.
	None DurabilityMode = iota

	// Batched flushes the buffered writer after every append, then fsyncs
	// either every BatchCount appends or every BatchInterval, whichever
	// comes first. The count-based fsync runs inline on the appending
	// goroutine; the interval-based one runs on a background timer. This is
	// the default: bounded loss window, amortized fsync cost.
	Batched

	// Strict fsyncs after every CommitTxn record and only after CommitTxn
	// records — other record kinds are flushed but not fsynced. Suitable
	// when transactions are infrequent and no committed write may be lost.
	Strict
)

func (m DurabilityMode) String() string {
	switch m {
	case None:
		return "none"
	case Batched:
		return "batched"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

// Options configures a WAL.
type Options struct {
	// Path to the single append-only log file.
	Path string

	// BufferSize is the bufio.Writer buffer size, in bytes.
	BufferSize int

	Mode DurabilityMode

	// BatchCount and BatchInterval govern Batched mode's two independent
	// fsync triggers.
	BatchCount    int
	BatchInterval time.Duration
}

// DefaultOptions matches spec defaults: Batched durability, N=1000 appends
// or T=100ms, whichever comes first.
func DefaultOptions(path string) Options {
	return Options{
		Path:          path,
		BufferSize:    64 * 1024,
		Mode:          Batched,
		BatchCount:    1000,
		BatchInterval: 100 * time.Millisecond,
	}
}
