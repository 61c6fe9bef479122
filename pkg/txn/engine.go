// Package txn implements the Transaction Engine (spec §4.4): the component
// that coordinates snapshot acquisition, per-transaction buffering,
// optimistic validation, WAL writing, and storage application under a
// single serializing commit lock. The narrow, atomic-pointer-handoff
// snapshot acquisition is grounded on the Jekaa MVCC map's BeginTx; the
// explicit read_set/write_set/delete_set/cas_set buffering and the ordered,
// non-short-circuiting validation phases are this spec's own contract
// (§4.4), since no example repo models OCC at this granularity.
package txn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/strata-systems/strata-core/pkg/metrics"
	"github.com/strata-systems/strata-core/pkg/record"
	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
	"github.com/strata-systems/strata-core/pkg/wal"
)

// Engine owns the store and WAL a set of transactions commit against, and
// the single lock that serializes validation, WAL append, and storage
// apply — the only coarse-grained lock in the system (spec §5).
type Engine struct {
	store *storage.Store
	log   *wal.Writer

	commitMu         sync.Mutex
	nextTxnId        atomic.Uint64
	committedTxns    atomic.Uint64
	snapshotStrategy storage.SnapshotStrategy
}

// NewEngine wires a transaction engine around an already-open store and
// WAL. Both are owned by the caller (typically the root Database type) and
// may be shared with the recovery and run-registry components. New
// transactions snapshot using storage.CloneStrategy until
// SetSnapshotStrategy says otherwise.
func NewEngine(store *storage.Store, log *wal.Writer) *Engine {
	return &Engine{store: store, log: log}
}

// SetSnapshotStrategy changes which SnapshotView backend Begin hands new
// transactions. Safe to call between transactions; it does not affect
// snapshots already handed out.
func (e *Engine) SetSnapshotStrategy(strategy storage.SnapshotStrategy) {
	e.snapshotStrategy = strategy
}

// Begin starts a new Active transaction scoped to runId, capturing a
// snapshot of the store at its current global version.
func (e *Engine) Begin(runId types.RunId) *Transaction {
	return &Transaction{
		engine:    e,
		id:        e.nextTxnId.Add(1),
		runId:     runId,
		snapshot:  e.store.CreateSnapshotFor(e.snapshotStrategy),
		status:    Active,
		startTime: time.Now(),
		readSet:   make(map[string]readEntry),
		writeSet:  make(map[string]writeEntry),
		deleteSet: make(map[string]types.Key),
	}
}

// commit runs the full atomic commit sequence from spec §4.4 under the
// engine's commit lock. txn must already be in the Validating state; the
// caller (Transaction.Commit) handles the Active -> Validating transition
// and the timeout probe before acquiring the lock.
func (e *Engine) commit(t *Transaction) (uint64, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	// A read-only transaction always commits: it has nothing to apply, so a
	// stale read set cannot produce a conflicting write.
	readOnly := len(t.writeSet) == 0 && len(t.deleteSet) == 0 && len(t.casOps) == 0
	if result := e.validate(t); !readOnly && len(result.Conflicts) > 0 {
		for _, c := range result.Conflicts {
			metrics.ConflictsTotal.WithLabelValues(c.Kind.String()).Inc()
		}
		t.status = Aborted
		t.abortReason = "validation failed"
		metrics.AbortsTotal.WithLabelValues(t.abortReason).Inc()
		return 0, &strataerr.ValidationFailedError{Conflicts: result.Conflicts}
	}

	commitVersion := e.store.CurrentVersion() + 1

	if err := e.writeCommitRecords(t, commitVersion); err != nil {
		t.status = Aborted
		t.abortReason = "wal write failed"
		metrics.AbortsTotal.WithLabelValues(t.abortReason).Inc()
		return 0, err
	}

	e.applyToStorage(t, commitVersion)

	t.status = Committed
	e.committedTxns.Add(1)
	metrics.CommitsTotal.Inc()
	return commitVersion, nil
}

// CommittedCount returns the number of transactions this engine has
// committed since it was constructed, used to stamp a snapshot's committed
// txn count at the moment it's written.
func (e *Engine) CommittedCount() uint64 {
	return e.committedTxns.Load()
}

// writeCommitRecords performs WAL steps 4-8 of the commit sequence: this is
// the durability point. Everything before it can be aborted cleanly;
// everything after it (storage apply) must succeed if the process doesn't
// crash, since replay would reconstruct the same state anyway.
//
// A nil log means this engine backs a memory-only database (spec §6's
// empty-DataDir case): there is nothing to make durable, so every record
// below is skipped and only the storage apply happens.
func (e *Engine) writeCommitRecords(t *Transaction, commitVersion uint64) error {
	if e.log == nil {
		return nil
	}

	stop := metrics.Timer(metrics.WalFsyncDuration)
	defer stop()

	if _, err := e.log.Append(record.BeginTxnEntry{
		TxnId:               t.id,
		RunId:               t.runId,
		TimestampUnixMicros: t.startTime.UnixMicro(),
	}); err != nil {
		return err
	}

	for _, w := range t.writeSet {
		if _, err := e.log.Append(record.WriteEntry{
			TxnId: t.id, RunId: t.runId, Key: w.key, Value: w.value, Version: commitVersion,
		}); err != nil {
			return err
		}
	}
	for _, k := range t.deleteSet {
		if _, err := e.log.Append(record.DeleteEntry{
			TxnId: t.id, RunId: t.runId, Key: k, Version: commitVersion,
		}); err != nil {
			return err
		}
	}
	for _, c := range t.casOps {
		// CAS and a plain write are indistinguishable once validated: both
		// become a Write record at the commit version.
		if _, err := e.log.Append(record.WriteEntry{
			TxnId: t.id, RunId: t.runId, Key: c.key, Value: c.value, Version: commitVersion,
		}); err != nil {
			return err
		}
	}

	if _, err := e.log.Append(record.CommitTxnEntry{TxnId: t.id, RunId: t.runId}); err != nil {
		return err
	}
	return nil
}

// Store exposes the engine's underlying store for read-only queries that
// fall outside the transaction API proper, such as the run registry's
// cross-run listing scan.
func (e *Engine) Store() *storage.Store { return e.store }

// storeForScan exposes the engine's underlying store to Transaction's
// prefix-scan path, which needs a range query the SnapshotView interface
// intentionally doesn't carry (spec §4.2 scopes SnapshotView to point
// reads; both current backends share this one store, so scanning through
// it at the pinned snapshot version is equivalent).
func (e *Engine) storeForScan() (*storage.Store, bool) {
	return e.store, e.store != nil
}

func (e *Engine) applyToStorage(t *Transaction, commitVersion uint64) {
	for _, w := range t.writeSet {
		e.store.PutWithVersion(w.key, w.value, commitVersion, nil)
	}
	for _, k := range t.deleteSet {
		e.store.DeleteWithVersion(k, commitVersion)
	}
	for _, c := range t.casOps {
		e.store.PutWithVersion(c.key, c.value, commitVersion, nil)
	}
}
