package txn

import (
	"sync"
	"time"

	"github.com/strata-systems/strata-core/pkg/metrics"
	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

type readEntry struct {
	key     types.Key
	version uint64
}

type writeEntry struct {
	key   types.Key
	value types.Value
}

type casOp struct {
	key      types.Key
	expected uint64
	value    types.Value
}

// Transaction is a single optimistic transaction: a pinned snapshot plus
// local read/write/delete/cas buffers that are only reconciled against live
// storage at commit time.
type Transaction struct {
	engine    *Engine
	id        uint64
	runId     types.RunId
	snapshot  storage.SnapshotView
	startTime time.Time

	mu          sync.Mutex
	status      Status
	abortReason string

	readSet   map[string]readEntry
	writeSet  map[string]writeEntry
	deleteSet map[string]types.Key
	casOps    []casOp
}

// Id returns the transaction's id, assigned at Begin and stable for its
// lifetime (including after abort, for diagnostics).
func (t *Transaction) Id() uint64 { return t.id }

// Status reports the transaction's current lifecycle state.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsExpired reports whether the transaction has been Active longer than
// timeout. A commit may observe this before the WAL write and abort with a
// timeout reason; once the CommitTxn record is fsynced the transaction is
// durable and expiry is no longer checked (spec §5).
func (t *Transaction) IsExpired(timeout time.Duration) bool {
	return time.Since(t.startTime) > timeout
}

func (t *Transaction) requireActive(op string) error {
	if t.status != Active {
		return &strataerr.InvalidStateError{Op: op, State: t.status.String()}
	}
	return nil
}

// Get resolves key against the local buffers first, falling back to the
// pinned snapshot. Per spec §4.4: a write_set or delete_set hit never
// touches read_set; a snapshot read records the observed version in
// read_set exactly once (first read wins, so repeated reads are
// repeatable).
func (t *Transaction) Get(key types.Key) (types.Value, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireActive("get"); err != nil {
		return types.Value{}, false, err
	}

	sk := key.StorageKey()
	if w, ok := t.writeSet[sk]; ok {
		return w.value, true, nil
	}
	if _, ok := t.deleteSet[sk]; ok {
		return types.Value{}, false, nil
	}

	if vv, ok := t.snapshot.Get(key); ok {
		if _, seen := t.readSet[sk]; !seen {
			t.readSet[sk] = readEntry{key: key, version: vv.Version}
		}
		if vv.IsTombstone || vv.Expired(time.Now()) {
			return types.Value{}, false, nil
		}
		return vv.Value, true, nil
	}

	if _, seen := t.readSet[sk]; !seen {
		t.readSet[sk] = readEntry{key: key, version: types.NoVersion}
	}
	return types.Value{}, false, nil
}

// ScanResult is one key's current value as seen by a prefix scan.
type ScanResult struct {
	Key   types.Key
	Value types.Value
}

// ScanPrefix returns the union of snapshot results under prefix (excluding
// anything in delete_set) and write_set entries matching prefix. Every key
// observed from the snapshot is added to read_set, which is how prefix
// scans participate in conflict detection despite never reading a single
// key by name — any commit that deletes or modifies an observed key between
// this scan and our validation shows up as a read-set version mismatch on
// that key. Keys absent from the snapshot never enter read_set, so a key
// inserted under the prefix by a later commit (a phantom) does not conflict.
func (t *Transaction) ScanPrefix(ns types.Namespace, tag types.TypeTag) ([]ScanResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireActive("scan_prefix"); err != nil {
		return nil, err
	}

	prefix := types.NamespaceTagPrefix(ns, tag)
	seen := make(map[string]bool)
	var out []ScanResult

	for sk, w := range t.writeSet {
		if types.HasPrefix([]byte(sk), prefix) {
			out = append(out, ScanResult{Key: w.key, Value: w.value})
			seen[sk] = true
		}
	}

	for sk, kv := range t.snapshotScan(prefix) {
		if seen[sk] {
			continue
		}
		if _, deleted := t.deleteSet[sk]; deleted {
			if _, already := t.readSet[sk]; !already {
				t.readSet[sk] = readEntry{key: kv.key, version: kv.version}
			}
			continue
		}
		if _, already := t.readSet[sk]; !already {
			t.readSet[sk] = readEntry{key: kv.key, version: kv.version}
		}
		if kv.tombstone || kv.expired {
			continue
		}
		out = append(out, ScanResult{Key: kv.key, Value: kv.value})
	}

	return out, nil
}

type scannedEntry struct {
	key       types.Key
	value     types.Value
	version   uint64
	tombstone bool
	expired   bool
}

// snapshotScan walks the pinned snapshot for matching keys. It is defined
// against the SnapshotView interface's point-read contract via the
// underlying store's prefix scan — both concrete SnapshotView
// implementations share the same backing store, so scanning at
// snapshot.Version() through the store produces the same result a
// hypothetical SnapshotView.ScanPrefix would.
func (t *Transaction) snapshotScan(prefix []byte) map[string]scannedEntry {
	store, ok := t.engine.storeForScan()
	if !ok {
		return nil
	}
	now := time.Now()
	out := make(map[string]scannedEntry)
	for _, kv := range store.ScanPrefix(prefix, t.snapshot.Version()) {
		k, err := types.ParseKeyBytes(kv.KeyBytes)
		if err != nil {
			continue
		}
		out[string(kv.KeyBytes)] = scannedEntry{
			key:       k,
			value:     kv.Value.Value,
			version:   kv.Value.Version,
			tombstone: kv.Value.IsTombstone,
			expired:   kv.Value.Expired(now),
		}
	}
	return out
}

// Put buffers a write. Per spec §4.4 this clears any pending delete of the
// same key — put and delete on the same key within one transaction are
// mutually exclusive, last call wins.
func (t *Transaction) Put(key types.Key, value types.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("put"); err != nil {
		return err
	}
	sk := key.StorageKey()
	t.writeSet[sk] = writeEntry{key: key, value: value}
	delete(t.deleteSet, sk)
	return nil
}

// Delete buffers a tombstone, clearing any pending write of the same key.
func (t *Transaction) Delete(key types.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("delete"); err != nil {
		return err
	}
	sk := key.StorageKey()
	t.deleteSet[sk] = key
	delete(t.writeSet, sk)
	return nil
}

// Cas buffers a compare-and-swap: the write is only applied at commit if
// the key's storage version still equals expectedVersion at validation
// time. expectedVersion of types.NoVersion means "the key must not exist".
// Unlike Put/Delete, Cas never touches read_set or write_set — it is
// validated entirely on its own terms (spec §4.4).
func (t *Transaction) Cas(key types.Key, expectedVersion uint64, newValue types.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("cas"); err != nil {
		return err
	}
	t.casOps = append(t.casOps, casOp{key: key, expected: expectedVersion, value: newValue})
	return nil
}

// Commit runs begin_commit (Active -> Validating), checks the timeout
// deadline, then performs the full atomic commit sequence (spec §4.4) under
// the engine's commit lock.
func (t *Transaction) Commit(timeout time.Duration) (uint64, error) {
	t.mu.Lock()
	if err := t.requireActive("commit"); err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if timeout > 0 && t.IsExpired(timeout) {
		t.status = Aborted
		t.abortReason = "timeout"
		metrics.AbortsTotal.WithLabelValues(t.abortReason).Inc()
		t.mu.Unlock()
		return 0, &strataerr.TransactionTimeoutError{TxnId: t.id}
	}
	t.status = Validating
	t.mu.Unlock()

	// The engine's commit lock, not t.mu, guards the validate/WAL/apply
	// sequence — t.mu only protects this transaction's own buffers, which
	// are not mutated again after this point regardless of outcome.
	return t.engine.commit(t)
}

// Abort transitions an Active transaction to Aborted, clearing its pending
// write/delete/cas buffers (read_set is kept for diagnostics). Nothing is
// written to the WAL — the absence of a CommitTxn record is itself the
// abort signal on replay.
func (t *Transaction) Abort(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return &strataerr.InvalidStateError{Op: "abort", State: t.status.String()}
	}
	t.writeSet = make(map[string]writeEntry)
	t.deleteSet = make(map[string]types.Key)
	t.casOps = nil
	t.status = Aborted
	t.abortReason = reason
	metrics.AbortsTotal.WithLabelValues(reason).Inc()
	return nil
}
