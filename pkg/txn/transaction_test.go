package txn

import (
	"testing"

	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

func testKey(user string) types.Key {
	return types.Key{
		Namespace: types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: types.NewRunId()},
		Tag:       types.TagKV,
		UserBytes: []byte(user),
	}
}

func newTestEngine() *Engine {
	return NewEngine(storage.New(), nil)
}

func TestBasicCommitIsVisibleAfterward(t *testing.T) {
	e := newTestEngine()
	run := types.NewRunId()
	k := testKey("k1")

	tx := e.Begin(run)
	if err := tx.Put(k, types.String("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := tx.Commit(0); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := e.Begin(run)
	v, ok, err := tx2.Get(k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected the committed key to be visible")
	}
	if s, _ := v.AsString(); s != "hello" {
		t.Fatalf("got %v, want hello", v)
	}
}

func TestReadWriteConflictAborts(t *testing.T) {
	e := newTestEngine()
	run := types.NewRunId()
	k := testKey("k1")

	// Seed an initial value so both transactions can read it.
	seed := e.Begin(run)
	seed.Put(k, types.Int64(1))
	if _, err := seed.Commit(0); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	txA := e.Begin(run)
	txB := e.Begin(run)

	// Both read the same key, pinning the same version in their read sets.
	if _, _, err := txA.Get(k); err != nil {
		t.Fatalf("txA.Get: %v", err)
	}
	if _, _, err := txB.Get(k); err != nil {
		t.Fatalf("txB.Get: %v", err)
	}

	txA.Put(k, types.Int64(2))
	if _, err := txA.Commit(0); err != nil {
		t.Fatalf("txA commit should succeed: %v", err)
	}

	txB.Put(k, types.Int64(3))
	_, err := txB.Commit(0)
	if err == nil {
		t.Fatalf("expected txB to fail validation after txA advanced the key it read")
	}
	var vfe *strataerr.ValidationFailedError
	if !errorsAsValidationFailed(err, &vfe) {
		t.Fatalf("got %T, want *strataerr.ValidationFailedError", err)
	}
	if len(vfe.Conflicts) != 1 || vfe.Conflicts[0].Kind != strataerr.ConflictReadWrite {
		t.Fatalf("got conflicts %+v, want exactly one ConflictReadWrite", vfe.Conflicts)
	}
}

func TestBlindWriteNeverConflicts(t *testing.T) {
	e := newTestEngine()
	run := types.NewRunId()
	k := testKey("k1")

	seed := e.Begin(run)
	seed.Put(k, types.Int64(1))
	seed.Commit(0)

	txA := e.Begin(run)
	txB := e.Begin(run)

	// Neither transaction reads k before writing it: a blind write.
	txA.Put(k, types.Int64(2))
	if _, err := txA.Commit(0); err != nil {
		t.Fatalf("txA commit: %v", err)
	}

	txB.Put(k, types.Int64(3))
	if _, err := txB.Commit(0); err != nil {
		t.Fatalf("txB commit should succeed since blind writes never conflict: %v", err)
	}
}

func TestCasWithAbsentKeySucceedsOnce(t *testing.T) {
	e := newTestEngine()
	run := types.NewRunId()
	k := testKey("new-key")

	tx := e.Begin(run)
	if err := tx.Cas(k, types.NoVersion, types.String("first")); err != nil {
		t.Fatalf("Cas: %v", err)
	}
	if _, err := tx.Commit(0); err != nil {
		t.Fatalf("first Cas-create should succeed: %v", err)
	}

	tx2 := e.Begin(run)
	if err := tx2.Cas(k, types.NoVersion, types.String("second")); err != nil {
		t.Fatalf("Cas: %v", err)
	}
	_, err := tx2.Commit(0)
	if err == nil {
		t.Fatalf("expected the second Cas-assuming-absent to fail now that the key exists")
	}
}

func TestWriteSkewIsNotPrevented(t *testing.T) {
	// Two transactions each read a different key and write the other,
	// satisfying a cross-key invariant individually while violating it
	// jointly. Read-set validation is per-key, so this spec's OCC does not
	// catch write skew; both commits succeed.
	e := newTestEngine()
	run := types.NewRunId()
	kx := testKey("x")
	ky := testKey("y")

	seed := e.Begin(run)
	seed.Put(kx, types.Int64(1))
	seed.Put(ky, types.Int64(1))
	seed.Commit(0)

	txA := e.Begin(run)
	txB := e.Begin(run)

	txA.Get(kx)
	txB.Get(ky)

	txA.Put(ky, types.Int64(0))
	txB.Put(kx, types.Int64(0))

	if _, err := txA.Commit(0); err != nil {
		t.Fatalf("txA should commit: %v", err)
	}
	if _, err := txB.Commit(0); err != nil {
		t.Fatalf("txB should also commit, demonstrating write skew is possible: %v", err)
	}
}

func TestValidationReportsAllConflictsNotJustFirst(t *testing.T) {
	e := newTestEngine()
	run := types.NewRunId()
	k1 := testKey("k1")
	k2 := testKey("k2")

	seed := e.Begin(run)
	seed.Put(k1, types.Int64(1))
	seed.Put(k2, types.Int64(1))
	seed.Commit(0)

	reader := e.Begin(run)
	reader.Get(k1)
	reader.Get(k2)

	writer := e.Begin(run)
	writer.Put(k1, types.Int64(2))
	writer.Put(k2, types.Int64(2))
	if _, err := writer.Commit(0); err != nil {
		t.Fatalf("writer commit: %v", err)
	}

	reader.Put(k1, types.Int64(9))
	_, err := reader.Commit(0)
	if err == nil {
		t.Fatalf("expected reader to fail validation on both stale reads")
	}
	var vfe *strataerr.ValidationFailedError
	if !errorsAsValidationFailed(err, &vfe) {
		t.Fatalf("got %T, want *strataerr.ValidationFailedError", err)
	}
	if len(vfe.Conflicts) != 2 {
		t.Fatalf("got %d conflicts, want 2 (validation must not short-circuit)", len(vfe.Conflicts))
	}
}

func TestAbortClearsBuffersAndRejectsFurtherOps(t *testing.T) {
	e := newTestEngine()
	run := types.NewRunId()
	tx := e.Begin(run)
	tx.Put(testKey("k"), types.Int64(1))

	if err := tx.Abort("caller cancelled"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := tx.Put(testKey("k2"), types.Int64(2)); err == nil {
		t.Fatalf("expected Put on an aborted transaction to fail")
	}
	if _, err := tx.Commit(0); err == nil {
		t.Fatalf("expected Commit on an aborted transaction to fail")
	}
}

func errorsAsValidationFailed(err error, target **strataerr.ValidationFailedError) bool {
	vfe, ok := err.(*strataerr.ValidationFailedError)
	if ok {
		*target = vfe
	}
	return ok
}
