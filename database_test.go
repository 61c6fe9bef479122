package strata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

func testKey(run types.RunId, user string) types.Key {
	return types.Key{
		Namespace: types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: run},
		Tag:       types.TagKV,
		UserBytes: []byte(user),
	}
}

func openTestDB(t *testing.T, dir string) *Database {
	t.Helper()
	opts := DefaultOptions(dir)
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func TestWriteCloseReopenRecoversCommittedData(t *testing.T) {
	dir := t.TempDir()
	run := types.NewRunId()
	k := testKey(run, "k1")

	db := openTestDB(t, dir)
	if _, err := db.Put(run, k, types.String("durable")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	v, ok, err := db2.Get(run, k)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !ok {
		t.Fatalf("expected the committed write to survive a close/reopen cycle")
	}
	if s, _ := v.AsString(); s != "durable" {
		t.Fatalf("got %v, want durable", v)
	}
}

func TestConcurrentWriteConflictAbortsSecondCommitter(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()
	run := types.NewRunId()
	k := testKey(run, "k1")

	db.Put(run, k, types.Int64(1))

	txA := db.Begin(run)
	txB := db.Begin(run)
	txA.Get(k)
	txB.Get(k)

	txA.Put(k, types.Int64(2))
	if _, err := txA.Commit(0); err != nil {
		t.Fatalf("first committer should succeed: %v", err)
	}

	txB.Put(k, types.Int64(3))
	if _, err := txB.Commit(0); err == nil {
		t.Fatalf("expected the second committer to fail OCC validation")
	}
}

func TestBlindWriteSucceedsWithoutConflict(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()
	run := types.NewRunId()
	k := testKey(run, "k1")

	db.Put(run, k, types.Int64(1))

	txA := db.Begin(run)
	txB := db.Begin(run)
	txA.Put(k, types.Int64(2))
	txB.Put(k, types.Int64(3))

	if _, err := txA.Commit(0); err != nil {
		t.Fatalf("txA: %v", err)
	}
	if _, err := txB.Commit(0); err != nil {
		t.Fatalf("txB should also succeed since neither read before writing: %v", err)
	}
}

func TestCasAgainstAbsentKey(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()
	run := types.NewRunId()
	k := testKey(run, "new-key")

	if err := db.Cas(run, k, types.NoVersion, types.String("first")); err != nil {
		t.Fatalf("first Cas-create: %v", err)
	}
	if err := db.Cas(run, k, types.NoVersion, types.String("second")); err == nil {
		t.Fatalf("expected the second absent-key Cas to fail once the key exists")
	}
}

func TestWriteSkewAcrossTwoKeysIsPossible(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()
	run := types.NewRunId()
	kx := testKey(run, "x")
	ky := testKey(run, "y")

	db.Put(run, kx, types.Int64(1))
	db.Put(run, ky, types.Int64(1))

	txA := db.Begin(run)
	txB := db.Begin(run)
	txA.Get(kx)
	txB.Get(ky)
	txA.Put(ky, types.Int64(0))
	txB.Put(kx, types.Int64(0))

	if _, err := txA.Commit(0); err != nil {
		t.Fatalf("txA: %v", err)
	}
	if _, err := txB.Commit(0); err != nil {
		t.Fatalf("txB: %v (per-key OCC does not catch write skew)", err)
	}
}

func TestTruncatedWalRecoversOnlyCompleteTransactions(t *testing.T) {
	dir := t.TempDir()
	run := types.NewRunId()
	k1 := testKey(run, "k1")
	k2 := testKey(run, "k2")

	db := openTestDB(t, dir)
	if _, err := db.Put(run, k1, types.String("safe")); err != nil {
		t.Fatalf("Put k1: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	goodSize := db.log.Offset()

	if _, err := db.Put(run, k2, types.String("lost")); err != nil {
		t.Fatalf("Put k2: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	walPath := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(walPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := f.Truncate(goodSize + 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	f.Close()

	db2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen after truncation: %v", err)
	}
	defer db2.Close()

	v, ok, err := db2.Get(run, k1)
	if err != nil {
		t.Fatalf("Get k1: %v", err)
	}
	if !ok {
		t.Fatalf("expected k1, written before the truncation point, to survive recovery")
	}
	if s, _ := v.AsString(); s != "safe" {
		t.Fatalf("got %v, want safe", v)
	}

	if _, ok, err := db2.Get(run, k2); err != nil {
		t.Fatalf("Get k2: %v", err)
	} else if ok {
		t.Fatalf("expected k2, written after the truncation point, to be dropped by recovery")
	}
}

func TestFilteredSnapshotStrategyServesTransactionsFromLiveStore(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.SnapshotStrategy = storage.FilteredStrategy
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	run := types.NewRunId()
	k := testKey(run, "k1")

	if _, err := db.Put(run, k, types.Int64(1)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tx := db.Begin(run)
	v, ok, err := tx.Get(k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected a filtered-strategy transaction to see the already-committed key")
	}
	if n, _ := v.AsInt64(); n != 1 {
		t.Fatalf("got %v, want 1", v)
	}
	if _, err := tx.Commit(0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSnapshotOnMemoryOnlyDatabaseFails(t *testing.T) {
	db, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	err = db.Snapshot()
	if err == nil {
		t.Fatalf("expected Snapshot to fail on a memory-only database")
	}
	if _, ok := err.(*strataerr.InvalidStateError); !ok {
		t.Fatalf("got %T, want *strataerr.InvalidStateError", err)
	}
}

func TestSnapshotThenRecoverSkipsReplayedPrefix(t *testing.T) {
	dir := t.TempDir()
	run := types.NewRunId()
	k1 := testKey(run, "k1")
	k2 := testKey(run, "k2")

	db := openTestDB(t, dir)
	db.Put(run, k1, types.Int64(1))
	if err := db.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	db.Put(run, k2, types.Int64(2))
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	if _, ok, _ := db2.Get(run, k1); !ok {
		t.Fatalf("expected k1 (captured in the snapshot) to be present after reopen")
	}
	if _, ok, _ := db2.Get(run, k2); !ok {
		t.Fatalf("expected k2 (written after the snapshot, replayed from the WAL) to be present after reopen")
	}
}

func TestGlobalVersionSurvivesSnapshotWithEmptyReplayTail(t *testing.T) {
	dir := t.TempDir()
	run := types.NewRunId()
	k1 := testKey(run, "k1")
	k2 := testKey(run, "k2")

	db := openTestDB(t, dir)
	if _, err := db.Put(run, k1, types.Int64(1)); err != nil {
		t.Fatalf("Put k1: %v", err)
	}
	if err := db.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	// The WAL tail after the snapshot's recorded offset holds nothing but
	// the checkpoint entry itself, so replay's own max version is 0. The
	// global counter must still reflect k1's version from the snapshot.
	version, err := db2.Put(run, k2, types.Int64(2))
	if err != nil {
		t.Fatalf("Put k2: %v", err)
	}
	if version <= 1 {
		t.Fatalf("got commit version %d for k2, want a version greater than k1's snapshot-loaded version 1", version)
	}

	v1, ok, err := db2.Get(run, k1)
	if err != nil {
		t.Fatalf("Get k1: %v", err)
	}
	if !ok {
		t.Fatalf("expected k1 to survive the snapshot/reopen cycle")
	}
	if n, _ := v1.AsInt64(); n != 1 {
		t.Fatalf("got k1 = %v, want 1", v1)
	}
}
