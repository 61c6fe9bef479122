package storage

import (
	"testing"

	"github.com/strata-systems/strata-core/pkg/types"
)

func testKey(user string) types.Key {
	return types.Key{
		Namespace: types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: types.NewRunId()},
		Tag:       types.TagKV,
		UserBytes: []byte(user),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	k := testKey("k1")

	v1 := s.Put(k, types.String("v1"), nil)
	if v1 != 1 {
		t.Fatalf("first Put returned version %d, want 1", v1)
	}

	got, ok := s.Get(k)
	if !ok {
		t.Fatalf("expected key to be found")
	}
	if s, _ := got.Value.AsString(); s != "v1" {
		t.Fatalf("got value %v, want v1", got.Value)
	}
	if got.Version != 1 {
		t.Fatalf("got version %d, want 1", got.Version)
	}
}

func TestVersionChainIsStrictlyIncreasing(t *testing.T) {
	s := New()
	k := testKey("k1")

	for i := 0; i < 5; i++ {
		s.Put(k, types.Int64(int64(i)), nil)
	}

	hist := s.History(k, 0, s.CurrentVersion()+1)
	if len(hist) != 5 {
		t.Fatalf("got %d versions, want 5", len(hist))
	}
	for i := 0; i < len(hist)-1; i++ {
		if hist[i].Version <= hist[i+1].Version {
			t.Fatalf("history must be newest-first strictly decreasing: %d then %d", hist[i].Version, hist[i+1].Version)
		}
	}
}

func TestDeleteProducesTombstone(t *testing.T) {
	s := New()
	k := testKey("k1")
	s.Put(k, types.Int64(1), nil)

	prev, had := s.Delete(k)
	if !had {
		t.Fatalf("expected a previous value to exist")
	}
	if i, _ := prev.Value.AsInt64(); i != 1 {
		t.Fatalf("got previous value %v, want 1", prev.Value)
	}

	got, ok := s.Get(k)
	if !ok {
		// A tombstone is still a chain entry; Get returning the tombstone
		// with IsTombstone=true is the contract, not "not found" at the
		// storage layer (callers above decide how to surface that).
		t.Fatalf("expected Get to still return the tombstone entry")
	}
	if !got.IsTombstone {
		t.Fatalf("expected newest version to be a tombstone")
	}
}

func TestGetAtRespectsSnapshotVersion(t *testing.T) {
	s := New()
	k := testKey("k1")
	s.Put(k, types.Int64(1), nil) // version 1
	pinned := s.CurrentVersion()
	s.Put(k, types.Int64(2), nil) // version 2

	got, ok := s.GetAt(k, pinned)
	if !ok {
		t.Fatalf("expected a value at the pinned version")
	}
	if i, _ := got.Value.AsInt64(); i != 1 {
		t.Fatalf("got %v at pinned version, want 1 (the value committed before version advanced)", got.Value)
	}
}

func TestPutWithVersionAdvancesGlobalCounter(t *testing.T) {
	s := New()
	k := testKey("k1")
	s.PutWithVersion(k, types.Int64(1), 42, nil)
	if s.CurrentVersion() != 42 {
		t.Fatalf("got global version %d, want 42", s.CurrentVersion())
	}
	// A lower version must never roll the counter backwards.
	s.PutWithVersion(testKey("k2"), types.Int64(2), 10, nil)
	if s.CurrentVersion() != 42 {
		t.Fatalf("global version regressed to %d after a lower PutWithVersion", s.CurrentVersion())
	}
}

func TestScanPrefixReturnsOnlyMatchingNamespaceTag(t *testing.T) {
	s := New()
	ns := types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: types.NewRunId()}
	k1 := types.Key{Namespace: ns, Tag: types.TagKV, UserBytes: []byte("a")}
	k2 := types.Key{Namespace: ns, Tag: types.TagKV, UserBytes: []byte("b")}
	other := types.Key{Namespace: types.Namespace{Tenant: "other", App: "x", Agent: "y", Run: types.NewRunId()}, Tag: types.TagKV, UserBytes: []byte("a")}

	s.Put(k1, types.Int64(1), nil)
	s.Put(k2, types.Int64(2), nil)
	s.Put(other, types.Int64(3), nil)

	prefix := types.NamespaceTagPrefix(ns, types.TagKV)
	results := s.ScanPrefix(prefix, s.CurrentVersion())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestScanTagAnyRunCrossesRunBoundaries(t *testing.T) {
	s := New()
	run1 := types.NewRunId()
	run2 := types.NewRunId()
	k1 := types.Key{Namespace: types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: run1}, Tag: types.TagRunMeta, UserBytes: run1[:]}
	k2 := types.Key{Namespace: types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: run2}, Tag: types.TagRunMeta, UserBytes: run2[:]}

	s.Put(k1, types.Bytes([]byte("rec1")), nil)
	s.Put(k2, types.Bytes([]byte("rec2")), nil)

	prefix := types.TenantAppAgentPrefix("acme", "runner", "planner")
	results := s.ScanTagAnyRun(prefix, types.TagRunMeta, s.CurrentVersion())
	if len(results) != 2 {
		t.Fatalf("got %d results scanning across runs, want 2", len(results))
	}
}

func TestCreateSnapshotIsolatesFromLaterWrites(t *testing.T) {
	s := New()
	k := testKey("k1")
	s.Put(k, types.Int64(1), nil)

	snap := s.CreateSnapshot()
	s.Put(k, types.Int64(2), nil)

	vv, ok := snap.Get(k)
	if !ok {
		t.Fatalf("expected snapshot to see the value present at creation time")
	}
	if i, _ := vv.Value.AsInt64(); i != 1 {
		t.Fatalf("snapshot observed %v, want the pre-snapshot value 1", vv.Value)
	}
}
