package storage

import "github.com/strata-systems/strata-core/pkg/types"

// SnapshotView is a read-only view of the store pinned at a fixed global
// version. The interface exists so the transaction engine can be written
// against "a versioned read", not against a particular memory strategy —
// spec §4.2 explicitly calls out swapping strategies without disturbing the
// transaction engine as the reason this is an interface rather than a
// concrete type.
type SnapshotView interface {
	// Version is the global version this view is pinned to; every read
	// through this view returns the newest value at or before it.
	Version() uint64
	Get(key types.Key) (types.VersionedValue, bool)
}

// cloneView copies the store's key map and each chain's slice header at
// creation time. O(keys) memory per snapshot, but reads afterward never
// touch the live store or its lock at all — the simplest possible strategy,
// and the one spec §4.2 calls "acceptable for short agent transactions with
// small working sets".
type cloneView struct {
	version uint64
	chains  map[string]*chain
}

func newCloneView(s *Store) *cloneView {
	s.mu.Lock()
	defer s.mu.Unlock()
	chains := make(map[string]*chain, len(s.chains))
	for k, c := range s.chains {
		// version slices are never mutated in place (see putLocked), so
		// sharing the slice header here is safe — a later splice allocates
		// a new slice rather than touching this one.
		chains[k] = &chain{versions: c.versions}
	}
	return &cloneView{version: s.version.Load(), chains: chains}
}

func (v *cloneView) Version() uint64 { return v.version }

func (v *cloneView) Get(key types.Key) (types.VersionedValue, bool) {
	c, ok := v.chains[key.StorageKey()]
	if !ok {
		return types.VersionedValue{}, false
	}
	return c.newestAtOrBefore(v.version)
}

// filteredView shares the live store and filters every read by the pinned
// version instead of copying. O(1) to create; each read takes the store's
// lock for the key lookup, then walks the key's chain (typically short)
// after releasing it. Spec §4.2 names
// this the preferred long-term strategy once working sets grow past what
// cloning can absorb.
type filteredView struct {
	store   *Store
	version uint64
}

func newFilteredView(s *Store) *filteredView {
	return &filteredView{store: s, version: s.version.Load()}
}

func (v *filteredView) Version() uint64 { return v.version }

func (v *filteredView) Get(key types.Key) (types.VersionedValue, bool) {
	return v.store.GetAt(key, v.version)
}

// SnapshotStrategy selects which SnapshotView backend CreateSnapshotFor
// builds. The zero value is CloneStrategy, matching spec §4.2's
// correctness-first default.
type SnapshotStrategy int

const (
	CloneStrategy SnapshotStrategy = iota
	FilteredStrategy
)

// CreateSnapshot returns a SnapshotView pinned at the store's current
// global version, using the clone strategy. Equivalent to
// CreateSnapshotFor(CloneStrategy).
func (s *Store) CreateSnapshot() SnapshotView {
	return newCloneView(s)
}

// CreateFilteredSnapshot returns a SnapshotView backed by the live store
// rather than a copy. Equivalent to CreateSnapshotFor(FilteredStrategy).
func (s *Store) CreateFilteredSnapshot() SnapshotView {
	return newFilteredView(s)
}

// CreateSnapshotFor builds a SnapshotView using the given strategy, letting
// a caller (the transaction engine, configured from Options.SnapshotStrategy)
// pick per-database instead of hardcoding the clone strategy.
func (s *Store) CreateSnapshotFor(strategy SnapshotStrategy) SnapshotView {
	if strategy == FilteredStrategy {
		return newFilteredView(s)
	}
	return newCloneView(s)
}
