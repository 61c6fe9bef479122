// Package storage implements the Storage component (spec §4.2): an
// in-memory map of composite keys to newest-first version chains, guarded
// by a map-level lock held only long enough to splice a new version in; the
// global counter is a separate atomic, bumped outside that lock. The lock-free current-version read and the
// narrow commit critical section are grounded on the Jekaa MVCC map's
// atomic.Pointer snapshot handoff; the version-chain-per-key shape and the
// two SnapshotView strategies follow spec §4.2 directly, since no example
// repo models multi-version chains at this granularity.
package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/strata-systems/strata-core/pkg/types"
)

// chain is one key's version history, newest first.
type chain struct {
	versions []types.VersionedValue
}

func (c *chain) newest() (types.VersionedValue, bool) {
	if len(c.versions) == 0 {
		return types.VersionedValue{}, false
	}
	return c.versions[0], true
}

func (c *chain) newestAtOrBefore(maxVersion uint64) (types.VersionedValue, bool) {
	for _, vv := range c.versions {
		if vv.Version <= maxVersion {
			return vv, true
		}
	}
	return types.VersionedValue{}, false
}

// Store is the core keyed store. All operations are safe for concurrent
// use.
type Store struct {
	mu      sync.Mutex
	chains  map[string]*chain
	version atomic.Uint64
}

// New returns an empty store with the global version counter at 0.
func New() *Store {
	return &Store{chains: make(map[string]*chain)}
}

// Get returns the current (newest) version of key, if any.
func (s *Store) Get(key types.Key) (types.VersionedValue, bool) {
	return s.GetAt(key, s.CurrentVersion())
}

// GetAt returns the newest version of key at or before maxVersion.
func (s *Store) GetAt(key types.Key, maxVersion uint64) (types.VersionedValue, bool) {
	s.mu.Lock()
	c, ok := s.chains[key.StorageKey()]
	if !ok {
		s.mu.Unlock()
		return types.VersionedValue{}, false
	}
	// versions is append-only per splice (see putLocked); safe to read the
	// backing slice outside the lock since existing entries are never
	// mutated in place, only prepended via a fresh slice.
	versions := c.versions
	s.mu.Unlock()

	for _, vv := range versions {
		if vv.Version <= maxVersion {
			return vv, true
		}
	}
	return types.VersionedValue{}, false
}

// History returns up to limit versions of key, newest first, stopping
// strictly before beforeVersion. limit <= 0 means unbounded.
func (s *Store) History(key types.Key, limit int, beforeVersion uint64) []types.VersionedValue {
	s.mu.Lock()
	c, ok := s.chains[key.StorageKey()]
	var versions []types.VersionedValue
	if ok {
		versions = c.versions
	}
	s.mu.Unlock()

	out := make([]types.VersionedValue, 0, len(versions))
	for _, vv := range versions {
		if vv.Version >= beforeVersion {
			continue
		}
		out = append(out, vv)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Put allocates the next global version and appends it to key's chain.
// Used only by implicit (non-transactional) single-op writes; transactional
// commits use PutWithVersion so every write in a transaction shares one
// commit version.
func (s *Store) Put(key types.Key, value types.Value, ttl *time.Time) uint64 {
	version := s.version.Add(1)
	s.putLocked(key, types.VersionedValue{Value: value, Version: version, ExpiresAt: ttl})
	return version
}

// PutWithVersion splices value into key's chain at an already-allocated
// version, advancing the global counter to max(current, version). Used by
// transaction commit (every write in the transaction shares one commit
// version) and by WAL replay (the version is whatever was originally
// recorded, never reassigned).
func (s *Store) PutWithVersion(key types.Key, value types.Value, version uint64, ttl *time.Time) {
	s.bumpVersionTo(version)
	s.putLocked(key, types.VersionedValue{Value: value, Version: version, ExpiresAt: ttl})
}

// Delete appends a tombstone at a freshly allocated version and returns the
// value that was current immediately before, if any.
func (s *Store) Delete(key types.Key) (types.VersionedValue, bool) {
	version := s.version.Add(1)
	prev, had := s.Get(key)
	s.putLocked(key, types.VersionedValue{Version: version, IsTombstone: true})
	return prev, had
}

// DeleteWithVersion is Delete's replay/commit counterpart, mirroring
// PutWithVersion.
func (s *Store) DeleteWithVersion(key types.Key, version uint64) {
	s.bumpVersionTo(version)
	s.putLocked(key, types.VersionedValue{Version: version, IsTombstone: true})
}

func (s *Store) bumpVersionTo(version uint64) {
	for {
		cur := s.version.Load()
		if version <= cur {
			return
		}
		if s.version.CompareAndSwap(cur, version) {
			return
		}
	}
}

// putLocked splices a new head onto key's chain. The lock is held only for
// the splice itself — callers must not hold it during value serialization
// or I/O.
func (s *Store) putLocked(key types.Key, vv types.VersionedValue) {
	sk := key.StorageKey()
	s.mu.Lock()
	c, ok := s.chains[sk]
	if !ok {
		c = &chain{}
		s.chains[sk] = c
	}
	next := make([]types.VersionedValue, 0, len(c.versions)+1)
	next = append(next, vv)
	next = append(next, c.versions...)
	c.versions = next
	s.mu.Unlock()
}

// CurrentVersion reads the global monotonic version counter.
func (s *Store) CurrentVersion() uint64 {
	return s.version.Load()
}

// ScanPrefix returns the newest version at or before maxVersion for every
// key whose binary form starts with prefix, in lexicographic key order.
func (s *Store) ScanPrefix(prefix []byte, maxVersion uint64) []KeyedVersion {
	s.mu.Lock()
	keys := make([]string, 0, len(s.chains))
	for sk := range s.chains {
		if types.HasPrefix([]byte(sk), prefix) {
			keys = append(keys, sk)
		}
	}
	snapshot := make(map[string]*chain, len(keys))
	for _, sk := range keys {
		snapshot[sk] = s.chains[sk]
	}
	s.mu.Unlock()

	sortStrings(keys)

	out := make([]KeyedVersion, 0, len(keys))
	for _, sk := range keys {
		c := snapshot[sk]
		vv, ok := c.newestAtOrBefore(maxVersion)
		if !ok {
			continue
		}
		out = append(out, KeyedVersion{KeyBytes: []byte(sk), Value: vv})
	}
	return out
}

// ScanByRun is ScanPrefix restricted to keys whose namespace carries the
// given run id; it scans by matching the run id's 16 bytes wherever the
// namespace places them rather than requiring a single shared prefix, since
// run id is not the leading namespace field.
func (s *Store) ScanByRun(run types.RunId, maxVersion uint64) []KeyedVersion {
	s.mu.Lock()
	keys := make([]string, 0, len(s.chains))
	for sk := range s.chains {
		keys = append(keys, sk)
	}
	snapshot := make(map[string]*chain, len(keys))
	for _, sk := range keys {
		snapshot[sk] = s.chains[sk]
	}
	s.mu.Unlock()

	sortStrings(keys)

	out := make([]KeyedVersion, 0)
	for _, sk := range keys {
		k, err := parseStorageKeyRun([]byte(sk))
		if err != nil || k != run {
			continue
		}
		c := snapshot[sk]
		vv, ok := c.newestAtOrBefore(maxVersion)
		if !ok {
			continue
		}
		out = append(out, KeyedVersion{KeyBytes: []byte(sk), Value: vv})
	}
	return out
}

// ScanTagAnyRun returns the newest version at or before maxVersion for
// every key under tenantAppAgentPrefix carrying the given type tag,
// regardless of which run id sits between the namespace prefix and the
// tag byte. Used by the run registry to list every run's metadata record
// under a (tenant, app, agent) scope, which ScanPrefix cannot express
// since Run is embedded inside the namespace rather than appended after it.
func (s *Store) ScanTagAnyRun(tenantAppAgentPrefix []byte, tag types.TypeTag, maxVersion uint64) []KeyedVersion {
	const runIdLen = 16
	tagOffset := len(tenantAppAgentPrefix) + runIdLen + 1

	s.mu.Lock()
	keys := make([]string, 0, len(s.chains))
	for sk := range s.chains {
		kb := []byte(sk)
		if !types.HasPrefix(kb, tenantAppAgentPrefix) {
			continue
		}
		if len(kb) <= tagOffset || kb[tagOffset] != byte(tag) {
			continue
		}
		keys = append(keys, sk)
	}
	snapshot := make(map[string]*chain, len(keys))
	for _, sk := range keys {
		snapshot[sk] = s.chains[sk]
	}
	s.mu.Unlock()

	sortStrings(keys)

	out := make([]KeyedVersion, 0, len(keys))
	for _, sk := range keys {
		vv, ok := snapshot[sk].newestAtOrBefore(maxVersion)
		if !ok {
			continue
		}
		out = append(out, KeyedVersion{KeyBytes: []byte(sk), Value: vv})
	}
	return out
}

// KeyedVersion pairs a raw storage key with the version selected by a scan.
type KeyedVersion struct {
	KeyBytes []byte
	Value    types.VersionedValue
}

func sortStrings(ss []string) {
	// insertion sort is fine: scans are over a filtered, typically small
	// subset of keys, and avoids pulling in sort for one call site.
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}
