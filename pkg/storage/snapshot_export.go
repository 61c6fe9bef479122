package storage

import "github.com/strata-systems/strata-core/pkg/types"

// KeyedVersionChain is a raw storage key paired with its full newest-first
// version history, the unit the snapshot writer serializes per key.
type KeyedVersionChain struct {
	KeyBytes []byte
	Versions []types.VersionedValue
}

// AllChains returns every key's full version chain, in no particular
// order — the snapshot section encoder is responsible for any ordering it
// wants on disk. Used only by the snapshot writer; transactional reads
// never need the whole keyspace at once.
func (s *Store) AllChains() []KeyedVersionChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KeyedVersionChain, 0, len(s.chains))
	for sk, c := range s.chains {
		out = append(out, KeyedVersionChain{KeyBytes: []byte(sk), Versions: c.versions})
	}
	return out
}

// LoadChains replaces the store's contents with the given chains and
// advances the global version counter to the maximum version found among
// them. Used only when restoring from a snapshot into an otherwise-empty
// store, before WAL replay continues on top of it.
func (s *Store) LoadChains(chains []KeyedVersionChain) {
	s.mu.Lock()
	s.chains = make(map[string]*chain, len(chains))
	var maxVersion uint64
	for _, kvc := range chains {
		s.chains[string(kvc.KeyBytes)] = &chain{versions: kvc.Versions}
		for _, vv := range kvc.Versions {
			if vv.Version > maxVersion {
				maxVersion = vv.Version
			}
		}
	}
	s.mu.Unlock()
	s.bumpVersionTo(maxVersion)
}

// SetGlobalVersion forces the global counter to exactly version, used only
// by recovery after a replay pass to set the counter to the maximum
// version actually observed (spec §4.5: "storage.set_global_version").
func (s *Store) SetGlobalVersion(version uint64) {
	s.version.Store(version)
}
