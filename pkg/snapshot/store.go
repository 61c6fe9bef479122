package snapshot

import (
	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
)

// WriteStore builds and atomically publishes a snapshot of store's entire
// keyspace at path. compress selects whether the storage-KV section is
// zstd-compressed; callers typically enable it once working sets are large
// enough that the CPU cost pays for itself.
func WriteStore(path string, store *storage.Store, walOffset, committedTxnCount uint64, compress bool) error {
	raw := EncodeStorageSection(store.AllChains())

	var section Section
	if compress {
		var err error
		section, err = CompressSection(SectionStorageKV, raw)
		if err != nil {
			return err
		}
	} else {
		section = Section{TypeId: SectionStorageKV, Data: raw}
	}

	header := NewHeader(walOffset, committedTxnCount)
	return Write(path, header, []Section{section})
}

// RestoreStore parses the snapshot at path and loads its storage-KV section
// into store, replacing any existing contents. Sections whose TypeId this
// core doesn't recognize are skipped — they belong to facades this package
// doesn't know about.
func RestoreStore(path string, store *storage.Store) (Header, error) {
	env, err := ReadEnvelope(path)
	if err != nil {
		return Header{}, err
	}

	for _, s := range env.Sections {
		if s.TypeId != SectionStorageKV {
			continue
		}
		data := s.Data
		if s.Compressed {
			data, err = DecompressSection(s)
			if err != nil {
				return Header{}, err
			}
		}
		chains, err := DecodeStorageSection(data)
		if err != nil {
			return Header{}, err
		}
		store.LoadChains(chains)
		return env.Header, nil
	}

	return env.Header, &strataerr.NotFoundError{What: "storage-kv section in snapshot"}
}
