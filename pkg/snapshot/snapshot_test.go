package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-systems/strata-core/pkg/storage"
	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/types"
)

func testKey(ns types.Namespace, user string) types.Key {
	return types.Key{Namespace: ns, Tag: types.TagKV, UserBytes: []byte(user)}
}

func TestWriteThenReadEnvelopeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	header := NewHeader(1234, 7)
	sections := []Section{{TypeId: 99, Data: []byte("payload")}}

	if err := Write(path, header, sections); err != nil {
		t.Fatalf("Write: %v", err)
	}

	env, err := ReadEnvelope(path)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.Header.WalOffset != 1234 || env.Header.CommittedTxnCount != 7 {
		t.Fatalf("got header %+v, want WalOffset=1234 CommittedTxnCount=7", env.Header)
	}
	if env.Header.FormatVersion != FormatVersion {
		t.Fatalf("got format version %d, want %d", env.Header.FormatVersion, FormatVersion)
	}
	if len(env.Sections) != 1 || string(env.Sections[0].Data) != "payload" {
		t.Fatalf("got sections %+v", env.Sections)
	}
}

func TestValidateRejectsCorruptedTrailingCrc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	if err := Write(path, NewHeader(0, 0), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Corrupt the file in place by flipping the bits of the last byte, so
	// the trailing CRC no longer matches the body it covers.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	err = Validate(path)
	if err == nil {
		t.Fatalf("expected Validate to reject a corrupted trailing CRC")
	}
	var ce *strataerr.CorruptionError
	if c, ok := err.(*strataerr.CorruptionError); ok {
		ce = c
	} else {
		t.Fatalf("got %T, want *strataerr.CorruptionError", err)
	}
	if ce.Kind != strataerr.CorruptCrcMismatch {
		t.Fatalf("got corruption kind %v, want CorruptCrcMismatch", ce.Kind)
	}
}

func TestCompressSectionRoundTrip(t *testing.T) {
	raw := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")
	sec, err := CompressSection(SectionStorageKV, raw)
	if err != nil {
		t.Fatalf("CompressSection: %v", err)
	}
	if !sec.Compressed {
		t.Fatalf("expected Compressed=true")
	}
	out, err := DecompressSection(sec)
	if err != nil {
		t.Fatalf("DecompressSection: %v", err)
	}
	if string(out) != string(raw) {
		t.Fatalf("got %q, want %q", out, raw)
	}
}

func TestEncodeDecodeStorageSectionRoundTrip(t *testing.T) {
	ns := types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: types.NewRunId()}
	s := storage.New()
	s.Put(testKey(ns, "k1"), types.String("v1"), nil)
	s.Put(testKey(ns, "k2"), types.Int64(42), nil)
	s.Delete(testKey(ns, "k1"))

	chains := s.AllChains()
	enc := EncodeStorageSection(chains)
	decoded, err := DecodeStorageSection(enc)
	if err != nil {
		t.Fatalf("DecodeStorageSection: %v", err)
	}
	if len(decoded) != len(chains) {
		t.Fatalf("got %d chains, want %d", len(decoded), len(chains))
	}
}

func TestWriteStoreThenRestoreStoreRoundTrip(t *testing.T) {
	ns := types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: types.NewRunId()}
	path := filepath.Join(t.TempDir(), "full.snapshot")
	src := storage.New()
	k := testKey(ns, "k1")
	src.Put(k, types.String("hello"), nil)
	src.Put(testKey(ns, "k2"), types.Int64(7), nil)

	if err := WriteStore(path, src, 4096, 3, false); err != nil {
		t.Fatalf("WriteStore: %v", err)
	}

	dst := storage.New()
	header, err := RestoreStore(path, dst)
	if err != nil {
		t.Fatalf("RestoreStore: %v", err)
	}
	if header.WalOffset != 4096 || header.CommittedTxnCount != 3 {
		t.Fatalf("got header %+v, want WalOffset=4096 CommittedTxnCount=3", header)
	}

	got, ok := dst.Get(k)
	if !ok {
		t.Fatalf("expected restored store to contain k1")
	}
	if s, _ := got.Value.AsString(); s != "hello" {
		t.Fatalf("got %v, want hello", got.Value)
	}
}

func TestWriteStoreCompressedRoundTrip(t *testing.T) {
	ns := types.Namespace{Tenant: "acme", App: "runner", Agent: "planner", Run: types.NewRunId()}
	path := filepath.Join(t.TempDir(), "compressed.snapshot")
	src := storage.New()
	k := testKey(ns, "k1")
	src.Put(k, types.String("compressed value"), nil)

	if err := WriteStore(path, src, 0, 0, true); err != nil {
		t.Fatalf("WriteStore: %v", err)
	}

	dst := storage.New()
	if _, err := RestoreStore(path, dst); err != nil {
		t.Fatalf("RestoreStore: %v", err)
	}
	got, ok := dst.Get(k)
	if !ok {
		t.Fatalf("expected restored store to contain the key written before compression")
	}
	if s, _ := got.Value.AsString(); s != "compressed value" {
		t.Fatalf("got %v, want %q", got.Value, "compressed value")
	}
}
