// Package run implements the run registry: begin_run/end_run/list_active_runs/
// get_run. A run's metadata is BSON-encoded and stored as an ordinary
// versioned entry under TagRunMeta in the same storage, WAL, and snapshot
// machinery as any other write — there is no separate run-registry file.
// The BSON marshal/unmarshal pair is grounded on the teacher repo's
// pkg/storage/bson.go, which leans on the same mongo-driver package for
// document handling.
package run

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/strata-systems/strata-core/pkg/strataerr"
	"github.com/strata-systems/strata-core/pkg/txn"
	"github.com/strata-systems/strata-core/pkg/types"
)

// Record is one run's metadata, as stored under its TagRunMeta key. RunId
// is kept as its hex string form on the wire rather than the raw [16]byte
// array — bson has no native fixed-size-array type and would otherwise
// round-trip it as an ordinary BSON array of small integers.
type Record struct {
	RunId           string `bson:"run_id"`
	Metadata        bson.M `bson:"metadata"`
	StartedAtMicros int64  `bson:"started_at_micros"`
	EndedAtMicros   int64  `bson:"ended_at_micros"` // 0 means still active
}

// Active reports whether the run has not yet been ended.
func (r Record) Active() bool { return r.EndedAtMicros == 0 }

// Registry wraps a transaction engine with the run-tracking operations.
// BeginRun, EndRun and GetRun are each an implicit (single transaction)
// commit, going through the same WAL durability and OCC validation as any
// other write; ListActiveRuns reads the store directly at its current
// version.
type Registry struct {
	engine *txn.Engine
}

// NewRegistry wires a run registry around an already-open transaction
// engine.
func NewRegistry(engine *txn.Engine) *Registry {
	return &Registry{engine: engine}
}

func runKey(ns types.Namespace, runId types.RunId) types.Key {
	ns.Run = runId
	return types.Key{Namespace: ns, Tag: types.TagRunMeta, UserBytes: runId[:]}
}

// BeginRun registers runId as active under ns, storing metadata alongside
// it. It is an error to begin a run id that already has a record — callers
// that want to restart a run must choose a fresh run id.
func (r *Registry) BeginRun(ns types.Namespace, runId types.RunId, metadata bson.M) error {
	key := runKey(ns, runId)
	t := r.engine.Begin(runId)

	if _, found, err := t.Get(key); err != nil {
		t.Abort("begin_run precheck failed")
		return err
	} else if found {
		t.Abort("run already registered")
		return &strataerr.InvalidStateError{Op: "begin_run", State: "already registered"}
	}

	rec := Record{RunId: runId.String(), Metadata: metadata, StartedAtMicros: time.Now().UnixMicro()}
	data, err := bson.Marshal(rec)
	if err != nil {
		t.Abort("metadata marshal failed")
		return err
	}
	if err := t.Put(key, types.Bytes(data)); err != nil {
		t.Abort("put failed")
		return err
	}
	_, err = t.Commit(0)
	return err
}

// EndRun stamps runId's record with an end timestamp. The historical
// record is kept (a new version in the chain, not a delete) so GetRun
// keeps working after the run ends.
func (r *Registry) EndRun(ns types.Namespace, runId types.RunId) error {
	key := runKey(ns, runId)
	t := r.engine.Begin(runId)

	val, found, err := t.Get(key)
	if err != nil {
		t.Abort("end_run read failed")
		return err
	}
	if !found {
		t.Abort("run not found")
		return &strataerr.NotFoundError{What: "run " + runId.String()}
	}

	rec, err := decodeRecord(val)
	if err != nil {
		t.Abort("metadata decode failed")
		return err
	}
	rec.EndedAtMicros = time.Now().UnixMicro()

	data, err := bson.Marshal(rec)
	if err != nil {
		t.Abort("metadata marshal failed")
		return err
	}
	if err := t.Put(key, types.Bytes(data)); err != nil {
		t.Abort("put failed")
		return err
	}
	_, err = t.Commit(0)
	return err
}

// GetRun returns runId's record, whether active or ended.
func (r *Registry) GetRun(ns types.Namespace, runId types.RunId) (Record, error) {
	key := runKey(ns, runId)
	t := r.engine.Begin(runId)

	val, found, err := t.Get(key)
	if err != nil {
		t.Abort("get_run read failed")
		return Record{}, err
	}
	if !found {
		t.Abort("run not found")
		return Record{}, &strataerr.NotFoundError{What: "run " + runId.String()}
	}

	// Read-only implicit transactions always commit (spec: facade reads go
	// through the same machinery and never legitimately conflict on a
	// read-only path).
	if _, err := t.Commit(0); err != nil {
		return Record{}, err
	}
	return decodeRecord(val)
}

// ListActiveRuns returns every run under (ns.Tenant, ns.App, ns.Agent)
// whose record has not been ended, regardless of run id — a scan that
// ranges across every run in scope rather than one already-known run.
func (r *Registry) ListActiveRuns(ns types.Namespace) ([]Record, error) {
	prefix := types.TenantAppAgentPrefix(ns.Tenant, ns.App, ns.Agent)
	store := r.engine.Store()
	maxVersion := store.CurrentVersion()

	var out []Record
	for _, kv := range store.ScanTagAnyRun(prefix, types.TagRunMeta, maxVersion) {
		if kv.Value.IsTombstone {
			continue
		}
		rec, err := decodeRecord(kv.Value.Value)
		if err != nil {
			continue
		}
		if rec.Active() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func decodeRecord(v types.Value) (Record, error) {
	raw, ok := v.AsBytes()
	if !ok {
		return Record{}, &strataerr.WrongTypeError{Op: "decode run record", Expected: "bytes", Got: v.Kind().String()}
	}
	var rec Record
	if err := bson.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
