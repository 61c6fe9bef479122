package txn

import "github.com/strata-systems/strata-core/pkg/strataerr"

// ValidationResult is the exhaustive output of validate: every phase runs
// regardless of earlier failures, so a caller retrying a conflicting
// transaction sees every conflict at once rather than discovering them one
// retry at a time.
type ValidationResult struct {
	Conflicts []strataerr.Conflict
}

// validate runs the three validation phases from spec §4.4 against t's
// buffered read/cas sets. Must be called with the engine's commit lock
// held, since it compares against live storage state that the lock is what
// makes this check-then-act safe.
func (e *Engine) validate(t *Transaction) ValidationResult {
	var result ValidationResult

	// Phase 1: read-set validation.
	for keyBytes, entry := range t.readSet {
		current := uint64(0)
		if vv, ok := e.store.GetAt(entry.key, e.store.CurrentVersion()); ok {
			current = vv.Version
		}
		if current != entry.version {
			result.Conflicts = append(result.Conflicts, strataerr.Conflict{
				Kind:    strataerr.ConflictReadWrite,
				Key:     []byte(keyBytes),
				Read:    entry.version,
				Current: current,
			})
		}
	}

	// Phase 2: write-set validation is a no-op by spec — blind writes never
	// conflict. Reserved as an extension point.

	// Phase 3: CAS validation.
	for _, c := range t.casOps {
		current := uint64(0)
		if vv, ok := e.store.GetAt(c.key, e.store.CurrentVersion()); ok {
			current = vv.Version
		}
		if current != c.expected {
			result.Conflicts = append(result.Conflicts, strataerr.Conflict{
				Kind:    strataerr.ConflictCAS,
				Key:     c.key.Bytes(),
				Read:    c.expected,
				Current: current,
			})
		}
	}

	return result
}
