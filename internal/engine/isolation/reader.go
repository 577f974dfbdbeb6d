// Package isolation computes what a reader at a given isolation level may
// observe, given concurrently in-flight and committed writers.
//
// READ_UNCOMMITTED bypasses commit buffering and observes staged values, a
// deliberately unsafe mode retained to make the dirty-read anomaly
// demonstrable. READ_COMMITTED always fetches the latest fully committed
// value. REPEATABLE_READ and SERIALIZABLE serve repeat reads from the
// transaction snapshot; only SERIALIZABLE also pins set-query membership.
// Phantom prevention for serializable writers is a lock-side concern: they
// hold exclusive locks for their whole transaction, not a special read path.
package isolation

import (
	"github.com/google/uuid"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/shared"
	"github.com/isolation-ledger/internal/engine/store"
)

// ReadResult is one isolated read plus its anomaly diagnostic
type ReadResult struct {
	Account account.Account
	// Permitted is the anomaly class the chosen mode deliberately allows,
	// whether or not it occurred on this read.
	Permitted shared.Anomaly
	// Dirty reports that the value actually is another writer's uncommitted
	// one. Only ever true under READ_UNCOMMITTED.
	Dirty bool
	// Pinned reports that the value came from the transaction snapshot
	// rather than the live store.
	Pinned bool
}

// Reader computes isolated views over the store
type Reader struct {
	store *store.Store
}

// NewReader creates a reader over the given store
func NewReader(st *store.Store) *Reader {
	return &Reader{store: st}
}

// Read returns the account value a transaction at the given mode may observe.
// snap must be non-nil for the snapshot modes and is ignored otherwise.
func (r *Reader) Read(mode shared.IsolationMode, snap *Snapshot, accountID uuid.UUID) (ReadResult, error) {
	permitted := mode.PermittedAnomaly()

	switch mode {
	case shared.IsolationReadUncommitted:
		acc, dirty, err := r.store.ReadDirty(accountID)
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Account: acc, Permitted: permitted, Dirty: dirty}, nil

	case shared.IsolationReadCommitted:
		acc, err := r.store.GetByID(accountID)
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Account: acc, Permitted: permitted}, nil

	default:
		if acc, ok := snap.get(accountID); ok {
			return ReadResult{Account: acc, Permitted: permitted, Pinned: true}, nil
		}
		acc, err := r.store.GetByID(accountID)
		if err != nil {
			return ReadResult{}, err
		}
		snap.pin(acc)
		return ReadResult{Account: acc, Permitted: permitted}, nil
	}
}

// List returns the account set a transaction at the given mode may observe.
// Under SERIALIZABLE the first call pins the member set and repeats return
// it unchanged; under REPEATABLE_READ membership refreshes (phantoms) but
// values of already-read rows stay pinned.
func (r *Reader) List(mode shared.IsolationMode, snap *Snapshot) ([]account.Account, shared.Anomaly, error) {
	permitted := mode.PermittedAnomaly()

	switch mode {
	case shared.IsolationReadUncommitted:
		return r.store.ListDirty(), permitted, nil

	case shared.IsolationReadCommitted:
		return r.store.List(), permitted, nil

	case shared.IsolationRepeatableRead:
		live := r.store.List()
		for i, acc := range live {
			if pinned, ok := snap.get(acc.ID); ok {
				live[i] = pinned
			} else {
				snap.pin(acc)
			}
		}
		return live, permitted, nil

	default: // SERIALIZABLE
		if pinned, ok := snap.list(); ok {
			return pinned, permitted, nil
		}
		live := r.store.List()
		for i, acc := range live {
			if pinned, ok := snap.get(acc.ID); ok {
				live[i] = pinned
			} else {
				snap.pin(acc)
			}
		}
		snap.pinList(live)
		return live, permitted, nil
	}
}
