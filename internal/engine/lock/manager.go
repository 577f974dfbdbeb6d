// Package lock grants per-account shared and exclusive locks to logical
// transactions. Waiters suspend on a per-account wait channel and are woken
// on release; there is no busy spinning. Every blocking acquire is bounded by
// a timeout since an un-timed wait can deadlock a lock pair acquired out of
// order. Callers that need locks on several accounts must take them in one
// fixed total order (ascending account id), which AcquireOrdered enforces and
// Acquire defends against.
package lock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidLockHandle  = errors.New("lock handle already released")
	ErrInvalidTimeout     = errors.New("lock timeout must be positive")
	ErrLockOrderViolation = errors.New("lock acquired out of the fixed account order")
)

// ErrLockTimeout indicates an acquire that expired before the lock was granted
type ErrLockTimeout struct {
	AccountID uuid.UUID
	Mode      Mode
}

func (e ErrLockTimeout) Error() string {
	return "timed out waiting for " + e.Mode.String() + " lock on account " + e.AccountID.String()
}

// Is implements the errors.Is interface for ErrLockTimeout
func (e ErrLockTimeout) Is(target error) bool {
	t, ok := target.(ErrLockTimeout)
	if !ok {
		return false
	}
	return t.AccountID == uuid.Nil || e.AccountID == t.AccountID
}

// Mode is the sharing discipline of a lock
type Mode int

const (
	// Shared admits any number of concurrent holders and excludes Exclusive
	Shared Mode = iota
	// Exclusive admits a single holder and excludes everything else
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// Handle represents one held lock. It is owned by exactly one logical
// transaction and must be released exactly once.
type Handle struct {
	accountID uuid.UUID
	mode      Mode
	owner     uuid.UUID
	released  bool // guarded by the manager mutex
}

// AccountID returns the locked account id
func (h *Handle) AccountID() uuid.UUID { return h.accountID }

// Mode returns the granted lock mode
func (h *Handle) Mode() Mode { return h.mode }

// lockState tracks the holders and waiters of one account's lock
type lockState struct {
	sharedHolders  int
	exclusiveOwner uuid.UUID
	// waitCh is closed and replaced on every release so that all current
	// waiters wake and re-contend.
	waitCh chan struct{}
}

func (st *lockState) grantable(mode Mode) bool {
	if st.exclusiveOwner != uuid.Nil {
		return false
	}
	return mode == Shared || st.sharedHolders == 0
}

func (st *lockState) free() bool {
	return st.sharedHolders == 0 && st.exclusiveOwner == uuid.Nil
}

// heldLocks counts one owner's live holds on one account. An owner may hold
// several shared handles on the same account at once, so shared holds are
// counted rather than flagged.
type heldLocks struct {
	shared    int
	exclusive bool
}

// Manager grants and revokes account locks. One instance is shared by all
// logical transactions against a store.
type Manager struct {
	mu     sync.Mutex
	locks  map[uuid.UUID]*lockState
	held   map[uuid.UUID]map[uuid.UUID]*heldLocks // owner -> account -> holds
	logger *slog.Logger
}

// NewManager creates an empty lock manager
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		locks:  make(map[uuid.UUID]*lockState),
		held:   make(map[uuid.UUID]map[uuid.UUID]*heldLocks),
		logger: logger,
	}
}

// HeldExclusively reports whether some transaction currently holds the
// exclusive lock on the account. The store consults it to fence optimistic
// commits off accounts a lock holder is writing.
func (m *Manager) HeldExclusively(accountID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.locks[accountID]
	return ok && st.exclusiveOwner != uuid.Nil
}

// Acquire blocks the calling transaction until the lock is granted, the
// timeout elapses (ErrLockTimeout) or ctx is cancelled. An exclusive acquire
// on an account that sorts below one the owner already holds exclusively is
// rejected with ErrLockOrderViolation rather than allowed to deadlock.
func (m *Manager) Acquire(ctx context.Context, owner uuid.UUID, accountID uuid.UUID, mode Mode, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()

		if mode == Exclusive {
			if err := m.checkOrder(owner, accountID); err != nil {
				m.mu.Unlock()
				return nil, err
			}
		}

		st, ok := m.locks[accountID]
		if !ok {
			st = &lockState{waitCh: make(chan struct{})}
			m.locks[accountID] = st
		}

		if st.grantable(mode) {
			if mode == Exclusive {
				st.exclusiveOwner = owner
			} else {
				st.sharedHolders++
			}
			m.recordHeld(owner, accountID, mode)
			m.mu.Unlock()
			return &Handle{accountID: accountID, mode: mode, owner: owner}, nil
		}

		wait := st.waitCh
		m.mu.Unlock()

		select {
		case <-wait:
			// A holder released; re-contend.
		case <-timer.C:
			return nil, ErrLockTimeout{AccountID: accountID, Mode: mode}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release revokes a held lock and wakes all waiters on its account. Releasing
// the same handle twice is a programming error reported as
// ErrInvalidLockHandle.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return ErrInvalidLockHandle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.released {
		return ErrInvalidLockHandle
	}
	h.released = true

	st, ok := m.locks[h.accountID]
	if !ok {
		return ErrInvalidLockHandle
	}

	if h.mode == Exclusive {
		st.exclusiveOwner = uuid.Nil
	} else {
		st.sharedHolders--
	}
	m.dropHeld(h.owner, h.accountID, h.mode)

	// Wake every waiter; they re-contend under the manager mutex.
	close(st.waitCh)
	st.waitCh = make(chan struct{})

	if st.free() {
		delete(m.locks, h.accountID)
	}

	return nil
}

// AcquireOrdered takes the same-mode locks on every id in the fixed total
// order, ascending account id, regardless of the order the caller listed
// them. The timeout bounds the whole acquisition. On any failure all locks
// already granted by this call are released before returning.
func (m *Manager) AcquireOrdered(ctx context.Context, owner uuid.UUID, ids []uuid.UUID, mode Mode, timeout time.Duration) ([]*Handle, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	ordered := make([]uuid.UUID, len(ids))
	copy(ordered, ids)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})

	deadline := time.Now().Add(timeout)
	handles := make([]*Handle, 0, len(ordered))
	for _, id := range ordered {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.releaseAll(handles)
			return nil, ErrLockTimeout{AccountID: id, Mode: mode}
		}

		h, err := m.Acquire(ctx, owner, id, mode, remaining)
		if err != nil {
			m.releaseAll(handles)
			return nil, err
		}
		handles = append(handles, h)
	}

	return handles, nil
}

func (m *Manager) releaseAll(handles []*Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		if err := m.Release(handles[i]); err != nil {
			m.logger.Error("failed to release lock during rollback",
				"account_id", handles[i].accountID.String(),
				"error", err,
			)
		}
	}
}

// checkOrder rejects an exclusive acquire on an id sorting below an id the
// owner already holds exclusively. Called with the manager mutex held.
func (m *Manager) checkOrder(owner uuid.UUID, accountID uuid.UUID) error {
	for heldID, hl := range m.held[owner] {
		if !hl.exclusive {
			continue
		}
		if bytes.Compare(accountID[:], heldID[:]) < 0 {
			m.logger.Warn("rejecting out-of-order lock acquisition",
				"owner", owner.String(),
				"held", heldID.String(),
				"requested", accountID.String(),
			)
			return ErrLockOrderViolation
		}
	}
	return nil
}

func (m *Manager) recordHeld(owner uuid.UUID, accountID uuid.UUID, mode Mode) {
	set, ok := m.held[owner]
	if !ok {
		set = make(map[uuid.UUID]*heldLocks)
		m.held[owner] = set
	}
	hl, ok := set[accountID]
	if !ok {
		hl = &heldLocks{}
		set[accountID] = hl
	}
	if mode == Exclusive {
		hl.exclusive = true
	} else {
		hl.shared++
	}
}

func (m *Manager) dropHeld(owner uuid.UUID, accountID uuid.UUID, mode Mode) {
	set, ok := m.held[owner]
	if !ok {
		return
	}
	hl, ok := set[accountID]
	if !ok {
		return
	}
	if mode == Exclusive {
		hl.exclusive = false
	} else {
		hl.shared--
	}
	if !hl.exclusive && hl.shared <= 0 {
		delete(set, accountID)
		if len(set) == 0 {
			delete(m.held, owner)
		}
	}
}
