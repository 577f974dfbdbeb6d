package isolation

import (
	"github.com/google/uuid"

	"github.com/isolation-ledger/internal/domain/account"
)

// Snapshot is the ephemeral read view of one REPEATABLE_READ or SERIALIZABLE
// transaction. It pins the committed value of every account the transaction
// reads, and (SERIALIZABLE only) the membership of its set queries. It is
// owned solely by the reading transaction and discarded when that
// transaction ends; it never outlives it.
type Snapshot struct {
	pinned map[uuid.UUID]account.Account
	// pinnedList holds the result of the first set query, members and values,
	// so a repeat of the query returns the identical member set.
	pinnedList []account.Account
	listPinned bool
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{pinned: make(map[uuid.UUID]account.Account)}
}

func (s *Snapshot) get(id uuid.UUID) (account.Account, bool) {
	acc, ok := s.pinned[id]
	return acc, ok
}

func (s *Snapshot) pin(acc account.Account) {
	if _, ok := s.pinned[acc.ID]; !ok {
		s.pinned[acc.ID] = acc
	}
}

func (s *Snapshot) list() ([]account.Account, bool) {
	if !s.listPinned {
		return nil, false
	}
	out := make([]account.Account, len(s.pinnedList))
	copy(out, s.pinnedList)
	return out, true
}

func (s *Snapshot) pinList(accounts []account.Account) {
	s.pinnedList = make([]account.Account, len(accounts))
	copy(s.pinnedList, accounts)
	s.listPinned = true
}
