package isolation

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isolation-ledger/internal/domain/account"
	"github.com/isolation-ledger/internal/domain/ledger"
	"github.com/isolation-ledger/internal/domain/shared"
	"github.com/isolation-ledger/internal/engine/store"
)

func newTestReader(t *testing.T) (*Reader, *store.Store) {
	t.Helper()
	st := store.New(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return NewReader(st), st
}

func commit(t *testing.T, st *store.Store, acc account.Account, newBalance decimal.Decimal) {
	t.Helper()
	delta := newBalance.Sub(acc.Balance)
	kind := ledger.KindCredit
	if delta.IsNegative() {
		kind = ledger.KindDebit
		delta = delta.Neg()
	}
	_, err := st.Commit(acc.ID, kind, delta, "Adjustment")
	require.NoError(t, err)
}

func TestReader_Read_DirtyReadVisibleOnlyUncommitted(t *testing.T) {
	r, st := newTestReader(t)
	acc, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromInt(1000))
	require.NoError(t, err)

	// A writer has staged but not committed a new balance
	require.NoError(t, st.Stage(acc.ID, decimal.NewFromInt(1999)))

	t.Run("ReadUncommittedSeesStagedValue", func(t *testing.T) {
		res, err := r.Read(shared.IsolationReadUncommitted, nil, acc.ID)
		require.NoError(t, err)
		assert.True(t, res.Account.Balance.Equal(decimal.NewFromInt(1999)))
		assert.True(t, res.Dirty)
		assert.Equal(t, shared.AnomalyDirtyRead, res.Permitted)
	})

	t.Run("StrongerModesSeeCommittedValue", func(t *testing.T) {
		for _, mode := range []shared.IsolationMode{
			shared.IsolationReadCommitted,
			shared.IsolationRepeatableRead,
			shared.IsolationSerializable,
		} {
			res, err := r.Read(mode, NewSnapshot(), acc.ID)
			require.NoError(t, err)
			assert.True(t, res.Account.Balance.Equal(decimal.NewFromInt(1000)), "mode %s must not see the staged value", mode)
			assert.False(t, res.Dirty)
		}
	})

	t.Run("RollbackHidesStagedValue", func(t *testing.T) {
		require.NoError(t, st.Unstage(acc.ID))
		res, err := r.Read(shared.IsolationReadUncommitted, nil, acc.ID)
		require.NoError(t, err)
		assert.True(t, res.Account.Balance.Equal(decimal.NewFromInt(1000)))
		assert.False(t, res.Dirty)
	})
}

func TestReader_Read_ReadCommittedRefreshesBetweenReads(t *testing.T) {
	r, st := newTestReader(t)
	acc, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromInt(1000))
	require.NoError(t, err)

	first, err := r.Read(shared.IsolationReadCommitted, nil, acc.ID)
	require.NoError(t, err)
	assert.True(t, first.Account.Balance.Equal(decimal.NewFromInt(1000)))

	commit(t, st, acc, decimal.NewFromInt(1500))

	second, err := r.Read(shared.IsolationReadCommitted, nil, acc.ID)
	require.NoError(t, err)
	assert.True(t, second.Account.Balance.Equal(decimal.NewFromInt(1500)), "READ_COMMITTED observes each new committed value")
	assert.Equal(t, shared.AnomalyNonRepeatableRead, second.Permitted)
}

func TestReader_Read_RepeatableReadPinsFirstValue(t *testing.T) {
	r, st := newTestReader(t)
	acc, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromInt(1000))
	require.NoError(t, err)

	snap := NewSnapshot()

	first, err := r.Read(shared.IsolationRepeatableRead, snap, acc.ID)
	require.NoError(t, err)
	assert.False(t, first.Pinned, "The first read pins; it is not itself served from the snapshot")

	commit(t, st, acc, decimal.NewFromInt(1500))

	second, err := r.Read(shared.IsolationRepeatableRead, snap, acc.ID)
	require.NoError(t, err)
	assert.True(t, second.Account.Balance.Equal(decimal.NewFromInt(1000)), "Repeat reads return the pinned value")
	assert.True(t, second.Pinned)

	// A different transaction (fresh snapshot) sees the new committed value
	other, err := r.Read(shared.IsolationRepeatableRead, NewSnapshot(), acc.ID)
	require.NoError(t, err)
	assert.True(t, other.Account.Balance.Equal(decimal.NewFromInt(1500)))
}

func TestReader_List_RepeatableReadAllowsPhantoms(t *testing.T) {
	r, st := newTestReader(t)
	acc1, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromInt(1000))
	require.NoError(t, err)

	snap := NewSnapshot()

	first, anomaly, err := r.List(shared.IsolationRepeatableRead, snap)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, shared.AnomalyPhantomRead, anomaly)

	// Another transaction commits a new account and changes an existing row
	_, err = st.CreateAccount("ACC002", "Jane Smith", decimal.NewFromInt(2000))
	require.NoError(t, err)
	commit(t, st, acc1, decimal.NewFromInt(999))

	second, _, err := r.List(shared.IsolationRepeatableRead, snap)
	require.NoError(t, err)
	require.Len(t, second, 2, "Membership refreshes, so the phantom row appears")
	assert.True(t, second[0].Balance.Equal(decimal.NewFromInt(1000)), "The already-read row keeps its pinned value")
	assert.Equal(t, "ACC002", second[1].Number)
}

func TestReader_List_SerializablePinsMembership(t *testing.T) {
	r, st := newTestReader(t)
	acc1, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromInt(1000))
	require.NoError(t, err)

	snap := NewSnapshot()

	first, anomaly, err := r.List(shared.IsolationSerializable, snap)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, shared.AnomalyNone, anomaly)

	_, err = st.CreateAccount("ACC002", "Jane Smith", decimal.NewFromInt(2000))
	require.NoError(t, err)
	commit(t, st, acc1, decimal.NewFromInt(999))

	second, _, err := r.List(shared.IsolationSerializable, snap)
	require.NoError(t, err)
	require.Len(t, second, 1, "The member set is pinned at first list")
	assert.True(t, second[0].Balance.Equal(decimal.NewFromInt(1000)))
}

func TestReader_List_SerializableRespectsEarlierRowPins(t *testing.T) {
	r, st := newTestReader(t)
	acc1, err := st.CreateAccount("ACC001", "John Doe", decimal.NewFromInt(1000))
	require.NoError(t, err)

	snap := NewSnapshot()

	// A point read pins the row before any list runs
	_, err = r.Read(shared.IsolationSerializable, snap, acc1.ID)
	require.NoError(t, err)

	commit(t, st, acc1, decimal.NewFromInt(4242))

	listed, _, err := r.List(shared.IsolationSerializable, snap)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Balance.Equal(decimal.NewFromInt(1000)), "The list must serve the row value pinned by the earlier read")
}

func TestReader_Read_UnknownAccount(t *testing.T) {
	r, _ := newTestReader(t)

	for _, mode := range []shared.IsolationMode{
		shared.IsolationReadUncommitted,
		shared.IsolationReadCommitted,
		shared.IsolationRepeatableRead,
		shared.IsolationSerializable,
	} {
		_, err := r.Read(mode, NewSnapshot(), uuid.New())
		assert.ErrorIs(t, err, account.ErrAccountNotFound{}, "mode %s", mode)
	}
}
