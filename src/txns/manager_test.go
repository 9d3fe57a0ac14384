package txns

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
)

type recordingCommitter struct {
	committed [][]wal.Record
	err       error
}

func (c *recordingCommitter) CommitTransaction(txn *Transaction) error {
	if c.err != nil {
		return c.err
	}
	c.committed = append(c.committed, txn.Records())
	return nil
}

func newManager(c Committer) *Manager {
	return NewManager(c, false, zap.NewNop().Sugar())
}

func TestValidateAction(t *testing.T) {
	tests := []struct {
		action    Action
		hasActive bool
		msg       string
	}{
		{BeginRead, true, "Connection already has an active transaction. Cannot start a transaction within another one. For nested transactions use savepoints."},
		{BeginWrite, true, "Connection already has an active transaction. Cannot start a transaction within another one. For nested transactions use savepoints."},
		{Commit, false, "No active transaction for COMMIT."},
		{Rollback, false, "No active transaction for ROLLBACK."},
		{Checkpoint, true, "Found active transaction for CHECKPOINT."},
		{VacuumDatabase, true, "Found active transaction for VACUUM."},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			err := ValidateAction(tt.action, tt.hasActive)
			require.ErrorIs(t, err, ErrInvalidTransactionState)
			assert.EqualError(t, err, tt.msg)

			var stateErr *InvalidStateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, tt.action, stateErr.Action)

			require.NoError(t, ValidateAction(tt.action, !tt.hasActive))
		})
	}
}

func TestContextStateMachine(t *testing.T) {
	c := &recordingCommitter{}
	ctx := NewContext(newManager(c))

	require.ErrorIs(t, ctx.Commit(), ErrInvalidTransactionState)
	require.ErrorIs(t, ctx.Rollback(), ErrInvalidTransactionState)

	require.NoError(t, ctx.BeginWrite())
	require.True(t, ctx.HasActiveTransaction())
	require.ErrorIs(t, ctx.BeginRead(), ErrInvalidTransactionState)

	ctx.ActiveTransaction().LogRecord(&wal.CopyTableRecord{TableID: 1})
	require.NoError(t, ctx.Commit())
	require.False(t, ctx.HasActiveTransaction())
	require.Len(t, c.committed, 1)

	require.NoError(t, ctx.BeginRead())
	require.NoError(t, ctx.Rollback())
	assert.Len(t, c.committed, 1)
}

func TestSingleWriter(t *testing.T) {
	m := newManager(&recordingCommitter{})

	w1, err := m.Begin(Write)
	require.NoError(t, err)

	_, err = m.Begin(Write)
	require.ErrorIs(t, err, ErrWriteTransactionInProgress)

	r, err := m.Begin(ReadOnly)
	require.NoError(t, err)
	require.ErrorIs(t, r.CheckWritable(), ErrReadOnlyTransaction)
	assert.Equal(t, 2, m.NumActive())

	require.ErrorIs(t, m.Checkpoint(func() error { return nil }), ErrWriteTransactionInProgress)

	require.NoError(t, m.Commit(w1))
	require.ErrorIs(t, m.Commit(w1), ErrTransactionFinished)
	require.ErrorIs(t, w1.CheckWritable(), ErrTransactionFinished)

	called := false
	require.NoError(t, m.Checkpoint(func() error { called = true; return nil }))
	assert.True(t, called)

	w2, err := m.Begin(Write)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(w2))
	require.NoError(t, m.Commit(r))
	assert.Zero(t, m.NumActive())
}

func TestReadOnlyManager(t *testing.T) {
	m := NewManager(&recordingCommitter{}, true, zap.NewNop().Sugar())
	_, err := m.Begin(Write)
	require.ErrorIs(t, err, ErrReadOnlyDatabase)
}

func TestHooks(t *testing.T) {
	var order []string

	c := &recordingCommitter{}
	m := newManager(c)

	txn, err := m.Begin(Write)
	require.NoError(t, err)
	txn.OnRollback(func() { order = append(order, "undo-1") })
	txn.OnRollback(func() { order = append(order, "undo-2") })
	txn.OnCommit(func() { order = append(order, "commit") })
	require.NoError(t, m.Rollback(txn))
	assert.Equal(t, []string{"undo-2", "undo-1"}, order)

	order = nil
	c.err = errors.New("disk full")
	txn, err = m.Begin(Write)
	require.NoError(t, err)
	txn.OnRollback(func() { order = append(order, "undo") })
	txn.OnCommit(func() { order = append(order, "commit") })
	require.ErrorContains(t, m.Commit(txn), "disk full")
	assert.Equal(t, []string{"undo"}, order)

	_, err = m.Begin(Write)
	require.NoError(t, err, "failed commit must release the writer slot")
}

func TestLocalStorage(t *testing.T) {
	txn := New(1, Write)

	created := 0
	mk := func() *[]int { created++; return &[]int{} }

	s1 := LocalStorage(txn, common.TableID(3), mk)
	*s1 = append(*s1, 1)
	s2 := LocalStorage(txn, common.TableID(3), mk)
	assert.Equal(t, 1, created)
	assert.Equal(t, []int{1}, *s2)

	_, ok := LookupLocalStorage[*[]int](txn, 4)
	assert.False(t, ok)
}

func TestRunAutoCommit(t *testing.T) {
	c := &recordingCommitter{}
	ctx := NewContext(newManager(c))

	err := ctx.Run(Write, func(txn *Transaction) error {
		txn.LogRecord(&wal.CopyTableRecord{TableID: 9})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, c.committed, 1)

	boom := errors.New("boom")
	err = ctx.Run(Write, func(txn *Transaction) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Len(t, c.committed, 1)

	require.NoError(t, ctx.BeginRead())
	err = ctx.Run(Write, func(*Transaction) error { return nil })
	require.ErrorIs(t, err, ErrReadOnlyTransaction)
}
