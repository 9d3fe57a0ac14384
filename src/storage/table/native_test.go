package table

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

func newPersonKnows(t *testing.T) (*NativeNodeTable, *NativeRelTable) {
	t.Helper()

	person := NewNativeNodeTable(personEntry(1), nopLog)
	knows := NewNativeRelTable(knowsEntry(2, 1), nopLog)

	txn := writeTxn()
	for _, id := range []int64{1, 2, 3} {
		_, err := person.Insert(txn, []any{id, "p"})
		require.NoError(t, err)
	}
	for _, e := range [][2]common.Offset{{0, 1}, {0, 2}} {
		_, err := knows.Insert(txn, e[0], e[1], []any{int64(2020)})
		require.NoError(t, err)
	}
	commit(t, txn, person, knows)
	return person, knows
}

func nodeID(off common.Offset) common.NodeID {
	return common.NodeID{Offset: off, TableID: 1}
}

func TestNativeNodeVisibility(t *testing.T) {
	person := NewNativeNodeTable(personEntry(1), nopLog)

	txn := writeTxn()
	off, err := person.Insert(txn, []any{int64(7), "alice"})
	require.NoError(t, err)
	assert.Equal(t, common.Offset(0), off)

	_, err = person.Insert(txn, []any{7, "dup"})
	require.ErrorIs(t, err, storage.ErrDuplicatePrimaryKey)

	ids, rows := scanNodes(t, txn, person)
	assert.Equal(t, []common.NodeID{nodeID(0)}, ids)
	assert.Equal(t, [][]any{{int64(7), "alice"}}, rows)

	reader := txns.DummyRead()
	ids, _ = scanNodes(t, reader, person)
	assert.Empty(t, ids, "uncommitted rows are private to the writer")

	commit(t, txn, person)
	ids, _ = scanNodes(t, reader, person)
	assert.Equal(t, []common.NodeID{nodeID(0)}, ids)

	off, ok := person.LookupPK(reader, 7)
	require.True(t, ok)
	assert.Equal(t, common.Offset(0), off)
}

func TestNativeNodeUpdateDelete(t *testing.T) {
	person, _ := newPersonKnows(t)
	reader := txns.DummyRead()

	txn := writeTxn()
	require.NoError(t, person.Update(txn, 1, 1, "bob"))
	ok, err := person.Delete(txn, 0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = person.Delete(txn, 0)
	require.NoError(t, err)
	assert.False(t, ok, "already deleted")

	_, rows := scanNodes(t, txn, person)
	assert.Equal(t, [][]any{{int64(2), "bob"}, {int64(3), "p"}}, rows)
	_, rows = scanNodes(t, reader, person)
	assert.Len(t, rows, 3)

	// the key of a deleted row may be reused in the same transaction
	off, err := person.Insert(txn, []any{int64(1), "again"})
	require.NoError(t, err)
	assert.Equal(t, common.Offset(3), off)

	commit(t, txn, person)
	_, rows = scanNodes(t, reader, person)
	assert.Equal(t, [][]any{{int64(2), "bob"}, {int64(3), "p"}, {int64(1), "again"}}, rows)

	_, err = person.Value(reader, 0, 0)
	require.ErrorIs(t, err, storage.ErrNodeNotFound)
}

func TestReadOnlyTransactionCannotWrite(t *testing.T) {
	person, knows := newPersonKnows(t)

	_, err := person.Insert(txns.DummyRead(), []any{int64(9), "x"})
	require.ErrorIs(t, err, txns.ErrReadOnlyTransaction)
	_, err = knows.Insert(txns.DummyRead(), 0, 1, []any{nil})
	require.ErrorIs(t, err, txns.ErrReadOnlyTransaction)
}

func TestScanExhaustionIsIdempotent(t *testing.T) {
	person, _ := newPersonKnows(t)
	reader := txns.DummyRead()

	out := common.NewVector(common.TypeInt64)
	state := storage.NewScanState(common.NewVector(common.TypeInternalID), []*common.Vector{out})
	state.SetToTable(person, []storage.ColumnID{0}, nil, common.FWD)

	more, err := storage.Scan(reader, person, state)
	require.NoError(t, err)
	require.False(t, more, "unpositioned state yields nothing")

	state.NodeGroupIdx = 0
	require.NoError(t, storage.InitScanState(reader, person, state, true))
	more, err = storage.Scan(reader, person, state)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, 3, state.OutputSize)

	for range 3 {
		more, err = storage.Scan(reader, person, state)
		require.NoError(t, err)
		assert.False(t, more)
		assert.True(t, state.Completed())
		assert.Zero(t, state.OutputSize)
	}

	require.NoError(t, storage.InitScanState(reader, person, state, true))
	more, err = storage.Scan(reader, person, state)
	require.NoError(t, err)
	assert.True(t, more)
}

func TestNativeNodePredicates(t *testing.T) {
	person, _ := newPersonKnows(t)

	_, rows := scanNodes(t, txns.DummyRead(), person, storage.ColumnPredicate{
		ColumnID: 0,
		Op:       storage.OpGe,
		Value:    int64(2),
	})
	assert.Equal(t, [][]any{{int64(2), "p"}, {int64(3), "p"}}, rows)
}

func TestNativeRelScanDirections(t *testing.T) {
	_, knows := newPersonKnows(t)
	reader := txns.DummyRead()

	fwd := scanRels(t, reader, knows, common.FWD, nodeID(0))
	assert.ElementsMatch(t, []common.Offset{1, 2}, nbrOffsets(fwd))
	assert.Equal(t, []any{int64(2020)}, fwd[0].Props)

	bwd := scanRels(t, reader, knows, common.BWD, nodeID(2))
	require.Len(t, bwd, 1)
	assert.Equal(t, nodeID(0), bwd[0].Nbr)
	assert.Equal(t, nodeID(2), bwd[0].Bound)

	other := common.NodeID{Offset: 0, TableID: 99}
	assert.Empty(t, scanRels(t, reader, knows, common.FWD, other), "nodes of other tables are not bound")
}

func TestNativeRelLocalChanges(t *testing.T) {
	_, knows := newPersonKnows(t)
	reader := txns.DummyRead()

	txn := writeTxn()
	relID, err := knows.Insert(txn, 1, 2, []any{int64(2024)})
	require.NoError(t, err)
	assert.Equal(t, common.Offset(2), relID)

	ok, err := knows.Delete(txn, 0, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, knows.Update(txn, 0, 2, 1, storage.RelPropertyColumnID(0), 1999))

	fwd := scanRels(t, txn, knows, common.FWD, nodeID(0), nodeID(1))
	require.Len(t, fwd, 2)
	assert.Equal(t, relRow{Bound: nodeID(0), Nbr: nodeID(2), Props: []any{int64(1999)}}, fwd[0])
	assert.Equal(t, relRow{Bound: nodeID(1), Nbr: nodeID(2), Props: []any{int64(2024)}}, fwd[1])

	assert.Len(t, scanRels(t, reader, knows, common.FWD, nodeID(0), nodeID(1)), 2)

	commit(t, txn, knows)
	fwd = scanRels(t, reader, knows, common.FWD, nodeID(0), nodeID(1))
	assert.Len(t, fwd, 2)
	bwd := scanRels(t, reader, knows, common.BWD, nodeID(2))
	assert.ElementsMatch(t, []common.Offset{0, 1}, nbrOffsets(bwd))
	assert.Equal(t, uint64(3), knows.NumTotalRows(reader))
}

func TestDetachDeleteRemovesEveryIncidentRel(t *testing.T) {
	person, knows := newPersonKnows(t)
	reader := txns.DummyRead()

	txn := writeTxn()
	_, err := knows.Insert(txn, 1, 0, []any{nil})
	require.NoError(t, err)
	_, err = knows.Insert(txn, 1, 2, []any{nil})
	require.NoError(t, err)

	err = knows.CheckNoRels(txn, common.FWD, []common.NodeID{nodeID(0)})
	var refErr *storage.ReferentialConstraintError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "Knows", refErr.Table)
	assert.Equal(t, common.Offset(0), refErr.Offset)
	assert.Contains(t, err.Error(), "Node(nodeOffset: 0) has connected edges in table Knows in the FWD direction")

	out := storage.NewDetachDeleteOutput()
	require.NoError(t, knows.DetachDeleteBatch(txn, []common.NodeID{nodeID(0)}, common.FWD, out))
	assert.Equal(t, 2, out.RelIDs.Len())
	out.Reset()
	require.NoError(t, knows.DetachDeleteBatch(txn, []common.NodeID{nodeID(0)}, common.BWD, out))
	assert.Equal(t, []common.NodeID{nodeID(1)}, out.Dst.NodeIDs())

	ok, err := person.Delete(txn, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, knows.CheckNoRels(txn, common.FWD, []common.NodeID{nodeID(0)}))
	require.NoError(t, knows.CheckNoRels(txn, common.BWD, []common.NodeID{nodeID(0)}))
	assert.Len(t, scanRels(t, txn, knows, common.FWD, nodeID(1)), 1, "unrelated rels survive")

	commit(t, txn, person, knows)

	all := []common.NodeID{nodeID(0), nodeID(1), nodeID(2)}
	fwd := scanRels(t, reader, knows, common.FWD, all...)
	require.Len(t, fwd, 1)
	assert.Equal(t, relRow{Bound: nodeID(1), Nbr: nodeID(2), Props: []any{nil}}, fwd[0])
	assert.Len(t, scanRels(t, reader, knows, common.BWD, all...), 1)

	_, rows := scanNodes(t, reader, person)
	assert.Equal(t, [][]any{{int64(2), "p"}, {int64(3), "p"}}, rows)
}

func TestCSRGrowth(t *testing.T) {
	c := newCSRDirection(1)
	// interleaved inserts force regrowth of inner nodes
	for i := range 50 {
		bound := common.Offset(i % 5)
		c.insert(bound, common.Offset(100+i), common.Offset(i), []any{int64(i)})
	}
	for n := range common.Offset(5) {
		assert.Equal(t, uint64(10), c.degree(n))
		start, end := c.region(n)
		for pos := start; pos < end; pos++ {
			assert.Equal(t, n, c.relIDs[pos]%5)
			assert.Equal(t, int64(c.relIDs[pos]), c.props[0][pos])
		}
	}

	pos, ok := c.find(3, 13)
	require.True(t, ok)
	c.remove(3, pos)
	_, ok = c.find(3, 13)
	assert.False(t, ok)
	assert.Equal(t, uint64(9), c.degree(3))
	assert.Equal(t, uint64(10), c.degree(4))
	assert.Zero(t, c.degree(42))
}

func TestNativeTablesSerialize(t *testing.T) {
	person, knows := newPersonKnows(t)

	txn := writeTxn()
	_, err := person.Delete(txn, 2)
	require.NoError(t, err)
	_, err = knows.Delete(txn, 0, 2, 1)
	require.NoError(t, err)
	commit(t, txn, person, knows)

	var buf bytes.Buffer
	s := serde.NewSerializer(&buf)
	person.Serialize(s)
	knows.Serialize(s)
	require.NoError(t, s.Err())

	person2 := NewNativeNodeTable(personEntry(1), nopLog)
	knows2 := NewNativeRelTable(knowsEntry(2, 1), nopLog)
	d := serde.NewDeserializer(&buf)
	require.NoError(t, person2.Deserialize(d))
	require.NoError(t, knows2.Deserialize(d))

	reader := txns.DummyRead()
	_, rows := scanNodes(t, reader, person2)
	assert.Equal(t, [][]any{{int64(1), "p"}, {int64(2), "p"}}, rows)
	_, ok := person2.LookupPK(reader, int64(3))
	assert.False(t, ok)

	fwd := scanRels(t, reader, knows2, common.FWD, nodeID(0))
	assert.Equal(t, []common.Offset{1}, nbrOffsets(fwd))

	txn = writeTxn()
	relID, err := knows2.Insert(txn, 1, 0, []any{nil})
	require.NoError(t, err)
	assert.Equal(t, common.Offset(2), relID, "rel offsets are not reused")
}
