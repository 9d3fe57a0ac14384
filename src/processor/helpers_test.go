package processor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

var nopLog = zap.NewNop().Sugar()

const (
	personTableID common.TableID = 1
	knowsTableID  common.TableID = 2
)

type personKnows struct {
	person *table.NativeNodeTable
	knows  *table.NativeRelTable
	txn    *txns.Transaction
}

// newPersonKnows builds Person{1,2,3} and Knows{1->2, 1->3} inside one
// uncommitted write transaction.
func newPersonKnows(t *testing.T) *personKnows {
	t.Helper()

	g := &personKnows{
		person: table.NewNativeNodeTable(&catalog.TableEntry{
			ID:         personTableID,
			Name:       "Person",
			Type:       common.NodeTableEntry,
			Properties: []catalog.Property{{Name: "id", Type: common.TypeInt64}},
			PrimaryKey: "id",
		}, nopLog),
		knows: table.NewNativeRelTable(&catalog.TableEntry{
			ID:          knowsTableID,
			Name:        "Knows",
			Type:        common.RelTableEntry,
			FromTableID: personTableID,
			ToTableID:   personTableID,
		}, nopLog),
		txn: txns.New(1, txns.Write),
	}

	for _, id := range []int64{1, 2, 3} {
		_, err := g.person.Insert(g.txn, []any{id})
		require.NoError(t, err)
	}
	for _, e := range [][2]common.Offset{{0, 1}, {0, 2}} {
		_, err := g.knows.Insert(g.txn, e[0], e[1], nil)
		require.NoError(t, err)
	}
	return g
}

func (g *personKnows) ctx() *ExecutionContext {
	return NewExecutionContext(g.txn)
}

// scanPersons returns a scan producing the Person nodes whose id satisfies
// preds.
func (g *personKnows) scanPersons(preds ...storage.ColumnPredicate) *ScanNodeTable {
	return NewScanNodeTable(
		[]ScanNodeTableInfo{{Table: g.person, ColumnIDs: []storage.ColumnID{0}, Predicates: preds}},
		common.NewVector(common.TypeInternalID),
		[]*common.Vector{common.NewVector(common.TypeInt64)},
	)
}

func idEq(v int64) storage.ColumnPredicate {
	return storage.ColumnPredicate{ColumnID: 0, Op: storage.OpEq, Value: v}
}

func collectPersonIDs(t *testing.T, ctx *ExecutionContext, scan *ScanNodeTable) []any {
	t.Helper()

	var ids []any
	require.NoError(t, Drain(ctx, scan, func() error {
		ids = append(ids, scan.Outputs()[0].Values()...)
		return nil
	}))
	return ids
}

// collectRels returns the (bound, nbr) pairs of all rels of every Person in
// dir.
func collectRels(t *testing.T, ctx *ExecutionContext, g *personKnows, dir common.ExtendDirection) [][2]common.NodeID {
	t.Helper()

	nbr := common.NewVector(common.TypeInternalID)
	bound := common.NewVector(common.TypeInternalID)
	scan := NewSourceScanRelTable(
		ScanRelTableInfo{Table: g.knows, ColumnIDs: []storage.ColumnID{storage.NbrIDColumnID}, Direction: dir},
		[]storage.NodeTable{g.person},
		[]*common.Vector{nbr},
	).WithBoundNodeOutput(bound)

	var rels [][2]common.NodeID
	require.NoError(t, Drain(ctx, scan, func() error {
		for i := range nbr.Len() {
			rels = append(rels, [2]common.NodeID{bound.NodeID(i), nbr.NodeID(i)})
		}
		return nil
	}))
	return rels
}

func person(off common.Offset) common.NodeID {
	return common.NodeID{Offset: off, TableID: personTableID}
}

// vectorSource emits one batch per element of batches into out.
type vectorSource struct {
	out     *common.Vector
	batches [][]any
	next    int
}

func (s *vectorSource) Init(*ExecutionContext) error {
	s.next = 0
	return nil
}

func (s *vectorSource) Next(*ExecutionContext) (bool, error) {
	if s.next >= len(s.batches) {
		return false, nil
	}
	s.out.Reset()
	for _, v := range s.batches[s.next] {
		s.out.Append(v)
	}
	s.next++
	return true, nil
}
