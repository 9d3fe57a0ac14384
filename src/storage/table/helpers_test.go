package table

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

var nopLog = zap.NewNop().Sugar()

func personEntry(id common.TableID) *catalog.TableEntry {
	return &catalog.TableEntry{
		ID:   id,
		Name: "Person",
		Type: common.NodeTableEntry,
		Properties: []catalog.Property{
			{Name: "id", Type: common.TypeInt64},
			{Name: "name", Type: common.TypeString},
		},
		PrimaryKey: "id",
	}
}

func knowsEntry(id, person common.TableID) *catalog.TableEntry {
	return &catalog.TableEntry{
		ID:          id,
		Name:        "Knows",
		Type:        common.RelTableEntry,
		FromTableID: person,
		ToTableID:   person,
		Properties:  []catalog.Property{{Name: "since", Type: common.TypeInt64}},
	}
}

var txnIDs uint64

func writeTxn() *txns.Transaction {
	txnIDs++
	return txns.New(common.TxnID(txnIDs), txns.Write)
}

// commit redoes the records of txn the way the database commit path does.
func commit(t *testing.T, txn *txns.Transaction, tables ...Applier) {
	t.Helper()

	byID := make(map[common.TableID]Applier, len(tables))
	for _, tbl := range tables {
		byID[tbl.(storage.Table).ID()] = tbl
	}
	for _, rec := range txn.Records() {
		var id common.TableID
		switch r := rec.(type) {
		case *wal.TableInsertionRecord:
			id = r.TableID
		case *wal.NodeDeletionRecord:
			id = r.TableID
		case *wal.NodeUpdateRecord:
			id = r.TableID
		case *wal.RelDeletionRecord:
			id = r.TableID
		case *wal.RelDetachDeleteRecord:
			id = r.TableID
		case *wal.RelUpdateRecord:
			id = r.TableID
		default:
			continue
		}
		require.NoError(t, byID[id].Apply(rec))
	}
}

func scanNodes(
	t *testing.T,
	txn *txns.Transaction,
	tbl storage.NodeTable,
	preds ...storage.ColumnPredicate,
) ([]common.NodeID, [][]any) {
	t.Helper()

	cols := make([]storage.ColumnID, len(tbl.Columns()))
	outputs := make([]*common.Vector, len(cols))
	for i, c := range tbl.Columns() {
		cols[i] = c.ID
		outputs[i] = common.NewVector(c.Type)
	}

	state := storage.NewScanState(common.NewVector(common.TypeInternalID), outputs)
	state.SetToTable(tbl, cols, preds, common.FWD)

	var ids []common.NodeID
	var rows [][]any
	for g := range tbl.NumNodeGroups(txn) {
		state.NodeGroupIdx = g
		require.NoError(t, storage.InitScanState(txn, tbl, state, true))
		for {
			more, err := storage.Scan(txn, tbl, state)
			require.NoError(t, err)
			if !more {
				break
			}
			for i := range state.OutputSize {
				ids = append(ids, state.NodeIDs.NodeID(i))
				row := make([]any, len(outputs))
				for c, out := range outputs {
					row[c] = out.Value(i)
				}
				rows = append(rows, row)
			}
		}
	}
	return ids, rows
}

type relRow struct {
	Bound common.NodeID
	Nbr   common.NodeID
	Props []any
}

func scanRels(
	t *testing.T,
	txn *txns.Transaction,
	tbl storage.RelTable,
	dir common.RelDataDirection,
	bound ...common.NodeID,
) []relRow {
	t.Helper()

	cols := []storage.ColumnID{storage.NbrIDColumnID}
	outputs := []*common.Vector{common.NewVector(common.TypeInternalID)}
	for _, c := range tbl.Columns() {
		cols = append(cols, c.ID)
		outputs = append(outputs, common.NewVector(c.Type))
	}

	state := storage.NewScanState(common.NewNodeIDVector(bound...), outputs)
	state.BoundNodeOutput = common.NewVector(common.TypeInternalID)
	state.SetToTable(tbl, cols, nil, dir)
	require.NoError(t, storage.InitScanState(txn, tbl, state, true))

	var rows []relRow
	for {
		more, err := storage.Scan(txn, tbl, state)
		require.NoError(t, err)
		if !more {
			return rows
		}
		for i := range state.OutputSize {
			r := relRow{Bound: state.BoundNodeOutput.NodeID(i), Nbr: outputs[0].NodeID(i)}
			for _, out := range outputs[1:] {
				r.Props = append(r.Props, out.Value(i))
			}
			rows = append(rows, r)
		}
	}
}

func nbrOffsets(rows []relRow) []common.Offset {
	out := make([]common.Offset, len(rows))
	for i, r := range rows {
		out[i] = r.Nbr.Offset
	}
	return out
}
