package database

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/processor"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

const dbPath = "/db/graph.db"

func testOptions(t *testing.T, fs afero.Fs) Options {
	opts := DefaultOptions(dbPath)
	opts.FS = fs
	opts.Log = zaptest.NewLogger(t).Sugar()
	opts.MaxThreads = 2
	opts.CheckpointThreshold = 1 << 30
	return opts
}

func openDB(t *testing.T, fs afero.Fs) *Database {
	t.Helper()

	d, err := Open(testOptions(t, fs))
	require.NoError(t, err)
	return d
}

// crash abandons d without a final checkpoint, leaving the committed tail
// in the WAL.
func crash(d *Database) {
	d.closed.Store(true)
}

var (
	personProps = []catalog.Property{
		{Name: "id", Type: common.TypeInt64},
		{Name: "name", Type: common.TypeString},
	}
	knowsProps = []catalog.Property{{Name: "since", Type: common.TypeInt64}}
)

// createPersonKnows creates Person{1,2,3} and Knows{1->2 (2020), 1->3 (2021)}.
func createPersonKnows(t *testing.T, conn *Connection) {
	t.Helper()

	_, err := conn.CreateNodeTable("Person", personProps, "id")
	require.NoError(t, err)
	_, err = conn.CreateRelTable("Knows", "Person", "Person", knowsProps)
	require.NoError(t, err)

	require.NoError(t, conn.BeginWrite())
	for i, name := range []string{"alice", "bob", "carol"} {
		_, err := conn.InsertNode("Person", int64(i+1), name)
		require.NoError(t, err)
	}
	_, err = conn.InsertRel("Knows", int64(1), int64(2), int64(2020))
	require.NoError(t, err)
	_, err = conn.InsertRel("Knows", int64(1), int64(3), int64(2021))
	require.NoError(t, err)
	require.NoError(t, conn.Commit())
}

func rows(t *testing.T, conn *Connection, name string) [][]any {
	t.Helper()

	var out [][]any
	require.NoError(t, conn.Run(txns.ReadOnly, func(ctx *processor.ExecutionContext) error {
		entry, err := conn.db.catalog.GetTable(name)
		if err != nil {
			return err
		}
		if entry.Kind() == common.TableKindNode {
			_, _, out, err = conn.db.nodeRows(ctx.Txn, entry)
		} else {
			_, _, out, err = conn.db.relRows(ctx.Txn, entry)
		}
		return err
	}))
	return out
}

func detachDeletePerson(t *testing.T, conn *Connection, id int64) {
	t.Helper()

	require.NoError(t, conn.Run(txns.Write, func(ctx *processor.ExecutionContext) error {
		info, err := conn.db.DeleteInfo("Person")
		if err != nil {
			return err
		}
		victims := processor.NewScanNodeTable(
			[]processor.ScanNodeTableInfo{{
				Table:      info.Table,
				ColumnIDs:  []storage.ColumnID{0},
				Predicates: []storage.ColumnPredicate{{ColumnID: 0, Op: storage.OpEq, Value: id}},
			}},
			common.NewVector(common.TypeInternalID),
			[]*common.Vector{common.NewVector(common.TypeInt64)},
		)
		del := processor.NewDelete(
			victims,
			processor.NewSingleLabelNodeDeleteExecutor(processor.DetachDeleteNode, victims.NodeIDs(), info),
		)
		return processor.Drain(ctx, del, nil)
	}))
}
