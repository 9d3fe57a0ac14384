package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/arrowconv"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

func writeParquet(t *testing.T, fs afero.Fs, path string, names []string, types []common.LogicalType, data [][]any) {
	t.Helper()

	schema, err := arrowconv.Schema(names, types)
	require.NoError(t, err)
	rec, err := arrowconv.BuildRecord(memory.DefaultAllocator, schema, data)
	require.NoError(t, err)
	defer rec.Release()
	require.NoError(t, table.WriteParquet(fs, path, schema, []arrow.Record{rec}))
}

func TestCopyFrom(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := openDB(t, fs)
	defer d.Close()
	conn := d.Connect()
	_, err := conn.CreateNodeTable("Person", personProps, "id")
	require.NoError(t, err)
	_, err = conn.CreateRelTable("Knows", "Person", "Person", knowsProps)
	require.NoError(t, err)

	writeParquet(t, fs, "/data/people.parquet",
		[]string{"name", "age", "id"},
		[]common.LogicalType{common.TypeString, common.TypeInt64, common.TypeInt64},
		[][]any{{"alice", int64(30), int64(1)}, {"bob", nil, int64(2)}},
	)
	writeParquet(t, fs, "/data/knows.parquet",
		[]string{"from", "to", "since"},
		[]common.LogicalType{common.TypeInt64, common.TypeInt64, common.TypeInt64},
		[][]any{{int64(2), int64(1), int64(1999)}},
	)

	n, err := conn.CopyFrom(context.Background(), "Person", "/data/people.parquet")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = conn.CopyFrom(context.Background(), "Knows", "/data/knows.parquet")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Equal(t, [][]any{{int64(1), "alice"}, {int64(2), "bob"}}, rows(t, conn, "Person"))
	assert.Equal(t, [][]any{{int64(2), int64(1), int64(1999)}}, rows(t, conn, "Knows"))

	writeParquet(t, fs, "/data/broken.parquet",
		[]string{"id"}, []common.LogicalType{common.TypeInt64}, [][]any{{int64(3)}},
	)
	_, err = conn.CopyFrom(context.Background(), "Person", "/data/broken.parquet")
	var mismatch *storage.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Len(t, rows(t, conn, "Person"), 2, "a failed COPY rolls back")
}

func TestExportImport(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := openDB(t, fs)
	defer src.Close()
	conn := src.Connect()
	createPersonKnows(t, conn)
	_, err := conn.CreateSequence("ids", 1, 1)
	require.NoError(t, err)
	_, err = conn.NextSequenceValues("ids", 4)
	require.NoError(t, err)
	_, err = conn.CreateGraph("social", true)
	require.NoError(t, err)

	m := &maintenance{c: conn}
	require.NoError(t, m.ExportDatabase("/export"))

	data, err := afero.ReadFile(fs, filepath.Join("/export", SchemaFileName))
	require.NoError(t, err)
	var schema ExportedSchema
	require.NoError(t, json.Unmarshal(data, &schema))
	require.Len(t, schema.Tables, 2)
	assert.Equal(t, "Person", schema.Tables[0].Entry.Name)
	assert.Equal(t, "Knows", schema.Tables[1].Entry.Name)
	assert.NotEmpty(t, schema.Tables[1].File)

	opts := testOptions(t, fs)
	opts.Path = "/other/graph.db"
	dst, err := Open(opts)
	require.NoError(t, err)
	defer dst.Close()
	dstConn := dst.Connect()
	_, err = dstConn.CreateNodeTable("Placeholder", personProps, "")
	require.NoError(t, err)

	require.NoError(t, (&maintenance{c: dstConn}).ImportDatabase("/export"))

	assert.Equal(t, personRows, rows(t, dstConn, "Person"))
	assert.Equal(t, rows(t, conn, "Knows"), rows(t, dstConn, "Knows"))
	knows := dst.mustEntry(t, "Knows")
	assert.Equal(t, dst.mustEntry(t, "Person").ID, knows.FromTableID)

	values, err := dstConn.NextSequenceValues("ids", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, values)

	graphs := dstConn.Graphs()
	require.Len(t, graphs, 1)
	assert.Equal(t, "ANY", graphs[0].TypeName())
}

func TestVacuum(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := openDB(t, fs)
	conn := d.Connect()
	createPersonKnows(t, conn)
	detachDeletePerson(t, conn, 2)
	oldID := d.mustEntry(t, "Person").ID

	require.NoError(t, conn.Vacuum())

	person := d.mustEntry(t, "Person")
	assert.NotEqual(t, oldID, person.ID)
	assert.Equal(t, [][]any{{int64(1), "alice"}, {int64(3), "carol"}}, rows(t, conn, "Person"))
	assert.Equal(t, [][]any{{int64(1), int64(3), int64(2021)}}, rows(t, conn, "Knows"))

	nt, err := d.NodeTable("Person")
	require.NoError(t, err)
	assert.EqualValues(t, 2, nt.NumTotalRows(txns.DummyRead()), "vacuum compacts deleted rows")

	leftovers, err := afero.Glob(fs, dbPath+".__vacuum_export_*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	require.NoError(t, d.Close())
	d = openDB(t, fs)
	defer d.Close()
	assert.Equal(t, [][]any{{int64(1), int64(3), int64(2021)}}, rows(t, d.Connect(), "Knows"))
}

func TestVacuumWithOneThread(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := testOptions(t, fs)
	opts.MaxThreads = 1
	d, err := Open(opts)
	require.NoError(t, err)
	defer d.Close()

	conn := d.Connect()
	createPersonKnows(t, conn)
	_, err = conn.CreateGraph("social", false)
	require.NoError(t, err)
	detachDeletePerson(t, conn, 3)

	require.NoError(t, conn.Vacuum())

	assert.Equal(t, [][]any{{int64(1), "alice"}, {int64(2), "bob"}}, rows(t, conn, "Person"))
	assert.Equal(t, [][]any{{int64(1), int64(2), int64(2020)}}, rows(t, conn, "Knows"))
	require.Len(t, conn.Graphs(), 1)
}

func TestVacuumInsideTransactionFails(t *testing.T) {
	d := openDB(t, afero.NewMemMapFs())
	defer d.Close()
	conn := d.Connect()
	createPersonKnows(t, conn)

	require.NoError(t, conn.BeginRead())
	err := conn.Vacuum()
	require.ErrorIs(t, err, txns.ErrInvalidTransactionState)
	require.NoError(t, conn.Rollback())

	assert.Len(t, rows(t, conn, "Person"), 3)
}
