package table

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

func TestSQLiteNodeTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	for _, row := range []struct {
		id   int64
		name any
	}{{10, "ann"}, {20, nil}, {30, "cid"}} {
		_, err = db.Exec(`INSERT INTO people (id, name) VALUES (?, ?)`, row.id, row.name)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	entry := personEntry(1)
	entry.Storage = SQLiteLocation(path, "people")
	tbl, err := Open(Env{Log: nopLog}, entry)
	require.NoError(t, err)
	defer tbl.Close()

	person := tbl.(storage.NodeTable)
	reader := txns.DummyRead()
	assert.Equal(t, storage.BackendForeign, person.Backend())
	assert.Equal(t, uint64(3), person.NumTotalRows(reader))

	ids, rows := scanNodes(t, reader, person)
	assert.Equal(t, []common.NodeID{nodeID(0), nodeID(1), nodeID(2)}, ids)
	assert.Equal(t, [][]any{{int64(10), "ann"}, {int64(20), nil}, {int64(30), "cid"}}, rows)

	off, ok := person.LookupPK(reader, int64(30))
	require.True(t, ok)
	assert.Equal(t, common.Offset(2), off)
	_, ok = person.LookupPK(reader, int64(31))
	assert.False(t, ok)

	v, err := person.Value(reader, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "ann", v)

	_, err = person.Insert(writeTxn(), []any{int64(40), "dan"})
	require.ErrorIs(t, err, storage.ErrUnsupportedOperation)
}

func TestSQLiteMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE people (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenSQLiteNodeTable(personEntry(1), path, "people", nopLog)
	require.ErrorIs(t, err, storage.ErrSchemaMismatch)
	var mismatch *storage.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Reason, "name")

	_, err = OpenSQLiteNodeTable(personEntry(1), path, "nobody", nopLog)
	require.ErrorIs(t, err, storage.ErrSchemaMismatch)
}
