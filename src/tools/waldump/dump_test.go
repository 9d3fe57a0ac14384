package waldump

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Blackdeer1524/graphcore/src/database"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
)

const dbPath = "/db/graph.db"

func writeWAL(t *testing.T, fs afero.Fs, checksums bool) uuid.UUID {
	t.Helper()

	id := uuid.New()
	w, err := wal.Open(fs, database.WALPath(dbPath), id, 0, checksums, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, w.LogCommittedTransaction([]wal.Record{
		&wal.CreateCatalogEntryRecord{EntryType: common.NodeTableEntry, Name: "Person"},
		&wal.UpdateSequenceRecord{SequenceID: 3, KCount: 5},
		&wal.LoadExtensionRecord{Path: "/ext/json.so"},
	}))
	require.NoError(t, w.Close())
	return id
}

func TestDumpWithoutWAL(t *testing.T) {
	var out bytes.Buffer
	summary, err := Dump(&out, afero.NewMemMapFs(), dbPath)
	require.NoError(t, err)

	assert.Zero(t, summary.Records)
	assert.Contains(t, out.String(), "no WAL records")
}

func TestDumpRecords(t *testing.T) {
	for _, checksums := range []bool{true, false} {
		fs := afero.NewMemMapFs()
		id := writeWAL(t, fs, checksums)

		var out bytes.Buffer
		summary, err := Dump(&out, fs, dbPath)
		require.NoError(t, err)

		assert.Equal(t, 5, summary.Records)
		assert.EqualValues(t, -1, summary.TornAt)
		assert.Equal(t, 1, summary.Counts[wal.RecordBeginTransaction])
		assert.Equal(t, 1, summary.Counts[wal.RecordCommit])
		assert.Equal(t, 1, summary.Counts[wal.RecordLoadExtension])

		text := out.String()
		assert.Contains(t, text, id.String())
		assert.Contains(t, text, "CREATE_CATALOG_ENTRY{type=NODE_TABLE_ENTRY, name=Person}")
		assert.Contains(t, text, "LOAD_EXTENSION{path=/ext/json.so}")
		assert.Contains(t, text, "checkpoint:   0")
		assert.Contains(t, text, "total records: 5")
	}
}

func TestDumpStopsAtTornTail(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeWAL(t, fs, true)

	path := database.WALPath(dbPath)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	size := int64(len(data))
	require.NoError(t, afero.WriteFile(fs, path, append(data, 1, 2, 3), 0o644))

	var out bytes.Buffer
	summary, err := Dump(&out, fs, dbPath)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Records)
	assert.Equal(t, size, summary.TornAt)
	assert.Contains(t, out.String(), "torn tail")
}

func TestDumpFailsOnChecksumMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeWAL(t, fs, true)

	path := database.WALPath(dbPath)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))

	_, err = Dump(&bytes.Buffer{}, fs, dbPath)
	require.ErrorIs(t, err, wal.ErrChecksumMismatch)
}

func TestDumpHeader(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := DumpHeader(&bytes.Buffer{}, fs, dbPath)
	require.ErrorIs(t, err, database.ErrDatabaseNotFound)

	opts := database.DefaultOptions(dbPath)
	opts.FS = fs
	opts.Log = zaptest.NewLogger(t).Sugar()
	d, err := database.Open(opts)
	require.NoError(t, err)

	conn := d.Connect()
	_, err = conn.CreateNodeTable("Person", []catalog.Property{
		{Name: "id", Type: common.TypeInt64},
		{Name: "name", Type: common.TypeString},
	}, "id")
	require.NoError(t, err)
	id := d.ID()
	require.NoError(t, d.Close())

	var out bytes.Buffer
	h, err := DumpHeader(&out, fs, dbPath)
	require.NoError(t, err)

	assert.Equal(t, id, h.DatabaseID.String())
	assert.Contains(t, out.String(), id)
	assert.NotEqual(t, common.InvalidPageIdx, h.CatalogPageRange.StartPageIdx)
	assert.Contains(t, out.String(), "catalog pages:")
}
