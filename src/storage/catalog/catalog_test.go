package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

func personEntry() TableEntry {
	return TableEntry{
		Name: "Person",
		Type: common.NodeTableEntry,
		Properties: []Property{
			{Name: "id", Type: common.TypeInt64},
			{Name: "name", Type: common.TypeString},
		},
	}
}

func TestCreateAndLookup(t *testing.T) {
	c := New()

	person, err := c.CreateTable(personEntry())
	require.NoError(t, err)
	assert.Equal(t, common.TableID(1), person.ID)
	assert.Equal(t, "id", person.PrimaryKey)

	knows, err := c.CreateTable(TableEntry{
		Name:        "Knows",
		Type:        common.RelTableEntry,
		FromTableID: person.ID,
		ToTableID:   person.ID,
		Properties:  []Property{{Name: "since", Type: common.TypeInt64}},
	})
	require.NoError(t, err)
	assert.Equal(t, common.TableKindRel, knows.Kind())

	_, err = c.CreateTable(personEntry())
	require.ErrorIs(t, err, ErrTableExists)

	got, err := c.GetTable("Knows")
	require.NoError(t, err)
	assert.Equal(t, knows, got)

	_, err = c.GetTable("Nope")
	require.ErrorIs(t, err, ErrTableNotFound)

	fwd, bwd := c.RelTablesOf(person.ID)
	require.Len(t, fwd, 1)
	require.Len(t, bwd, 1)
	assert.Equal(t, knows.ID, fwd[0].ID)
}

func TestRelTableRequiresNodeTables(t *testing.T) {
	c := New()
	_, err := c.CreateTable(TableEntry{
		Name:        "Knows",
		Type:        common.RelTableEntry,
		FromTableID: 5,
		ToTableID:   6,
	})
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestPrimaryKeyMustComeFirst(t *testing.T) {
	e := personEntry()
	e.PrimaryKey = "name"
	_, err := New().CreateTable(e)
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestDropAndRestore(t *testing.T) {
	c := New()
	person, err := c.CreateTable(personEntry())
	require.NoError(t, err)
	knows, err := c.CreateTable(TableEntry{
		Name:        "Knows",
		Type:        common.RelTableEntry,
		FromTableID: person.ID,
		ToTableID:   person.ID,
	})
	require.NoError(t, err)

	_, err = c.DropTable(person.ID)
	require.ErrorIs(t, err, ErrTableReferenced)

	dropped, err := c.DropTable(knows.ID)
	require.NoError(t, err)
	_, err = c.GetTableByID(knows.ID)
	require.ErrorIs(t, err, ErrTableNotFound)

	require.NoError(t, c.RestoreTable(dropped))
	got, err := c.GetTableByID(knows.ID)
	require.NoError(t, err)
	assert.Equal(t, "Knows", got.Name)

	next, err := c.CreateTable(TableEntry{
		Name:       "City",
		Type:       common.NodeTableEntry,
		Properties: []Property{{Name: "name", Type: common.TypeString}},
	})
	require.NoError(t, err)
	assert.Equal(t, common.TableID(3), next.ID)
}

func TestRename(t *testing.T) {
	c := New()
	person, err := c.CreateTable(personEntry())
	require.NoError(t, err)

	old, err := c.RenameTable(person.ID, "Human")
	require.NoError(t, err)
	assert.Equal(t, "Person", old)

	_, err = c.GetTable("Human")
	require.NoError(t, err)
}

func TestSequences(t *testing.T) {
	c := New()
	s, err := c.CreateSequence("ids", 10, 5)
	require.NoError(t, err)

	first, err := c.AdvanceSequence(s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), first)

	first, err = c.AdvanceSequence(s.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(15), first)

	first, err = c.AdvanceSequence(s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30), first)

	_, err = c.CreateSequence("ids", 0, 1)
	require.ErrorIs(t, err, ErrSequenceExists)
	_, err = c.CreateSequence("zero", 0, 0)
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestGraphs(t *testing.T) {
	c := New()

	social, err := c.CreateGraph("social", false)
	require.NoError(t, err)
	_, err = c.CreateGraph("social", true)
	require.ErrorIs(t, err, ErrGraphExists)
	_, err = c.CreateGraph("", true)
	require.ErrorIs(t, err, ErrInvalidEntry)
	_, err = c.CreateGraph("scratch", true)
	require.NoError(t, err)

	graphs := c.Graphs()
	require.Len(t, graphs, 2)
	assert.Equal(t, "social", graphs[0].Name)
	assert.Equal(t, "STANDARD", graphs[0].TypeName())
	assert.Equal(t, "ANY", graphs[1].TypeName())

	data, err := c.MarshalBinary()
	require.NoError(t, err)
	restored := New()
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, graphs, restored.Graphs())

	dropped, err := c.DropGraph(social.ID)
	require.NoError(t, err)
	_, err = c.GetGraph("social")
	require.ErrorIs(t, err, ErrGraphNotFound)

	c.RestoreGraph(dropped)
	g, err := c.GetGraph("social")
	require.NoError(t, err)
	assert.Equal(t, social.ID, g.ID)

	next, err := c.CreateGraph("other", false)
	require.NoError(t, err)
	assert.Greater(t, next.ID, graphs[1].ID)
}

func TestMarshalRoundTrip(t *testing.T) {
	c := New()
	person, err := c.CreateTable(personEntry())
	require.NoError(t, err)
	arrowEntry := personEntry()
	arrowEntry.Name = "Scratch"
	arrowEntry.Storage = "arrow://arrow_1"
	_, err = c.CreateTable(arrowEntry)
	require.NoError(t, err)
	s, err := c.CreateSequence("ids", 0, 1)
	require.NoError(t, err)
	_, err = c.AdvanceSequence(s.ID, 4)
	require.NoError(t, err)

	data, err := c.MarshalFiltered(func(e *TableEntry) bool { return e.Storage == "" })
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.UnmarshalBinary(data))

	tables := restored.Tables()
	require.Len(t, tables, 1)
	assert.Equal(t, person, tables[0])

	seq, err := restored.GetSequence("ids")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq.Counter)

	// ids are never reused, even for tables filtered out
	next, err := restored.CreateTable(TableEntry{
		Name:       "City",
		Type:       common.NodeTableEntry,
		Properties: []Property{{Name: "name", Type: common.TypeString}},
	})
	require.NoError(t, err)
	assert.Equal(t, common.TableID(3), next.ID)
}

func TestEntryBinary(t *testing.T) {
	e := personEntry()
	e.ID = 9
	data, err := e.MarshalBinary()
	require.NoError(t, err)

	var got TableEntry
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, e, got)
}
