package database

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/processor"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

// Connection is one client session. Statements run inside the session's
// active transaction or, without one, in an auto-committed transaction.
// A Connection is not safe for concurrent use.
type Connection struct {
	db *Database
	tc *txns.Context
	// graph is the named graph selected by UseGraph, empty for the default one.
	graph string
}

func (d *Database) Connect() *Connection {
	return &Connection{db: d, tc: txns.NewContext(d.txnMgr)}
}

func (c *Connection) Database() *Database {
	return c.db
}

func (c *Connection) HasActiveTransaction() bool {
	return c.tc.HasActiveTransaction()
}

// Transaction executes a transaction control statement: BEGIN, COMMIT,
// ROLLBACK, CHECKPOINT or VACUUM.
func (c *Connection) Transaction(action txns.Action) error {
	if c.db.closed.Load() {
		return ErrClosed
	}
	op := processor.NewTransaction(action, &maintenance{c: c})
	ctx := c.db.executionContext(c.tc.ActiveTransaction())
	return processor.Drain(ctx, op, nil)
}

func (c *Connection) BeginRead() error  { return c.Transaction(txns.BeginRead) }
func (c *Connection) BeginWrite() error { return c.Transaction(txns.BeginWrite) }
func (c *Connection) Commit() error     { return c.Transaction(txns.Commit) }
func (c *Connection) Rollback() error   { return c.Transaction(txns.Rollback) }
func (c *Connection) Checkpoint() error { return c.Transaction(txns.Checkpoint) }
func (c *Connection) Vacuum() error     { return c.Transaction(txns.VacuumDatabase) }

// Run executes fn with an execution context bound to the current
// transaction.
func (c *Connection) Run(typ txns.Type, fn func(ctx *processor.ExecutionContext) error) error {
	if c.db.closed.Load() {
		return ErrClosed
	}
	return c.tc.Run(typ, func(txn *txns.Transaction) error {
		return fn(c.db.executionContext(txn))
	})
}

func (c *Connection) write(fn func(txn *txns.Transaction) error) error {
	if c.db.closed.Load() {
		return ErrClosed
	}
	return c.tc.Run(txns.Write, fn)
}

func (c *Connection) CreateNodeTable(name string, props []catalog.Property, primaryKey string) (*catalog.TableEntry, error) {
	return c.CreateTable(catalog.TableEntry{
		Name:       name,
		Type:       common.NodeTableEntry,
		Properties: props,
		PrimaryKey: primaryKey,
	})
}

func (c *Connection) CreateRelTable(name, from, to string, props []catalog.Property) (*catalog.TableEntry, error) {
	entry, err := c.db.relEntry(name, from, to, props)
	if err != nil {
		return nil, err
	}
	return c.CreateTable(entry)
}

// CreateTable creates a table from a full entry. A non-empty Storage opens
// the table over a parquet file or a foreign SQLite table.
func (c *Connection) CreateTable(entry catalog.TableEntry) (*catalog.TableEntry, error) {
	var created *catalog.TableEntry
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		created, err = c.db.createTable(txn, entry)
		return err
	})
	return created, err
}

// CreateArrowNodeTable creates a node table over in-memory Arrow records.
// The database owns the records afterwards, also on failure. Such tables
// are not persisted and disappear when the database is closed.
func (c *Connection) CreateArrowNodeTable(
	name string,
	schema *arrow.Schema,
	records []arrow.Record,
	primaryKey string,
) (*catalog.TableEntry, error) {
	props, err := propertiesOf(schema)
	if err != nil {
		releaseAll(records)
		return nil, err
	}
	entry := catalog.TableEntry{
		Name:       name,
		Type:       common.NodeTableEntry,
		Properties: props,
		PrimaryKey: primaryKey,
	}
	return c.createArrow(entry, schema, records)
}

// CreateArrowRelTable creates a rel table over Arrow records whose "from" and
// "to" columns hold the primary keys of the endpoint nodes.
func (c *Connection) CreateArrowRelTable(
	name, from, to string,
	schema *arrow.Schema,
	records []arrow.Record,
) (*catalog.TableEntry, error) {
	props, err := propertiesOf(schema, table.FromColumnName, table.ToColumnName)
	if err != nil {
		releaseAll(records)
		return nil, err
	}
	entry, err := c.db.relEntry(name, from, to, props)
	if err != nil {
		releaseAll(records)
		return nil, err
	}
	return c.createArrow(entry, schema, records)
}

func (c *Connection) createArrow(
	entry catalog.TableEntry,
	schema *arrow.Schema,
	records []arrow.Record,
) (*catalog.TableEntry, error) {
	var created *catalog.TableEntry
	registered := false
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		registered = true
		created, err = c.db.createArrowTable(txn, entry, schema, records)
		return err
	})
	if !registered {
		releaseAll(records)
	}
	return created, err
}

func releaseAll(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

func (c *Connection) DropTable(name string) error {
	return c.write(func(txn *txns.Transaction) error {
		return c.db.dropTable(txn, name)
	})
}

func (c *Connection) RenameTable(name, newName string) error {
	return c.write(func(txn *txns.Transaction) error {
		return c.db.renameTable(txn, name, newName)
	})
}

func (c *Connection) CreateSequence(name string, start, increment int64) (*catalog.SequenceEntry, error) {
	var seq *catalog.SequenceEntry
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		seq, err = c.db.createSequence(txn, name, start, increment)
		return err
	})
	return seq, err
}

func (c *Connection) DropSequence(name string) error {
	return c.write(func(txn *txns.Transaction) error {
		return c.db.dropSequence(txn, name)
	})
}

// CreateGraph registers a named graph. anyGraph creates an ANY graph.
func (c *Connection) CreateGraph(name string, anyGraph bool) (*catalog.GraphEntry, error) {
	var g *catalog.GraphEntry
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		g, err = c.db.createGraph(txn, name, anyGraph)
		return err
	})
	return g, err
}

func (c *Connection) DropGraph(name string) error {
	err := c.write(func(txn *txns.Transaction) error {
		return c.db.dropGraph(txn, name)
	})
	if err == nil && c.graph == name {
		c.graph = ""
	}
	return err
}

// UseGraph makes name the session's current graph. An empty name switches
// back to the default graph.
func (c *Connection) UseGraph(name string) error {
	if c.db.closed.Load() {
		return ErrClosed
	}
	if name != "" {
		if _, err := c.db.catalog.GetGraph(name); err != nil {
			return err
		}
	}
	c.graph = name
	return nil
}

func (c *Connection) CurrentGraph() string {
	return c.graph
}

// Graphs lists the named graphs of the database.
func (c *Connection) Graphs() []*catalog.GraphEntry {
	return c.db.catalog.Graphs()
}

// NextSequenceValues hands out the next k values of the sequence.
func (c *Connection) NextSequenceValues(name string, k uint64) ([]int64, error) {
	var values []int64
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		values, err = c.db.nextSequenceValues(txn, name, k)
		return err
	})
	return values, err
}

func (c *Connection) LoadExtension(path string) error {
	return c.write(func(txn *txns.Transaction) error {
		return c.db.loadExtension(txn, path)
	})
}

func (c *Connection) InsertNode(tableName string, values ...any) (common.NodeID, error) {
	var id common.NodeID
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		id, err = c.db.insertNode(txn, tableName, values)
		return err
	})
	return id, err
}

// InsertRel connects the nodes with primary keys fromPK and toPK.
func (c *Connection) InsertRel(tableName string, fromPK, toPK any, props ...any) (common.RelID, error) {
	var id common.RelID
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		id, err = c.db.insertRel(txn, tableName, fromPK, toPK, props)
		return err
	})
	return id, err
}

// CopyFrom bulk loads a parquet file into a native table.
func (c *Connection) CopyFrom(ctx context.Context, tableName, path string) (uint64, error) {
	var rows uint64
	err := c.write(func(txn *txns.Transaction) error {
		var err error
		rows, err = c.db.copyFrom(ctx, txn, tableName, path)
		return err
	})
	return rows, err
}

// maintenance is the processor's view of a connection. Its methods run in
// auto-committed transactions.
type maintenance struct {
	c *Connection
}

var _ processor.Maintainer = &maintenance{}

func (m *maintenance) TransactionContext() *txns.Context {
	return m.c.tc
}

func (m *maintenance) Checkpoint() error {
	return m.c.db.Checkpoint()
}

func (m *maintenance) IsInMemory() bool {
	return m.c.db.opts.InMemory
}

func (m *maintenance) IsReadOnly() bool {
	return m.c.db.opts.ReadOnly
}

func (m *maintenance) DatabasePath() string {
	return m.c.db.opts.Path
}

func (m *maintenance) FS() afero.Fs {
	return m.c.db.fs
}

func (m *maintenance) ExportDatabase(dir string) error {
	return m.c.tc.Run(txns.ReadOnly, func(txn *txns.Transaction) error {
		return m.c.db.exportDatabase(txn, dir)
	})
}

func (m *maintenance) ImportDatabase(dir string) error {
	return m.c.tc.Run(txns.Write, func(txn *txns.Transaction) error {
		return m.c.db.importDatabase(txn, dir)
	})
}

func (m *maintenance) TableNames() ([]string, error) {
	entries := m.c.db.catalog.Tables()
	names := make([]string, 0, len(entries))
	for _, kind := range []common.TableKind{common.TableKindRel, common.TableKindNode} {
		for _, e := range entries {
			if e.Kind() == kind {
				names = append(names, e.Name)
			}
		}
	}
	return names, nil
}

func (m *maintenance) DropTable(name string) error {
	err := m.c.tc.Run(txns.Write, func(txn *txns.Transaction) error {
		return m.c.db.dropTable(txn, name)
	})
	if errors.Is(err, catalog.ErrTableNotFound) {
		return nil
	}
	return err
}
