package database

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/Blackdeer1524/graphcore/src/pkg/arrowconv"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/registry"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

// Catalog changes take effect immediately for the writing transaction and
// are undone by rollback hooks. Readers only ever see tables of committed
// writers because a single writer is active at a time.

func (d *Database) createTable(txn *txns.Transaction, entry catalog.TableEntry) (*catalog.TableEntry, error) {
	if err := txn.CheckWritable(); err != nil {
		return nil, err
	}

	created, err := d.catalog.CreateTable(entry)
	if err != nil {
		return nil, err
	}
	t, err := d.openTable(created)
	if err != nil {
		if _, dropErr := d.catalog.DropTable(created.ID); dropErr != nil {
			d.log.Errorw("failed to drop unopened table", "table", created.Name, "error", dropErr)
		}
		return nil, err
	}

	payload, err := created.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize table %s: %w", created.Name, err)
	}
	txn.LogRecord(&wal.CreateCatalogEntryRecord{
		EntryType: created.Type,
		Name:      created.Name,
		Payload:   payload,
	})
	txn.OnRollback(func() {
		d.removeTable(created.ID)
		if _, err := d.catalog.DropTable(created.ID); err != nil {
			d.log.Errorw("failed to undo table creation", "table", created.Name, "error", err)
		}
		if err := t.Close(); err != nil {
			d.log.Warnw("failed to close table", "table", created.Name, "error", err)
		}
	})

	d.log.Infow("created table",
		"table", created.Name,
		"id", created.ID,
		"kind", created.Kind(),
		"storage", created.Storage,
	)
	return created, nil
}

func (d *Database) relEntry(name, from, to string, props []catalog.Property) (catalog.TableEntry, error) {
	fromEntry, err := d.catalog.GetTable(from)
	if err != nil {
		return catalog.TableEntry{}, err
	}
	toEntry, err := d.catalog.GetTable(to)
	if err != nil {
		return catalog.TableEntry{}, err
	}
	return catalog.TableEntry{
		Name:        name,
		Type:        common.RelTableEntry,
		Properties:  props,
		FromTableID: fromEntry.ID,
		ToTableID:   toEntry.ID,
	}, nil
}

func propertiesOf(schema *arrow.Schema, exclude ...string) ([]catalog.Property, error) {
	props := make([]catalog.Property, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		if slices.Contains(exclude, f.Name) {
			continue
		}
		typ, err := arrowconv.LogicalTypeOf(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		props = append(props, catalog.Property{Name: f.Name, Type: typ})
	}
	return props, nil
}

// createArrowTable registers records and creates entry over them. It takes
// ownership of records.
func (d *Database) createArrowTable(
	txn *txns.Transaction,
	entry catalog.TableEntry,
	schema *arrow.Schema,
	records []arrow.Record,
) (*catalog.TableEntry, error) {
	if err := txn.CheckWritable(); err != nil {
		releaseAll(records)
		return nil, err
	}

	id, err := d.registry.Register(schema, records)
	if err != nil {
		releaseAll(records)
		return nil, err
	}
	entry.Storage = registry.Location(id)

	created, err := d.createTable(txn, entry)
	if err != nil {
		d.registry.Unregister(id)
		return nil, err
	}
	return created, nil
}

func (d *Database) dropTable(txn *txns.Transaction, name string) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}

	entry, err := d.catalog.GetTable(name)
	if err != nil {
		return err
	}
	dropped, err := d.catalog.DropTable(entry.ID)
	if err != nil {
		return err
	}
	t := d.removeTable(entry.ID)

	txn.LogRecord(&wal.DropCatalogEntryRecord{EntryID: uint64(entry.ID), EntryType: entry.Type})
	txn.OnCommit(func() {
		if t == nil {
			return
		}
		if err := t.Close(); err != nil {
			d.log.Warnw("failed to close dropped table", "table", name, "error", err)
		}
	})
	txn.OnRollback(func() {
		if err := d.catalog.RestoreTable(dropped); err != nil {
			d.log.Errorw("failed to undo table drop", "table", name, "error", err)
			return
		}
		if t != nil {
			d.addTable(t)
		}
	})

	d.log.Infow("dropped table", "table", name, "id", entry.ID)
	return nil
}

func (d *Database) renameTable(txn *txns.Transaction, name, newName string) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}

	entry, err := d.catalog.GetTable(name)
	if err != nil {
		return err
	}
	t, err := d.tableByID(entry.ID)
	if err != nil {
		return err
	}
	if _, err := d.catalog.RenameTable(entry.ID, newName); err != nil {
		return err
	}
	rn, renamable := t.(table.Renamer)
	if renamable {
		rn.Rename(newName)
	}

	txn.LogRecord(&wal.AlterTableEntryRecord{
		TableID:   entry.ID,
		AlterType: wal.AlterRenameTable,
		NewName:   newName,
	})
	txn.OnRollback(func() {
		if _, err := d.catalog.RenameTable(entry.ID, name); err != nil {
			d.log.Errorw("failed to undo table rename", "table", newName, "error", err)
		}
		if renamable {
			rn.Rename(name)
		}
	})
	return nil
}

func (d *Database) createSequence(
	txn *txns.Transaction,
	name string,
	start, increment int64,
) (*catalog.SequenceEntry, error) {
	if err := txn.CheckWritable(); err != nil {
		return nil, err
	}

	seq, err := d.catalog.CreateSequence(name, start, increment)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(seq)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize sequence %s: %w", name, err)
	}

	txn.LogRecord(&wal.CreateCatalogEntryRecord{
		EntryType: common.SequenceEntry,
		Name:      name,
		Payload:   payload,
	})
	txn.OnRollback(func() {
		if _, err := d.catalog.DropSequence(seq.ID); err != nil {
			d.log.Errorw("failed to undo sequence creation", "sequence", name, "error", err)
		}
	})
	return seq, nil
}

func (d *Database) dropSequence(txn *txns.Transaction, name string) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}

	seq, err := d.catalog.GetSequence(name)
	if err != nil {
		return err
	}
	dropped, err := d.catalog.DropSequence(seq.ID)
	if err != nil {
		return err
	}

	txn.LogRecord(&wal.DropCatalogEntryRecord{EntryID: seq.ID, EntryType: common.SequenceEntry})
	txn.OnRollback(func() {
		d.catalog.RestoreSequence(dropped)
	})
	return nil
}

func (d *Database) createGraph(txn *txns.Transaction, name string, anyGraph bool) (*catalog.GraphEntry, error) {
	if err := txn.CheckWritable(); err != nil {
		return nil, err
	}

	g, err := d.catalog.CreateGraph(name, anyGraph)
	if err != nil {
		return nil, err
	}
	payload, err := g.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize graph %s: %w", name, err)
	}

	txn.LogRecord(&wal.CreateCatalogEntryRecord{
		EntryType: common.GraphEntry,
		Name:      name,
		Payload:   payload,
	})
	txn.OnRollback(func() {
		if _, err := d.catalog.DropGraph(g.ID); err != nil {
			d.log.Errorw("failed to undo graph creation", "graph", name, "error", err)
		}
	})
	return g, nil
}

func (d *Database) dropGraph(txn *txns.Transaction, name string) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}

	g, err := d.catalog.GetGraph(name)
	if err != nil {
		return err
	}
	dropped, err := d.catalog.DropGraph(g.ID)
	if err != nil {
		return err
	}

	txn.LogRecord(&wal.DropCatalogEntryRecord{EntryID: g.ID, EntryType: common.GraphEntry})
	txn.OnRollback(func() {
		d.catalog.RestoreGraph(dropped)
	})
	return nil
}

// nextSequenceValues hands out k values. Values handed out stay consumed
// even if txn rolls back.
func (d *Database) nextSequenceValues(txn *txns.Transaction, name string, k uint64) ([]int64, error) {
	if err := txn.CheckWritable(); err != nil {
		return nil, err
	}

	seq, err := d.catalog.GetSequence(name)
	if err != nil {
		return nil, err
	}
	first, err := d.advanceSequence(txn, seq.ID, k)
	if err != nil {
		return nil, err
	}

	out := make([]int64, 0, k)
	for i := range k {
		//nolint:gosec
		out = append(out, first+int64(i)*seq.Increment)
	}
	return out, nil
}

func (d *Database) advanceSequence(txn *txns.Transaction, id, k uint64) (int64, error) {
	first, err := d.catalog.AdvanceSequence(id, k)
	if err != nil {
		return 0, err
	}
	txn.LogRecord(&wal.UpdateSequenceRecord{SequenceID: id, KCount: k})
	return first, nil
}

// loadExtension records path as loaded. Extension code itself is not
// executed by the storage core.
func (d *Database) loadExtension(txn *txns.Transaction, path string) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}

	d.extMu.Lock()
	if slices.Contains(d.extensions, path) {
		d.extMu.Unlock()
		return fmt.Errorf("%w: %s", ErrExtensionLoaded, path)
	}
	d.extensions = append(d.extensions, path)
	d.extMu.Unlock()

	txn.LogRecord(&wal.LoadExtensionRecord{Path: path})
	txn.OnRollback(func() {
		d.extMu.Lock()
		defer d.extMu.Unlock()

		if i := slices.Index(d.extensions, path); i >= 0 {
			d.extensions = slices.Delete(d.extensions, i, i+1)
		}
	})
	return nil
}
