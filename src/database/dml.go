package database

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/Blackdeer1524/graphcore/src/pkg/arrowconv"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

func (d *Database) insertNode(txn *txns.Transaction, name string, values []any) (common.NodeID, error) {
	nt, err := d.NodeTable(name)
	if err != nil {
		return common.NodeID{}, err
	}
	off, err := nt.Insert(txn, values)
	if err != nil {
		return common.NodeID{}, err
	}
	return common.NodeID{Offset: off, TableID: nt.ID()}, nil
}

func (d *Database) lookupEndpoint(txn *txns.Transaction, id common.TableID, pk any) (common.Offset, error) {
	nt, err := d.nodeTableByID(id)
	if err != nil {
		return 0, err
	}
	off, ok := nt.LookupPK(txn, pk)
	if !ok {
		return 0, fmt.Errorf("%w: %v in %s", storage.ErrNodeNotFound, pk, nt.Name())
	}
	return off, nil
}

func (d *Database) insertRel(
	txn *txns.Transaction,
	name string,
	fromPK, toPK any,
	props []any,
) (common.RelID, error) {
	rt, err := d.RelTable(name)
	if err != nil {
		return common.RelID{}, err
	}
	src, err := d.lookupEndpoint(txn, rt.FromNodeTableID(), fromPK)
	if err != nil {
		return common.RelID{}, err
	}
	dst, err := d.lookupEndpoint(txn, rt.ToNodeTableID(), toPK)
	if err != nil {
		return common.RelID{}, err
	}
	off, err := rt.Insert(txn, src, dst, props)
	if err != nil {
		return common.RelID{}, err
	}
	return common.RelID{Offset: off, TableID: rt.ID()}, nil
}

// fieldIndices maps every name to its column in schema.
func fieldIndices(schema *arrow.Schema, tableName string, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, &storage.SchemaMismatchError{
				Table:  tableName,
				Reason: fmt.Sprintf("column %s is missing from the input file", name),
			}
		}
		out[i] = idx[0]
	}
	return out, nil
}

// copyFrom appends every row of the parquet file at path to the named native
// table. Columns are matched by name; rel files carry the endpoint primary
// keys in the "from" and "to" columns.
func (d *Database) copyFrom(ctx context.Context, txn *txns.Transaction, name, path string) (uint64, error) {
	if err := txn.CheckWritable(); err != nil {
		return 0, err
	}
	t, err := d.tableByName(name)
	if err != nil {
		return 0, err
	}

	schema, records, err := table.ReadParquet(ctx, d.fs, path, d.opts.Allocator)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	var rows uint64
	switch t := t.(type) {
	case storage.NodeTable:
		rows, err = d.copyNodes(txn, t, schema, records)
	case storage.RelTable:
		rows, err = d.copyRels(txn, t, schema, records)
	default:
		return 0, fmt.Errorf("%w: COPY into %s", storage.ErrUnsupportedOperation, name)
	}
	if err != nil {
		return rows, fmt.Errorf("COPY %s FROM %s: %w", name, path, err)
	}

	txn.LogRecord(&wal.CopyTableRecord{TableID: t.ID()})
	d.log.Infow("copied rows", "table", name, "path", path, "rows", rows)
	return rows, nil
}

func (d *Database) copyNodes(
	txn *txns.Transaction,
	nt storage.NodeTable,
	schema *arrow.Schema,
	records []arrow.Record,
) (uint64, error) {
	columns := nt.Columns()
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	fields, err := fieldIndices(schema, nt.Name(), names)
	if err != nil {
		return 0, err
	}

	var rows uint64
	values := make([]any, len(fields))
	for _, rec := range records {
		for r := range int(rec.NumRows()) {
			for i, f := range fields {
				values[i] = arrowconv.Value(rec.Column(f), r)
			}
			if _, err := nt.Insert(txn, values); err != nil {
				return rows, err
			}
			rows++
		}
	}
	return rows, nil
}

func (d *Database) copyRels(
	txn *txns.Transaction,
	rt storage.RelTable,
	schema *arrow.Schema,
	records []arrow.Record,
) (uint64, error) {
	columns := rt.Columns()
	names := make([]string, 0, len(columns)+2)
	names = append(names, table.FromColumnName, table.ToColumnName)
	for _, c := range columns {
		names = append(names, c.Name)
	}
	fields, err := fieldIndices(schema, rt.Name(), names)
	if err != nil {
		return 0, err
	}

	var rows uint64
	props := make([]any, len(columns))
	for _, rec := range records {
		for r := range int(rec.NumRows()) {
			src, err := d.lookupEndpoint(txn, rt.FromNodeTableID(), arrowconv.Value(rec.Column(fields[0]), r))
			if err != nil {
				return rows, err
			}
			dst, err := d.lookupEndpoint(txn, rt.ToNodeTableID(), arrowconv.Value(rec.Column(fields[1]), r))
			if err != nil {
				return rows, err
			}
			for i, f := range fields[2:] {
				props[i] = arrowconv.Value(rec.Column(f), r)
			}
			if _, err := rt.Insert(txn, src, dst, props); err != nil {
				return rows, err
			}
			rows++
		}
	}
	return rows, nil
}

func (d *Database) tableByName(name string) (storage.Table, error) {
	entry, err := d.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	return d.tableByID(entry.ID)
}
