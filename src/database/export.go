package database

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/graphcore/src/pkg/arrowconv"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/processor"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

const SchemaFileName = "schema.json"

type exportedTable struct {
	Entry catalog.TableEntry `json:"entry"`
	// File holds the table rows. Tables over external files keep their
	// storage location and have no file.
	File string `json:"file,omitempty"`
}

// ExportedSchema is the content of schema.json in an export directory.
// Node tables come before the rel tables that reference them.
type ExportedSchema struct {
	DatabaseID string                   `json:"database_id"`
	Tables     []exportedTable          `json:"tables"`
	Sequences  []*catalog.SequenceEntry `json:"sequences"`
	Graphs     []*catalog.GraphEntry    `json:"graphs,omitempty"`
}

func exportsRows(e *catalog.TableEntry) bool {
	return e.IsNative() || isArrowEntry(e)
}

// exportDatabase writes the schema and one parquet file per table into dir.
// Tables are written concurrently.
func (d *Database) exportDatabase(txn *txns.Transaction, dir string) error {
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	entries := d.catalog.Tables()
	schema := ExportedSchema{
		DatabaseID: d.ID(),
		Sequences:  d.catalog.Sequences(),
		Graphs:     d.catalog.Graphs(),
	}

	var g errgroup.Group
	g.SetLimit(d.opts.MaxThreads)
	for _, kind := range []common.TableKind{common.TableKindNode, common.TableKindRel} {
		for _, e := range entries {
			if e.Kind() != kind {
				continue
			}
			exported := exportedTable{Entry: *e}
			if exportsRows(e) {
				exported.File = fmt.Sprintf("table_%d.parquet", e.ID)
				path := filepath.Join(dir, exported.File)
				g.Go(func() error {
					return d.exportTable(txn, e, path)
				})
			}
			schema.Tables = append(schema.Tables, exported)
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize export schema: %w", err)
	}
	if err := afero.WriteFile(d.fs, filepath.Join(dir, SchemaFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write export schema: %w", err)
	}

	d.log.Infow("exported database", "dir", dir, "tables", len(schema.Tables))
	return nil
}

func (d *Database) exportTable(txn *txns.Transaction, e *catalog.TableEntry, path string) error {
	var (
		names []string
		types []common.LogicalType
		rows  [][]any
		err   error
	)
	if e.Kind() == common.TableKindNode {
		names, types, rows, err = d.nodeRows(txn, e)
	} else {
		names, types, rows, err = d.relRows(txn, e)
	}
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", e.Name, err)
	}

	schema, err := arrowconv.Schema(names, types)
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", e.Name, err)
	}
	rec, err := arrowconv.BuildRecord(d.opts.Allocator, schema, rows)
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", e.Name, err)
	}
	defer rec.Release()

	return table.WriteParquet(d.fs, path, schema, []arrow.Record{rec})
}

func (d *Database) nodeRows(
	txn *txns.Transaction,
	e *catalog.TableEntry,
) ([]string, []common.LogicalType, [][]any, error) {
	nt, err := d.nodeTableByID(e.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	columns := nt.Columns()
	names := make([]string, len(columns))
	types := make([]common.LogicalType, len(columns))
	ids := make([]storage.ColumnID, len(columns))
	outputs := make([]*common.Vector, len(columns))
	for i, c := range columns {
		names[i], types[i], ids[i] = c.Name, c.Type, c.ID
		outputs[i] = common.NewVector(c.Type)
	}

	scan := processor.NewScanNodeTable(
		[]processor.ScanNodeTableInfo{{Table: nt, ColumnIDs: ids}},
		common.NewVector(common.TypeInternalID),
		outputs,
	)
	var rows [][]any
	err = processor.Drain(d.executionContext(txn), scan, func() error {
		for r := range outputs[0].Len() {
			row := make([]any, len(outputs))
			for i, out := range outputs {
				row[i] = out.Value(r)
			}
			rows = append(rows, row)
		}
		return nil
	})
	return names, types, rows, err
}

// relRows reads every rel in FWD direction and replaces the endpoint node
// ids by their primary keys.
func (d *Database) relRows(
	txn *txns.Transaction,
	e *catalog.TableEntry,
) ([]string, []common.LogicalType, [][]any, error) {
	rt, err := d.relTableByID(e.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	from, err := d.nodeTableByID(rt.FromNodeTableID())
	if err != nil {
		return nil, nil, nil, err
	}
	to, err := d.nodeTableByID(rt.ToNodeTableID())
	if err != nil {
		return nil, nil, nil, err
	}

	columns := rt.Columns()
	names := []string{table.FromColumnName, table.ToColumnName}
	types := []common.LogicalType{from.PKColumn().Type, to.PKColumn().Type}
	ids := []storage.ColumnID{storage.NbrIDColumnID}
	nbr := common.NewVector(common.TypeInternalID)
	outputs := []*common.Vector{nbr}
	for _, c := range columns {
		names = append(names, c.Name)
		types = append(types, c.Type)
		ids = append(ids, c.ID)
		outputs = append(outputs, common.NewVector(c.Type))
	}

	bound := common.NewVector(common.TypeInternalID)
	scan := processor.NewSourceScanRelTable(
		processor.ScanRelTableInfo{Table: rt, ColumnIDs: ids, Direction: common.ExtendFWD},
		[]storage.NodeTable{from},
		outputs,
	).WithBoundNodeOutput(bound)

	var rows [][]any
	err = processor.Drain(d.executionContext(txn), scan, func() error {
		for r := range nbr.Len() {
			src, err := from.Value(txn, bound.NodeID(r).Offset, from.PKColumn().ID)
			if err != nil {
				return err
			}
			dst, err := to.Value(txn, nbr.NodeID(r).Offset, to.PKColumn().ID)
			if err != nil {
				return err
			}
			row := []any{src, dst}
			for _, out := range outputs[1:] {
				row = append(row, out.Value(r))
			}
			rows = append(rows, row)
		}
		return nil
	})
	return names, types, rows, err
}

// importDatabase recreates the exported tables under fresh ids and loads
// their rows. Arrow tables come back as native tables.
func (d *Database) importDatabase(txn *txns.Transaction, dir string) error {
	data, err := afero.ReadFile(d.fs, filepath.Join(dir, SchemaFileName))
	if err != nil {
		return fmt.Errorf("failed to read export schema: %w", err)
	}
	var schema ExportedSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("failed to decode export schema: %w", err)
	}

	ids := make(map[common.TableID]common.TableID, len(schema.Tables))
	for _, et := range schema.Tables {
		entry := et.Entry
		oldID := entry.ID
		entry.ID = 0
		if entry.Type == common.RelTableEntry {
			from, okFrom := ids[entry.FromTableID]
			to, okTo := ids[entry.ToTableID]
			if !okFrom || !okTo {
				return fmt.Errorf("rel table %s references tables missing from the export", entry.Name)
			}
			entry.FromTableID, entry.ToTableID = from, to
		}
		if isArrowEntry(&entry) {
			entry.Storage = ""
		}

		created, err := d.createTable(txn, entry)
		if err != nil {
			return err
		}
		ids[oldID] = created.ID

		if et.File == "" {
			continue
		}
		if _, err := d.copyFrom(context.Background(), txn, created.Name, filepath.Join(dir, et.File)); err != nil {
			return err
		}
	}

	for _, seq := range schema.Sequences {
		// sequences survive VACUUM, only recreate the missing ones
		if _, err := d.catalog.GetSequence(seq.Name); err == nil {
			continue
		}
		created, err := d.createSequence(txn, seq.Name, seq.StartValue, seq.Increment)
		if err != nil {
			return err
		}
		if seq.Counter == 0 {
			continue
		}
		if _, err := d.advanceSequence(txn, created.ID, seq.Counter); err != nil {
			return err
		}
	}

	for _, g := range schema.Graphs {
		if _, err := d.catalog.GetGraph(g.Name); err == nil {
			continue
		}
		if _, err := d.createGraph(txn, g.Name, g.Any); err != nil {
			return err
		}
	}

	d.log.Infow("imported database", "dir", dir, "tables", len(schema.Tables))
	return nil
}
