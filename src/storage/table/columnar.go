package table

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/Blackdeer1524/graphcore/src/pkg/arrowconv"
	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

const (
	FromColumnName = "from"
	ToColumnName   = "to"
)

// columnarData is an immutable sequence of Arrow records. Row offsets are
// global: row r of batch b has offset starts[b]+r.
type columnarData struct {
	schema  *arrow.Schema
	records []arrow.Record
	starts  []uint64
	numRows uint64
}

func newColumnarData(schema *arrow.Schema, records []arrow.Record) *columnarData {
	c := &columnarData{schema: schema, records: records, starts: make([]uint64, len(records))}
	for i, rec := range records {
		c.starts[i] = c.numRows
		//nolint:gosec
		c.numRows += uint64(rec.NumRows())
	}
	return c
}

func (c *columnarData) locate(offset common.Offset) (int, int, bool) {
	if uint64(offset) >= c.numRows {
		return 0, 0, false
	}
	batch := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > uint64(offset) }) - 1
	return batch, int(uint64(offset) - c.starts[batch]), true
}

func (c *columnarData) value(batch, row, field int) any {
	return arrowconv.Value(c.records[batch].Column(field), row)
}

func (c *columnarData) release() {
	for _, rec := range c.records {
		rec.Release()
	}
	c.records = nil
}

// fieldIndex validates that the schema carries column name with type want.
func fieldIndex(schema *arrow.Schema, table, name string, want common.LogicalType) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return -1, &storage.SchemaMismatchError{
			Table:  table,
			Reason: fmt.Sprintf("column %s is missing from the external schema", name),
		}
	}
	idx := indices[0]
	got, err := arrowconv.LogicalTypeOf(schema.Field(idx).Type)
	if err != nil {
		return -1, &storage.SchemaMismatchError{Table: table, Reason: fmt.Sprintf("column %s: %v", name, err)}
	}
	if string(got) != string(want) {
		return -1, &storage.SchemaMismatchError{
			Table:  table,
			Reason: fmt.Sprintf("column %s has type %s, expected %s", name, got, want),
		}
	}
	return idx, nil
}

// ColumnarNodeTable serves read-only node scans over Arrow records. Node
// group i is record batch i.
type ColumnarNodeTable struct {
	id      common.TableID
	name    nameHolder
	backend storage.BackendKind
	columns []storage.Column
	fields  []int
	data    *columnarData
	onClose func()

	pkOnce  sync.Once
	pkIndex map[any]common.Offset
}

var _ storage.NodeTable = &ColumnarNodeTable{}

func newColumnarNodeTable(
	entry *catalog.TableEntry,
	backend storage.BackendKind,
	data *columnarData,
	onClose func(),
) (*ColumnarNodeTable, error) {
	t := &ColumnarNodeTable{
		id:      entry.ID,
		backend: backend,
		columns: make([]storage.Column, len(entry.Properties)),
		fields:  make([]int, len(entry.Properties)),
		data:    data,
		onClose: onClose,
	}
	t.name.set(entry.Name)

	for i, p := range entry.Properties {
		idx, err := fieldIndex(data.schema, entry.Name, p.Name, p.Type)
		if err != nil {
			return nil, err
		}
		//nolint:gosec
		t.columns[i] = storage.Column{ID: storage.ColumnID(i), Name: p.Name, Type: p.Type}
		t.fields[i] = idx
	}
	return t, nil
}

func (t *ColumnarNodeTable) ID() common.TableID {
	return t.id
}

func (t *ColumnarNodeTable) Name() string {
	return t.name.get()
}

func (t *ColumnarNodeTable) Rename(name string) {
	t.name.set(name)
}

func (t *ColumnarNodeTable) Kind() common.TableKind {
	return common.TableKindNode
}

func (t *ColumnarNodeTable) Backend() storage.BackendKind {
	return t.backend
}

func (t *ColumnarNodeTable) Columns() []storage.Column {
	return t.columns
}

func (t *ColumnarNodeTable) PKColumn() storage.Column {
	return t.columns[0]
}

func (t *ColumnarNodeTable) NumTotalRows(*txns.Transaction) uint64 {
	return t.data.numRows
}

func (t *ColumnarNodeTable) NumNodeGroups(*txns.Transaction) uint64 {
	return uint64(len(t.data.records))
}

func (t *ColumnarNodeTable) buildPKIndex() {
	t.pkIndex = make(map[any]common.Offset, t.data.numRows)
	for b, rec := range t.data.records {
		for r := range int(rec.NumRows()) {
			if key := t.data.value(b, r, t.fields[0]); key != nil {
				t.pkIndex[key] = common.Offset(t.data.starts[b] + uint64(r))
			}
		}
	}
}

func (t *ColumnarNodeTable) LookupPK(_ *txns.Transaction, key any) (common.Offset, bool) {
	key, err := t.columns[0].Type.NormalizeValue(key)
	if err != nil || key == nil {
		return common.InvalidOffset, false
	}
	t.pkOnce.Do(t.buildPKIndex)

	off, ok := t.pkIndex[key]
	return off, ok
}

func (t *ColumnarNodeTable) Value(_ *txns.Transaction, offset common.Offset, columnID storage.ColumnID) (any, error) {
	if int(columnID) >= len(t.columns) {
		return nil, fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, columnID, t.Name())
	}
	b, r, ok := t.data.locate(offset)
	if !ok {
		return nil, fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, offset, t.Name())
	}
	return t.data.value(b, r, t.fields[columnID]), nil
}

func (t *ColumnarNodeTable) Insert(*txns.Transaction, []any) (common.Offset, error) {
	return common.InvalidOffset, fmt.Errorf("%w: insert into %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

func (t *ColumnarNodeTable) Update(*txns.Transaction, common.Offset, storage.ColumnID, any) error {
	return fmt.Errorf("%w: update of %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

func (t *ColumnarNodeTable) Delete(*txns.Transaction, common.Offset) (bool, error) {
	return false, fmt.Errorf("%w: delete from %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

type columnarScanPayload struct {
	backend storage.BackendKind

	batch int
	row   int

	// rel scans only
	bound map[common.Offset]struct{}
}

func (p *columnarScanPayload) Backend() storage.BackendKind {
	return p.backend
}

func (t *ColumnarNodeTable) NewScanPayload() storage.ScanPayload {
	return &columnarScanPayload{backend: t.backend}
}

func (t *ColumnarNodeTable) InitScanState(_ *txns.Transaction, state *storage.ScanState, _ bool) error {
	for _, col := range state.ColumnIDs {
		if int(col) >= len(t.columns) {
			return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, col, t.Name())
		}
	}

	p := assert.Cast[*columnarScanPayload](state.Payload)
	p.batch = 0
	if state.NodeGroupIdx != storage.InvalidNodeGroupIdx {
		//nolint:gosec
		p.batch = int(state.NodeGroupIdx)
	}
	p.row = 0
	state.Source = storage.ScanSourceExternal
	return nil
}

func (t *ColumnarNodeTable) ScanBatch(_ *txns.Transaction, state *storage.ScanState) (bool, error) {
	p := assert.Cast[*columnarScanPayload](state.Payload)
	state.ResetOutputs()
	state.NodeIDs.Reset()

	if p.batch >= len(t.data.records) {
		return false, nil
	}
	numRows := int(t.data.records[p.batch].NumRows())

	for ; p.row < numRows && state.OutputSize < common.DefaultVectorCapacity; p.row++ {
		row := p.row
		value := func(col storage.ColumnID) any {
			return t.data.value(p.batch, row, t.fields[col])
		}
		if !storage.EvaluatePredicates(state.Predicates, value) {
			continue
		}
		state.NodeIDs.Append(common.NodeID{
			Offset:  common.Offset(t.data.starts[p.batch] + uint64(row)),
			TableID: t.id,
		})
		for i, col := range state.ColumnIDs {
			state.OutputVectors[i].Append(value(col))
		}
		state.OutputSize++
	}
	return state.OutputSize > 0, nil
}

func (t *ColumnarNodeTable) Close() error {
	if t.onClose != nil {
		t.onClose()
		t.onClose = nil
	}
	return nil
}

// ColumnarRelTable serves rels whose endpoints are stored as raw primary key
// values in the "from" and "to" columns. Endpoints are resolved through the
// adjacent node tables on every scan.
type ColumnarRelTable struct {
	id      common.TableID
	name    nameHolder
	backend storage.BackendKind
	from    storage.NodeTable
	to      storage.NodeTable
	columns []storage.Column

	fromField int
	toField   int
	fields    []int

	data    *columnarData
	onClose func()
}

var _ storage.RelTable = &ColumnarRelTable{}

func newColumnarRelTable(
	entry *catalog.TableEntry,
	backend storage.BackendKind,
	data *columnarData,
	from, to storage.NodeTable,
	onClose func(),
) (*ColumnarRelTable, error) {
	t := &ColumnarRelTable{
		id:      entry.ID,
		backend: backend,
		from:    from,
		to:      to,
		columns: relColumns(entry),
		fields:  make([]int, len(entry.Properties)),
		data:    data,
		onClose: onClose,
	}
	t.name.set(entry.Name)

	var err error
	if t.fromField, err = fieldIndex(data.schema, entry.Name, FromColumnName, from.PKColumn().Type); err != nil {
		return nil, err
	}
	if t.toField, err = fieldIndex(data.schema, entry.Name, ToColumnName, to.PKColumn().Type); err != nil {
		return nil, err
	}
	for i, p := range entry.Properties {
		if t.fields[i], err = fieldIndex(data.schema, entry.Name, p.Name, p.Type); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *ColumnarRelTable) ID() common.TableID {
	return t.id
}

func (t *ColumnarRelTable) Name() string {
	return t.name.get()
}

func (t *ColumnarRelTable) Rename(name string) {
	t.name.set(name)
}

func (t *ColumnarRelTable) Kind() common.TableKind {
	return common.TableKindRel
}

func (t *ColumnarRelTable) Backend() storage.BackendKind {
	return t.backend
}

func (t *ColumnarRelTable) FromNodeTableID() common.TableID {
	return t.from.ID()
}

func (t *ColumnarRelTable) ToNodeTableID() common.TableID {
	return t.to.ID()
}

func (t *ColumnarRelTable) BoundNodeTableID(dir common.RelDataDirection) common.TableID {
	if dir == common.FWD {
		return t.from.ID()
	}
	return t.to.ID()
}

func (t *ColumnarRelTable) Columns() []storage.Column {
	return t.columns
}

func (t *ColumnarRelTable) NumTotalRows(*txns.Transaction) uint64 {
	return t.data.numRows
}

// endpoints resolves both ends of a row. ok is false if either key has no
// matching node.
func (t *ColumnarRelTable) endpoints(txn *txns.Transaction, batch, row int) (common.Offset, common.Offset, bool) {
	src, ok := t.from.LookupPK(txn, t.data.value(batch, row, t.fromField))
	if !ok {
		return 0, 0, false
	}
	dst, ok := t.to.LookupPK(txn, t.data.value(batch, row, t.toField))
	if !ok {
		return 0, 0, false
	}
	return src, dst, true
}

func (t *ColumnarRelTable) Insert(*txns.Transaction, common.Offset, common.Offset, []any) (common.Offset, error) {
	return common.InvalidOffset, fmt.Errorf("%w: insert into %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

func (t *ColumnarRelTable) Update(*txns.Transaction, common.Offset, common.Offset, common.Offset, storage.ColumnID, any) error {
	return fmt.Errorf("%w: update of %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

func (t *ColumnarRelTable) Delete(*txns.Transaction, common.Offset, common.Offset, common.Offset) (bool, error) {
	return false, fmt.Errorf("%w: delete from %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

func (t *ColumnarRelTable) DetachDeleteBatch(
	*txns.Transaction,
	[]common.NodeID,
	common.RelDataDirection,
	*storage.DetachDeleteOutput,
) error {
	return fmt.Errorf("%w: detach delete on %s table %s", storage.ErrUnsupportedOperation, t.backend, t.Name())
}

func (t *ColumnarRelTable) CheckNoRels(
	txn *txns.Transaction,
	dir common.RelDataDirection,
	nodes []common.NodeID,
) error {
	bound := make(map[common.Offset]struct{}, len(nodes))
	for _, n := range nodes {
		if n.TableID == t.BoundNodeTableID(dir) {
			bound[n.Offset] = struct{}{}
		}
	}
	if len(bound) == 0 {
		return nil
	}

	for b, rec := range t.data.records {
		for r := range int(rec.NumRows()) {
			src, dst, ok := t.endpoints(txn, b, r)
			if !ok {
				continue
			}
			node := src
			if dir == common.BWD {
				node = dst
			}
			if _, hit := bound[node]; hit {
				return &storage.ReferentialConstraintError{Table: t.Name(), Offset: node, Direction: dir}
			}
		}
	}
	return nil
}

func (t *ColumnarRelTable) NewScanPayload() storage.ScanPayload {
	return &columnarScanPayload{backend: t.backend}
}

func (t *ColumnarRelTable) InitScanState(_ *txns.Transaction, state *storage.ScanState, resetBoundNodes bool) error {
	for _, col := range state.ColumnIDs {
		if col == storage.NbrIDColumnID || col == storage.RelIDColumnID {
			continue
		}
		if idx := storage.RelPropertyIdx(col); idx < 0 || idx >= len(t.columns) {
			return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, col, t.Name())
		}
	}

	p := assert.Cast[*columnarScanPayload](state.Payload)
	if resetBoundNodes || p.bound == nil {
		p.bound = make(map[common.Offset]struct{}, state.NodeIDs.Len())
		boundTable := t.BoundNodeTableID(state.Direction)
		for _, n := range state.NodeIDs.NodeIDs() {
			if n.TableID == boundTable {
				p.bound[n.Offset] = struct{}{}
			}
		}
	}
	p.batch, p.row = 0, 0
	state.Source = storage.ScanSourceExternal
	return nil
}

// ScanBatch emits at most one row per call.
func (t *ColumnarRelTable) ScanBatch(txn *txns.Transaction, state *storage.ScanState) (bool, error) {
	p := assert.Cast[*columnarScanPayload](state.Payload)
	state.ResetOutputs()

	boundTable := t.BoundNodeTableID(state.Direction)
	nbrTable := t.BoundNodeTableID(state.Direction.Reverse())

	for ; p.batch < len(t.data.records); p.batch, p.row = p.batch+1, 0 {
		numRows := int(t.data.records[p.batch].NumRows())
		for p.row < numRows {
			batch, row := p.batch, p.row
			p.row++

			src, dst, ok := t.endpoints(txn, batch, row)
			if !ok {
				continue
			}
			bound, nbr := src, dst
			if state.Direction == common.BWD {
				bound, nbr = dst, src
			}
			if _, hit := p.bound[bound]; !hit {
				continue
			}

			value := func(col storage.ColumnID) any {
				switch col {
				case storage.NbrIDColumnID:
					return common.NodeID{Offset: nbr, TableID: nbrTable}
				case storage.RelIDColumnID:
					return common.RelID{Offset: common.Offset(t.data.starts[batch] + uint64(row)), TableID: t.id}
				}
				return t.data.value(batch, row, t.fields[storage.RelPropertyIdx(col)])
			}
			if !storage.EvaluatePredicates(state.Predicates, value) {
				continue
			}

			if state.BoundNodeOutput != nil {
				state.BoundNodeOutput.Append(common.NodeID{Offset: bound, TableID: boundTable})
			}
			for i, col := range state.ColumnIDs {
				state.OutputVectors[i].Append(value(col))
			}
			state.OutputSize++
			return true, nil
		}
	}
	return false, nil
}

func (t *ColumnarRelTable) Close() error {
	if t.onClose != nil {
		t.onClose()
		t.onClose = nil
	}
	return nil
}
