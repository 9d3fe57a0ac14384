package table

import (
	"fmt"
	"sync"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

// NativeNodeTable keeps committed rows column-wise in memory. Rows are
// persisted by checkpoints and redone from the WAL. Uncommitted rows live in
// the writing transaction's local storage and become visible to others only
// once the commit applies the transaction's records.
type NativeNodeTable struct {
	id      common.TableID
	name    nameHolder
	columns []storage.Column
	log     src.Logger

	mu      sync.RWMutex
	data    [][]any
	deleted []bool
	pkIndex map[any]common.Offset
}

var (
	_ storage.NodeTable = &NativeNodeTable{}
	_ Applier           = &NativeNodeTable{}
	_ Persistent        = &NativeNodeTable{}
)

func NewNativeNodeTable(entry *catalog.TableEntry, log src.Logger) *NativeNodeTable {
	columns := make([]storage.Column, len(entry.Properties))
	for i, p := range entry.Properties {
		//nolint:gosec
		columns[i] = storage.Column{ID: storage.ColumnID(i), Name: p.Name, Type: p.Type}
	}

	t := &NativeNodeTable{
		id:      entry.ID,
		columns: columns,
		log:     log,
		data:    make([][]any, len(columns)),
		pkIndex: make(map[any]common.Offset),
	}
	t.name.set(entry.Name)
	return t
}

func (t *NativeNodeTable) ID() common.TableID {
	return t.id
}

func (t *NativeNodeTable) Name() string {
	return t.name.get()
}

func (t *NativeNodeTable) Rename(name string) {
	t.name.set(name)
}

func (t *NativeNodeTable) Kind() common.TableKind {
	return common.TableKindNode
}

func (t *NativeNodeTable) Backend() storage.BackendKind {
	return storage.BackendNative
}

func (t *NativeNodeTable) Columns() []storage.Column {
	return t.columns
}

func (t *NativeNodeTable) PKColumn() storage.Column {
	return t.columns[0]
}

func (t *NativeNodeTable) Close() error {
	return nil
}

type nodeLocalStorage struct {
	mu sync.Mutex

	startOffset common.Offset
	data        [][]any
	deleted     []bool
	pkIndex     map[any]common.Offset

	// changes to committed rows
	deletedCommitted map[common.Offset]struct{}
	updates          map[common.Offset]map[storage.ColumnID]any
}

func (l *nodeLocalStorage) numRows() uint64 {
	if len(l.data) == 0 {
		return 0
	}
	return uint64(len(l.data[0]))
}

func (t *NativeNodeTable) numCommittedRowsAssumeLocked() uint64 {
	return uint64(len(t.deleted))
}

func (t *NativeNodeTable) local(txn *txns.Transaction) *nodeLocalStorage {
	return txns.LocalStorage(txn, t.id, func() *nodeLocalStorage {
		t.mu.RLock()
		defer t.mu.RUnlock()

		return &nodeLocalStorage{
			startOffset:      common.Offset(t.numCommittedRowsAssumeLocked()),
			data:             make([][]any, len(t.columns)),
			pkIndex:          make(map[any]common.Offset),
			deletedCommitted: make(map[common.Offset]struct{}),
			updates:          make(map[common.Offset]map[storage.ColumnID]any),
		}
	})
}

func (t *NativeNodeTable) lookupLocal(txn *txns.Transaction) (*nodeLocalStorage, bool) {
	if txn == nil || !txn.IsWrite() {
		return nil, false
	}
	return txns.LookupLocalStorage[*nodeLocalStorage](txn, t.id)
}

func (t *NativeNodeTable) NumTotalRows(txn *txns.Transaction) uint64 {
	t.mu.RLock()
	n := t.numCommittedRowsAssumeLocked()
	t.mu.RUnlock()

	if l, ok := t.lookupLocal(txn); ok {
		l.mu.Lock()
		defer l.mu.Unlock()
		n = uint64(l.startOffset) + l.numRows()
	}
	return n
}

func numGroups(rows uint64) uint64 {
	return (rows + common.NodeGroupSize - 1) / common.NodeGroupSize
}

// NumNodeGroups counts the committed node groups followed by the groups of
// rows inserted by txn.
func (t *NativeNodeTable) NumNodeGroups(txn *txns.Transaction) uint64 {
	t.mu.RLock()
	n := numGroups(t.numCommittedRowsAssumeLocked())
	t.mu.RUnlock()

	if l, ok := t.lookupLocal(txn); ok {
		l.mu.Lock()
		defer l.mu.Unlock()
		n += numGroups(l.numRows())
	}
	return n
}

func (t *NativeNodeTable) LookupPK(txn *txns.Transaction, key any) (common.Offset, bool) {
	key, err := t.columns[0].Type.NormalizeValue(key)
	if err != nil || key == nil {
		return common.InvalidOffset, false
	}

	l, hasLocal := t.lookupLocal(txn)
	if hasLocal {
		l.mu.Lock()
		defer l.mu.Unlock()
		if off, ok := l.pkIndex[key]; ok {
			return off, true
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	off, ok := t.pkIndex[key]
	if !ok {
		return common.InvalidOffset, false
	}
	if hasLocal {
		if _, gone := l.deletedCommitted[off]; gone {
			return common.InvalidOffset, false
		}
	}
	return off, true
}

func (t *NativeNodeTable) checkColumn(columnID storage.ColumnID) error {
	if int(columnID) >= len(t.columns) {
		return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, columnID, t.Name())
	}
	return nil
}

func (t *NativeNodeTable) Value(
	txn *txns.Transaction,
	offset common.Offset,
	columnID storage.ColumnID,
) (any, error) {
	if err := t.checkColumn(columnID); err != nil {
		return nil, err
	}

	if l, ok := t.lookupLocal(txn); ok {
		l.mu.Lock()
		defer l.mu.Unlock()

		if offset >= l.startOffset {
			idx := uint64(offset - l.startOffset)
			if idx >= l.numRows() || l.deleted[idx] {
				return nil, fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, offset, t.Name())
			}
			return l.data[columnID][idx], nil
		}
		if _, gone := l.deletedCommitted[offset]; gone {
			return nil, fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, offset, t.Name())
		}
		if v, ok := l.updates[offset][columnID]; ok {
			return v, nil
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if uint64(offset) >= t.numCommittedRowsAssumeLocked() || t.deleted[offset] {
		return nil, fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, offset, t.Name())
	}
	return t.data[columnID][offset], nil
}

func (t *NativeNodeTable) normalizeRow(values []any) ([]any, error) {
	if len(values) != len(t.columns) {
		return nil, fmt.Errorf(
			"%w: table %s has %d columns, got %d values",
			storage.ErrSchemaMismatch,
			t.Name(),
			len(t.columns),
			len(values),
		)
	}

	row := make([]any, len(values))
	for i, v := range values {
		nv, err := t.columns[i].Type.NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s: %w", storage.ErrSchemaMismatch, t.columns[i].Name, err)
		}
		row[i] = nv
	}
	if row[0] == nil {
		return nil, fmt.Errorf("primary key %s of table %s cannot be NULL", t.columns[0].Name, t.Name())
	}
	return row, nil
}

func (t *NativeNodeTable) Insert(txn *txns.Transaction, values []any) (common.Offset, error) {
	if err := txn.CheckWritable(); err != nil {
		return common.InvalidOffset, err
	}
	row, err := t.normalizeRow(values)
	if err != nil {
		return common.InvalidOffset, err
	}
	if _, exists := t.LookupPK(txn, row[0]); exists {
		return common.InvalidOffset, fmt.Errorf(
			"%w: %v in table %s",
			storage.ErrDuplicatePrimaryKey,
			row[0],
			t.Name(),
		)
	}

	l := t.local(txn)
	l.mu.Lock()
	offset := l.startOffset + common.Offset(l.numRows())
	for i, v := range row {
		l.data[i] = append(l.data[i], v)
	}
	l.deleted = append(l.deleted, false)
	l.pkIndex[row[0]] = offset
	l.mu.Unlock()

	vectors := make([]*common.Vector, len(row))
	for i, v := range row {
		vectors[i] = common.NewVectorFrom(t.columns[i].Type, v)
	}
	txn.LogRecord(&wal.TableInsertionRecord{
		TableID:   t.id,
		TableKind: common.TableKindNode,
		NumRows:   1,
		Vectors:   vectors,
	})
	return offset, nil
}

func (t *NativeNodeTable) Update(
	txn *txns.Transaction,
	offset common.Offset,
	columnID storage.ColumnID,
	value any,
) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}
	if err := t.checkColumn(columnID); err != nil {
		return err
	}
	if columnID == t.PKColumn().ID {
		return fmt.Errorf("%w: primary key of %s cannot be updated", storage.ErrUnsupportedOperation, t.Name())
	}
	value, err := t.columns[columnID].Type.NormalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSchemaMismatch, err)
	}
	if _, err := t.Value(txn, offset, columnID); err != nil {
		return err
	}

	l := t.local(txn)
	l.mu.Lock()
	if offset >= l.startOffset {
		l.data[columnID][offset-l.startOffset] = value
	} else {
		if l.updates[offset] == nil {
			l.updates[offset] = make(map[storage.ColumnID]any)
		}
		l.updates[offset][columnID] = value
	}
	l.mu.Unlock()

	txn.LogRecord(&wal.NodeUpdateRecord{
		TableID:    t.id,
		ColumnID:   uint32(columnID),
		NodeOffset: offset,
		Value:      common.NewVectorFrom(t.columns[columnID].Type, value),
	})
	return nil
}

func (t *NativeNodeTable) Delete(txn *txns.Transaction, offset common.Offset) (bool, error) {
	if err := txn.CheckWritable(); err != nil {
		return false, err
	}

	pk, err := t.Value(txn, offset, t.PKColumn().ID)
	if err != nil {
		return false, nil
	}

	l := t.local(txn)
	l.mu.Lock()
	if offset >= l.startOffset {
		l.deleted[offset-l.startOffset] = true
		delete(l.pkIndex, pk)
	} else {
		l.deletedCommitted[offset] = struct{}{}
		delete(l.updates, offset)
	}
	l.mu.Unlock()

	txn.LogRecord(&wal.NodeDeletionRecord{
		TableID:    t.id,
		NodeOffset: offset,
		PK:         common.NewVectorFrom(t.PKColumn().Type, pk),
	})
	return true, nil
}

type nativeNodeScanPayload struct {
	local *nodeLocalStorage

	startRow uint64
	endRow   uint64
	nextRow  uint64
}

func (*nativeNodeScanPayload) Backend() storage.BackendKind {
	return storage.BackendNative
}

func (t *NativeNodeTable) NewScanPayload() storage.ScanPayload {
	return &nativeNodeScanPayload{}
}

// InitScanState positions the scan at node group state.NodeGroupIdx.
func (t *NativeNodeTable) InitScanState(
	txn *txns.Transaction,
	state *storage.ScanState,
	_ bool,
) error {
	p := assert.Cast[*nativeNodeScanPayload](state.Payload)

	t.mu.RLock()
	committedRows := t.numCommittedRowsAssumeLocked()
	t.mu.RUnlock()

	committedGroups := numGroups(committedRows)
	group := state.NodeGroupIdx
	if group == storage.InvalidNodeGroupIdx {
		group = 0
	}

	p.local, _ = t.lookupLocal(txn)
	if group < committedGroups {
		state.Source = storage.ScanSourceCommitted
		p.startRow = group * common.NodeGroupSize
		p.endRow = min(p.startRow+common.NodeGroupSize, committedRows)
	} else {
		state.Source = storage.ScanSourceUncommitted
		localRows := uint64(0)
		if p.local != nil {
			p.local.mu.Lock()
			localRows = p.local.numRows()
			p.local.mu.Unlock()
		}
		p.startRow = (group - committedGroups) * common.NodeGroupSize
		p.endRow = min(p.startRow+common.NodeGroupSize, localRows)
		p.startRow = min(p.startRow, p.endRow)
	}
	p.nextRow = p.startRow
	return nil
}

func (t *NativeNodeTable) emitRow(state *storage.ScanState, offset common.Offset, value func(storage.ColumnID) any) {
	if !storage.EvaluatePredicates(state.Predicates, value) {
		return
	}
	state.NodeIDs.Append(common.NodeID{Offset: offset, TableID: t.id})
	for i, col := range state.ColumnIDs {
		state.OutputVectors[i].Append(value(col))
	}
	state.OutputSize++
}

func (t *NativeNodeTable) ScanBatch(txn *txns.Transaction, state *storage.ScanState) (bool, error) {
	p := assert.Cast[*nativeNodeScanPayload](state.Payload)
	state.ResetOutputs()
	state.NodeIDs.Reset()

	for _, col := range state.ColumnIDs {
		if err := t.checkColumn(col); err != nil {
			return false, err
		}
	}

	switch state.Source {
	case storage.ScanSourceCommitted:
		t.scanCommitted(p, state)
	case storage.ScanSourceUncommitted:
		t.scanLocal(p, state)
	default:
		return false, nil
	}
	return state.OutputSize > 0, nil
}

func (t *NativeNodeTable) scanCommitted(p *nativeNodeScanPayload, state *storage.ScanState) {
	if p.local != nil {
		p.local.mu.Lock()
		defer p.local.mu.Unlock()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for ; p.nextRow < p.endRow && state.OutputSize < common.DefaultVectorCapacity; p.nextRow++ {
		row := p.nextRow
		if t.deleted[row] {
			continue
		}
		var updates map[storage.ColumnID]any
		if p.local != nil {
			if _, gone := p.local.deletedCommitted[common.Offset(row)]; gone {
				continue
			}
			updates = p.local.updates[common.Offset(row)]
		}
		t.emitRow(state, common.Offset(row), func(col storage.ColumnID) any {
			if v, ok := updates[col]; ok {
				return v
			}
			return t.data[col][row]
		})
	}
}

func (t *NativeNodeTable) scanLocal(p *nativeNodeScanPayload, state *storage.ScanState) {
	if p.local == nil {
		return
	}
	p.local.mu.Lock()
	defer p.local.mu.Unlock()

	l := p.local
	for ; p.nextRow < p.endRow && state.OutputSize < common.DefaultVectorCapacity; p.nextRow++ {
		row := p.nextRow
		if l.deleted[row] {
			continue
		}
		t.emitRow(state, l.startOffset+common.Offset(row), func(col storage.ColumnID) any {
			return l.data[col][row]
		})
	}
}

// Apply redoes a DML record against committed storage.
func (t *NativeNodeTable) Apply(rec wal.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch r := rec.(type) {
	case *wal.TableInsertionRecord:
		if len(r.Vectors) != len(t.columns) {
			return fmt.Errorf(
				"%w: insertion into %s carries %d columns",
				storage.ErrSchemaMismatch,
				t.Name(),
				len(r.Vectors),
			)
		}
		for row := 0; row < int(r.NumRows); row++ {
			offset := common.Offset(t.numCommittedRowsAssumeLocked())
			for col, vec := range r.Vectors {
				t.data[col] = append(t.data[col], vec.Value(row))
			}
			t.deleted = append(t.deleted, false)
			t.pkIndex[r.Vectors[0].Value(row)] = offset
		}
	case *wal.NodeDeletionRecord:
		if uint64(r.NodeOffset) >= t.numCommittedRowsAssumeLocked() {
			return fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, r.NodeOffset, t.Name())
		}
		if !t.deleted[r.NodeOffset] {
			t.deleted[r.NodeOffset] = true
			delete(t.pkIndex, t.data[0][r.NodeOffset])
		}
	case *wal.NodeUpdateRecord:
		col := storage.ColumnID(r.ColumnID)
		if err := t.checkColumn(col); err != nil {
			return err
		}
		if uint64(r.NodeOffset) >= t.numCommittedRowsAssumeLocked() {
			return fmt.Errorf("%w: %d in %s", storage.ErrNodeNotFound, r.NodeOffset, t.Name())
		}
		t.data[col][r.NodeOffset] = r.Value.Value(0)
	default:
		return fmt.Errorf("%w: %s on node table %s", ErrUnexpectedRecord, rec.Type(), t.Name())
	}
	return nil
}

func (t *NativeNodeTable) Serialize(s *serde.Serializer) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s.WriteUint64(t.numCommittedRowsAssumeLocked())
	for i, col := range t.columns {
		s.WriteVector(common.NewVectorFrom(col.Type, t.data[i]...))
	}
	for _, d := range t.deleted {
		s.WriteBool(d)
	}
}

func (t *NativeNodeTable) Deserialize(d *serde.Deserializer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := d.ReadUint64()
	data := make([][]any, len(t.columns))
	for i := range t.columns {
		v := d.ReadVector()
		if d.Err() != nil {
			break
		}
		if uint64(v.Len()) != n {
			return fmt.Errorf("column %s of %s holds %d rows, expected %d", t.columns[i].Name, t.Name(), v.Len(), n)
		}
		data[i] = v.Values()
	}
	deleted := make([]bool, 0, n)
	for range n {
		deleted = append(deleted, d.ReadBool())
	}
	if err := d.Err(); err != nil {
		return fmt.Errorf("failed to load table %s: %w", t.Name(), err)
	}

	t.data = data
	t.deleted = deleted
	t.pkIndex = make(map[any]common.Offset, n)
	for row := range n {
		if !deleted[row] {
			t.pkIndex[data[0][row]] = common.Offset(row)
		}
	}
	return nil
}
