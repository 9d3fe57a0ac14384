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

// NativeRelTable stores every rel twice, once in the CSR of each direction.
type NativeRelTable struct {
	id          common.TableID
	name        nameHolder
	fromTableID common.TableID
	toTableID   common.TableID
	columns     []storage.Column
	log         src.Logger

	mu            sync.RWMutex
	csr           [2]*csrDirection
	nextRelOffset common.Offset
}

var (
	_ storage.RelTable = &NativeRelTable{}
	_ Applier          = &NativeRelTable{}
	_ Persistent       = &NativeRelTable{}
)

func relColumns(entry *catalog.TableEntry) []storage.Column {
	columns := make([]storage.Column, len(entry.Properties))
	for i, p := range entry.Properties {
		columns[i] = storage.Column{ID: storage.RelPropertyColumnID(i), Name: p.Name, Type: p.Type}
	}
	return columns
}

func NewNativeRelTable(entry *catalog.TableEntry, log src.Logger) *NativeRelTable {
	t := &NativeRelTable{
		id:          entry.ID,
		fromTableID: entry.FromTableID,
		toTableID:   entry.ToTableID,
		columns:     relColumns(entry),
		log:         log,
	}
	t.name.set(entry.Name)
	t.csr[common.FWD] = newCSRDirection(len(t.columns))
	t.csr[common.BWD] = newCSRDirection(len(t.columns))
	return t
}

func (t *NativeRelTable) ID() common.TableID {
	return t.id
}

func (t *NativeRelTable) Name() string {
	return t.name.get()
}

func (t *NativeRelTable) Rename(name string) {
	t.name.set(name)
}

func (t *NativeRelTable) Kind() common.TableKind {
	return common.TableKindRel
}

func (t *NativeRelTable) Backend() storage.BackendKind {
	return storage.BackendNative
}

func (t *NativeRelTable) FromNodeTableID() common.TableID {
	return t.fromTableID
}

func (t *NativeRelTable) ToNodeTableID() common.TableID {
	return t.toTableID
}

func (t *NativeRelTable) BoundNodeTableID(dir common.RelDataDirection) common.TableID {
	if dir == common.FWD {
		return t.fromTableID
	}
	return t.toTableID
}

func (t *NativeRelTable) nbrTableID(dir common.RelDataDirection) common.TableID {
	return t.BoundNodeTableID(dir.Reverse())
}

func (t *NativeRelTable) Columns() []storage.Column {
	return t.columns
}

func (t *NativeRelTable) Close() error {
	return nil
}

type localRel struct {
	src, dst, relID common.Offset
	props           []any
	deleted         bool
}

func (r *localRel) bound(dir common.RelDataDirection) common.Offset {
	if dir == common.FWD {
		return r.src
	}
	return r.dst
}

func (r *localRel) nbr(dir common.RelDataDirection) common.Offset {
	return r.bound(dir.Reverse())
}

type relLocalStorage struct {
	mu sync.Mutex

	startRelOffset common.Offset
	rels           []*localRel

	// changes to committed rels, keyed by rel offset
	deleted map[common.Offset]struct{}
	updates map[common.Offset]map[int]any
}

func (l *relLocalStorage) findLocal(relID common.Offset) (*localRel, bool) {
	if relID < l.startRelOffset || uint64(relID-l.startRelOffset) >= uint64(len(l.rels)) {
		return nil, false
	}
	r := l.rels[relID-l.startRelOffset]
	return r, !r.deleted
}

func (t *NativeRelTable) local(txn *txns.Transaction) *relLocalStorage {
	return txns.LocalStorage(txn, t.id, func() *relLocalStorage {
		t.mu.RLock()
		defer t.mu.RUnlock()

		return &relLocalStorage{
			startRelOffset: t.nextRelOffset,
			deleted:        make(map[common.Offset]struct{}),
			updates:        make(map[common.Offset]map[int]any),
		}
	})
}

func (t *NativeRelTable) lookupLocal(txn *txns.Transaction) (*relLocalStorage, bool) {
	if txn == nil || !txn.IsWrite() {
		return nil, false
	}
	return txns.LookupLocalStorage[*relLocalStorage](txn, t.id)
}

func (t *NativeRelTable) NumTotalRows(txn *txns.Transaction) uint64 {
	if l, ok := t.lookupLocal(txn); ok {
		l.mu.Lock()
		defer l.mu.Unlock()
		return uint64(l.startRelOffset) + uint64(len(l.rels))
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(t.nextRelOffset)
}

func (t *NativeRelTable) normalizeProps(props []any) ([]any, error) {
	if len(props) != len(t.columns) {
		return nil, fmt.Errorf(
			"%w: table %s has %d properties, got %d values",
			storage.ErrSchemaMismatch,
			t.Name(),
			len(t.columns),
			len(props),
		)
	}
	out := make([]any, len(props))
	for i, v := range props {
		nv, err := t.columns[i].Type.NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: property %s: %w", storage.ErrSchemaMismatch, t.columns[i].Name, err)
		}
		out[i] = nv
	}
	return out, nil
}

func offsetVector(offsets ...common.Offset) *common.Vector {
	v := common.NewVector(common.TypeInt64)
	for _, o := range offsets {
		//nolint:gosec
		v.Append(int64(o))
	}
	return v
}

func offsetAt(v *common.Vector, i int) common.Offset {
	//nolint:gosec
	return common.Offset(assert.Cast[int64](v.Value(i)))
}

func (t *NativeRelTable) Insert(
	txn *txns.Transaction,
	src, dst common.Offset,
	props []any,
) (common.Offset, error) {
	if err := txn.CheckWritable(); err != nil {
		return common.InvalidOffset, err
	}
	props, err := t.normalizeProps(props)
	if err != nil {
		return common.InvalidOffset, err
	}

	l := t.local(txn)
	l.mu.Lock()
	relID := l.startRelOffset + common.Offset(len(l.rels))
	l.rels = append(l.rels, &localRel{src: src, dst: dst, relID: relID, props: props})
	l.mu.Unlock()

	vectors := []*common.Vector{offsetVector(src), offsetVector(dst), offsetVector(relID)}
	for i, v := range props {
		vectors = append(vectors, common.NewVectorFrom(t.columns[i].Type, v))
	}
	txn.LogRecord(&wal.TableInsertionRecord{
		TableID:   t.id,
		TableKind: common.TableKindRel,
		NumRows:   1,
		Vectors:   vectors,
	})
	return relID, nil
}

// committedExistsAssumeLocked needs t.mu held.
func (t *NativeRelTable) committedExistsAssumeLocked(src, relID common.Offset) bool {
	_, ok := t.csr[common.FWD].find(src, relID)
	return ok
}

func (t *NativeRelTable) relIDs(src, dst, relID common.Offset) (common.NodeID, common.NodeID, common.RelID) {
	return common.NodeID{Offset: src, TableID: t.fromTableID},
		common.NodeID{Offset: dst, TableID: t.toTableID},
		common.RelID{Offset: relID, TableID: t.id}
}

func (t *NativeRelTable) Update(
	txn *txns.Transaction,
	src, dst, relID common.Offset,
	columnID storage.ColumnID,
	value any,
) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}
	idx := storage.RelPropertyIdx(columnID)
	if idx < 0 || idx >= len(t.columns) {
		return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, columnID, t.Name())
	}
	value, err := t.columns[idx].Type.NormalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSchemaMismatch, err)
	}

	l := t.local(txn)
	l.mu.Lock()
	if r, ok := l.findLocal(relID); ok {
		r.props[idx] = value
	} else {
		t.mu.RLock()
		exists := t.committedExistsAssumeLocked(src, relID)
		t.mu.RUnlock()
		if _, gone := l.deleted[relID]; gone || !exists {
			l.mu.Unlock()
			return fmt.Errorf("rel %d does not exist in %s", relID, t.Name())
		}
		if l.updates[relID] == nil {
			l.updates[relID] = make(map[int]any)
		}
		l.updates[relID][idx] = value
	}
	l.mu.Unlock()

	srcID, dstID, id := t.relIDs(src, dst, relID)
	txn.LogRecord(&wal.RelUpdateRecord{
		TableID:  t.id,
		ColumnID: uint32(columnID),
		Src:      srcID,
		Dst:      dstID,
		RelID:    id,
		Value:    common.NewVectorFrom(t.columns[idx].Type, value),
	})
	return nil
}

func (t *NativeRelTable) Delete(txn *txns.Transaction, src, dst, relID common.Offset) (bool, error) {
	if err := txn.CheckWritable(); err != nil {
		return false, err
	}

	l := t.local(txn)
	l.mu.Lock()
	if r, ok := l.findLocal(relID); ok {
		r.deleted = true
	} else {
		t.mu.RLock()
		exists := t.committedExistsAssumeLocked(src, relID)
		t.mu.RUnlock()
		if _, gone := l.deleted[relID]; gone || !exists {
			l.mu.Unlock()
			return false, nil
		}
		l.deleted[relID] = struct{}{}
		delete(l.updates, relID)
	}
	l.mu.Unlock()

	srcID, dstID, id := t.relIDs(src, dst, relID)
	txn.LogRecord(&wal.RelDeletionRecord{TableID: t.id, Src: srcID, Dst: dstID, RelID: id})
	return true, nil
}

func (t *NativeRelTable) boundOffsets(nodes []common.NodeID, dir common.RelDataDirection) []common.Offset {
	boundTable := t.BoundNodeTableID(dir)
	out := make([]common.Offset, 0, len(nodes))
	for _, n := range nodes {
		if n.TableID == boundTable {
			out = append(out, n.Offset)
		}
	}
	return out
}

func (t *NativeRelTable) DetachDeleteBatch(
	txn *txns.Transaction,
	boundNodes []common.NodeID,
	dir common.RelDataDirection,
	out *storage.DetachDeleteOutput,
) error {
	if err := txn.CheckWritable(); err != nil {
		return err
	}
	bound := t.boundOffsets(boundNodes, dir)
	if len(bound) == 0 {
		return nil
	}

	nbrTable := t.nbrTableID(dir)
	l := t.local(txn)
	l.mu.Lock()
	t.mu.RLock()

	csr := t.csr[dir]
	for _, b := range bound {
		start, end := csr.region(b)
		for pos := start; pos < end; pos++ {
			relID := csr.relIDs[pos]
			if _, gone := l.deleted[relID]; gone {
				continue
			}
			l.deleted[relID] = struct{}{}
			delete(l.updates, relID)
			out.Dst.Append(common.NodeID{Offset: csr.nbrs[pos], TableID: nbrTable})
			out.RelIDs.Append(common.RelID{Offset: relID, TableID: t.id})
		}
		for _, r := range l.rels {
			if r.deleted || r.bound(dir) != b {
				continue
			}
			r.deleted = true
			out.Dst.Append(common.NodeID{Offset: r.nbr(dir), TableID: nbrTable})
			out.RelIDs.Append(common.RelID{Offset: r.relID, TableID: t.id})
		}
	}

	t.mu.RUnlock()
	l.mu.Unlock()

	nodes := common.NewVector(common.TypeInternalID)
	for _, b := range bound {
		nodes.Append(common.NodeID{Offset: b, TableID: t.BoundNodeTableID(dir)})
	}
	txn.LogRecord(&wal.RelDetachDeleteRecord{TableID: t.id, Direction: dir, SrcNodeIDs: nodes})
	return nil
}

// visibleDegree needs l.mu and t.mu held.
func (t *NativeRelTable) visibleDegree(l *relLocalStorage, dir common.RelDataDirection, b common.Offset) uint64 {
	csr := t.csr[dir]
	if l == nil {
		return csr.degree(b)
	}

	n := uint64(0)
	start, end := csr.region(b)
	for pos := start; pos < end; pos++ {
		if _, gone := l.deleted[csr.relIDs[pos]]; !gone {
			n++
		}
	}
	for _, r := range l.rels {
		if !r.deleted && r.bound(dir) == b {
			n++
		}
	}
	return n
}

func (t *NativeRelTable) CheckNoRels(
	txn *txns.Transaction,
	dir common.RelDataDirection,
	nodes []common.NodeID,
) error {
	l, hasLocal := t.lookupLocal(txn)
	if hasLocal {
		l.mu.Lock()
		defer l.mu.Unlock()
	} else {
		l = nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, b := range t.boundOffsets(nodes, dir) {
		if t.visibleDegree(l, dir, b) > 0 {
			return &storage.ReferentialConstraintError{Table: t.Name(), Offset: b, Direction: dir}
		}
	}
	return nil
}

type nativeRelScanPayload struct {
	local *relLocalStorage
	bound []common.Offset

	cursor  int
	inLocal bool
	pos     uint64
}

func (*nativeRelScanPayload) Backend() storage.BackendKind {
	return storage.BackendNative
}

func (t *NativeRelTable) NewScanPayload() storage.ScanPayload {
	return &nativeRelScanPayload{}
}

func (t *NativeRelTable) checkScanColumns(columnIDs []storage.ColumnID) error {
	for _, col := range columnIDs {
		if col == storage.NbrIDColumnID || col == storage.RelIDColumnID {
			continue
		}
		if idx := storage.RelPropertyIdx(col); idx < 0 || idx >= len(t.columns) {
			return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, col, t.Name())
		}
	}
	return nil
}

// InitScanState positions the scan at the first bound node of
// state.NodeIDs. The bound node selection is recomputed only when
// resetBoundNodes is set.
func (t *NativeRelTable) InitScanState(
	txn *txns.Transaction,
	state *storage.ScanState,
	resetBoundNodes bool,
) error {
	if err := t.checkScanColumns(state.ColumnIDs); err != nil {
		return err
	}
	p := assert.Cast[*nativeRelScanPayload](state.Payload)

	if resetBoundNodes || p.bound == nil {
		p.bound = t.boundOffsets(state.NodeIDs.NodeIDs(), state.Direction)
	}
	p.local, _ = t.lookupLocal(txn)
	p.cursor = 0
	p.inLocal = false
	p.pos = 0
	state.Source = storage.ScanSourceCommitted
	return nil
}

func (t *NativeRelTable) emit(
	state *storage.ScanState,
	bound common.Offset,
	value func(storage.ColumnID) any,
) {
	if !storage.EvaluatePredicates(state.Predicates, value) {
		return
	}
	if state.BoundNodeOutput != nil {
		state.BoundNodeOutput.Append(common.NodeID{Offset: bound, TableID: t.BoundNodeTableID(state.Direction)})
	}
	for i, col := range state.ColumnIDs {
		state.OutputVectors[i].Append(value(col))
	}
	state.OutputSize++
}

func (t *NativeRelTable) ScanBatch(_ *txns.Transaction, state *storage.ScanState) (bool, error) {
	p := assert.Cast[*nativeRelScanPayload](state.Payload)
	state.ResetOutputs()

	if p.local != nil {
		p.local.mu.Lock()
		defer p.local.mu.Unlock()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for p.cursor < len(p.bound) && state.OutputSize < common.DefaultVectorCapacity {
		b := p.bound[p.cursor]
		if !p.inLocal {
			state.Source = storage.ScanSourceCommitted
			if t.scanCommittedRegion(p, state, b) {
				p.inLocal = true
				p.pos = 0
			}
			continue
		}

		state.Source = storage.ScanSourceUncommitted
		if t.scanLocalRels(p, state, b) {
			p.cursor++
			p.inLocal = false
			p.pos = 0
		}
	}
	return state.OutputSize > 0, nil
}

// scanCommittedRegion reports whether the region of b is exhausted.
func (t *NativeRelTable) scanCommittedRegion(p *nativeRelScanPayload, state *storage.ScanState, b common.Offset) bool {
	csr := t.csr[state.Direction]
	nbrTable := t.nbrTableID(state.Direction)
	start, end := csr.region(b)

	for ; start+p.pos < end; p.pos++ {
		if state.OutputSize >= common.DefaultVectorCapacity {
			return false
		}
		pos := start + p.pos
		relID := csr.relIDs[pos]

		var updates map[int]any
		if p.local != nil {
			if _, gone := p.local.deleted[relID]; gone {
				continue
			}
			updates = p.local.updates[relID]
		}
		t.emit(state, b, func(col storage.ColumnID) any {
			switch col {
			case storage.NbrIDColumnID:
				return common.NodeID{Offset: csr.nbrs[pos], TableID: nbrTable}
			case storage.RelIDColumnID:
				return common.RelID{Offset: relID, TableID: t.id}
			}
			idx := storage.RelPropertyIdx(col)
			if v, ok := updates[idx]; ok {
				return v
			}
			return csr.props[idx][pos]
		})
	}
	return true
}

func (t *NativeRelTable) scanLocalRels(p *nativeRelScanPayload, state *storage.ScanState, b common.Offset) bool {
	if p.local == nil {
		return true
	}
	nbrTable := t.nbrTableID(state.Direction)

	for ; p.pos < uint64(len(p.local.rels)); p.pos++ {
		if state.OutputSize >= common.DefaultVectorCapacity {
			return false
		}
		r := p.local.rels[p.pos]
		if r.deleted || r.bound(state.Direction) != b {
			continue
		}
		t.emit(state, b, func(col storage.ColumnID) any {
			switch col {
			case storage.NbrIDColumnID:
				return common.NodeID{Offset: r.nbr(state.Direction), TableID: nbrTable}
			case storage.RelIDColumnID:
				return common.RelID{Offset: r.relID, TableID: t.id}
			}
			return r.props[storage.RelPropertyIdx(col)]
		})
	}
	return true
}

func (t *NativeRelTable) insertAssumeLocked(src, dst, relID common.Offset, props []any) {
	t.csr[common.FWD].insert(src, dst, relID, props)
	t.csr[common.BWD].insert(dst, src, relID, props)
	t.nextRelOffset = max(t.nextRelOffset, relID+1)
}

func (t *NativeRelTable) removeAssumeLocked(src, dst, relID common.Offset) error {
	fwdPos, ok := t.csr[common.FWD].find(src, relID)
	if !ok {
		return fmt.Errorf("rel %d from node %d does not exist in %s", relID, src, t.Name())
	}
	bwdPos, ok := t.csr[common.BWD].find(dst, relID)
	assert.Assert(ok, "rel %d of %s is missing from the BWD CSR", relID, t.Name())

	t.csr[common.FWD].remove(src, fwdPos)
	t.csr[common.BWD].remove(dst, bwdPos)
	return nil
}

func (t *NativeRelTable) detachAssumeLocked(bound common.Offset, dir common.RelDataDirection) {
	csr, other := t.csr[dir], t.csr[dir.Reverse()]
	start, end := csr.region(bound)
	for pos := start; pos < end; pos++ {
		nbr, relID := csr.nbrs[pos], csr.relIDs[pos]
		otherPos, ok := other.find(nbr, relID)
		assert.Assert(ok, "rel %d of %s is missing from the %s CSR", relID, t.Name(), dir.Reverse())
		other.remove(nbr, otherPos)
	}
	for start < end {
		end--
		csr.remove(bound, end)
	}
}

func (t *NativeRelTable) Apply(rec wal.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch r := rec.(type) {
	case *wal.TableInsertionRecord:
		if len(r.Vectors) != 3+len(t.columns) {
			return fmt.Errorf(
				"%w: insertion into %s carries %d vectors",
				storage.ErrSchemaMismatch,
				t.Name(),
				len(r.Vectors),
			)
		}
		for row := 0; row < int(r.NumRows); row++ {
			props := make([]any, len(t.columns))
			for i := range props {
				props[i] = r.Vectors[3+i].Value(row)
			}
			t.insertAssumeLocked(
				offsetAt(r.Vectors[0], row),
				offsetAt(r.Vectors[1], row),
				offsetAt(r.Vectors[2], row),
				props,
			)
		}
	case *wal.RelDeletionRecord:
		return t.removeAssumeLocked(r.Src.Offset, r.Dst.Offset, r.RelID.Offset)
	case *wal.RelDetachDeleteRecord:
		for _, n := range r.SrcNodeIDs.NodeIDs() {
			t.detachAssumeLocked(n.Offset, r.Direction)
		}
	case *wal.RelUpdateRecord:
		idx := storage.RelPropertyIdx(storage.ColumnID(r.ColumnID))
		if idx < 0 || idx >= len(t.columns) {
			return fmt.Errorf("%w: column %d of table %s", storage.ErrNoSuchColumn, r.ColumnID, t.Name())
		}
		fwdPos, ok := t.csr[common.FWD].find(r.Src.Offset, r.RelID.Offset)
		if !ok {
			return fmt.Errorf("rel %s does not exist in %s", r.RelID, t.Name())
		}
		bwdPos, ok := t.csr[common.BWD].find(r.Dst.Offset, r.RelID.Offset)
		assert.Assert(ok, "rel %s of %s is missing from the BWD CSR", r.RelID, t.Name())
		t.csr[common.FWD].props[idx][fwdPos] = r.Value.Value(0)
		t.csr[common.BWD].props[idx][bwdPos] = r.Value.Value(0)
	default:
		return fmt.Errorf("%w: %s on rel table %s", ErrUnexpectedRecord, rec.Type(), t.Name())
	}
	return nil
}

// Serialize writes the live rels in FWD order. Deserialize rebuilds both
// directions from them.
func (t *NativeRelTable) Serialize(s *serde.Serializer) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fwd := t.csr[common.FWD]
	numRels := uint64(0)
	for n := range fwd.numBound() {
		numRels += fwd.lengths[n]
	}

	s.WriteUint64(uint64(t.nextRelOffset))
	s.WriteUint64(numRels)
	for n := range fwd.numBound() {
		start, end := fwd.region(common.Offset(n))
		for pos := start; pos < end; pos++ {
			s.WriteUint64(n)
			s.WriteUint64(uint64(fwd.nbrs[pos]))
			s.WriteUint64(uint64(fwd.relIDs[pos]))
			for i := range fwd.props {
				s.WriteValue(fwd.props[i][pos])
			}
		}
	}
}

func (t *NativeRelTable) Deserialize(d *serde.Deserializer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.csr[common.FWD] = newCSRDirection(len(t.columns))
	t.csr[common.BWD] = newCSRDirection(len(t.columns))

	t.nextRelOffset = 0
	next := common.Offset(d.ReadUint64())
	numRels := d.ReadUint64()
	for range numRels {
		src := common.Offset(d.ReadUint64())
		dst := common.Offset(d.ReadUint64())
		relID := common.Offset(d.ReadUint64())
		props := make([]any, len(t.columns))
		for i := range props {
			props[i] = d.ReadValue()
		}
		if err := d.Err(); err != nil {
			return fmt.Errorf("failed to load table %s: %w", t.Name(), err)
		}
		t.insertAssumeLocked(src, dst, relID, props)
	}
	t.nextRelOffset = max(t.nextRelOffset, next)
	return d.Err()
}
