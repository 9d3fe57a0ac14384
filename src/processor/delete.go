package processor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
)

var ErrUnknownTable = errors.New("no delete info for table")

type DeleteNodeType uint8

const (
	DeleteNode DeleteNodeType = iota
	DetachDeleteNode
)

func (t DeleteNodeType) String() string {
	switch t {
	case DeleteNode:
		return "DELETE"
	case DetachDeleteNode:
		return "DETACH_DELETE"
	default:
		return fmt.Sprintf("DeleteNodeType(%d)", uint8(t))
	}
}

// DetachDeleteBatchSize is the number of deleted nodes collected before their
// rels are detached.
const DetachDeleteBatchSize = common.DefaultVectorCapacity

// NodeTableDeleteInfo lists the rel tables a node table is the FWD resp. BWD
// bound table of.
type NodeTableDeleteInfo struct {
	Table        storage.NodeTable
	FwdRelTables []storage.RelTable
	BwdRelTables []storage.RelTable
}

// checkNoRels fails if any of nodes still has a rel.
func (info *NodeTableDeleteInfo) checkNoRels(ctx *ExecutionContext, nodes []common.NodeID) error {
	for _, tbl := range info.FwdRelTables {
		if err := tbl.CheckNoRels(ctx.Txn, common.FWD, nodes); err != nil {
			return err
		}
	}
	for _, tbl := range info.BwdRelTables {
		if err := tbl.CheckNoRels(ctx.Txn, common.BWD, nodes); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExecutor deletes the entities of the current batch of its input
// vectors.
type DeleteExecutor interface {
	Init(ctx *ExecutionContext) error
	Delete(ctx *ExecutionContext) error
	// Finalize flushes deferred work once the input is exhausted.
	Finalize(ctx *ExecutionContext) error
}

type nodeDeleteBatch struct {
	deleteType DeleteNodeType
	nodeIDs    *common.Vector
	batch      []common.NodeID
}

func (b *nodeDeleteBatch) reset() {
	b.batch = b.batch[:0]
}

func (b *nodeDeleteBatch) flush(ctx *ExecutionContext, items []WorkItem) error {
	if len(b.batch) == 0 {
		return nil
	}
	if err := ctx.scheduler().Run(ctx.Txn, items, b.batch); err != nil {
		return err
	}
	ctx.Metrics.addDetachDelete(len(items), len(b.batch))
	b.batch = b.batch[:0]
	return nil
}

// deleteOne removes id from info.Table. Plain deletes verify first that the
// node has no rels left.
func (b *nodeDeleteBatch) deleteOne(ctx *ExecutionContext, info *NodeTableDeleteInfo, id common.NodeID) error {
	if b.deleteType == DeleteNode {
		if err := info.checkNoRels(ctx, []common.NodeID{id}); err != nil {
			return err
		}
	}

	ok, err := info.Table.Delete(ctx.Txn, id.Offset)
	if err != nil || !ok {
		return err
	}
	if b.deleteType == DetachDeleteNode {
		b.batch = append(b.batch, id)
	}
	return nil
}

type SingleLabelNodeDeleteExecutor struct {
	nodeDeleteBatch
	info  NodeTableDeleteInfo
	items []WorkItem
}

var _ DeleteExecutor = &SingleLabelNodeDeleteExecutor{}

func NewSingleLabelNodeDeleteExecutor(
	deleteType DeleteNodeType,
	nodeIDs *common.Vector,
	info NodeTableDeleteInfo,
) *SingleLabelNodeDeleteExecutor {
	return &SingleLabelNodeDeleteExecutor{
		nodeDeleteBatch: nodeDeleteBatch{deleteType: deleteType, nodeIDs: nodeIDs},
		info:            info,
	}
}

func (e *SingleLabelNodeDeleteExecutor) Init(*ExecutionContext) error {
	e.reset()
	e.items = BuildWorkItems(e.info.FwdRelTables, e.info.BwdRelTables)
	return nil
}

func (e *SingleLabelNodeDeleteExecutor) Delete(ctx *ExecutionContext) error {
	for i := range e.nodeIDs.Len() {
		if e.nodeIDs.IsNull(i) {
			continue
		}
		id := e.nodeIDs.NodeID(i)
		if id.TableID != e.info.Table.ID() {
			return fmt.Errorf("%w: node %s in delete from %s", ErrUnknownTable, id, e.info.Table.Name())
		}
		if err := e.deleteOne(ctx, &e.info, id); err != nil {
			return err
		}
		if len(e.batch) >= DetachDeleteBatchSize {
			if err := e.flush(ctx, e.items); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *SingleLabelNodeDeleteExecutor) Finalize(ctx *ExecutionContext) error {
	return e.flush(ctx, e.items)
}

type MultiLabelNodeDeleteExecutor struct {
	nodeDeleteBatch
	infos map[common.TableID]*NodeTableDeleteInfo
	items []WorkItem
}

var _ DeleteExecutor = &MultiLabelNodeDeleteExecutor{}

func NewMultiLabelNodeDeleteExecutor(
	deleteType DeleteNodeType,
	nodeIDs *common.Vector,
	infos []NodeTableDeleteInfo,
) *MultiLabelNodeDeleteExecutor {
	byID := make(map[common.TableID]*NodeTableDeleteInfo, len(infos))
	for i := range infos {
		byID[infos[i].Table.ID()] = &infos[i]
	}
	return &MultiLabelNodeDeleteExecutor{
		nodeDeleteBatch: nodeDeleteBatch{deleteType: deleteType, nodeIDs: nodeIDs},
		infos:           byID,
	}
}

func (e *MultiLabelNodeDeleteExecutor) Init(*ExecutionContext) error {
	e.reset()

	ids := make([]common.TableID, 0, len(e.infos))
	for id := range e.infos {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	s := newWorkItemSet(len(ids))
	for _, id := range ids {
		s.addInfo(e.infos[id].FwdRelTables, e.infos[id].BwdRelTables)
	}
	e.items = s.items
	return nil
}

func (e *MultiLabelNodeDeleteExecutor) Delete(ctx *ExecutionContext) error {
	for i := range e.nodeIDs.Len() {
		if e.nodeIDs.IsNull(i) {
			continue
		}
		id := e.nodeIDs.NodeID(i)
		info, ok := e.infos[id.TableID]
		if !ok {
			return fmt.Errorf("%w: node %s", ErrUnknownTable, id)
		}
		if err := e.deleteOne(ctx, info, id); err != nil {
			return err
		}
		if len(e.batch) >= DetachDeleteBatchSize {
			if err := e.flush(ctx, e.items); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *MultiLabelNodeDeleteExecutor) Finalize(ctx *ExecutionContext) error {
	return e.flush(ctx, e.items)
}

// RelDeleteInfo points at the vectors holding the rels to delete.
type RelDeleteInfo struct {
	SrcNodeIDs *common.Vector
	DstNodeIDs *common.Vector
	RelIDs     *common.Vector
}

func (info RelDeleteInfo) deleteRow(ctx *ExecutionContext, tbl storage.RelTable, i int) error {
	src, dst, rel := info.SrcNodeIDs.NodeID(i), info.DstNodeIDs.NodeID(i), info.RelIDs.NodeID(i)
	if _, err := tbl.Delete(ctx.Txn, src.Offset, dst.Offset, rel.Offset); err != nil {
		return fmt.Errorf("failed to delete rel %s from %s: %w", rel, tbl.Name(), err)
	}
	return nil
}

type SingleLabelRelDeleteExecutor struct {
	info  RelDeleteInfo
	table storage.RelTable
}

var _ DeleteExecutor = &SingleLabelRelDeleteExecutor{}

func NewSingleLabelRelDeleteExecutor(info RelDeleteInfo, table storage.RelTable) *SingleLabelRelDeleteExecutor {
	return &SingleLabelRelDeleteExecutor{info: info, table: table}
}

func (e *SingleLabelRelDeleteExecutor) Init(*ExecutionContext) error {
	return nil
}

func (e *SingleLabelRelDeleteExecutor) Delete(ctx *ExecutionContext) error {
	for i := range e.info.RelIDs.Len() {
		if e.info.RelIDs.IsNull(i) {
			continue
		}
		if err := e.info.deleteRow(ctx, e.table, i); err != nil {
			return err
		}
	}
	return nil
}

func (e *SingleLabelRelDeleteExecutor) Finalize(*ExecutionContext) error {
	return nil
}

type MultiLabelRelDeleteExecutor struct {
	info   RelDeleteInfo
	tables map[common.TableID]storage.RelTable
}

var _ DeleteExecutor = &MultiLabelRelDeleteExecutor{}

func NewMultiLabelRelDeleteExecutor(info RelDeleteInfo, tables []storage.RelTable) *MultiLabelRelDeleteExecutor {
	byID := make(map[common.TableID]storage.RelTable, len(tables))
	for _, tbl := range tables {
		byID[tbl.ID()] = tbl
	}
	return &MultiLabelRelDeleteExecutor{info: info, tables: byID}
}

func (e *MultiLabelRelDeleteExecutor) Init(*ExecutionContext) error {
	return nil
}

func (e *MultiLabelRelDeleteExecutor) Delete(ctx *ExecutionContext) error {
	for i := range e.info.RelIDs.Len() {
		if e.info.RelIDs.IsNull(i) {
			continue
		}
		rel := e.info.RelIDs.NodeID(i)
		tbl, ok := e.tables[rel.TableID]
		if !ok {
			return fmt.Errorf("%w: rel %s", ErrUnknownTable, rel)
		}
		if err := e.info.deleteRow(ctx, tbl, i); err != nil {
			return err
		}
	}
	return nil
}

func (e *MultiLabelRelDeleteExecutor) Finalize(*ExecutionContext) error {
	return nil
}

// Delete runs its executors over every batch of child and passes the batch
// through.
type Delete struct {
	child     Operator
	executors []DeleteExecutor
	finalized bool
}

var _ Operator = &Delete{}

func NewDelete(child Operator, executors ...DeleteExecutor) *Delete {
	return &Delete{child: child, executors: executors}
}

func (op *Delete) Init(ctx *ExecutionContext) error {
	op.finalized = false
	if err := op.child.Init(ctx); err != nil {
		return err
	}
	for _, e := range op.executors {
		if err := e.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (op *Delete) Next(ctx *ExecutionContext) (bool, error) {
	if op.finalized {
		return false, nil
	}

	more, err := op.child.Next(ctx)
	if err != nil {
		return false, err
	}
	if !more {
		op.finalized = true
		for _, e := range op.executors {
			if err := e.Finalize(ctx); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	for _, e := range op.executors {
		if err := e.Delete(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}
