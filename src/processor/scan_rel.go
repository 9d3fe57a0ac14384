package processor

import (
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

type ScanRelTableInfo struct {
	Table      storage.RelTable
	ColumnIDs  []storage.ColumnID
	Predicates []storage.ColumnPredicate
	// BOTH is scanned as FWD.
	Direction common.ExtendDirection
}

// ScanRelTable extends bound nodes over one rel table. The bound nodes come
// from a child operator or, in source mode, from enumerating every offset of
// the source node tables.
type ScanRelTable struct {
	info ScanRelTableInfo

	child        Operator
	sourceTables []storage.NodeTable

	boundNodeIDs *common.Vector
	outputs      []*common.Vector
	boundOutput  *common.Vector

	state *storage.ScanState

	sourceIdx        int
	nextSourceOffset uint64
	sourceNumRows    uint64
}

var _ Operator = &ScanRelTable{}

// NewScanRelTable scans the rels of the nodes child writes to boundNodeIDs.
func NewScanRelTable(
	info ScanRelTableInfo,
	child Operator,
	boundNodeIDs *common.Vector,
	outputs []*common.Vector,
) *ScanRelTable {
	return &ScanRelTable{
		info:         info,
		child:        child,
		boundNodeIDs: boundNodeIDs,
		outputs:      outputs,
	}
}

// NewSourceScanRelTable scans the rels of every node of sources.
func NewSourceScanRelTable(
	info ScanRelTableInfo,
	sources []storage.NodeTable,
	outputs []*common.Vector,
) *ScanRelTable {
	return &ScanRelTable{
		info:         info,
		sourceTables: sources,
		boundNodeIDs: common.NewVector(common.TypeInternalID),
		outputs:      outputs,
	}
}

// WithBoundNodeOutput makes every output row carry its bound node in v.
func (op *ScanRelTable) WithBoundNodeOutput(v *common.Vector) *ScanRelTable {
	op.boundOutput = v
	return op
}

func (op *ScanRelTable) sourceMode() bool {
	return op.child == nil
}

func (op *ScanRelTable) BoundNodeIDs() *common.Vector {
	return op.boundNodeIDs
}

func (op *ScanRelTable) Outputs() []*common.Vector {
	return op.outputs
}

func (op *ScanRelTable) Init(ctx *ExecutionContext) error {
	if op.child != nil {
		if err := op.child.Init(ctx); err != nil {
			return err
		}
	}

	op.state = storage.NewScanState(op.boundNodeIDs, op.outputs)
	op.state.BoundNodeOutput = op.boundOutput
	op.state.SetToTable(
		op.info.Table,
		op.info.ColumnIDs,
		op.info.Predicates,
		common.ResolveDirection(op.info.Direction),
	)

	op.sourceIdx = 0
	op.nextSourceOffset = 0
	op.sourceNumRows = 0
	return nil
}

// fetchNextBoundNodeBatch fills the bound node vector with the next
// DefaultVectorCapacity offsets of the source tables.
func (op *ScanRelTable) fetchNextBoundNodeBatch(txn *txns.Transaction) (bool, error) {
	for op.sourceIdx < len(op.sourceTables) {
		nodeTable := op.sourceTables[op.sourceIdx]
		if op.sourceNumRows == 0 {
			op.sourceNumRows = nodeTable.NumTotalRows(txn)
		}
		if op.nextSourceOffset >= op.sourceNumRows {
			op.sourceIdx++
			op.nextSourceOffset = 0
			op.sourceNumRows = 0
			continue
		}

		n := min(uint64(common.DefaultVectorCapacity), op.sourceNumRows-op.nextSourceOffset)
		op.boundNodeIDs.Reset()
		for i := range n {
			op.boundNodeIDs.Append(common.NodeID{
				Offset:  common.Offset(op.nextSourceOffset + i),
				TableID: nodeTable.ID(),
			})
		}
		op.nextSourceOffset += n

		return true, storage.InitScanState(txn, op.info.Table, op.state, true)
	}
	return false, nil
}

func (op *ScanRelTable) nextBoundNodes(ctx *ExecutionContext) (bool, error) {
	if op.sourceMode() {
		return op.fetchNextBoundNodeBatch(ctx.Txn)
	}

	more, err := op.child.Next(ctx)
	if err != nil || !more {
		return false, err
	}
	return true, storage.InitScanState(ctx.Txn, op.info.Table, op.state, true)
}

func (op *ScanRelTable) Next(ctx *ExecutionContext) (bool, error) {
	for {
		for {
			more, err := storage.Scan(ctx.Txn, op.info.Table, op.state)
			if err != nil {
				return false, err
			}
			if !more {
				break
			}
			if op.state.OutputSize > 0 {
				ctx.Metrics.addOutput(opScanRelTable, op.state.OutputSize)
				return true, nil
			}
		}

		more, err := op.nextBoundNodes(ctx)
		if err != nil || !more {
			return false, err
		}
	}
}
