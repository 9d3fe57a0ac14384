package processor

import (
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
)

// CountRelTable counts the rels of the bound nodes produced by child across
// all rel tables and emits the total as a single INT64 row.
type CountRelTable struct {
	child        Operator
	boundNodeIDs *common.Vector
	relTables    []storage.RelTable
	direction    common.ExtendDirection
	count        *common.Vector

	states   []*storage.ScanState
	executed bool
}

var _ Operator = &CountRelTable{}

func NewCountRelTable(
	child Operator,
	boundNodeIDs *common.Vector,
	relTables []storage.RelTable,
	direction common.ExtendDirection,
) *CountRelTable {
	return &CountRelTable{
		child:        child,
		boundNodeIDs: boundNodeIDs,
		relTables:    relTables,
		direction:    direction,
		count:        common.NewVector(common.TypeInt64),
	}
}

// Count holds the result row once Next returned true.
func (op *CountRelTable) Count() *common.Vector {
	return op.count
}

func (op *CountRelTable) Init(ctx *ExecutionContext) error {
	if err := op.child.Init(ctx); err != nil {
		return err
	}

	dir := common.ResolveDirection(op.direction)
	op.states = make([]*storage.ScanState, len(op.relTables))
	for i, tbl := range op.relTables {
		op.states[i] = storage.NewScanState(op.boundNodeIDs, nil)
		op.states[i].SetToTable(tbl, nil, nil, dir)
	}
	op.count.Reset()
	op.executed = false
	return nil
}

func (op *CountRelTable) countBatch(ctx *ExecutionContext) (int64, error) {
	var total int64
	for i, tbl := range op.relTables {
		state := op.states[i]
		if err := storage.InitScanState(ctx.Txn, tbl, state, true); err != nil {
			return 0, err
		}
		for {
			more, err := storage.Scan(ctx.Txn, tbl, state)
			if err != nil {
				return 0, err
			}
			if !more {
				break
			}
			total += int64(state.OutputSize)
		}
	}
	return total, nil
}

func (op *CountRelTable) Next(ctx *ExecutionContext) (bool, error) {
	if op.executed {
		return false, nil
	}

	var total int64
	for {
		more, err := op.child.Next(ctx)
		if err != nil {
			return false, err
		}
		if !more {
			break
		}
		n, err := op.countBatch(ctx)
		if err != nil {
			return false, err
		}
		total += n
	}

	op.executed = true
	op.count.Reset()
	op.count.Append(total)
	ctx.Metrics.addOutput(opCountRelTable, 1)
	return true, nil
}
