package processor

import (
	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
)

type ScanNodeTableInfo struct {
	Table      storage.NodeTable
	ColumnIDs  []storage.ColumnID
	Predicates []storage.ColumnPredicate
}

// ScanNodeTable scans the node groups of its tables one after another. Every
// table must produce the same output column types.
type ScanNodeTable struct {
	infos   []ScanNodeTableInfo
	nodeIDs *common.Vector
	outputs []*common.Vector

	state     *storage.ScanState
	tableIdx  int
	nextGroup uint64
}

var _ Operator = &ScanNodeTable{}

func NewScanNodeTable(
	infos []ScanNodeTableInfo,
	nodeIDs *common.Vector,
	outputs []*common.Vector,
) *ScanNodeTable {
	for _, info := range infos {
		assert.Assert(len(info.ColumnIDs) == len(outputs),
			"table %s: %d columns for %d outputs", info.Table.Name(), len(info.ColumnIDs), len(outputs))
	}
	return &ScanNodeTable{
		infos:   infos,
		nodeIDs: nodeIDs,
		outputs: outputs,
	}
}

func (op *ScanNodeTable) NodeIDs() *common.Vector {
	return op.nodeIDs
}

func (op *ScanNodeTable) Outputs() []*common.Vector {
	return op.outputs
}

func (op *ScanNodeTable) setToTable(idx int) {
	op.tableIdx = idx
	op.nextGroup = 0
	if idx < len(op.infos) {
		info := op.infos[idx]
		op.state.SetToTable(info.Table, info.ColumnIDs, info.Predicates, common.FWD)
	}
}

func (op *ScanNodeTable) Init(*ExecutionContext) error {
	op.state = storage.NewScanState(op.nodeIDs, op.outputs)
	op.setToTable(0)
	return nil
}

func (op *ScanNodeTable) Next(ctx *ExecutionContext) (bool, error) {
	for op.tableIdx < len(op.infos) {
		tbl := op.infos[op.tableIdx].Table

		more, err := storage.Scan(ctx.Txn, tbl, op.state)
		if err != nil {
			return false, err
		}
		if more {
			if op.state.OutputSize > 0 {
				ctx.Metrics.addOutput(opScanNodeTable, op.state.OutputSize)
				return true, nil
			}
			continue
		}

		if op.nextGroup < tbl.NumNodeGroups(ctx.Txn) {
			op.state.NodeGroupIdx = op.nextGroup
			op.nextGroup++
			if err := storage.InitScanState(ctx.Txn, tbl, op.state, true); err != nil {
				return false, err
			}
			continue
		}
		op.setToTable(op.tableIdx + 1)
	}
	return false, nil
}
