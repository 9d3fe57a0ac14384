package storage

import (
	"fmt"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

type ScanSource uint8

const (
	ScanSourceNone ScanSource = iota
	ScanSourceUncommitted
	ScanSourceCommitted
	ScanSourceExternal
)

func (s ScanSource) String() string {
	switch s {
	case ScanSourceNone:
		return "NONE"
	case ScanSourceUncommitted:
		return "UNCOMMITTED_LOCAL"
	case ScanSourceCommitted:
		return "COMMITTED"
	case ScanSourceExternal:
		return "EXTERNAL"
	default:
		return fmt.Sprintf("ScanSource(%d)", uint8(s))
	}
}

const InvalidNodeGroupIdx = ^uint64(0)

// ScanPayload is the backend specific part of a ScanState.
type ScanPayload interface {
	Backend() BackendKind
}

// ScanState is the cursor of one scan pipeline. It is owned by the operator
// that created it and must not be shared between goroutines.
type ScanState struct {
	Source     ScanSource
	ColumnIDs  []ColumnID
	Predicates []ColumnPredicate
	Direction  common.RelDataDirection

	NodeGroupIdx uint64

	// NodeIDs is the output of node scans and the bound node input of rel
	// scans.
	NodeIDs *common.Vector
	// OutputVectors[i] receives column ColumnIDs[i].
	OutputVectors []*common.Vector
	// BoundNodeOutput, if set, receives the bound node of every rel scan
	// output row.
	BoundNodeOutput *common.Vector
	OutputSize      int

	Payload ScanPayload

	scanCompleted bool
}

func NewScanState(nodeIDs *common.Vector, outputs []*common.Vector) *ScanState {
	return &ScanState{
		NodeGroupIdx:  InvalidNodeGroupIdx,
		NodeIDs:       nodeIDs,
		OutputVectors: outputs,
		scanCompleted: true,
	}
}

// SetToTable binds the state to a table. The state stays unpositioned until
// InitScanState.
func (s *ScanState) SetToTable(
	table Table,
	columnIDs []ColumnID,
	predicates []ColumnPredicate,
	direction common.RelDataDirection,
) {
	s.ColumnIDs = columnIDs
	s.Predicates = predicates
	s.Direction = direction
	s.Source = ScanSourceNone
	s.NodeGroupIdx = InvalidNodeGroupIdx
	s.Payload = table.NewScanPayload()
	s.scanCompleted = true
}

func (s *ScanState) Completed() bool {
	return s.scanCompleted
}

// ResetOutputs clears all output vectors before a backend fills a batch.
func (s *ScanState) ResetOutputs() {
	s.OutputSize = 0
	for _, v := range s.OutputVectors {
		v.Reset()
	}
	if s.BoundNodeOutput != nil {
		s.BoundNodeOutput.Reset()
	}
}

func InitScanState(
	txn *txns.Transaction,
	table Table,
	state *ScanState,
	resetBoundNodes bool,
) error {
	state.scanCompleted = false
	if err := table.InitScanState(txn, state, resetBoundNodes); err != nil {
		state.scanCompleted = true
		return fmt.Errorf("failed to initialize scan of table %s: %w", table.Name(), err)
	}
	return nil
}

// Scan advances state by at most one backend batch. Once a position is
// exhausted Scan keeps returning false until InitScanState is called again.
func Scan(txn *txns.Transaction, table Table, state *ScanState) (bool, error) {
	if state.scanCompleted {
		state.ResetOutputs()
		return false, nil
	}

	more, err := table.ScanBatch(txn, state)
	if err != nil {
		state.scanCompleted = true
		return false, fmt.Errorf("failed to scan table %s: %w", table.Name(), err)
	}
	if !more {
		state.scanCompleted = true
	}
	return more, nil
}
