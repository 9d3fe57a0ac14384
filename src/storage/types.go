package storage

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

var (
	ErrReferentialConstraint = errors.New("referential constraint violation")
	ErrSchemaMismatch        = errors.New("schema mismatch")
	ErrUnsupportedOperation  = errors.New("operation is not supported by the table backend")
	ErrDuplicatePrimaryKey   = errors.New("duplicate primary key")
	ErrNodeNotFound          = errors.New("node not found")
	ErrNoSuchColumn          = errors.New("no such column")
)

type ReferentialConstraintError struct {
	Table     string
	Offset    common.Offset
	Direction common.RelDataDirection
}

func (e *ReferentialConstraintError) Error() string {
	return fmt.Sprintf(
		"Node(nodeOffset: %d) has connected edges in table %s in the %s direction, "+
			"which cannot be deleted. Please delete the edges first or try DETACH DELETE.",
		e.Offset,
		e.Table,
		e.Direction,
	)
}

func (e *ReferentialConstraintError) Unwrap() error {
	return ErrReferentialConstraint
}

type SchemaMismatchError struct {
	Table  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %s: %s", e.Table, e.Reason)
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

// BackendKind is the closed set of storage backends. It is fixed when a table
// is opened.
type BackendKind uint8

const (
	BackendNative BackendKind = iota
	BackendParquet
	BackendForeign
	BackendArrow
)

func (b BackendKind) String() string {
	switch b {
	case BackendNative:
		return "NATIVE"
	case BackendParquet:
		return "PARQUET"
	case BackendForeign:
		return "FOREIGN"
	case BackendArrow:
		return "ARROW"
	default:
		return fmt.Sprintf("BackendKind(%d)", uint8(b))
	}
}

// DirectionAware reports whether rel tables may be stored in the backend.
func (b BackendKind) DirectionAware() bool {
	switch b {
	case BackendNative, BackendParquet, BackendArrow:
		return true
	default:
		return false
	}
}

type Table interface {
	ID() common.TableID
	Name() string
	Kind() common.TableKind
	Backend() BackendKind

	// NumTotalRows counts committed and transaction-local rows, including
	// deleted ones, so that offsets below it are addressable.
	NumTotalRows(txn *txns.Transaction) uint64

	NewScanPayload() ScanPayload
	// InitScanState positions state. Use the package level InitScanState,
	// which also resets the completion flag.
	InitScanState(txn *txns.Transaction, state *ScanState, resetBoundNodes bool) error
	// ScanBatch fills the output vectors with at most one backend batch and
	// returns false once the position is exhausted.
	ScanBatch(txn *txns.Transaction, state *ScanState) (bool, error)

	// Close releases backend resources. It is called once the table is
	// dropped or the database is closed.
	Close() error
}

type NodeTable interface {
	Table

	Columns() []Column
	PKColumn() Column
	NumNodeGroups(txn *txns.Transaction) uint64
	LookupPK(txn *txns.Transaction, key any) (common.Offset, bool)
	Value(txn *txns.Transaction, offset common.Offset, columnID ColumnID) (any, error)

	Insert(txn *txns.Transaction, values []any) (common.Offset, error)
	Update(txn *txns.Transaction, offset common.Offset, columnID ColumnID, value any) error
	// Delete returns false if the node does not exist or is already deleted.
	Delete(txn *txns.Transaction, offset common.Offset) (bool, error)
}

// DetachDeleteOutput receives the neighbours and rel ids removed by one
// DetachDeleteBatch call.
type DetachDeleteOutput struct {
	Dst    *common.Vector
	RelIDs *common.Vector
}

func NewDetachDeleteOutput() *DetachDeleteOutput {
	return &DetachDeleteOutput{
		Dst:    common.NewVector(common.TypeInternalID),
		RelIDs: common.NewVector(common.TypeInternalID),
	}
}

func (o *DetachDeleteOutput) Reset() {
	o.Dst.Reset()
	o.RelIDs.Reset()
}

type RelTable interface {
	Table

	FromNodeTableID() common.TableID
	ToNodeTableID() common.TableID
	// BoundNodeTableID returns the table whose nodes anchor scans in dir.
	BoundNodeTableID(dir common.RelDataDirection) common.TableID
	// Columns lists the property columns.
	Columns() []Column

	Insert(txn *txns.Transaction, src, dst common.Offset, props []any) (common.Offset, error)
	Update(txn *txns.Transaction, src, dst, relID common.Offset, columnID ColumnID, value any) error
	Delete(txn *txns.Transaction, src, dst, relID common.Offset) (bool, error)

	// DetachDeleteBatch removes every rel of the bound nodes in direction dir.
	DetachDeleteBatch(
		txn *txns.Transaction,
		boundNodes []common.NodeID,
		dir common.RelDataDirection,
		out *DetachDeleteOutput,
	) error
	// CheckNoRels fails with *ReferentialConstraintError if any of the nodes
	// has a rel in direction dir.
	CheckNoRels(txn *txns.Transaction, dir common.RelDataDirection, nodes []common.NodeID) error
}
