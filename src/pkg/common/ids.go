package common

import "fmt"

type TableID uint64

type Offset uint64

const InvalidOffset = ^Offset(0)

type TxnID uint64

const NilTxnID = TxnID(0)

type PageIdx uint32

const InvalidPageIdx = ^PageIdx(0)

// PageRange is a contiguous run of pages in the data file.
type PageRange struct {
	StartPageIdx PageIdx
	NumPages     PageIdx
}

func (r PageRange) End() PageIdx {
	return r.StartPageIdx + r.NumPages
}

func (r PageRange) Overlaps(o PageRange) bool {
	if r.NumPages == 0 || o.NumPages == 0 {
		return false
	}
	return r.StartPageIdx < o.End() && o.StartPageIdx < r.End()
}

// InternalID addresses a row of a node or rel table.
type InternalID struct {
	Offset  Offset
	TableID TableID
}

type (
	NodeID = InternalID
	RelID  = InternalID
)

func (id InternalID) String() string {
	return fmt.Sprintf("%d:%d", id.TableID, id.Offset)
}

const (
	DefaultVectorCapacity = 2048
	NodeGroupSize         = 2 * DefaultVectorCapacity
)
