package common

import "fmt"

// RelDataDirection selects which CSR of a rel table is read.
type RelDataDirection uint8

const (
	FWD RelDataDirection = iota
	BWD
)

func (d RelDataDirection) String() string {
	switch d {
	case FWD:
		return "FWD"
	case BWD:
		return "BWD"
	default:
		return fmt.Sprintf("RelDataDirection(%d)", uint8(d))
	}
}

func (d RelDataDirection) Reverse() RelDataDirection {
	if d == FWD {
		return BWD
	}
	return FWD
}

type ExtendDirection uint8

const (
	ExtendFWD ExtendDirection = iota
	ExtendBWD
	ExtendBoth
)

func (d ExtendDirection) String() string {
	switch d {
	case ExtendFWD:
		return "FWD"
	case ExtendBWD:
		return "BWD"
	case ExtendBoth:
		return "BOTH"
	default:
		return fmt.Sprintf("ExtendDirection(%d)", uint8(d))
	}
}

// ResolveDirection maps BOTH onto FWD. Operators that need both directions
// must plan two scans.
func ResolveDirection(d ExtendDirection) RelDataDirection {
	if d == ExtendBWD {
		return BWD
	}
	return FWD
}
