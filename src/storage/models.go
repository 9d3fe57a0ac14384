package storage

import (
	"cmp"
	"fmt"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

type ColumnID uint32

// Rel table scans address the neighbour and the rel id with reserved column
// ids; property i of a rel table is RelPropertyColumnID(i).
const (
	NbrIDColumnID ColumnID = 0
	RelIDColumnID ColumnID = 1

	InvalidColumnID = ^ColumnID(0)
)

func RelPropertyColumnID(propertyIdx int) ColumnID {
	return ColumnID(propertyIdx + 2)
}

func RelPropertyIdx(id ColumnID) int {
	return int(id) - 2
}

type Column struct {
	ID   ColumnID
	Name string
	Type common.LogicalType
}

func FindColumn(columns []Column, name string) (Column, bool) {
	for _, c := range columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

type CompareOp uint8

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIsNull
	OpIsNotNull
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return fmt.Sprintf("CompareOp(%d)", uint8(op))
	}
}

// ColumnPredicate filters scanned rows on a single column.
type ColumnPredicate struct {
	ColumnID ColumnID
	Op       CompareOp
	Value    any
}

func (p ColumnPredicate) String() string {
	return fmt.Sprintf("col%d %s %v", p.ColumnID, p.Op, p.Value)
}

func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		return cmp.Compare(x, y), ok
	case int32:
		y, ok := b.(int32)
		return cmp.Compare(x, y), ok
	case float64:
		y, ok := b.(float64)
		return cmp.Compare(x, y), ok
	case string:
		y, ok := b.(string)
		return cmp.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// Evaluate follows SQL semantics: comparisons involving NULL are false.
func (p ColumnPredicate) Evaluate(v any) bool {
	switch p.Op {
	case OpIsNull:
		return v == nil
	case OpIsNotNull:
		return v != nil
	}
	if v == nil || p.Value == nil {
		return false
	}

	c, ok := compareValues(v, p.Value)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// EvaluatePredicates reports whether a row satisfies every predicate.
func EvaluatePredicates(preds []ColumnPredicate, value func(ColumnID) any) bool {
	for _, p := range preds {
		if !p.Evaluate(value(p.ColumnID)) {
			return false
		}
	}
	return true
}
