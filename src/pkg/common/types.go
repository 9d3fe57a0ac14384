package common

import (
	"fmt"
	"strings"
)

// LogicalType names a column type. Two columns are type compatible iff their
// type strings are equal.
type LogicalType string

const (
	TypeAny        LogicalType = "ANY"
	TypeBool       LogicalType = "BOOL"
	TypeInt32      LogicalType = "INT32"
	TypeInt64      LogicalType = "INT64"
	TypeDouble     LogicalType = "DOUBLE"
	TypeString     LogicalType = "STRING"
	TypeInternalID LogicalType = "INTERNAL_ID"
)

func ParseLogicalType(s string) (LogicalType, error) {
	switch t := LogicalType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeBool, TypeInt32, TypeInt64, TypeDouble, TypeString, TypeInternalID:
		return t, nil
	case "INT", "INTEGER", "SERIAL":
		return TypeInt64, nil
	case "FLOAT", "REAL":
		return TypeDouble, nil
	case "TEXT", "VARCHAR":
		return TypeString, nil
	case "BOOLEAN":
		return TypeBool, nil
	default:
		return "", fmt.Errorf("unknown logical type %q", s)
	}
}

// CheckValue reports whether v may be stored in a column of type t. nil is
// always accepted.
func (t LogicalType) CheckValue(v any) error {
	if v == nil || t == TypeAny {
		return nil
	}

	ok := false
	switch t {
	case TypeBool:
		_, ok = v.(bool)
	case TypeInt32:
		_, ok = v.(int32)
	case TypeInt64:
		_, ok = v.(int64)
	case TypeDouble:
		_, ok = v.(float64)
	case TypeString:
		_, ok = v.(string)
	case TypeInternalID:
		_, ok = v.(InternalID)
	}
	if !ok {
		return fmt.Errorf("value %v (%T) does not match type %s", v, v, t)
	}
	return nil
}

// NormalizeValue converts the Go integer and float kinds callers commonly pass
// into the canonical representation of t.
func (t LogicalType) NormalizeValue(v any) (any, error) {
	switch t {
	case TypeInt64:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		}
	case TypeInt32:
		switch x := v.(type) {
		case int:
			return int32(x), nil
		case int64:
			return int32(x), nil
		}
	case TypeDouble:
		switch x := v.(type) {
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	}
	return v, t.CheckValue(v)
}
