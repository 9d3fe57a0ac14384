// Package arrowconv maps between Arrow arrays and the values held in
// common.Vector.
package arrowconv

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

var ErrUnsupportedType = errors.New("unsupported arrow type")

func LogicalTypeOf(dt arrow.DataType) (common.LogicalType, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return common.TypeBool, nil
	case arrow.INT32:
		return common.TypeInt32, nil
	case arrow.INT64:
		return common.TypeInt64, nil
	case arrow.FLOAT64:
		return common.TypeDouble, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return common.TypeString, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, dt)
	}
}

func ArrowTypeOf(t common.LogicalType) (arrow.DataType, error) {
	switch t {
	case common.TypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case common.TypeInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case common.TypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case common.TypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case common.TypeString:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("%w: no arrow type for %s", ErrUnsupportedType, t)
	}
}

// Value returns element i of arr as a Go value, nil for NULL.
func Value(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int32:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	default:
		return a.ValueStr(i)
	}
}

func AppendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	ok := false
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		var x bool
		if x, ok = v.(bool); ok {
			bb.Append(x)
		}
	case *array.Int32Builder:
		var x int32
		if x, ok = v.(int32); ok {
			bb.Append(x)
		}
	case *array.Int64Builder:
		var x int64
		if x, ok = v.(int64); ok {
			bb.Append(x)
		}
	case *array.Float64Builder:
		var x float64
		if x, ok = v.(float64); ok {
			bb.Append(x)
		}
	case *array.StringBuilder:
		var x string
		if x, ok = v.(string); ok {
			bb.Append(x)
		}
	default:
		return fmt.Errorf("%w: builder %T", ErrUnsupportedType, b)
	}
	if !ok {
		return fmt.Errorf("cannot append %v (%T) to %T", v, v, b)
	}
	return nil
}

// BuildRecord materializes row-major values into one record.
func BuildRecord(mem memory.Allocator, schema *arrow.Schema, rows [][]any) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for r, row := range rows {
		if len(row) != schema.NumFields() {
			return nil, fmt.Errorf("row %d has %d values, schema has %d fields", r, len(row), schema.NumFields())
		}
		for c, v := range row {
			if err := AppendValue(b.Field(c), v); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, schema.Field(c).Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

// Schema builds a nullable arrow schema from names and logical types.
func Schema(names []string, types []common.LogicalType) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		dt, err := ArrowTypeOf(types[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}
