package common

import "github.com/Blackdeer1524/graphcore/src/pkg/assert"

// Vector is a typed column of values. NULL is represented by nil.
type Vector struct {
	Type   LogicalType
	values []any
}

func NewVector(t LogicalType) *Vector {
	return &Vector{
		Type:   t,
		values: make([]any, 0, DefaultVectorCapacity),
	}
}

func NewVectorFrom(t LogicalType, values ...any) *Vector {
	v := &Vector{Type: t, values: make([]any, 0, len(values))}
	for _, val := range values {
		v.Append(val)
	}
	return v
}

func NewNodeIDVector(ids ...InternalID) *Vector {
	v := NewVector(TypeInternalID)
	for _, id := range ids {
		v.Append(id)
	}
	return v
}

func (v *Vector) Len() int {
	return len(v.values)
}

func (v *Vector) Reset() {
	clear(v.values)
	v.values = v.values[:0]
}

func (v *Vector) Append(val any) {
	v.values = append(v.values, val)
}

func (v *Vector) Set(i int, val any) {
	v.values[i] = val
}

func (v *Vector) Value(i int) any {
	return v.values[i]
}

func (v *Vector) IsNull(i int) bool {
	return v.values[i] == nil
}

func (v *Vector) NodeID(i int) InternalID {
	return assert.Cast[InternalID](v.values[i])
}

// Values returns a copy of the vector contents.
func (v *Vector) Values() []any {
	out := make([]any, len(v.values))
	copy(out, v.values)
	return out
}

func (v *Vector) NodeIDs() []InternalID {
	out := make([]InternalID, 0, len(v.values))
	for _, val := range v.values {
		if val == nil {
			continue
		}
		out = append(out, assert.Cast[InternalID](val))
	}
	return out
}
