package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirection(t *testing.T) {
	assert.Equal(t, FWD, ResolveDirection(ExtendFWD))
	assert.Equal(t, BWD, ResolveDirection(ExtendBWD))
	assert.Equal(t, FWD, ResolveDirection(ExtendBoth))
	assert.Equal(t, BWD, FWD.Reverse())
}

func TestPageRangeOverlaps(t *testing.T) {
	a := PageRange{StartPageIdx: 1, NumPages: 3}
	assert.True(t, a.Overlaps(PageRange{StartPageIdx: 3, NumPages: 1}))
	assert.False(t, a.Overlaps(PageRange{StartPageIdx: 4, NumPages: 2}))
	assert.False(t, a.Overlaps(PageRange{StartPageIdx: 2, NumPages: 0}))
}

func TestParseLogicalType(t *testing.T) {
	cases := map[string]LogicalType{
		"int64":   TypeInt64,
		"SERIAL":  TypeInt64,
		"text":    TypeString,
		"Double":  TypeDouble,
		"boolean": TypeBool,
	}
	for in, want := range cases {
		got, err := ParseLogicalType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogicalType("blob")
	require.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	v, err := TypeInt64.NormalizeValue(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = TypeInt64.NormalizeValue("7")
	require.Error(t, err)

	v, err = TypeString.NormalizeValue(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestVector(t *testing.T) {
	v := NewNodeIDVector(InternalID{Offset: 1, TableID: 2}, InternalID{Offset: 3, TableID: 2})
	v.Append(nil)
	require.Equal(t, 3, v.Len())
	assert.True(t, v.IsNull(2))
	assert.Equal(t, InternalID{Offset: 3, TableID: 2}, v.NodeID(1))
	assert.Len(t, v.NodeIDs(), 2)

	v.Reset()
	assert.Zero(t, v.Len())
}
