package serde

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

func TestSerializerDeserializer(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerializer(&buf)

	id := uuid.New()
	vec := common.NewVectorFrom(common.TypeInt64, int64(1), nil, int64(-3))

	s.WriteUint8(7)
	s.WriteUint32(1 << 20)
	s.WriteUint64(1 << 40)
	s.WriteString("person")
	s.WriteUUID(id)
	s.WriteValue(common.InternalID{Offset: 4, TableID: 1})
	s.WriteValue(3.5)
	s.WriteValue(true)
	s.WriteValue(int32(-2))
	s.WriteVector(vec)
	require.NoError(t, s.Err())

	d := NewDeserializer(&buf)
	assert.Equal(t, uint8(7), d.ReadUint8())
	assert.Equal(t, uint32(1<<20), d.ReadUint32())
	assert.Equal(t, uint64(1<<40), d.ReadUint64())
	assert.Equal(t, "person", d.ReadString())
	assert.Equal(t, id, d.ReadUUID())
	assert.Equal(t, common.InternalID{Offset: 4, TableID: 1}, d.ReadValue())
	assert.Equal(t, 3.5, d.ReadValue())
	assert.Equal(t, true, d.ReadValue())
	assert.Equal(t, int32(-2), d.ReadValue())

	got := d.ReadVector()
	require.NoError(t, d.Err())
	assert.Equal(t, common.TypeInt64, got.Type)
	assert.Equal(t, vec.Values(), got.Values())

	_, ok := d.ReadOptionalUint8()
	assert.False(t, ok)
	require.NoError(t, d.Err())
}

func TestDeserializerTruncated(t *testing.T) {
	d := NewDeserializer(bytes.NewReader([]byte{1, 2}))
	d.ReadUint64()
	require.ErrorIs(t, d.Err(), io.ErrUnexpectedEOF)
	assert.Zero(t, d.ReadUint8())
}

func TestUnsupportedValue(t *testing.T) {
	s := NewSerializer(io.Discard)
	s.WriteValue(struct{}{})
	require.Error(t, s.Err())

	d := NewDeserializer(bytes.NewReader([]byte{0xff}))
	d.ReadValue()
	require.ErrorIs(t, d.Err(), ErrUnknownValueTag)
}
