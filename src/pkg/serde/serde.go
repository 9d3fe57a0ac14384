// Package serde implements the little-endian binary encoding shared by the
// database header, the WAL and checkpointed table data.
package serde

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

var ErrUnknownValueTag = errors.New("unknown value tag")

const maxStringLen = 1 << 30

const (
	tagNull uint8 = iota
	tagBool
	tagInt32
	tagInt64
	tagDouble
	tagString
	tagInternalID
)

// Serializer keeps the first write error; later writes are no-ops.
type Serializer struct {
	w   io.Writer
	err error
	buf [8]byte
}

func NewSerializer(w io.Writer) *Serializer {
	return &Serializer{w: w}
}

func (s *Serializer) Err() error {
	return s.err
}

func (s *Serializer) write(p []byte) {
	if s.err != nil {
		return
	}
	_, s.err = s.w.Write(p)
}

func (s *Serializer) WriteUint8(v uint8) {
	s.buf[0] = v
	s.write(s.buf[:1])
}

func (s *Serializer) WriteBool(v bool) {
	if v {
		s.WriteUint8(1)
		return
	}
	s.WriteUint8(0)
}

func (s *Serializer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(s.buf[:4], v)
	s.write(s.buf[:4])
}

func (s *Serializer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(s.buf[:8], v)
	s.write(s.buf[:8])
}

func (s *Serializer) WriteInt64(v int64) {
	s.WriteUint64(uint64(v))
}

func (s *Serializer) WriteFloat64(v float64) {
	s.WriteUint64(math.Float64bits(v))
}

func (s *Serializer) WriteBytes(b []byte) {
	s.WriteUint64(uint64(len(b)))
	s.write(b)
}

func (s *Serializer) WriteString(v string) {
	s.WriteBytes([]byte(v))
}

func (s *Serializer) WriteUUID(id uuid.UUID) {
	s.write(id[:])
}

func (s *Serializer) WriteInternalID(id common.InternalID) {
	s.WriteUint64(uint64(id.Offset))
	s.WriteUint64(uint64(id.TableID))
}

func (s *Serializer) WriteValue(v any) {
	switch x := v.(type) {
	case nil:
		s.WriteUint8(tagNull)
	case bool:
		s.WriteUint8(tagBool)
		s.WriteBool(x)
	case int32:
		s.WriteUint8(tagInt32)
		s.WriteUint32(uint32(x))
	case int64:
		s.WriteUint8(tagInt64)
		s.WriteInt64(x)
	case float64:
		s.WriteUint8(tagDouble)
		s.WriteFloat64(x)
	case string:
		s.WriteUint8(tagString)
		s.WriteString(x)
	case common.InternalID:
		s.WriteUint8(tagInternalID)
		s.WriteInternalID(x)
	default:
		if s.err == nil {
			s.err = fmt.Errorf("cannot serialize value of type %T", v)
		}
	}
}

func (s *Serializer) WriteVector(v *common.Vector) {
	s.WriteString(string(v.Type))
	s.WriteUint64(uint64(v.Len()))
	for i := range v.Len() {
		s.WriteValue(v.Value(i))
	}
}

// Deserializer keeps the first read error; later reads return zero values.
type Deserializer struct {
	r   io.Reader
	err error
	buf [8]byte
}

func NewDeserializer(r io.Reader) *Deserializer {
	return &Deserializer{r: r}
}

func (d *Deserializer) Err() error {
	return d.err
}

func (d *Deserializer) read(p []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return false
	}
	return true
}

func (d *Deserializer) ReadUint8() uint8 {
	if !d.read(d.buf[:1]) {
		return 0
	}
	return d.buf[0]
}

// ReadOptionalUint8 reports false without recording an error when the stream
// ends exactly before the byte.
func (d *Deserializer) ReadOptionalUint8() (uint8, bool) {
	if d.err != nil {
		return 0, false
	}
	n, err := io.ReadFull(d.r, d.buf[:1])
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, false
	}
	if err != nil {
		d.err = err
		return 0, false
	}
	return d.buf[0], true
}

func (d *Deserializer) ReadBool() bool {
	return d.ReadUint8() != 0
}

func (d *Deserializer) ReadUint32() uint32 {
	if !d.read(d.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(d.buf[:4])
}

func (d *Deserializer) ReadUint64() uint64 {
	if !d.read(d.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

func (d *Deserializer) ReadInt64() int64 {
	return int64(d.ReadUint64())
}

func (d *Deserializer) ReadFloat64() float64 {
	return math.Float64frombits(d.ReadUint64())
}

func (d *Deserializer) ReadBytes() []byte {
	n := d.ReadUint64()
	if d.err != nil {
		return nil
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("byte string length %d exceeds limit", n)
		return nil
	}
	b := make([]byte, n)
	if !d.read(b) {
		return nil
	}
	return b
}

func (d *Deserializer) ReadString() string {
	return string(d.ReadBytes())
}

func (d *Deserializer) ReadUUID() uuid.UUID {
	var id uuid.UUID
	d.read(id[:])
	return id
}

func (d *Deserializer) ReadInternalID() common.InternalID {
	offset := d.ReadUint64()
	tableID := d.ReadUint64()
	return common.InternalID{
		Offset:  common.Offset(offset),
		TableID: common.TableID(tableID),
	}
}

func (d *Deserializer) ReadValue() any {
	tag := d.ReadUint8()
	if d.err != nil {
		return nil
	}

	switch tag {
	case tagNull:
		return nil
	case tagBool:
		return d.ReadBool()
	case tagInt32:
		return int32(d.ReadUint32())
	case tagInt64:
		return d.ReadInt64()
	case tagDouble:
		return d.ReadFloat64()
	case tagString:
		return d.ReadString()
	case tagInternalID:
		return d.ReadInternalID()
	default:
		d.err = fmt.Errorf("%w: %d", ErrUnknownValueTag, tag)
		return nil
	}
}

func (d *Deserializer) ReadVector() *common.Vector {
	t := common.LogicalType(d.ReadString())
	n := d.ReadUint64()
	if d.err != nil {
		return nil
	}
	if n > maxStringLen {
		d.err = fmt.Errorf("vector length %d exceeds limit", n)
		return nil
	}

	v := common.NewVector(t)
	for range n {
		val := d.ReadValue()
		if d.err != nil {
			return nil
		}
		v.Append(val)
	}
	return v
}
