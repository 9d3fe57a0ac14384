package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
)

var (
	ErrCorrupted        = errors.New("WAL file is corrupted")
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	ErrTornFrame        = fmt.Errorf("%w: frame extends past end of file", ErrCorrupted)
)

// FrameHeaderSize is the length of the u32 payload size, its bitwise
// complement and the u32 CRC-32C that prefix every checksummed object. The
// complement lets a damaged size be told apart from a frame cut short by a
// crash.
const FrameHeaderSize = 12

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func frameChecksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, castagnoli, header[:8])
	return crc32.Update(crc, castagnoli, payload)
}

func appendFrame(dst []byte, payload []byte) []byte {
	var header [FrameHeaderSize]byte
	//nolint:gosec
	size := uint32(len(payload))
	binary.LittleEndian.PutUint32(header[:4], size)
	binary.LittleEndian.PutUint32(header[4:8], ^size)
	binary.LittleEndian.PutUint32(header[8:], frameChecksum(header[:], payload))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// countingReader tracks the absolute file offset of a buffered stream.
type countingReader struct {
	br     *bufio.Reader
	offset int64
	size   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.offset += int64(n)
	return n, err
}

func (c *countingReader) remaining() int64 {
	return c.size - c.offset
}

// objectReader yields deserializers positioned at consecutive serialized
// objects and io.EOF at the end of the stream.
type objectReader interface {
	next() (*serde.Deserializer, int64, error)
}

type checksumReader struct {
	r *countingReader
}

func (c *checksumReader) next() (*serde.Deserializer, int64, error) {
	start := c.r.offset
	rem := c.r.remaining()
	if rem <= 0 {
		return nil, start, io.EOF
	}
	if rem < FrameHeaderSize {
		return nil, start, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTornFrame, rem, start)
	}

	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return nil, start, fmt.Errorf("failed to read frame header at offset %d: %w", start, err)
	}

	rawSize := binary.LittleEndian.Uint32(header[:4])
	if ^rawSize != binary.LittleEndian.Uint32(header[4:8]) {
		return nil, start, fmt.Errorf("%w: damaged size of frame at offset %d", ErrChecksumMismatch, start)
	}
	size := int64(rawSize)
	if size > c.r.remaining() {
		return nil, start, fmt.Errorf(
			"%w: frame at offset %d declares %d bytes, %d remain",
			ErrTornFrame,
			start,
			size,
			c.r.remaining(),
		)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, start, fmt.Errorf("failed to read frame at offset %d: %w", start, err)
	}

	if frameChecksum(header[:], payload) != binary.LittleEndian.Uint32(header[8:]) {
		return nil, start, fmt.Errorf("%w: frame at offset %d", ErrChecksumMismatch, start)
	}
	return serde.NewDeserializer(bytes.NewReader(payload)), start, nil
}

type plainReader struct {
	r *countingReader
	d *serde.Deserializer
}

func newPlainReader(r *countingReader) *plainReader {
	return &plainReader{r: r, d: serde.NewDeserializer(r)}
}

func (p *plainReader) next() (*serde.Deserializer, int64, error) {
	if _, err := p.r.br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, p.r.offset, io.EOF
		}
		return nil, p.r.offset, err
	}
	return p.d, p.r.offset, nil
}
