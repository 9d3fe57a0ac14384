package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
)

// ErrNoPriorWAL is returned for missing WAL files and files too small to hold
// a header.
var ErrNoPriorWAL = errors.New("no prior WAL")

// headerPayloadSize is the database id, the checksum flag and the checkpoint
// sequence.
const headerPayloadSize = 16 + 1 + 8

// MinChecksummedSize is the smallest file that can contain a framed header.
// The header is framed even when record checksums are disabled.
const MinChecksummedSize = FrameHeaderSize + headerPayloadSize

type Header struct {
	DatabaseID      uuid.UUID
	EnableChecksums bool
	// Checkpoint is the sequence number of the checkpoint the log was started
	// after. Records of a log older than the data file's last checkpoint are
	// already part of it.
	Checkpoint uint64
}

func (h Header) serialize(s *serde.Serializer) {
	s.WriteUUID(h.DatabaseID)
	s.WriteBool(h.EnableChecksums)
	s.WriteUint64(h.Checkpoint)
}

func deserializeHeader(d *serde.Deserializer) (Header, error) {
	h := Header{
		DatabaseID:      d.ReadUUID(),
		EnableChecksums: d.ReadBool(),
		Checkpoint:      d.ReadUint64(),
	}
	return h, d.Err()
}

type Reader struct {
	file    afero.File
	header  Header
	size    int64
	objects objectReader
	offset  int64
}

func NewReader(fs afero.Fs, path string) (*Reader, error) {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoPriorWAL
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat WAL %s: %w", path, err)
	}
	if info.Size() < MinChecksummedSize {
		// a header torn while the log was being reset
		f.Close()
		return nil, ErrNoPriorWAL
	}

	cr := &countingReader{br: bufio.NewReader(f), size: info.Size()}
	headerObjects := &checksumReader{r: cr}

	d, _, err := headerObjects.next()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read WAL header: %w", err)
	}

	header, err := deserializeHeader(d)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to deserialize WAL header: %w", err)
	}

	r := &Reader{
		file:   f,
		header: header,
		size:   info.Size(),
	}
	if header.EnableChecksums {
		r.objects = &checksumReader{r: cr}
	} else {
		r.objects = newPlainReader(cr)
	}
	return r, nil
}

func (r *Reader) Header() Header {
	return r.header
}

func (r *Reader) Size() int64 {
	return r.size
}

// Offset returns the file offset of the record last returned by Next.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns io.EOF once the stream is fully consumed.
func (r *Reader) Next() (Record, error) {
	d, offset, err := r.objects.next()
	r.offset = offset
	if err != nil {
		return nil, err
	}

	rec, err := Deserialize(d)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL record at offset %d: %w", offset, err)
	}
	return rec, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll reads every record of the log at path.
func ReadAll(fs afero.Fs, path string) (Header, []Record, error) {
	r, err := NewReader(fs, path)
	if err != nil {
		return Header{}, nil, err
	}
	defer r.Close()

	var records []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Header(), records, nil
		}
		if err != nil {
			return r.Header(), records, err
		}
		records = append(records, rec)
	}
}
