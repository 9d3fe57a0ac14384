package dbheader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
	"github.com/Blackdeer1524/graphcore/src/storage/disk"
)

const (
	Magic          = "GDBH"
	StorageVersion = uint64(3)

	// FormatWithDataFileNumPages marks headers that carry the trailing data
	// file page count.
	FormatWithDataFileNumPages = uint8(2)
	currentFormat              = FormatWithDataFileNumPages
)

var (
	ErrCorrupted       = errors.New("database header is corrupted")
	ErrInvalidMagic    = fmt.Errorf("%w: invalid magic bytes", ErrCorrupted)
	ErrVersionMismatch = fmt.Errorf("%w: storage version mismatch", ErrCorrupted)
)

type DatabaseHeader struct {
	CatalogPageRange  common.PageRange
	MetadataPageRange common.PageRange
	DatabaseID        uuid.UUID
	DataFileNumPages  common.PageIdx
}

func New() DatabaseHeader {
	return DatabaseHeader{
		CatalogPageRange:  common.PageRange{StartPageIdx: common.InvalidPageIdx},
		MetadataPageRange: common.PageRange{StartPageIdx: common.InvalidPageIdx},
		DatabaseID:        uuid.New(),
		DataFileNumPages:  1,
	}
}

func writePageRange(s *serde.Serializer, r common.PageRange) {
	s.WriteUint32(uint32(r.StartPageIdx))
	s.WriteUint32(uint32(r.NumPages))
}

func readPageRange(d *serde.Deserializer) common.PageRange {
	start := d.ReadUint32()
	n := d.ReadUint32()
	return common.PageRange{StartPageIdx: common.PageIdx(start), NumPages: common.PageIdx(n)}
}

func (h *DatabaseHeader) Serialize(s *serde.Serializer) {
	s.WriteString(Magic)
	s.WriteUint64(StorageVersion)
	writePageRange(s, h.CatalogPageRange)
	writePageRange(s, h.MetadataPageRange)
	s.WriteUUID(h.DatabaseID)
	s.WriteUint8(currentFormat)
	s.WriteUint32(uint32(h.DataFileNumPages))
}

// serializeWithoutPageCount writes the layout used before the header format
// byte existed.
func (h *DatabaseHeader) serializeWithoutPageCount(s *serde.Serializer) {
	s.WriteString(Magic)
	s.WriteUint64(StorageVersion)
	writePageRange(s, h.CatalogPageRange)
	writePageRange(s, h.MetadataPageRange)
	s.WriteUUID(h.DatabaseID)
}

func (h *DatabaseHeader) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	s := serde.NewSerializer(&buf)
	h.Serialize(s)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Deserialize(d *serde.Deserializer) (DatabaseHeader, error) {
	magic := d.ReadBytes()
	if err := d.Err(); err != nil {
		return DatabaseHeader{}, fmt.Errorf("%w: %w", ErrInvalidMagic, err)
	}
	if string(magic) != Magic {
		return DatabaseHeader{}, ErrInvalidMagic
	}

	version := d.ReadUint64()
	if err := d.Err(); err != nil {
		return DatabaseHeader{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	if version != StorageVersion {
		return DatabaseHeader{}, fmt.Errorf(
			"%w: file has version %d, expected version %d",
			ErrVersionMismatch,
			version,
			StorageVersion,
		)
	}

	h := DatabaseHeader{}
	h.CatalogPageRange = readPageRange(d)
	h.MetadataPageRange = readPageRange(d)
	h.DatabaseID = d.ReadUUID()
	if err := d.Err(); err != nil {
		return DatabaseHeader{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	format, ok := d.ReadOptionalUint8()
	if ok && format == FormatWithDataFileNumPages {
		h.DataFileNumPages = common.PageIdx(d.ReadUint32())
	}
	if err := d.Err(); err != nil {
		return DatabaseHeader{}, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return h, nil
}

func (h *DatabaseHeader) UnmarshalBinary(data []byte) error {
	r, err := Deserialize(serde.NewDeserializer(bytes.NewReader(data)))
	if err != nil {
		return err
	}
	*h = r
	return nil
}

// Read returns the header stored in the first page of the data file. A missing
// file or one shorter than a page has no header yet.
func Read(fs afero.Fs, path string) (*DatabaseHeader, error) {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	page := make([]byte, disk.PageSize)
	n, err := io.ReadFull(f, page)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || n < disk.PageSize {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header page: %w", err)
	}

	h := &DatabaseHeader{}
	if err := h.UnmarshalBinary(page); err != nil {
		return nil, err
	}
	return h, nil
}

// Write stores the header in page 0 of the data file.
func Write(m *disk.Manager, h *DatabaseHeader) error {
	data, err := h.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize database header: %w", err)
	}
	if len(data) > disk.PageSize {
		return fmt.Errorf("database header does not fit into a page: %d bytes", len(data))
	}
	return m.WritePages(0, data)
}
