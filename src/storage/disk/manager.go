package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

var (
	ErrNoSuchPage = errors.New("no such page")
	ErrReadOnly   = errors.New("data file is opened read-only")
)

const PageSize = 4096

// Manager performs page granular I/O on the database data file.
type Manager struct {
	mu       sync.RWMutex
	fs       afero.Fs
	path     string
	file     afero.File
	readOnly bool
}

func Open(fs afero.Fs, path string, readOnly bool) (*Manager, error) {
	var (
		file afero.File
		err  error
	)
	if readOnly {
		file, err = fs.Open(path)
	} else {
		file, err = fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", path, err)
	}

	return &Manager{
		fs:       fs,
		path:     path,
		file:     file,
		readOnly: readOnly,
	}, nil
}

func (m *Manager) Path() string {
	return m.path
}

func PagesFor(numBytes int) common.PageIdx {
	return common.PageIdx((numBytes + PageSize - 1) / PageSize)
}

func (m *Manager) NumPages() (common.PageIdx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, err := m.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat data file: %w", err)
	}
	return PagesFor(int(info.Size())), nil
}

func (m *Manager) ReadPages(r common.PageRange) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data := make([]byte, int(r.NumPages)*PageSize)
	//nolint:gosec
	offset := int64(r.StartPageIdx) * PageSize

	n, err := m.file.ReadAt(data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read pages [%d, %d): %w", r.StartPageIdx, r.End(), err)
	}
	if n < len(data) {
		return nil, errors.Join(
			fmt.Errorf("pages [%d, %d) are beyond the end of file", r.StartPageIdx, r.End()),
			ErrNoSuchPage,
		)
	}
	return data, nil
}

// WritePages writes data starting at page start, zero padding the last page.
func (m *Manager) WritePages(start common.PageIdx, data []byte) error {
	if m.readOnly {
		return ErrReadOnly
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	padded := data
	if rem := len(data) % PageSize; rem != 0 || len(data) == 0 {
		padded = make([]byte, int(PagesFor(len(data)))*PageSize)
		if len(data) == 0 {
			padded = make([]byte, PageSize)
		}
		copy(padded, data)
	}

	//nolint:gosec
	offset := int64(start) * PageSize
	if _, err := m.file.WriteAt(padded, offset); err != nil {
		return fmt.Errorf("failed to write at page %d of %s: %w", start, m.path, err)
	}
	return nil
}

func (m *Manager) Truncate(numPages common.PageIdx) error {
	if m.readOnly {
		return ErrReadOnly
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.file.Truncate(int64(numPages) * PageSize); err != nil {
		return fmt.Errorf("failed to truncate data file to %d pages: %w", numPages, err)
	}
	return nil
}

func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.file.Sync()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.file.Close()
}

// AllocateRange returns the first run of numPages pages after the header page
// that does not overlap any live range.
func AllocateRange(numPages common.PageIdx, live ...common.PageRange) common.PageRange {
	assert.Assert(numPages > 0, "cannot allocate an empty page range")

	sorted := make([]common.PageRange, 0, len(live))
	for _, r := range live {
		if r.NumPages > 0 && r.StartPageIdx != common.InvalidPageIdx {
			sorted = append(sorted, r)
		}
	}
	slices.SortFunc(sorted, func(a, b common.PageRange) int {
		return int(a.StartPageIdx) - int(b.StartPageIdx)
	})

	candidate := common.PageIdx(1)
	for _, r := range sorted {
		if candidate+numPages <= r.StartPageIdx {
			break
		}
		candidate = max(candidate, r.End())
	}
	return common.PageRange{StartPageIdx: candidate, NumPages: numPages}
}
