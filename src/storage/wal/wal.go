package wal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
)

// WAL appends committed transactions to the log file.
type WAL struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	file   afero.File
	header Header
	size   int64
	log    src.Logger

	databaseID      uuid.UUID
	enableChecksums bool
}

// Open opens the log for appending. checkpoint is the sequence number of the
// data file's last checkpoint. An empty or missing log, or one started
// before that checkpoint, gets a fresh header; a current one keeps its
// header and is appended to.
func Open(
	fs afero.Fs,
	path string,
	databaseID uuid.UUID,
	checkpoint uint64,
	enableChecksums bool,
	log src.Logger,
) (*WAL, error) {
	w := &WAL{
		fs:   fs,
		path: path,
		header: Header{
			DatabaseID:      databaseID,
			EnableChecksums: enableChecksums,
			Checkpoint:      checkpoint,
		},
		log: log,

		databaseID:      databaseID,
		enableChecksums: enableChecksums,
	}

	stale := false

	existing, err := NewReader(fs, path)
	switch {
	case errors.Is(err, ErrNoPriorWAL):
	case err != nil:
		return nil, err
	default:
		w.header = existing.Header()
		existing.Close()
		if w.header.DatabaseID != databaseID {
			return nil, fmt.Errorf(
				"WAL %s belongs to database %s, expected %s",
				path,
				w.header.DatabaseID,
				databaseID,
			)
		}
		if w.header.Checkpoint > checkpoint {
			return nil, fmt.Errorf(
				"%w: WAL %s follows checkpoint %d, the data file only has %d",
				ErrCorrupted,
				path,
				w.header.Checkpoint,
				checkpoint,
			)
		}
		stale = w.header.Checkpoint < checkpoint
	}

	w.file, err = fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL %s: %w", path, err)
	}

	info, err := w.file.Stat()
	if err != nil {
		w.file.Close()
		return nil, fmt.Errorf("failed to stat WAL %s: %w", path, err)
	}
	w.size = info.Size()

	if w.size < MinChecksummedSize || stale {
		if err := w.resetAssumeLocked(checkpoint); err != nil {
			w.file.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *WAL) Path() string {
	return w.path
}

func (w *WAL) Header() Header {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.header
}

func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.size
}

func (w *WAL) encodeHeader() ([]byte, error) {
	var buf bytes.Buffer
	s := serde.NewSerializer(&buf)
	w.header.serialize(s)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return appendFrame(nil, buf.Bytes()), nil
}

func (w *WAL) appendRecord(dst []byte, r Record) ([]byte, error) {
	data, err := Encode(r)
	if err != nil {
		return nil, err
	}
	if w.header.EnableChecksums {
		return appendFrame(dst, data), nil
	}
	return append(dst, data...), nil
}

func (w *WAL) writeAndSyncAssumeLocked(data []byte) error {
	if _, err := w.file.WriteAt(data, w.size); err != nil {
		return fmt.Errorf("failed to append to WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	w.size += int64(len(data))
	return nil
}

// LogCommittedTransaction durably appends records enclosed in
// BEGIN_TRANSACTION and COMMIT.
func (w *WAL) LogCommittedTransaction(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, err := w.appendRecord(nil, &BeginTransactionRecord{})
	if err != nil {
		return err
	}
	for _, r := range records {
		if buf, err = w.appendRecord(buf, r); err != nil {
			return err
		}
	}
	if buf, err = w.appendRecord(buf, &CommitRecord{}); err != nil {
		return err
	}

	return w.writeAndSyncAssumeLocked(buf)
}

// LogCheckpoint marks every preceding record as persisted in the data file.
func (w *WAL) LogCheckpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, err := w.appendRecord(nil, &CheckpointRecord{})
	if err != nil {
		return err
	}
	return w.writeAndSyncAssumeLocked(buf)
}

// Reset truncates the log down to a fresh header written with the configured
// checksum setting. checkpoint is the sequence number of the checkpoint that
// now covers every record of the log.
func (w *WAL) Reset(checkpoint uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.resetAssumeLocked(checkpoint)
}

func (w *WAL) resetAssumeLocked(checkpoint uint64) error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	w.size = 0
	w.header = Header{
		DatabaseID:      w.databaseID,
		EnableChecksums: w.enableChecksums,
		Checkpoint:      checkpoint,
	}

	header, err := w.encodeHeader()
	if err != nil {
		return fmt.Errorf("failed to serialize WAL header: %w", err)
	}
	if err := w.writeAndSyncAssumeLocked(header); err != nil {
		return err
	}

	w.log.Debugw("WAL reset",
		"path", w.path,
		"checksums", w.header.EnableChecksums,
		"checkpoint", checkpoint,
	)
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}
