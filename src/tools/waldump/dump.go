// Package waldump renders the write-ahead log and database header of an
// on-disk database in a human readable form.
package waldump

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src/database"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage/dbheader"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
)

type Summary struct {
	Records    int
	LastOffset int64
	// TornAt is the offset of an incomplete trailing frame, -1 if the log
	// ends cleanly.
	TornAt int64
	Counts map[wal.RecordType]int
}

// Dump prints every record of the WAL belonging to the database at dbPath.
// A torn tail ends the dump without an error. Checksum mismatches do not.
func Dump(w io.Writer, fs afero.Fs, dbPath string) (Summary, error) {
	summary := Summary{TornAt: -1, Counts: make(map[wal.RecordType]int)}

	walPath := database.WALPath(dbPath)
	fmt.Fprintf(w, "WAL file: %s\n\n", walPath)

	r, err := wal.NewReader(fs, walPath)
	if errors.Is(err, wal.ErrNoPriorWAL) {
		fmt.Fprintln(w, "no WAL records: the database was shut down cleanly or never modified")
		return summary, nil
	}
	if err != nil {
		return summary, err
	}
	defer r.Close()

	h := r.Header()
	fmt.Fprintln(w, "header:")
	fmt.Fprintf(w, "  database id:  %s\n", h.DatabaseID)
	fmt.Fprintf(w, "  checksums:    %t\n", h.EnableChecksums)
	fmt.Fprintf(w, "  checkpoint:   %d\n", h.Checkpoint)
	fmt.Fprintf(w, "  file size:    %d bytes\n\n", r.Size())

	fmt.Fprintln(w, "records:")
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, wal.ErrTornFrame) {
			summary.TornAt = r.Offset()
			fmt.Fprintf(w, "  torn tail at offset %d\n", r.Offset())
			break
		}
		if err != nil {
			return summary, err
		}

		summary.Records++
		summary.LastOffset = r.Offset()
		summary.Counts[rec.Type()]++
		fmt.Fprintf(w, "  %8d  %s\n", r.Offset(), rec)
	}

	fmt.Fprintf(w, "\ntotal records: %d\n", summary.Records)
	fmt.Fprintf(w, "last offset:   %d\n", summary.LastOffset)
	return summary, nil
}

// DumpHeader prints the header page of the data file at dbPath.
func DumpHeader(w io.Writer, fs afero.Fs, dbPath string) (*dbheader.DatabaseHeader, error) {
	h, err := dbheader.Read(fs, dbPath)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrDatabaseNotFound, dbPath)
	}

	fmt.Fprintf(w, "data file:        %s\n", dbPath)
	fmt.Fprintf(w, "storage version:  %d\n", dbheader.StorageVersion)
	fmt.Fprintf(w, "database id:      %s\n", h.DatabaseID)
	fmt.Fprintf(w, "catalog pages:    %s\n", pageRange(h.CatalogPageRange))
	fmt.Fprintf(w, "metadata pages:   %s\n", pageRange(h.MetadataPageRange))
	fmt.Fprintf(w, "data file pages:  %d\n", h.DataFileNumPages)
	return h, nil
}

func pageRange(r common.PageRange) string {
	if r.StartPageIdx == common.InvalidPageIdx {
		return "none"
	}
	return fmt.Sprintf("[%d, %d)", r.StartPageIdx, r.End())
}
