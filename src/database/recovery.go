package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
)

// readCommittedTail returns the transactions committed after the last
// checkpoint record. A log started before the data file's last checkpoint
// is already covered by it and yields nothing. A torn tail ends the log;
// anything after the last COMMIT is discarded.
func (d *Database) readCommittedTail() ([][]wal.Record, error) {
	r, err := wal.NewReader(d.fs, WALPath(d.opts.Path))
	if errors.Is(err, wal.ErrNoPriorWAL) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if id := r.Header().DatabaseID; id != d.header.DatabaseID {
		return nil, fmt.Errorf("WAL belongs to database %s, expected %s", id, d.header.DatabaseID)
	}
	switch seq := r.Header().Checkpoint; {
	case seq < d.checkpointSeq:
		d.log.Infow("WAL predates the last checkpoint, skipping it",
			"wal_checkpoint", seq,
			"checkpoint", d.checkpointSeq,
			"size", r.Size(),
		)
		return nil, nil
	case seq > d.checkpointSeq:
		return nil, fmt.Errorf(
			"%w: WAL follows checkpoint %d, the data file only has %d",
			wal.ErrCorrupted,
			seq,
			d.checkpointSeq,
		)
	}

	var (
		committed [][]wal.Record
		current   []wal.Record
		inTxn     bool
	)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, wal.ErrTornFrame) {
			d.log.Warnw("WAL ends with a torn record, ignoring the tail",
				"offset", r.Offset(),
				"size", r.Size(),
			)
			break
		}
		if err != nil {
			return nil, err
		}

		switch rec.(type) {
		case *wal.CheckpointRecord:
			committed = committed[:0]
			current, inTxn = nil, false
		case *wal.BeginTransactionRecord:
			current, inTxn = nil, true
		case *wal.CommitRecord:
			if inTxn {
				committed = append(committed, current)
			}
			current, inTxn = nil, false
		default:
			if inTxn {
				current = append(current, rec)
			}
		}
	}
	if inTxn {
		d.log.Warnw("discarding uncommitted WAL tail", "records", len(current))
	}
	return committed, nil
}

// recover redoes committed transactions from the WAL.
func (d *Database) recover() error {
	txns, err := d.readCommittedTail()
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		return nil
	}

	skipped := make(map[common.TableID]struct{})
	numRecords := 0
	for _, records := range txns {
		for _, rec := range records {
			if err := d.replay(rec, skipped); err != nil {
				return fmt.Errorf("failed to replay %s: %w", rec, err)
			}
			numRecords++
		}
	}

	d.log.Infow("recovered committed transactions",
		"transactions", len(txns),
		"records", numRecords,
		"skipped_tables", len(skipped),
	)
	return nil
}

func (d *Database) replay(rec wal.Record, skipped map[common.TableID]struct{}) error {
	switch r := rec.(type) {
	case *wal.CreateCatalogEntryRecord:
		return d.replayCreate(r, skipped)
	case *wal.DropCatalogEntryRecord:
		switch r.EntryType {
		case common.SequenceEntry:
			_, err := d.catalog.DropSequence(r.EntryID)
			return err
		case common.GraphEntry:
			_, err := d.catalog.DropGraph(r.EntryID)
			return err
		}
		id := common.TableID(r.EntryID)
		if _, ok := skipped[id]; ok {
			return nil
		}
		if _, err := d.catalog.DropTable(id); err != nil {
			return err
		}
		if t := d.removeTable(id); t != nil {
			return t.Close()
		}
		return nil
	case *wal.AlterTableEntryRecord:
		if _, ok := skipped[r.TableID]; ok {
			return nil
		}
		if _, err := d.catalog.RenameTable(r.TableID, r.NewName); err != nil {
			return err
		}
		t, err := d.tableByID(r.TableID)
		if err != nil {
			return err
		}
		if rn, ok := t.(table.Renamer); ok {
			rn.Rename(r.NewName)
		}
		return nil
	case *wal.UpdateSequenceRecord:
		_, err := d.catalog.AdvanceSequence(r.SequenceID, r.KCount)
		return err
	case *wal.LoadExtensionRecord:
		d.extMu.Lock()
		d.extensions = append(d.extensions, r.Path)
		d.extMu.Unlock()
		return nil
	case *wal.CopyTableRecord:
		return nil
	}

	id, ok := dmlTableID(rec)
	if !ok {
		return fmt.Errorf("%w: %s", wal.ErrUnknownRecordType, rec.Type())
	}
	if _, skip := skipped[id]; skip {
		return nil
	}
	return d.applyDML(id, rec)
}

func (d *Database) replayCreate(r *wal.CreateCatalogEntryRecord, skipped map[common.TableID]struct{}) error {
	if r.EntryType == common.SequenceEntry {
		seq := &catalog.SequenceEntry{}
		if err := json.Unmarshal(r.Payload, seq); err != nil {
			return fmt.Errorf("failed to decode sequence %s: %w", r.Name, err)
		}
		d.catalog.RestoreSequence(seq)
		return nil
	}
	if r.EntryType == common.GraphEntry {
		g := &catalog.GraphEntry{}
		if err := g.UnmarshalBinary(r.Payload); err != nil {
			return fmt.Errorf("failed to decode graph %s: %w", r.Name, err)
		}
		d.catalog.RestoreGraph(g)
		return nil
	}

	entry := &catalog.TableEntry{}
	if err := entry.UnmarshalBinary(r.Payload); err != nil {
		return fmt.Errorf("failed to decode table %s: %w", r.Name, err)
	}
	_, fromSkipped := skipped[entry.FromTableID]
	_, toSkipped := skipped[entry.ToTableID]
	if isArrowEntry(entry) || (entry.Type == common.RelTableEntry && (fromSkipped || toSkipped)) {
		d.log.Warnw("table over external data does not survive a restart",
			"table", entry.Name,
			"storage", entry.Storage,
		)
		skipped[entry.ID] = struct{}{}
		return nil
	}

	if err := d.catalog.RestoreTable(entry); err != nil {
		return err
	}
	_, err := d.openTable(entry)
	return err
}
