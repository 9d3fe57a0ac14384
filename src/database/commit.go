package database

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

// CommitTransaction logs the records of txn and applies its data changes to
// the committed table storage. Catalog changes were applied when they were
// made and only need to become durable here.
func (d *Database) CommitTransaction(txn *txns.Transaction) error {
	if d.closed.Load() {
		return ErrClosed
	}

	records := txn.Records()
	if len(records) == 0 {
		return nil
	}

	if d.wal != nil {
		before := d.wal.Size()
		if err := d.wal.LogCommittedTransaction(records); err != nil {
			return err
		}
		d.walBytes.Add(float64(d.wal.Size() - before))
	}

	for _, rec := range records {
		id, ok := dmlTableID(rec)
		if !ok {
			continue
		}
		err := d.applyDML(id, rec)
		if errors.Is(err, errTableNotOpen) {
			// dropped later in the same transaction
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", rec, err)
		}
	}

	if d.wal != nil && d.wal.Size() > d.opts.CheckpointThreshold {
		d.log.Infow("WAL exceeds the checkpoint threshold",
			"size", d.wal.Size(),
			"threshold", d.opts.CheckpointThreshold,
		)
		// the transaction is durable already, a failed checkpoint is retried
		// by the next one
		if err := d.checkpointAssumeLocked(); err != nil {
			d.log.Errorw("automatic checkpoint failed", "txn", txn.ID(), "error", err)
		}
	}
	return nil
}

func dmlTableID(rec wal.Record) (common.TableID, bool) {
	switch r := rec.(type) {
	case *wal.TableInsertionRecord:
		return r.TableID, true
	case *wal.NodeDeletionRecord:
		return r.TableID, true
	case *wal.NodeUpdateRecord:
		return r.TableID, true
	case *wal.RelDeletionRecord:
		return r.TableID, true
	case *wal.RelDetachDeleteRecord:
		return r.TableID, true
	case *wal.RelUpdateRecord:
		return r.TableID, true
	default:
		return 0, false
	}
}

func (d *Database) applyDML(id common.TableID, rec wal.Record) error {
	t, err := d.tableByID(id)
	if err != nil {
		return err
	}
	a, ok := t.(table.Applier)
	if !ok {
		return fmt.Errorf("%w: %s table %s is read-only", storage.ErrUnsupportedOperation, t.Backend(), t.Name())
	}
	return a.Apply(rec)
}
