// Package table implements the storage backends behind storage.Table: native
// in-memory tables persisted by checkpoints, columnar tables over Arrow
// records (registered batches or Parquet files) and read-only foreign tables
// served by SQLite.
package table

import (
	"errors"
	"sync"

	"github.com/Blackdeer1524/graphcore/src/pkg/serde"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
)

var ErrUnexpectedRecord = errors.New("record cannot be applied to this table")

// Applier redoes committed WAL records against a table's committed storage.
type Applier interface {
	Apply(rec wal.Record) error
}

// Persistent tables are written to the data file by checkpoints.
type Persistent interface {
	Serialize(s *serde.Serializer)
	Deserialize(d *serde.Deserializer) error
}

// Renamer is implemented by every table; ALTER TABLE ... RENAME updates the
// open table in place.
type Renamer interface {
	Rename(name string)
}

type nameHolder struct {
	mu   sync.RWMutex
	name string
}

func (n *nameHolder) get() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.name
}

func (n *nameHolder) set(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.name = name
}
