package database

import (
	"runtime"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src"
)

const DefaultCheckpointThreshold = 16 << 20

type Options struct {
	// Path is the data file. The WAL lives next to it, see WALPath.
	Path     string
	InMemory bool
	ReadOnly bool

	// MaxThreads sizes the detach-delete worker pool. Zero means one
	// worker per CPU.
	MaxThreads      int
	EnableChecksums bool
	// CheckpointThreshold is the WAL size in bytes past which a commit
	// checkpoints the database.
	CheckpointThreshold int64

	FS        afero.Fs
	Log       src.Logger
	Allocator memory.Allocator
	// Registerer receives the database metrics. Databases sharing a
	// registerer must not be open at the same time.
	Registerer prometheus.Registerer
}

func DefaultOptions(path string) Options {
	return Options{
		Path:                path,
		EnableChecksums:     true,
		CheckpointThreshold: DefaultCheckpointThreshold,
	}
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		if o.InMemory {
			o.FS = afero.NewMemMapFs()
		} else {
			o.FS = afero.NewOsFs()
		}
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Allocator == nil {
		o.Allocator = memory.DefaultAllocator
	}
	if o.MaxThreads <= 0 {
		o.MaxThreads = runtime.NumCPU()
	}
	if o.CheckpointThreshold <= 0 {
		o.CheckpointThreshold = DefaultCheckpointThreshold
	}
	return o
}

// WALPath returns the location of the write-ahead log of the database at
// dbPath.
func WALPath(dbPath string) string {
	return dbPath + ".wal"
}
