// Package database ties the storage layer together: it opens the data file
// and the WAL, recovers committed transactions, applies commits to the
// tables and checkpoints them back into the data file.
package database

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/processor"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/storage/catalog"
	"github.com/Blackdeer1524/graphcore/src/storage/dbheader"
	"github.com/Blackdeer1524/graphcore/src/storage/disk"
	"github.com/Blackdeer1524/graphcore/src/storage/registry"
	"github.com/Blackdeer1524/graphcore/src/storage/table"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

var (
	ErrDatabaseNotFound = errors.New("database does not exist")
	ErrClosed           = errors.New("database is closed")
	ErrNotANodeTable    = errors.New("not a node table")
	ErrNotARelTable     = errors.New("not a rel table")
	ErrExtensionLoaded  = errors.New("extension is already loaded")

	errTableNotOpen = errors.New("table is not open")
)

type Database struct {
	opts Options
	fs   afero.Fs
	log  src.Logger

	// nil for in-memory databases
	disk *disk.Manager
	wal  *wal.WAL

	header dbheader.DatabaseHeader
	// checkpointSeq numbers the checkpoint the header points at. The WAL
	// header carries the sequence it was started after.
	checkpointSeq uint64

	catalog  *catalog.Catalog
	registry *registry.Registry

	tablesMu sync.RWMutex
	tables   map[common.TableID]storage.Table

	extMu      sync.Mutex
	extensions []string

	txnMgr    *txns.Manager
	scheduler *processor.DetachDeleteScheduler
	metrics   *processor.Metrics

	walBytes    prometheus.Counter
	checkpoints prometheus.Counter

	closed atomic.Bool
}

var _ txns.Committer = &Database{}

// Open opens the database at opts.Path, creating it unless the database is
// read-only. Committed transactions found in the WAL are recovered and, for
// writable databases, checkpointed before Open returns.
func Open(opts Options) (*Database, error) {
	opts = opts.withDefaults()

	d := &Database{
		opts:     opts,
		fs:       opts.FS,
		log:      opts.Log,
		header:   dbheader.New(),
		catalog:  catalog.New(),
		registry: registry.New(opts.Log),
		tables:   make(map[common.TableID]storage.Table),
		metrics:  processor.NewMetrics(opts.Registerer),
		walBytes: promauto.With(opts.Registerer).NewCounter(prometheus.CounterOpts{
			Name: "graphcore_wal_bytes_written_total",
			Help: "Bytes appended to the write-ahead log",
		}),
		checkpoints: promauto.With(opts.Registerer).NewCounter(prometheus.CounterOpts{
			Name: "graphcore_checkpoints_total",
			Help: "Completed checkpoints",
		}),
	}

	scheduler, err := processor.NewDetachDeleteScheduler(opts.MaxThreads, opts.Log)
	if err != nil {
		return nil, err
	}
	d.scheduler = scheduler
	d.txnMgr = txns.NewManager(d, opts.ReadOnly, opts.Log)

	if opts.InMemory {
		d.log.Infow("opened in-memory database", "max_threads", opts.MaxThreads)
		return d, nil
	}

	if err := d.openFiles(); err != nil {
		if releaseErr := d.release(); releaseErr != nil {
			d.log.Warnw("failed to release database resources", "error", releaseErr)
		}
		return nil, err
	}

	d.log.Infow("opened database",
		"path", opts.Path,
		"id", d.header.DatabaseID,
		"read_only", opts.ReadOnly,
		"tables", len(d.tables),
	)
	return d, nil
}

func (d *Database) openFiles() error {
	header, err := dbheader.Read(d.fs, d.opts.Path)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", d.opts.Path, err)
	}
	fresh := header == nil
	if fresh && d.opts.ReadOnly {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, d.opts.Path)
	}
	if !fresh {
		d.header = *header
	}

	d.disk, err = disk.Open(d.fs, d.opts.Path, d.opts.ReadOnly)
	if err != nil {
		return err
	}

	if !fresh {
		if err := d.loadCheckpoint(); err != nil {
			return fmt.Errorf("failed to load database %s: %w", d.opts.Path, err)
		}
	}

	if err := d.recover(); err != nil {
		return fmt.Errorf("failed to recover database %s: %w", d.opts.Path, err)
	}

	if d.opts.ReadOnly {
		return nil
	}

	d.wal, err = wal.Open(
		d.fs,
		WALPath(d.opts.Path),
		d.header.DatabaseID,
		d.checkpointSeq,
		d.opts.EnableChecksums,
		d.log,
	)
	if err != nil {
		return err
	}
	return d.checkpointAssumeLocked()
}

// Close checkpoints a writable database and releases every table. An active
// write transaction prevents the final checkpoint; its changes are lost.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if d.wal != nil {
		if err := d.txnMgr.Checkpoint(d.checkpointAssumeLocked); err != nil {
			errs = append(errs, fmt.Errorf("final checkpoint failed: %w", err))
		}
	}
	if err := d.release(); err != nil {
		errs = append(errs, err)
	}

	d.log.Infow("closed database", "path", d.opts.Path)
	return errors.Join(errs...)
}

func (d *Database) release() error {
	var errs []error

	d.tablesMu.Lock()
	ids := make([]common.TableID, 0, len(d.tables))
	for id := range d.tables {
		ids = append(ids, id)
	}
	// rel tables may reference their endpoint tables
	slices.SortFunc(ids, func(a, b common.TableID) int {
		ka, kb := d.tables[a].Kind(), d.tables[b].Kind()
		if ka != kb {
			return cmp.Compare(kb, ka)
		}
		return cmp.Compare(a, b)
	})
	for _, id := range ids {
		if err := d.tables[id].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	clear(d.tables)
	d.tablesMu.Unlock()

	d.registry.Close()
	d.scheduler.Close()

	if d.wal != nil {
		if err := d.wal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.disk != nil {
		if err := d.disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Database) ID() string {
	return d.header.DatabaseID.String()
}

func (d *Database) Path() string {
	return d.opts.Path
}

func (d *Database) Catalog() *catalog.Catalog {
	return d.catalog
}

func (d *Database) Registry() *registry.Registry {
	return d.registry
}

func (d *Database) Metrics() *processor.Metrics {
	return d.metrics
}

// Extensions lists the loaded extension paths in load order.
func (d *Database) Extensions() []string {
	d.extMu.Lock()
	defer d.extMu.Unlock()

	return slices.Clone(d.extensions)
}

// Checkpoint persists the committed state into the data file and truncates
// the WAL. It fails while a write transaction is active.
func (d *Database) Checkpoint() error {
	if d.wal == nil {
		return nil
	}
	return d.txnMgr.Checkpoint(d.checkpointAssumeLocked)
}

func (d *Database) env() table.Env {
	return table.Env{
		FS:        d.fs,
		Registry:  d.registry,
		Allocator: d.opts.Allocator,
		Log:       d.log,
		NodeTable: d.nodeTableByID,
	}
}

func (d *Database) openTable(entry *catalog.TableEntry) (storage.Table, error) {
	t, err := table.Open(d.env(), entry)
	if err != nil {
		return nil, err
	}
	d.addTable(t)
	return t, nil
}

func (d *Database) addTable(t storage.Table) {
	d.tablesMu.Lock()
	defer d.tablesMu.Unlock()

	d.tables[t.ID()] = t
}

func (d *Database) removeTable(id common.TableID) storage.Table {
	d.tablesMu.Lock()
	defer d.tablesMu.Unlock()

	t := d.tables[id]
	delete(d.tables, id)
	return t
}

func (d *Database) tableByID(id common.TableID) (storage.Table, error) {
	d.tablesMu.RLock()
	defer d.tablesMu.RUnlock()

	t, ok := d.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", errTableNotOpen, id)
	}
	return t, nil
}

func (d *Database) nodeTableByID(id common.TableID) (storage.NodeTable, error) {
	t, err := d.tableByID(id)
	if err != nil {
		return nil, err
	}
	nt, ok := t.(storage.NodeTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotANodeTable, t.Name())
	}
	return nt, nil
}

func (d *Database) relTableByID(id common.TableID) (storage.RelTable, error) {
	t, err := d.tableByID(id)
	if err != nil {
		return nil, err
	}
	rt, ok := t.(storage.RelTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotARelTable, t.Name())
	}
	return rt, nil
}

// NodeTable resolves a node table by name.
func (d *Database) NodeTable(name string) (storage.NodeTable, error) {
	entry, err := d.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	return d.nodeTableByID(entry.ID)
}

// RelTable resolves a rel table by name.
func (d *Database) RelTable(name string) (storage.RelTable, error) {
	entry, err := d.catalog.GetTable(name)
	if err != nil {
		return nil, err
	}
	return d.relTableByID(entry.ID)
}

// DeleteInfo collects the rel tables that must be checked or detached when
// nodes of the named table are deleted.
func (d *Database) DeleteInfo(name string) (processor.NodeTableDeleteInfo, error) {
	nt, err := d.NodeTable(name)
	if err != nil {
		return processor.NodeTableDeleteInfo{}, err
	}

	info := processor.NodeTableDeleteInfo{Table: nt}
	fwd, bwd := d.catalog.RelTablesOf(nt.ID())
	for _, e := range fwd {
		rt, err := d.relTableByID(e.ID)
		if err != nil {
			return processor.NodeTableDeleteInfo{}, err
		}
		info.FwdRelTables = append(info.FwdRelTables, rt)
	}
	for _, e := range bwd {
		rt, err := d.relTableByID(e.ID)
		if err != nil {
			return processor.NodeTableDeleteInfo{}, err
		}
		info.BwdRelTables = append(info.BwdRelTables, rt)
	}
	return info, nil
}

func (d *Database) executionContext(txn *txns.Transaction) *processor.ExecutionContext {
	return &processor.ExecutionContext{
		Txn:       txn,
		Scheduler: d.scheduler,
		Metrics:   d.metrics,
		Log:       d.log,
	}
}

func isArrowEntry(e *catalog.TableEntry) bool {
	return strings.HasPrefix(e.Storage, registry.LocationScheme)
}

// sessionScoped returns the tables that only live as long as the process:
// tables over registered Arrow data and the rel tables touching them.
func sessionScoped(entries []*catalog.TableEntry) map[common.TableID]struct{} {
	out := make(map[common.TableID]struct{})
	for _, e := range entries {
		if isArrowEntry(e) {
			out[e.ID] = struct{}{}
		}
	}
	for _, e := range entries {
		if e.Type != common.RelTableEntry {
			continue
		}
		_, from := out[e.FromTableID]
		_, to := out[e.ToTableID]
		if from || to {
			out[e.ID] = struct{}{}
		}
	}
	return out
}
