package txns

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
)

// Committer makes the changes of a write transaction durable and visible.
type Committer interface {
	CommitTransaction(txn *Transaction) error
}

// Manager admits any number of readers and at most one writer. Readers see
// committed state only.
type Manager struct {
	nextID atomic.Uint64

	// held from BeginWrite until Commit/Rollback, and by checkpoints
	writerMu sync.Mutex

	activeMu sync.Mutex
	active   map[common.TxnID]*Transaction

	committer Committer
	readOnly  bool
	log       src.Logger
}

func NewManager(committer Committer, readOnly bool, log src.Logger) *Manager {
	return &Manager{
		active:    make(map[common.TxnID]*Transaction),
		committer: committer,
		readOnly:  readOnly,
		log:       log,
	}
}

func (m *Manager) Begin(typ Type) (*Transaction, error) {
	assert.Assert(typ != Recovery, "recovery transactions are not managed")

	if typ == Write {
		if m.readOnly {
			return nil, ErrReadOnlyDatabase
		}
		if !m.writerMu.TryLock() {
			return nil, ErrWriteTransactionInProgress
		}
	}

	txn := New(common.TxnID(m.nextID.Add(1)), typ)

	m.activeMu.Lock()
	m.active[txn.ID()] = txn
	m.activeMu.Unlock()

	m.log.Debugw("transaction started", "txn", txn.ID(), "type", typ)
	return txn, nil
}

func (m *Manager) end(txn *Transaction) {
	m.activeMu.Lock()
	delete(m.active, txn.ID())
	m.activeMu.Unlock()

	txn.finish()
	if txn.IsWrite() {
		m.writerMu.Unlock()
	}
}

func (m *Manager) Commit(txn *Transaction) error {
	if txn.finished.Load() {
		return ErrTransactionFinished
	}
	defer m.end(txn)

	if !txn.IsWrite() {
		return nil
	}

	if err := m.committer.CommitTransaction(txn); err != nil {
		txn.runRollbackHooks()
		return fmt.Errorf("failed to commit transaction %d: %w", txn.ID(), err)
	}
	txn.runCommitHooks()

	m.log.Debugw("transaction committed", "txn", txn.ID())
	return nil
}

func (m *Manager) Rollback(txn *Transaction) error {
	if txn.finished.Load() {
		return ErrTransactionFinished
	}
	defer m.end(txn)

	txn.runRollbackHooks()
	m.log.Debugw("transaction rolled back", "txn", txn.ID())
	return nil
}

// Checkpoint runs fn while no write transaction is active.
func (m *Manager) Checkpoint(fn func() error) error {
	if !m.writerMu.TryLock() {
		return ErrWriteTransactionInProgress
	}
	defer m.writerMu.Unlock()

	return fn()
}

func (m *Manager) NumActive() int {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	return len(m.active)
}
