package txns

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Blackdeer1524/graphcore/src/pkg/assert"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage/wal"
)

type Transaction struct {
	id  common.TxnID
	typ Type

	recordsMu sync.Mutex
	records   []wal.Record

	localMu sync.Mutex
	local   map[common.TableID]any

	hooksMu    sync.Mutex
	onCommit   []func()
	onRollback []func()

	finished atomic.Bool
}

func New(id common.TxnID, typ Type) *Transaction {
	return &Transaction{
		id:    id,
		typ:   typ,
		local: make(map[common.TableID]any),
	}
}

// DummyRead is a read transaction for callers that only touch committed state.
func DummyRead() *Transaction {
	return New(common.NilTxnID, ReadOnly)
}

func (t *Transaction) ID() common.TxnID {
	return t.id
}

func (t *Transaction) Type() Type {
	return t.typ
}

func (t *Transaction) IsReadOnly() bool {
	return t.typ == ReadOnly
}

func (t *Transaction) IsWrite() bool {
	return t.typ == Write
}

func (t *Transaction) IsRecovery() bool {
	return t.typ == Recovery
}

// CheckWritable is called by every mutating table operation.
func (t *Transaction) CheckWritable() error {
	if t.finished.Load() {
		return ErrTransactionFinished
	}
	if t.typ == ReadOnly {
		return ErrReadOnlyTransaction
	}
	return nil
}

// LogRecord appends r to the records written to the WAL on commit. Safe for
// concurrent use.
func (t *Transaction) LogRecord(r wal.Record) {
	if t.typ == Recovery {
		return
	}

	t.recordsMu.Lock()
	defer t.recordsMu.Unlock()

	t.records = append(t.records, r)
}

func (t *Transaction) Records() []wal.Record {
	t.recordsMu.Lock()
	defer t.recordsMu.Unlock()

	return slices.Clone(t.records)
}

func (t *Transaction) OnCommit(f func()) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()

	t.onCommit = append(t.onCommit, f)
}

func (t *Transaction) OnRollback(f func()) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()

	t.onRollback = append(t.onRollback, f)
}

func (t *Transaction) runCommitHooks() {
	t.hooksMu.Lock()
	hooks := t.onCommit
	t.onCommit, t.onRollback = nil, nil
	t.hooksMu.Unlock()

	for _, h := range hooks {
		h()
	}
}

// undo hooks run in reverse registration order
func (t *Transaction) runRollbackHooks() {
	t.hooksMu.Lock()
	hooks := t.onRollback
	t.onCommit, t.onRollback = nil, nil
	t.hooksMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

func (t *Transaction) finish() {
	t.finished.Store(true)

	t.localMu.Lock()
	defer t.localMu.Unlock()
	clear(t.local)
}

// LocalStorage returns the transaction-private state a table keeps for
// uncommitted changes, creating it on first use.
func LocalStorage[T any](t *Transaction, tableID common.TableID, create func() T) T {
	t.localMu.Lock()
	defer t.localMu.Unlock()

	if v, ok := t.local[tableID]; ok {
		return assert.Cast[T](v)
	}
	v := create()
	t.local[tableID] = v
	return v
}

// LookupLocalStorage does not create missing state.
func LookupLocalStorage[T any](t *Transaction, tableID common.TableID) (T, bool) {
	t.localMu.Lock()
	defer t.localMu.Unlock()

	v, ok := t.local[tableID]
	if !ok {
		var zero T
		return zero, false
	}
	return assert.Cast[T](v), true
}
