package processor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/pkg/common"
	"github.com/Blackdeer1524/graphcore/src/storage"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

var ErrWorkerPanic = errors.New("detach-delete worker panicked")

// WorkItem detaches the rels of one rel table in the flagged directions. Both
// directions of an item run on the same worker, FWD first.
type WorkItem struct {
	Table  storage.RelTable
	RunFwd bool
	RunBwd bool
}

type workItemSet struct {
	idx   map[common.TableID]int
	items []WorkItem
}

func newWorkItemSet(capacity int) *workItemSet {
	return &workItemSet{
		idx:   make(map[common.TableID]int, capacity),
		items: make([]WorkItem, 0, capacity),
	}
}

func (s *workItemSet) add(tbl storage.RelTable, dir common.RelDataDirection) {
	i, ok := s.idx[tbl.ID()]
	if !ok {
		i = len(s.items)
		s.idx[tbl.ID()] = i
		s.items = append(s.items, WorkItem{Table: tbl})
	}
	if dir == common.FWD {
		s.items[i].RunFwd = true
	} else {
		s.items[i].RunBwd = true
	}
}

func (s *workItemSet) addInfo(fwd, bwd []storage.RelTable) {
	for _, tbl := range fwd {
		s.add(tbl, common.FWD)
	}
	for _, tbl := range bwd {
		s.add(tbl, common.BWD)
	}
}

// BuildWorkItems merges the rel tables of a node table into one item per rel
// table. A self-referencing rel table appears once with both flags set.
func BuildWorkItems(fwd, bwd []storage.RelTable) []WorkItem {
	s := newWorkItemSet(len(fwd) + len(bwd))
	s.addInfo(fwd, bwd)
	return s.items
}

// executeWorkItem gives every DetachDeleteBatch call its own output pair.
func executeWorkItem(txn *txns.Transaction, item WorkItem, srcNodes []common.NodeID) error {
	if item.RunFwd {
		if err := detachDirection(txn, item.Table, srcNodes, common.FWD); err != nil {
			return err
		}
	}
	if item.RunBwd {
		if err := detachDirection(txn, item.Table, srcNodes, common.BWD); err != nil {
			return err
		}
	}
	return nil
}

func detachDirection(
	txn *txns.Transaction,
	tbl storage.RelTable,
	srcNodes []common.NodeID,
	dir common.RelDataDirection,
) error {
	if err := tbl.DetachDeleteBatch(txn, srcNodes, dir, storage.NewDetachDeleteOutput()); err != nil {
		return fmt.Errorf("failed to detach %s rels of %s: %w", dir, tbl.Name(), err)
	}
	return nil
}

// DetachDeleteScheduler fans detach-delete work items out to a bounded worker
// pool that is reused across batches. The first failing item aborts the
// batch: workers stop claiming items and the error is returned.
type DetachDeleteScheduler struct {
	maxThreads int
	pool       *ants.Pool
	log        src.Logger

	closeOnce sync.Once
}

func NewDetachDeleteScheduler(maxThreads int, log src.Logger) (*DetachDeleteScheduler, error) {
	s := &DetachDeleteScheduler{maxThreads: maxThreads, log: log}
	if maxThreads <= 1 {
		return s, nil
	}

	pool, err := ants.NewPool(maxThreads)
	if err != nil {
		return nil, fmt.Errorf("failed to create detach-delete pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

func (s *DetachDeleteScheduler) MaxThreads() int {
	return s.maxThreads
}

// Run executes items against srcNodes.
func (s *DetachDeleteScheduler) Run(txn *txns.Transaction, items []WorkItem, srcNodes []common.NodeID) error {
	s.log.Debugw("detach-delete fan out",
		"items", len(items),
		"nodes", len(srcNodes),
		"workers", min(len(items), max(s.maxThreads, 1)),
	)
	return s.runInParallel(len(items), func(i int) error {
		return executeWorkItem(txn, items[i], srcNodes)
	})
}

func safeCall(fn func(int) error, i int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: item %d: %v", ErrWorkerPanic, i, r)
		}
	}()
	return fn(i)
}

func (s *DetachDeleteScheduler) runInParallel(n int, fn func(int) error) error {
	if n == 0 {
		return nil
	}
	if n == 1 || s.maxThreads <= 1 || s.pool == nil {
		for i := range n {
			if err := safeCall(fn, i); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		next     atomic.Int64
		stop     atomic.Bool
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		stop.Store(true)
	}

	for range min(n, s.maxThreads) {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			for !stop.Load() {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				if err := safeCall(fn, i); err != nil {
					fail(err)
					return
				}
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit detach-delete worker: %w", err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func (s *DetachDeleteScheduler) Close() {
	s.closeOnce.Do(func() {
		if s.pool != nil {
			s.pool.Release()
		}
	})
}
