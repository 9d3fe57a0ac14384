// Package processor holds the physical operators that scan, count and delete
// graph data. Operators are pull based: every Next call produces at most one
// batch in the output vectors the operator was built with.
package processor

import (
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src"
	"github.com/Blackdeer1524/graphcore/src/txns"
)

type Operator interface {
	// Init prepares the operator and its children for a fresh execution.
	Init(ctx *ExecutionContext) error
	// Next returns false once the operator is exhausted.
	Next(ctx *ExecutionContext) (bool, error)
}

// ExecutionContext is shared by the operators of one pipeline.
type ExecutionContext struct {
	Txn       *txns.Transaction
	Scheduler *DetachDeleteScheduler
	Metrics   *Metrics
	Log       src.Logger
}

func NewExecutionContext(txn *txns.Transaction) *ExecutionContext {
	return &ExecutionContext{
		Txn: txn,
		Log: zap.NewNop().Sugar(),
	}
}

var inlineScheduler = &DetachDeleteScheduler{maxThreads: 1, log: zap.NewNop().Sugar()}

func (ctx *ExecutionContext) scheduler() *DetachDeleteScheduler {
	if ctx.Scheduler == nil {
		return inlineScheduler
	}
	return ctx.Scheduler
}

// Drain pulls op until it is exhausted and calls fn after every batch.
func Drain(ctx *ExecutionContext, op Operator, fn func() error) error {
	if err := op.Init(ctx); err != nil {
		return err
	}
	for {
		more, err := op.Next(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if fn == nil {
			continue
		}
		if err := fn(); err != nil {
			return err
		}
	}
}
