// Package dbtest provides an in-process db.TxRunner for service tests.
package dbtest

import (
	"context"
	"sync"
)

type txKey struct{}

// TxRunner runs fn inline and records each outermost operation. When
// Snapshot is set it is called at begin and the function it returns is
// called if fn fails, so in-memory fakes can undo their writes.
type TxRunner struct {
	Snapshot func() (restore func())

	mu  sync.Mutex
	ops []string
}

func (r *TxRunner) RunInTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()

	var restore func()
	if r.Snapshot != nil {
		restore = r.Snapshot()
	}
	if err := fn(context.WithValue(ctx, txKey{}, op)); err != nil {
		if restore != nil {
			restore()
		}
		return err
	}
	return nil
}

// Ops returns the names of the outermost transactions run so far.
func (r *TxRunner) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

// InTx reports whether ctx was produced by a TxRunner.
func InTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}
