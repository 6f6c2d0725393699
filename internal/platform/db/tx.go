package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medbridge/internal/platform/metrics"
	"github.com/ehr/medbridge/pkg/apperror"
)

// TxRunner runs fn inside a database transaction. The transaction is
// carried by the context passed to fn; repositories pick it up through
// TxFromContext. Implementations must commit only when fn returns nil and
// must roll back on every other exit path, including panics.
type TxRunner interface {
	RunInTx(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// TxManager is the pgx-backed TxRunner.
type TxManager struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewTxManager returns a TxManager. A positive timeout bounds the whole
// transaction: the context gets a deadline and the session gets matching
// statement_timeout and lock_timeout values.
func NewTxManager(pool *pgxpool.Pool, timeout time.Duration) *TxManager {
	return &TxManager{pool: pool, timeout: timeout}
}

// WithTimeout returns a copy of m using a different bound.
func (m *TxManager) WithTimeout(timeout time.Duration) *TxManager {
	return &TxManager{pool: m.pool, timeout: timeout}
}

// RunInTx begins a read-committed transaction, runs fn and commits. When
// ctx already carries a transaction, fn joins it.
func (m *TxManager) RunInTx(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	start := time.Now()
	defer func() { metrics.ObserveTx(op, time.Since(start), err) }()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperror.Storage(op+": begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if m.timeout > 0 {
		ms := m.timeout.Milliseconds()
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d; SET LOCAL lock_timeout = %d", ms, ms)); err != nil {
			return apperror.Storage(op+": set timeouts", err)
		}
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.Storage(op+": commit", err)
	}
	return nil
}
