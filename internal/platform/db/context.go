package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type contextKey string

const (
	PartitionKey contextKey = "partition"
	DBTxKey      contextKey = "db_tx"
)

// WithTx returns a context carrying tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the active transaction, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithPartition returns a context carrying the resolved partition.
func WithPartition(ctx context.Context, p Partition) context.Context {
	return context.WithValue(ctx, PartitionKey, p)
}

// PartitionFromContext retrieves the partition resolved for this request.
func PartitionFromContext(ctx context.Context) (Partition, bool) {
	p, ok := ctx.Value(PartitionKey).(Partition)
	return p, ok && !p.IsZero()
}
