package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PartitionPlaceholder marks where the partition schema goes in a statement,
// e.g. "SELECT id FROM {{partition}}.patients WHERE id = $1".
const PartitionPlaceholder = "{{partition}}"

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Render substitutes the quoted partition identifier for every placeholder
// in stmt.
func Render(p Partition, stmt string) (string, error) {
	ident, err := p.Ident()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(stmt, PartitionPlaceholder, ident), nil
}

// Gateway executes partition-scoped statements on the transaction carried
// by the context, falling back to the pool.
type Gateway struct {
	pool *pgxpool.Pool
}

func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// Conn returns the querier for ctx: the active transaction if any, else the pool.
func (g *Gateway) Conn(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return g.pool
}

func (g *Gateway) Exec(ctx context.Context, p Partition, stmt string, args ...interface{}) (pgconn.CommandTag, error) {
	sql, err := Render(p, stmt)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return g.Conn(ctx).Exec(ctx, sql, args...)
}

func (g *Gateway) Query(ctx context.Context, p Partition, stmt string, args ...interface{}) (pgx.Rows, error) {
	sql, err := Render(p, stmt)
	if err != nil {
		return nil, err
	}
	return g.Conn(ctx).Query(ctx, sql, args...)
}

func (g *Gateway) QueryRow(ctx context.Context, p Partition, stmt string, args ...interface{}) pgx.Row {
	sql, err := Render(p, stmt)
	if err != nil {
		return errRow{err: err}
	}
	return g.Conn(ctx).QueryRow(ctx, sql, args...)
}

type errRow struct {
	err error
}

func (r errRow) Scan(...interface{}) error {
	return r.err
}
