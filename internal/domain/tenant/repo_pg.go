package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type tenantRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &tenantRepoPG{pool: pool}
}

func (r *tenantRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const tenantColumns = `id, name, COALESCE(address, ''), contact_email, COALESCE(contact_phone, ''), license_number, partition_name, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row scanner) (*Tenant, error) {
	var t Tenant
	var partition string
	if err := row.Scan(&t.ID, &t.Name, &t.Address, &t.ContactEmail, &t.ContactPhone, &t.LicenseNumber, &partition, &t.CreatedAt); err != nil {
		return nil, err
	}
	p, err := db.ParsePartition(partition)
	if err != nil {
		return nil, err
	}
	t.Partition = p
	return &t, nil
}

func (r *tenantRepoPG) Create(ctx context.Context, t *Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tenants (id, name, address, contact_email, contact_phone, license_number, partition_name)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
		RETURNING created_at`,
		t.ID, t.Name, t.Address, t.ContactEmail, t.ContactPhone, t.LicenseNumber, t.Partition.String(),
	).Scan(&t.CreatedAt)
	if err != nil {
		if c, ok := db.UniqueViolation(err); ok && c == "tenants_license_number_key" {
			return ErrDuplicateLicense
		}
		return apperror.Storage("tenant.create", err)
	}
	return nil
}

func (r *tenantRepoPG) get(ctx context.Context, op, where string, arg interface{}) (*Tenant, error) {
	t, err := scanTenant(r.conn(ctx).QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+where, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("tenant")
		}
		return nil, apperror.Storage(op, err)
	}
	return t, nil
}

func (r *tenantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return r.get(ctx, "tenant.get", "id = $1", id)
}

func (r *tenantRepoPG) GetByPartition(ctx context.Context, p db.Partition) (*Tenant, error) {
	return r.get(ctx, "tenant.get_by_partition", "partition_name = $1", p.String())
}

func (r *tenantRepoPG) PartitionOf(ctx context.Context, id uuid.UUID) (db.Partition, error) {
	var name string
	err := r.conn(ctx).QueryRow(ctx, `SELECT partition_name FROM tenants WHERE id = $1`, id).Scan(&name)
	if err != nil {
		if db.IsNoRows(err) {
			return db.Partition{}, apperror.NotFound("tenant")
		}
		return db.Partition{}, apperror.Storage("tenant.partition_of", err)
	}
	p, err := db.ParsePartition(name)
	if err != nil {
		return db.Partition{}, apperror.Storage("tenant.partition_of", err)
	}
	return p, nil
}

func (r *tenantRepoPG) LicenseExists(ctx context.Context, license string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE license_number = $1)`, license).Scan(&exists)
	if err != nil {
		return false, apperror.Storage("tenant.license_exists", err)
	}
	return exists, nil
}

func (r *tenantRepoPG) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&total); err != nil {
		return nil, 0, apperror.Storage("tenant.list", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperror.Storage("tenant.list", err)
	}
	defer rows.Close()

	tenants := []*Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, apperror.Storage("tenant.list", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.Storage("tenant.list", err)
	}
	return tenants, total, nil
}

func (r *tenantRepoPG) ListPartitions(ctx context.Context) ([]db.Partition, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT partition_name FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, apperror.Storage("tenant.list_partitions", err)
	}
	defer rows.Close()

	var out []db.Partition
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperror.Storage("tenant.list_partitions", err)
		}
		p, err := db.ParsePartition(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- Schema builder --

type pgSchemaBuilder struct {
	migrator *db.Migrator
}

// NewSchemaBuilder returns a SchemaBuilder that issues CREATE SCHEMA and
// applies the migrator's template. It must run inside a transaction.
func NewSchemaBuilder(migrator *db.Migrator) SchemaBuilder {
	return &pgSchemaBuilder{migrator: migrator}
}

func (b *pgSchemaBuilder) Build(ctx context.Context, p db.Partition) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("build partition %s: no transaction in context", p)
	}
	ident, err := p.Ident()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		return apperror.Storage("tenant.create_schema", err)
	}
	if _, err := b.migrator.ApplyTemplate(ctx, tx, p); err != nil {
		return apperror.Storage("tenant.apply_template", err)
	}
	return nil
}
