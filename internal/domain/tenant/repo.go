package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/domain/staff"
	"github.com/ehr/medbridge/internal/platform/db"
)

// Repository persists tenants in the shared schema.
type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByPartition(ctx context.Context, p db.Partition) (*Tenant, error)
	PartitionOf(ctx context.Context, id uuid.UUID) (db.Partition, error)
	LicenseExists(ctx context.Context, license string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	ListPartitions(ctx context.Context) ([]db.Partition, error)
}

// SchemaBuilder creates a partition and applies the template to it on the
// transaction carried by ctx.
type SchemaBuilder interface {
	Build(ctx context.Context, p db.Partition) error
}

// AdminStore is the part of the staff store the provisioner needs.
type AdminStore interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u *staff.User) error
}
