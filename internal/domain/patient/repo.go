package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
)

// Repository stores patients and cases in a partition. Create and
// CreateCase keep a preset ID and CreatedAt so copies preserve history.
type Repository interface {
	Create(ctx context.Context, p db.Partition, pt *Patient) error
	GetByID(ctx context.Context, p db.Partition, id uuid.UUID) (*Patient, error)
	// ExistsNationalID reports whether another patient than excludeID
	// carries nationalID.
	ExistsNationalID(ctx context.Context, p db.Partition, nationalID string, excludeID uuid.UUID) (bool, error)
	// LockNationalID blocks until the caller's transaction holds the
	// (partition, nationalID) lock. It is released at commit or rollback.
	LockNationalID(ctx context.Context, p db.Partition, nationalID string) error
	Update(ctx context.Context, p db.Partition, pt *Patient) error
	List(ctx context.Context, p db.Partition, f Filter) ([]*Patient, int, error)
	Count(ctx context.Context, p db.Partition) (int, error)

	CreateCase(ctx context.Context, p db.Partition, c *Case) error
	ListCases(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*Case, error)
	CountCases(ctx context.Context, p db.Partition) (int, error)
}
