package registry

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists identity entries in the shared schema.
type Repository interface {
	FindByNationalID(ctx context.Context, nationalID string) ([]*Entry, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// Upsert inserts e or, when (partition, patient id) already exists,
	// refreshes its display fields. e.ID and e.CreatedAt are set to the
	// stored row's values.
	Upsert(ctx context.Context, e *Entry) error
}
