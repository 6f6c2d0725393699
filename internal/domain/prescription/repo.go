package prescription

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
)

// Repository stores prescriptions in a partition.
type Repository interface {
	// Create inserts the header only. ID and CreatedAt are kept when set.
	Create(ctx context.Context, p db.Partition, rx *Prescription) error
	AddItem(ctx context.Context, p db.Partition, item *Item) error
	GetByID(ctx context.Context, p db.Partition, id uuid.UUID) (*Prescription, error)
	// ListByPatient returns the patient's prescriptions, newest first,
	// with items loaded.
	ListByPatient(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*Prescription, error)
	UpdateHeader(ctx context.Context, p db.Partition, rx *Prescription) error
	DeleteItems(ctx context.Context, p db.Partition, prescriptionID uuid.UUID) error
	Delete(ctx context.Context, p db.Partition, id uuid.UUID) error
	Count(ctx context.Context, p db.Partition) (int, error)
}
