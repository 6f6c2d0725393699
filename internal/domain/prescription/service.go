// Package prescription manages prescriptions and their medicine lines
// inside a tenant partition.
package prescription

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

// PatientChecker confirms that a patient exists in a partition.
type PatientChecker interface {
	EnsureExists(ctx context.Context, p db.Partition, id uuid.UUID) error
}

type Service struct {
	repo     Repository
	patients PatientChecker
	tx       db.TxRunner
}

func NewService(repo Repository, patients PatientChecker, tx db.TxRunner) *Service {
	return &Service{repo: repo, patients: patients, tx: tx}
}

func validateInput(in Input) error {
	if len(in.Items) == 0 {
		return apperror.Validation("at least one medicine is required")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.MedicineName) == "" {
			return apperror.Validation("items[%d].medicine_name is required", i)
		}
	}
	return nil
}

func (s *Service) addItems(ctx context.Context, p db.Partition, rx *Prescription, items []ItemInput) error {
	rx.Items = make([]*Item, 0, len(items))
	for _, in := range items {
		it := &Item{
			PrescriptionID: rx.ID,
			MedicineName:   strings.TrimSpace(in.MedicineName),
			Dosage:         in.Dosage,
			Frequency:      in.Frequency,
			Duration:       in.Duration,
			Instructions:   in.Instructions,
		}
		if err := s.repo.AddItem(ctx, p, it); err != nil {
			return err
		}
		rx.Items = append(rx.Items, it)
	}
	return nil
}

// Create writes the header and every item in one transaction.
func (s *Service) Create(ctx context.Context, p db.Partition, patientID, doctorID uuid.UUID, in Input) (*Prescription, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.patients.EnsureExists(ctx, p, patientID); err != nil {
		return nil, err
	}

	rx := &Prescription{
		ID:        uuid.New(),
		PatientID: patientID,
		Diagnosis: in.Diagnosis,
		Notes:     in.Notes,
	}
	if doctorID != uuid.Nil {
		rx.DoctorID = &doctorID
	}

	err := s.tx.RunInTx(ctx, "prescription.create", func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p, rx); err != nil {
			return err
		}
		return s.addItems(ctx, p, rx, in.Items)
	})
	if err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) Get(ctx context.Context, p db.Partition, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, p, id)
}

func (s *Service) ListByPatient(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*Prescription, error) {
	if err := s.patients.EnsureExists(ctx, p, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListByPatient(ctx, p, patientID)
}

// Update replaces the header fields and the full item list.
func (s *Service) Update(ctx context.Context, p db.Partition, id uuid.UUID, in Input) (*Prescription, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var rx *Prescription
	err := s.tx.RunInTx(ctx, "prescription.update", func(ctx context.Context) error {
		var err error
		rx, err = s.repo.GetByID(ctx, p, id)
		if err != nil {
			return err
		}
		rx.Diagnosis = in.Diagnosis
		rx.Notes = in.Notes
		if err := s.repo.UpdateHeader(ctx, p, rx); err != nil {
			return err
		}
		if err := s.repo.DeleteItems(ctx, p, rx.ID); err != nil {
			return err
		}
		return s.addItems(ctx, p, rx, in.Items)
	})
	if err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) Delete(ctx context.Context, p db.Partition, id uuid.UUID) error {
	return s.repo.Delete(ctx, p, id)
}

func (s *Service) Count(ctx context.Context, p db.Partition) (int, error) {
	return s.repo.Count(ctx, p)
}
