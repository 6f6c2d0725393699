// Package patient manages partition-local patient records and their
// cases, and keeps the identity index in step with them.
package patient

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/domain/prescription"
	"github.com/ehr/medbridge/internal/domain/registry"
	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

// IdentityIndex records which partition holds a national id.
type IdentityIndex interface {
	Upsert(ctx context.Context, e *registry.Entry) error
}

// PrescriptionLister reads a patient's prescriptions.
type PrescriptionLister interface {
	ListByPatient(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*prescription.Prescription, error)
}

type Service struct {
	repo          Repository
	index         IdentityIndex
	prescriptions PrescriptionLister
	tx            db.TxRunner
}

func NewService(repo Repository, index IdentityIndex, prescriptions PrescriptionLister, tx db.TxRunner) *Service {
	return &Service{repo: repo, index: index, prescriptions: prescriptions, tx: tx}
}

func entryFor(p db.Partition, pt *Patient) *registry.Entry {
	return &registry.Entry{
		NationalID: pt.NationalID,
		Partition:  p,
		PatientID:  pt.ID,
		FullName:   pt.FullName,
		Phone:      pt.Phone,
		Email:      pt.Email,
	}
}

func validate(pt *Patient) error {
	if !registry.ValidNationalID(pt.NationalID) {
		return apperror.Validation("national_id must be exactly 12 digits")
	}
	if strings.TrimSpace(pt.FullName) == "" {
		return apperror.Validation("full_name is required")
	}
	if !validType(pt.PatientType) {
		return apperror.Validation("patient_type must be one of OPD, IPD, EMERGENCY")
	}
	return nil
}

// visible reports whether the caller may see pt. Doctors with a
// department only see patients of that department.
func visible(caller auth.Principal, pt *Patient) bool {
	if caller.Role != auth.RoleDoctor || caller.Department == "" {
		return true
	}
	return pt.Department == caller.Department
}

// Create registers a patient and its identity entry in one transaction.
// A national id already present in the partition is rejected; concurrent
// creates of the same id serialize on LockNationalID.
func (s *Service) Create(ctx context.Context, p db.Partition, in CreateInput) (*Patient, error) {
	pt := &Patient{
		ID:               uuid.New(),
		NationalID:       strings.TrimSpace(in.NationalID),
		FullName:         strings.TrimSpace(in.FullName),
		Phone:            in.Phone,
		Email:            in.Email,
		DateOfBirth:      in.DateOfBirth,
		Gender:           in.Gender,
		Department:       in.Department,
		BloodGroup:       in.BloodGroup,
		Address:          in.Address,
		EmergencyContact: in.EmergencyContact,
		PatientType:      in.PatientType,
	}
	if pt.PatientType == "" {
		pt.PatientType = TypeOPD
	}
	if err := validate(pt); err != nil {
		return nil, err
	}

	err := s.tx.RunInTx(ctx, "patient.create", func(ctx context.Context) error {
		if err := s.repo.LockNationalID(ctx, p, pt.NationalID); err != nil {
			return err
		}
		dup, err := s.repo.ExistsNationalID(ctx, p, pt.NationalID, uuid.Nil)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateNationalID
		}
		if err := s.repo.Create(ctx, p, pt); err != nil {
			return err
		}
		return s.index.Upsert(ctx, entryFor(p, pt))
	})
	if err != nil {
		return nil, err
	}
	return pt, nil
}

func (s *Service) List(ctx context.Context, p db.Partition, caller auth.Principal, f Filter) ([]*Patient, int, error) {
	if caller.Role == auth.RoleDoctor && caller.Department != "" {
		f.Department = caller.Department
	}
	return s.repo.List(ctx, p, f)
}

// Get returns the patient with cases and prescriptions. Patients outside
// the caller's view are reported as not found.
func (s *Service) Get(ctx context.Context, p db.Partition, caller auth.Principal, id uuid.UUID) (*Detail, error) {
	pt, err := s.repo.GetByID(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !visible(caller, pt) {
		return nil, apperror.NotFound("patient")
	}
	cases, err := s.repo.ListCases(ctx, p, id)
	if err != nil {
		return nil, err
	}
	rxs, err := s.prescriptions.ListByPatient(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Patient: pt, Cases: cases, Prescriptions: rxs}, nil
}

// Update applies a partial change and refreshes the identity entry.
func (s *Service) Update(ctx context.Context, p db.Partition, caller auth.Principal, id uuid.UUID, patch Patch) (*Patient, error) {
	var pt *Patient
	err := s.tx.RunInTx(ctx, "patient.update", func(ctx context.Context) error {
		var err error
		pt, err = s.repo.GetByID(ctx, p, id)
		if err != nil {
			return err
		}
		if !visible(caller, pt) {
			return apperror.NotFound("patient")
		}
		previous := pt.NationalID
		patch.apply(pt)
		pt.NationalID = strings.TrimSpace(pt.NationalID)
		pt.FullName = strings.TrimSpace(pt.FullName)
		if err := validate(pt); err != nil {
			return err
		}
		if pt.NationalID != previous {
			if err := s.repo.LockNationalID(ctx, p, pt.NationalID); err != nil {
				return err
			}
			dup, err := s.repo.ExistsNationalID(ctx, p, pt.NationalID, pt.ID)
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicateNationalID
			}
		}
		if err := s.repo.Update(ctx, p, pt); err != nil {
			return err
		}
		return s.index.Upsert(ctx, entryFor(p, pt))
	})
	if err != nil {
		return nil, err
	}
	return pt, nil
}

// EnsureExists returns NotFound when the patient is absent.
func (s *Service) EnsureExists(ctx context.Context, p db.Partition, id uuid.UUID) error {
	_, err := s.repo.GetByID(ctx, p, id)
	return err
}

func (s *Service) AddCase(ctx context.Context, p db.Partition, caller auth.Principal, patientID uuid.UUID, in CaseInput) (*Case, error) {
	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, apperror.Validation("diagnosis is required")
	}
	pt, err := s.repo.GetByID(ctx, p, patientID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, pt) {
		return nil, apperror.NotFound("patient")
	}
	c := &Case{
		ID:        uuid.New(),
		PatientID: patientID,
		Diagnosis: strings.TrimSpace(in.Diagnosis),
		Notes:     in.Notes,
	}
	if caller.UserID != uuid.Nil {
		by := caller.UserID
		c.CreatedBy = &by
	}
	if err := s.repo.CreateCase(ctx, p, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, p db.Partition, caller auth.Principal, patientID uuid.UUID) ([]*Case, error) {
	pt, err := s.repo.GetByID(ctx, p, patientID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, pt) {
		return nil, apperror.NotFound("patient")
	}
	return s.repo.ListCases(ctx, p, patientID)
}

func (s *Service) Count(ctx context.Context, p db.Partition) (int, error) {
	return s.repo.Count(ctx, p)
}

func (s *Service) CountCases(ctx context.Context, p db.Partition) (int, error) {
	return s.repo.CountCases(ctx, p)
}
