// Package dashboard summarizes a hospital's activity.
package dashboard

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
)

// PartitionCounter counts rows of one kind in a partition.
type PartitionCounter func(ctx context.Context, p db.Partition) (int, error)

// StaffCounter counts active staff of a tenant.
type StaffCounter func(ctx context.Context, tenantID uuid.UUID) (int, error)

// Summary is the dashboard payload.
type Summary struct {
	Patients      int `json:"total_patients"`
	Cases         int `json:"total_cases"`
	Prescriptions int `json:"total_prescriptions"`
	ActiveStaff   int `json:"active_staff"`
}

type Service struct {
	patients      PartitionCounter
	cases         PartitionCounter
	prescriptions PartitionCounter
	staff         StaffCounter
}

func NewService(patients, cases, prescriptions PartitionCounter, staff StaffCounter) *Service {
	return &Service{patients: patients, cases: cases, prescriptions: prescriptions, staff: staff}
}

func (s *Service) Summary(ctx context.Context, p db.Partition, tenantID uuid.UUID) (*Summary, error) {
	var (
		sum Summary
		err error
	)
	if sum.Patients, err = s.patients(ctx, p); err != nil {
		return nil, err
	}
	if sum.Cases, err = s.cases(ctx, p); err != nil {
		return nil, err
	}
	if sum.Prescriptions, err = s.prescriptions(ctx, p); err != nil {
		return nil, err
	}
	if sum.ActiveStaff, err = s.staff(ctx, tenantID); err != nil {
		return nil, err
	}
	return &sum, nil
}
