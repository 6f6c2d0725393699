// Package registry is the identity index shared by every partition. It maps
// a national id to the partition-local patient records that carry it.
package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type Service struct {
	repo Repository
	tx   db.TxRunner
}

func NewService(repo Repository, tx db.TxRunner) *Service {
	return &Service{repo: repo, tx: tx}
}

// FindByNationalID returns every entry for the national id, in no
// particular order. No match is an empty slice.
func (s *Service) FindByNationalID(ctx context.Context, nationalID string) ([]*Entry, error) {
	if !ValidNationalID(nationalID) {
		return nil, apperror.Validation("national id must be exactly 12 digits")
	}
	return s.repo.FindByNationalID(ctx, nationalID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

// Upsert records e, joining the transaction in ctx when there is one.
func (s *Service) Upsert(ctx context.Context, e *Entry) error {
	if !ValidNationalID(e.NationalID) {
		return apperror.Validation("national id must be exactly 12 digits")
	}
	if _, err := e.Partition.Ident(); err != nil {
		return apperror.Validation("invalid partition for identity entry")
	}
	if e.PatientID == uuid.Nil {
		return apperror.Validation("patient id is required for identity entry")
	}
	if e.FullName == "" {
		return apperror.Validation("full name is required for identity entry")
	}
	return s.tx.RunInTx(ctx, "registry.upsert", func(ctx context.Context) error {
		return s.repo.Upsert(ctx, e)
	})
}
