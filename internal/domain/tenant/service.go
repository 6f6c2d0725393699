// Package tenant owns hospital onboarding and the mapping from a tenant to
// the Postgres schema that holds its records.
package tenant

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/domain/staff"
	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/metrics"
	"github.com/ehr/medbridge/pkg/apperror"
)

// -- Directory --

// Directory resolves tenants to partitions. It never caches: every call
// reads the tenants table.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// ResolvePartition returns the partition of tenantID, or NotFound.
func (d *Directory) ResolvePartition(ctx context.Context, tenantID uuid.UUID) (db.Partition, error) {
	return d.repo.PartitionOf(ctx, tenantID)
}

func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return d.repo.GetByID(ctx, id)
}

func (d *Directory) TenantName(ctx context.Context, id uuid.UUID) (string, error) {
	t, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

// ForPartition returns the tenant that owns p.
func (d *Directory) ForPartition(ctx context.Context, p db.Partition) (*Tenant, error) {
	return d.repo.GetByPartition(ctx, p)
}

func (d *Directory) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	return d.repo.List(ctx, limit, offset)
}

// Partitions lists every provisioned partition, oldest first.
func (d *Directory) Partitions(ctx context.Context) ([]db.Partition, error) {
	return d.repo.ListPartitions(ctx)
}

// -- Provisioner --

type Provisioner struct {
	repo         Repository
	admins       AdminStore
	schemas      SchemaBuilder
	tx           db.TxRunner
	hasher       auth.PasswordHasher
	newPartition func() (db.Partition, error)
	logger       zerolog.Logger
}

func NewProvisioner(repo Repository, admins AdminStore, schemas SchemaBuilder, tx db.TxRunner, hasher auth.PasswordHasher, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		repo:         repo,
		admins:       admins,
		schemas:      schemas,
		tx:           tx,
		hasher:       hasher,
		newPartition: db.NewPartitionName,
		logger:       logger,
	}
}

func normalize(in *Onboarding) {
	in.Name = strings.TrimSpace(in.Name)
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
	in.ContactEmail = strings.ToLower(strings.TrimSpace(in.ContactEmail))
	in.AdminName = strings.TrimSpace(in.AdminName)
	in.AdminEmail = strings.ToLower(strings.TrimSpace(in.AdminEmail))
}

func validate(in Onboarding) error {
	switch {
	case in.Name == "":
		return apperror.Validation("hospital name is required")
	case in.LicenseNumber == "":
		return apperror.Validation("license number is required")
	case !validEmail(in.ContactEmail):
		return apperror.Validation("a valid contact email is required")
	case in.AdminName == "":
		return apperror.Validation("administrator name is required")
	case !validEmail(in.AdminEmail):
		return apperror.Validation("a valid administrator email is required")
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// Provision onboards a hospital: it creates a fresh partition, applies the
// template, and inserts the tenant and its ADMIN user in one transaction.
// Duplicate license and admin email are rejected before any DDL runs.
func (p *Provisioner) Provision(ctx context.Context, in Onboarding) (*Provisioned, error) {
	res, err := p.provision(ctx, in)
	switch {
	case err == nil:
		metrics.PartitionsProvisioned.WithLabelValues("success").Inc()
	case apperror.IsKind(err, apperror.KindConflict), apperror.IsKind(err, apperror.KindValidation):
		metrics.PartitionsProvisioned.WithLabelValues("rejected").Inc()
	default:
		metrics.PartitionsProvisioned.WithLabelValues("error").Inc()
	}
	return res, err
}

func (p *Provisioner) provision(ctx context.Context, in Onboarding) (*Provisioned, error) {
	normalize(&in)
	if err := validate(in); err != nil {
		return nil, err
	}

	taken, err := p.repo.LicenseExists(ctx, in.LicenseNumber)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateLicense
	}
	taken, err = p.admins.EmailExists(ctx, in.AdminEmail)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateAdminEmail
	}

	hash, err := p.hasher.Hash(in.AdminPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, apperror.Validation("%s", err.Error())
		}
		return nil, err
	}

	partition, err := p.newPartition()
	if err != nil {
		return nil, err
	}

	t := &Tenant{
		ID:            uuid.New(),
		Name:          in.Name,
		Address:       in.Address,
		ContactEmail:  in.ContactEmail,
		ContactPhone:  in.ContactPhone,
		LicenseNumber: in.LicenseNumber,
		Partition:     partition,
	}
	admin := &staff.User{
		TenantID:     t.ID,
		FullName:     in.AdminName,
		Email:        in.AdminEmail,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		Phone:        in.AdminPhone,
		Status:       staff.StatusActive,
	}

	err = p.tx.RunInTx(ctx, "tenant.provision", func(ctx context.Context) error {
		if err := p.schemas.Build(ctx, partition); err != nil {
			return err
		}
		if err := p.repo.Create(ctx, t); err != nil {
			return err
		}
		if err := p.admins.Create(ctx, admin); err != nil {
			if errors.Is(err, staff.ErrEmailTaken) {
				return ErrDuplicateAdminEmail
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("tenant_id", t.ID.String()).
		Str("partition", partition.String()).
		Msg("tenant provisioned")
	return &Provisioned{Tenant: t, Admin: admin}, nil
}
