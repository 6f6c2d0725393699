package tenant

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/domain/staff"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

var (
	ErrDuplicateLicense    = apperror.Conflict("duplicate_license", "a hospital with this license number is already registered")
	ErrDuplicateAdminEmail = apperror.Conflict("duplicate_admin_email", "the administrator email is already registered")
)

// Tenant is one onboarded hospital. Partition never changes after insert.
type Tenant struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Address       string       `json:"address,omitempty"`
	ContactEmail  string       `json:"contact_email"`
	ContactPhone  string       `json:"contact_phone,omitempty"`
	LicenseNumber string       `json:"license_number"`
	Partition     db.Partition `json:"partition"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Onboarding is the input to Provision.
type Onboarding struct {
	Name          string `json:"name" validate:"required"`
	Address       string `json:"address"`
	ContactEmail  string `json:"contact_email" validate:"required,email"`
	ContactPhone  string `json:"contact_phone"`
	LicenseNumber string `json:"license_number" validate:"required"`
	AdminName     string `json:"admin_name" validate:"required"`
	AdminEmail    string `json:"admin_email" validate:"required,email"`
	AdminPassword string `json:"admin_password" validate:"required,min=8"`
	AdminPhone    string `json:"admin_phone"`
}

// Provisioned is the result of a successful onboarding.
type Provisioned struct {
	Tenant *Tenant     `json:"tenant"`
	Admin  *staff.User `json:"admin"`
}
