package staff

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/pkg/apperror"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Token purposes stored in user_tokens.
const (
	PurposeReset  = "RESET"
	PurposeVerify = "VERIFY"
)

const (
	ResetTokenTTL  = time.Hour
	VerifyTokenTTL = 48 * time.Hour
)

var (
	ErrEmailTaken         = apperror.Conflict("email_taken", "email is already registered")
	ErrInvalidCredentials = apperror.New(apperror.KindUnauthorized, "invalid_credentials", "invalid email or password")
	ErrAccountInactive    = apperror.New(apperror.KindForbidden, "account_inactive", "account is inactive")
	ErrInvalidToken       = apperror.New(apperror.KindToken, "invalid_token", "link is invalid or has expired")
	ErrSelfDeactivation   = apperror.New(apperror.KindValidation, "self_deactivation", "administrators cannot deactivate their own account")
)

// User is a staff member of one tenant.
type User struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           string    `json:"role"`
	Department     string    `json:"department,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
	Shift          string    `json:"shift,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Status         string    `json:"status"`
	EmailVerified  bool      `json:"email_verified"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserToken is a single-use emailed token. Only its hash is stored.
type UserToken struct {
	Hash      string
	Purpose   string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// CreateStaffInput is the body of a staff creation request.
type CreateStaffInput struct {
	FullName       string `json:"full_name" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8"`
	Role           string `json:"role" validate:"required,oneof=DOCTOR NURSE RECEPTIONIST PHARMACIST"`
	Department     string `json:"department"`
	Specialization string `json:"specialization"`
	Shift          string `json:"shift"`
	Phone          string `json:"phone"`
}

// ProfileUpdate carries the fields a user may change on their own account.
type ProfileUpdate struct {
	FullName       *string `json:"full_name"`
	Phone          *string `json:"phone"`
	Specialization *string `json:"specialization"`
	Shift          *string `json:"shift"`
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
