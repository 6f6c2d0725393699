package staff

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists staff users in the shared schema.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, role string, limit, offset int) ([]*User, int, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error
	UpdateProfile(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	CountActive(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// TokenRepository stores single-use reset and verification tokens.
type TokenRepository interface {
	Insert(ctx context.Context, t *UserToken) error
	// Consume marks the token used if it matches purpose, is unused and
	// has not expired at now, returning its user. Otherwise ErrInvalidToken.
	Consume(ctx context.Context, hash, purpose string, now time.Time) (uuid.UUID, error)
}
