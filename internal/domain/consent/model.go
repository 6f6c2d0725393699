package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/pkg/apperror"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 10 * time.Minute

// CodeLength is the number of digits in a consent code.
const CodeLength = 6

var (
	ErrTokenNotFound    = apperror.New(apperror.KindToken, "token_not_found", "no consent code was requested for this patient")
	ErrTokenAlreadyUsed = apperror.New(apperror.KindToken, "token_already_used", "consent code has already been used")
	ErrTokenExpired     = apperror.New(apperror.KindToken, "token_expired", "consent code has expired")
	ErrTokenMismatch    = apperror.New(apperror.KindToken, "token_mismatch", "consent code is incorrect")
)

// Token is one issued consent code for an identity entry. Expiry is
// computed from ExpiresAt at validation time; only Used is stored state.
// Seq is assigned by the store on insert and breaks IssuedAt ties.
type Token struct {
	ID        uuid.UUID
	Seq       int64
	EntryID   uuid.UUID
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Issued is what the caller learns about a new token.
type Issued struct {
	TokenID   uuid.UUID `json:"token_id"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}
