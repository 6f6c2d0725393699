package consent

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores consent tokens.
type Repository interface {
	Insert(ctx context.Context, t *Token) error
	// Latest returns the most recently issued token for the entry, or
	// ErrTokenNotFound. Tokens with equal IssuedAt are ordered by Seq.
	Latest(ctx context.Context, entryID uuid.UUID) (*Token, error)
	// MarkUsed flips used from false to true. It reports false when the
	// token was already used.
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
}
