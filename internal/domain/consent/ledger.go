// Package consent issues and consumes the one-time codes that authorize a
// cross-partition transfer.
package consent

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/clock"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/metrics"
)

// Ledger issues consent codes and consumes them exactly once. Only the
// most recently issued token for an entry is ever consulted.
type Ledger struct {
	repo    Repository
	tx      db.TxRunner
	clock   clock.Clock
	ttl     time.Duration
	newCode func() (string, error)
}

func NewLedger(repo Repository, tx db.TxRunner, clk clock.Clock, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{repo: repo, tx: tx, clock: clk, ttl: ttl, newCode: GenerateCode}
}

// SetCodeGenerator replaces the random code source.
func (l *Ledger) SetCodeGenerator(fn func() (string, error)) {
	l.newCode = fn
}

// TTL returns the validity window of issued codes.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Issue stores a fresh code for entryID. Earlier codes are left in place
// but stop being consulted.
func (l *Ledger) Issue(ctx context.Context, entryID uuid.UUID) (*Issued, error) {
	code, err := l.newCode()
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	t := &Token{
		ID:        uuid.New(),
		EntryID:   entryID,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := l.repo.Insert(ctx, t); err != nil {
		return nil, err
	}
	metrics.ConsentTokensIssued.Inc()
	return &Issued{TokenID: t.ID, Code: t.Code, ExpiresAt: t.ExpiresAt}, nil
}

// ValidateAndConsume checks code against the latest token for entryID and
// marks it used. It joins the transaction in ctx, so the consumption is
// only visible if the caller commits.
func (l *Ledger) ValidateAndConsume(ctx context.Context, entryID uuid.UUID, code string) error {
	return l.tx.RunInTx(ctx, "consent.consume", func(ctx context.Context) error {
		t, err := l.repo.Latest(ctx, entryID)
		if err != nil {
			return err
		}
		if t.Used {
			return ErrTokenAlreadyUsed
		}
		if l.clock.Now().After(t.ExpiresAt) {
			return ErrTokenExpired
		}
		if subtle.ConstantTimeCompare([]byte(t.Code), []byte(code)) != 1 {
			return ErrTokenMismatch
		}
		ok, err := l.repo.MarkUsed(ctx, t.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTokenAlreadyUsed
		}
		return nil
	})
}

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random zero-padded 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate consent code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
