package consent

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type tokenRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &tokenRepoPG{pool: pool}
}

func (r *tokenRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *tokenRepoPG) Insert(ctx context.Context, t *Token) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent_tokens (id, global_identity_id, code, issued_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING seq`,
		t.ID, t.EntryID, t.Code, t.IssuedAt, t.ExpiresAt,
	).Scan(&t.Seq)
	if err != nil {
		return apperror.Storage("consent.insert", err)
	}
	return nil
}

func (r *tokenRepoPG) Latest(ctx context.Context, entryID uuid.UUID) (*Token, error) {
	var t Token
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, seq, global_identity_id, code, issued_at, expires_at, used
		FROM consent_tokens
		WHERE global_identity_id = $1
		ORDER BY issued_at DESC, seq DESC
		LIMIT 1`, entryID,
	).Scan(&t.ID, &t.Seq, &t.EntryID, &t.Code, &t.IssuedAt, &t.ExpiresAt, &t.Used)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTokenNotFound
		}
		return nil, apperror.Storage("consent.latest", err)
	}
	return &t, nil
}

func (r *tokenRepoPG) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE consent_tokens SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return false, apperror.Storage("consent.mark_used", err)
	}
	return tag.RowsAffected() == 1, nil
}
