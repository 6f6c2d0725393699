package staff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const userColumns = `id, tenant_id, full_name, email, password_hash, role,
	COALESCE(department, ''), COALESCE(specialization, ''), COALESCE(shift, ''), COALESCE(phone, ''),
	status, email_verified, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role,
		&u.Department, &u.Specialization, &u.Shift, &u.Phone,
		&u.Status, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (
			id, tenant_id, full_name, email, password_hash, role,
			department, specialization, shift, phone, status, email_verified
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12
		) RETURNING created_at, updated_at`,
		u.ID, u.TenantID, u.FullName, strings.ToLower(u.Email), u.PasswordHash, u.Role,
		u.Department, u.Specialization, u.Shift, u.Phone, u.Status, u.EmailVerified,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if c, ok := db.UniqueViolation(err); ok && c == "users_email_key" {
			return ErrEmailTaken
		}
		return apperror.Storage("staff.create", err)
	}
	return nil
}

func (r *userRepoPG) get(ctx context.Context, op, where string, arg interface{}) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("user")
		}
		return nil, apperror.Storage(op, err)
	}
	return u, nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.get(ctx, "staff.get", "id = $1", id)
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, "staff.get_by_email", "email = $1", strings.ToLower(email))
}

func (r *userRepoPG) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, strings.ToLower(email)).Scan(&exists)
	if err != nil {
		return false, apperror.Storage("staff.email_exists", err)
	}
	return exists, nil
}

func (r *userRepoPG) ListByTenant(ctx context.Context, tenantID uuid.UUID, role string, limit, offset int) ([]*User, int, error) {
	where := `tenant_id = $1`
	args := []interface{}{tenantID}
	if role != "" {
		where += ` AND role = $2`
		args = append(args, role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperror.Storage("staff.list", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperror.Storage("staff.list", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, apperror.Storage("staff.list", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.Storage("staff.list", err)
	}
	return users, total, nil
}

func (r *userRepoPG) exec(ctx context.Context, op, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.Storage(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user")
	}
	return nil
}

func (r *userRepoPG) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status string) error {
	return r.exec(ctx, "staff.update_status",
		`UPDATE users SET status = $3, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, status)
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	return r.exec(ctx, "staff.update_profile", `
		UPDATE users SET
			full_name = $2, phone = NULLIF($3, ''), specialization = NULLIF($4, ''),
			shift = NULLIF($5, ''), updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.FullName, u.Phone, u.Specialization, u.Shift)
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, "staff.update_password",
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

func (r *userRepoPG) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "staff.verify_email",
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

func (r *userRepoPG) CountActive(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND status = $2`, tenantID, StatusActive).Scan(&n)
	if err != nil {
		return 0, apperror.Storage("staff.count_active", err)
	}
	return n, nil
}

// -- Token Repository --

type tokenRepoPG struct {
	pool *pgxpool.Pool
}

func NewTokenRepo(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepoPG{pool: pool}
}

func (r *tokenRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *tokenRepoPG) Insert(ctx context.Context, t *UserToken) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO user_tokens (token_hash, purpose, user_id, expires_at) VALUES ($1, $2, $3, $4)`,
		t.Hash, t.Purpose, t.UserID, t.ExpiresAt)
	if err != nil {
		return apperror.Storage("staff.insert_token", err)
	}
	return nil
}

func (r *tokenRepoPG) Consume(ctx context.Context, hash, purpose string, now time.Time) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE user_tokens SET used_at = $3
		WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
		RETURNING user_id`,
		hash, purpose, now,
	).Scan(&userID)
	if err != nil {
		if db.IsNoRows(err) {
			return uuid.Nil, ErrInvalidToken
		}
		return uuid.Nil, apperror.Storage("staff.consume_token", err)
	}
	return userID, nil
}
