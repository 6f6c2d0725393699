package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type entryRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryColumns = `id, national_id, partition_name, patient_id, full_name, COALESCE(phone, ''), COALESCE(email, ''), created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var partition string
	if err := row.Scan(&e.ID, &e.NationalID, &partition, &e.PatientID, &e.FullName, &e.Phone, &e.Email, &e.CreatedAt); err != nil {
		return nil, err
	}
	p, err := db.ParsePartition(partition)
	if err != nil {
		return nil, err
	}
	e.Partition = p
	return &e, nil
}

func (r *entryRepoPG) FindByNationalID(ctx context.Context, nationalID string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryColumns+` FROM global_identities WHERE national_id = $1`, nationalID)
	if err != nil {
		return nil, apperror.Storage("registry.find", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperror.Storage("registry.find", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("registry.find", err)
	}
	return entries, nil
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryColumns+` FROM global_identities WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("identity entry")
		}
		return nil, apperror.Storage("registry.get", err)
	}
	return e, nil
}

func (r *entryRepoPG) Upsert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO global_identities (id, national_id, partition_name, patient_id, full_name, phone, email)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (partition_name, patient_id) DO UPDATE SET
			national_id = EXCLUDED.national_id,
			full_name = EXCLUDED.full_name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email
		RETURNING id, created_at`,
		e.ID, e.NationalID, e.Partition.String(), e.PatientID, e.FullName, e.Phone, e.Email,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return apperror.Storage("registry.upsert", err)
	}
	return nil
}
