package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type patientRepoPG struct {
	gw *db.Gateway
}

func NewRepo(gw *db.Gateway) Repository {
	return &patientRepoPG{gw: gw}
}

const patientCols = `id, national_id, full_name, COALESCE(phone, ''), COALESCE(email, ''),
	COALESCE(date_of_birth::text, ''), COALESCE(gender, ''), COALESCE(department, ''),
	COALESCE(blood_group, ''), COALESCE(address, ''), COALESCE(emergency_contact, ''),
	patient_type, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.NationalID, &p.FullName, &p.Phone, &p.Email,
		&p.DateOfBirth, &p.Gender, &p.Department,
		&p.BloodGroup, &p.Address, &p.EmergencyContact,
		&p.PatientType, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p db.Partition, pt *Patient) error {
	if pt.ID == uuid.Nil {
		pt.ID = uuid.New()
	}
	now := time.Now().UTC()
	if pt.CreatedAt.IsZero() {
		pt.CreatedAt = now
	}
	pt.UpdatedAt = now
	if pt.PatientType == "" {
		pt.PatientType = TypeOPD
	}
	_, err := r.gw.Exec(ctx, p, `
		INSERT INTO {{partition}}.patients (id, national_id, full_name, phone, email,
			date_of_birth, gender, department, blood_group, address, emergency_contact,
			patient_type, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, '')::date, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			$12, $13, $14)`,
		pt.ID, pt.NationalID, pt.FullName, pt.Phone, pt.Email,
		pt.DateOfBirth, pt.Gender, pt.Department, pt.BloodGroup, pt.Address, pt.EmergencyContact,
		pt.PatientType, pt.CreatedAt, pt.UpdatedAt)
	if err != nil {
		return apperror.Storage("patient.create", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, p db.Partition, id uuid.UUID) (*Patient, error) {
	pt, err := scanPatient(r.gw.QueryRow(ctx, p,
		`SELECT `+patientCols+` FROM {{partition}}.patients WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("patient")
		}
		return nil, apperror.Storage("patient.get", err)
	}
	return pt, nil
}

func (r *patientRepoPG) ExistsNationalID(ctx context.Context, p db.Partition, nationalID string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.gw.QueryRow(ctx, p,
		`SELECT EXISTS(SELECT 1 FROM {{partition}}.patients WHERE national_id = $1 AND id <> $2)`,
		nationalID, excludeID).Scan(&exists)
	if err != nil {
		return false, apperror.Storage("patient.exists_national_id", err)
	}
	return exists, nil
}

func (r *patientRepoPG) LockNationalID(ctx context.Context, p db.Partition, nationalID string) error {
	if db.TxFromContext(ctx) == nil {
		return apperror.New(apperror.KindInternal, "no_transaction", "national id lock requires a transaction")
	}
	// Two-key form so partitions never contend with each other.
	_, err := r.gw.Exec(ctx, p,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		p.String(), nationalID)
	if err != nil {
		return apperror.Storage("patient.lock_national_id", err)
	}
	return nil
}

func (r *patientRepoPG) Update(ctx context.Context, p db.Partition, pt *Patient) error {
	pt.UpdatedAt = time.Now().UTC()
	tag, err := r.gw.Exec(ctx, p, `
		UPDATE {{partition}}.patients SET
			national_id = $2, full_name = $3, phone = NULLIF($4, ''), email = NULLIF($5, ''),
			date_of_birth = NULLIF($6, '')::date, gender = NULLIF($7, ''), department = NULLIF($8, ''),
			blood_group = NULLIF($9, ''), address = NULLIF($10, ''), emergency_contact = NULLIF($11, ''),
			patient_type = $12, updated_at = $13
		WHERE id = $1`,
		pt.ID, pt.NationalID, pt.FullName, pt.Phone, pt.Email,
		pt.DateOfBirth, pt.Gender, pt.Department,
		pt.BloodGroup, pt.Address, pt.EmergencyContact,
		pt.PatientType, pt.UpdatedAt)
	if err != nil {
		return apperror.Storage("patient.update", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("patient")
	}
	return nil
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (r *patientRepoPG) List(ctx context.Context, p db.Partition, f Filter) ([]*Patient, int, error) {
	var w where
	if f.Search != "" {
		w.add("(full_name ILIKE ? OR national_id LIKE ? OR phone LIKE ?)", "%"+f.Search+"%")
	}
	if f.NationalID != "" {
		w.add("national_id = ?", f.NationalID)
	}
	if f.Phone != "" {
		w.add("phone = ?", f.Phone)
	}
	if f.Department != "" {
		w.add("department = ?", f.Department)
	}

	var total int
	if err := r.gw.QueryRow(ctx, p, `SELECT COUNT(*) FROM {{partition}}.patients`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, apperror.Storage("patient.list", err)
	}

	n := len(w.args)
	args := append(w.args, f.Limit, f.Offset)
	rows, err := r.gw.Query(ctx, p,
		fmt.Sprintf(`SELECT `+patientCols+` FROM {{partition}}.patients%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			w.sql(), n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, apperror.Storage("patient.list", err)
	}
	defer rows.Close()

	patients := []*Patient{}
	for rows.Next() {
		pt, err := scanPatient(rows)
		if err != nil {
			return nil, 0, apperror.Storage("patient.list", err)
		}
		patients = append(patients, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.Storage("patient.list", err)
	}
	return patients, total, nil
}

func (r *patientRepoPG) Count(ctx context.Context, p db.Partition) (int, error) {
	var n int
	if err := r.gw.QueryRow(ctx, p, `SELECT COUNT(*) FROM {{partition}}.patients`).Scan(&n); err != nil {
		return 0, apperror.Storage("patient.count", err)
	}
	return n, nil
}

func (r *patientRepoPG) CreateCase(ctx context.Context, p db.Partition, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.gw.Exec(ctx, p, `
		INSERT INTO {{partition}}.cases (id, patient_id, diagnosis, notes, created_by, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		c.ID, c.PatientID, c.Diagnosis, c.Notes, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return apperror.Storage("patient.create_case", err)
	}
	return nil
}

func (r *patientRepoPG) ListCases(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*Case, error) {
	rows, err := r.gw.Query(ctx, p, `
		SELECT id, patient_id, diagnosis, COALESCE(notes, ''), created_by, created_at
		FROM {{partition}}.cases WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, apperror.Storage("patient.list_cases", err)
	}
	defer rows.Close()

	cases := []*Case{}
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.ID, &c.PatientID, &c.Diagnosis, &c.Notes, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, apperror.Storage("patient.list_cases", err)
		}
		cases = append(cases, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("patient.list_cases", err)
	}
	return cases, nil
}

func (r *patientRepoPG) CountCases(ctx context.Context, p db.Partition) (int, error) {
	var n int
	if err := r.gw.QueryRow(ctx, p, `SELECT COUNT(*) FROM {{partition}}.cases`).Scan(&n); err != nil {
		return 0, apperror.Storage("patient.count_cases", err)
	}
	return n, nil
}
