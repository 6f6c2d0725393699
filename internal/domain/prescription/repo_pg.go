package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type prescriptionRepoPG struct {
	gw *db.Gateway
}

func NewRepo(gw *db.Gateway) Repository {
	return &prescriptionRepoPG{gw: gw}
}

const headerColumns = `id, patient_id, doctor_id, COALESCE(diagnosis, ''), COALESCE(notes, ''), created_at`

func (r *prescriptionRepoPG) Create(ctx context.Context, p db.Partition, rx *Prescription) error {
	if rx.ID == uuid.Nil {
		rx.ID = uuid.New()
	}
	if rx.CreatedAt.IsZero() {
		rx.CreatedAt = time.Now().UTC()
	}
	_, err := r.gw.Exec(ctx, p, `
		INSERT INTO {{partition}}.prescriptions (id, patient_id, doctor_id, diagnosis, notes, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
		rx.ID, rx.PatientID, rx.DoctorID, rx.Diagnosis, rx.Notes, rx.CreatedAt)
	if err != nil {
		return apperror.Storage("prescription.create", err)
	}
	return nil
}

func (r *prescriptionRepoPG) AddItem(ctx context.Context, p db.Partition, item *Item) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	_, err := r.gw.Exec(ctx, p, `
		INSERT INTO {{partition}}.prescription_items
			(id, prescription_id, medicine_name, dosage, frequency, duration, instructions)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`,
		item.ID, item.PrescriptionID, item.MedicineName, item.Dosage, item.Frequency, item.Duration, item.Instructions)
	if err != nil {
		return apperror.Storage("prescription.add_item", err)
	}
	return nil
}

func scanHeader(row interface{ Scan(...interface{}) error }) (*Prescription, error) {
	var rx Prescription
	if err := row.Scan(&rx.ID, &rx.PatientID, &rx.DoctorID, &rx.Diagnosis, &rx.Notes, &rx.CreatedAt); err != nil {
		return nil, err
	}
	rx.Items = []*Item{}
	return &rx, nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, p db.Partition, id uuid.UUID) (*Prescription, error) {
	rx, err := scanHeader(r.gw.QueryRow(ctx, p,
		`SELECT `+headerColumns+` FROM {{partition}}.prescriptions WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("prescription")
		}
		return nil, apperror.Storage("prescription.get", err)
	}
	if err := r.loadItems(ctx, p, []*Prescription{rx}); err != nil {
		return nil, err
	}
	return rx, nil
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, p db.Partition, patientID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.gw.Query(ctx, p,
		`SELECT `+headerColumns+` FROM {{partition}}.prescriptions WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, apperror.Storage("prescription.list", err)
	}
	defer rows.Close()

	out := []*Prescription{}
	for rows.Next() {
		rx, err := scanHeader(rows)
		if err != nil {
			return nil, apperror.Storage("prescription.list", err)
		}
		out = append(out, rx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("prescription.list", err)
	}
	rows.Close()

	if err := r.loadItems(ctx, p, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *prescriptionRepoPG) loadItems(ctx context.Context, p db.Partition, rxs []*Prescription) error {
	if len(rxs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(rxs))
	byID := make(map[uuid.UUID]*Prescription, len(rxs))
	for i, rx := range rxs {
		ids[i] = rx.ID
		byID[rx.ID] = rx
	}

	rows, err := r.gw.Query(ctx, p, `
		SELECT id, prescription_id, medicine_name, COALESCE(dosage, ''), COALESCE(frequency, ''),
			COALESCE(duration, ''), COALESCE(instructions, '')
		FROM {{partition}}.prescription_items
		WHERE prescription_id = ANY($1)
		ORDER BY medicine_name, id`, ids)
	if err != nil {
		return apperror.Storage("prescription.items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.MedicineName, &it.Dosage, &it.Frequency, &it.Duration, &it.Instructions); err != nil {
			return apperror.Storage("prescription.items", err)
		}
		if rx, ok := byID[it.PrescriptionID]; ok {
			rx.Items = append(rx.Items, &it)
		}
	}
	if err := rows.Err(); err != nil {
		return apperror.Storage("prescription.items", err)
	}
	return nil
}

func (r *prescriptionRepoPG) UpdateHeader(ctx context.Context, p db.Partition, rx *Prescription) error {
	tag, err := r.gw.Exec(ctx, p,
		`UPDATE {{partition}}.prescriptions SET diagnosis = NULLIF($2, ''), notes = NULLIF($3, '') WHERE id = $1`,
		rx.ID, rx.Diagnosis, rx.Notes)
	if err != nil {
		return apperror.Storage("prescription.update", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("prescription")
	}
	return nil
}

func (r *prescriptionRepoPG) DeleteItems(ctx context.Context, p db.Partition, prescriptionID uuid.UUID) error {
	if _, err := r.gw.Exec(ctx, p,
		`DELETE FROM {{partition}}.prescription_items WHERE prescription_id = $1`, prescriptionID); err != nil {
		return apperror.Storage("prescription.delete_items", err)
	}
	return nil
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, p db.Partition, id uuid.UUID) error {
	tag, err := r.gw.Exec(ctx, p, `DELETE FROM {{partition}}.prescriptions WHERE id = $1`, id)
	if err != nil {
		return apperror.Storage("prescription.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("prescription")
	}
	return nil
}

func (r *prescriptionRepoPG) Count(ctx context.Context, p db.Partition) (int, error) {
	var n int
	if err := r.gw.QueryRow(ctx, p, `SELECT COUNT(*) FROM {{partition}}.prescriptions`).Scan(&n); err != nil {
		return 0, apperror.Storage("prescription.count", err)
	}
	return n, nil
}
