package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/domain/consent"
	"github.com/ehr/medbridge/internal/domain/patient"
	"github.com/ehr/medbridge/internal/domain/prescription"
	"github.com/ehr/medbridge/internal/domain/transfer"
)

// seedSource creates a patient with two cases and one prescription at h.
func seedSource(t *testing.T, e *env, h hospital) *patient.Patient {
	t.Helper()
	ctx := context.Background()
	pt, err := e.patients.Create(ctx, h.partition(), patient.CreateInput{
		NationalID: uniqueNationalID(),
		FullName:   "Asha Rao",
		Email:      "asha@example.test",
		Phone:      "9876543210",
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	for _, dx := range []string{"Hypertension", "Type 2 diabetes"} {
		if _, err := e.patients.AddCase(ctx, h.partition(), h.doctor, pt.ID, patient.CaseInput{Diagnosis: dx}); err != nil {
			t.Fatalf("add case: %v", err)
		}
	}
	if _, err := e.rx.Create(ctx, h.partition(), pt.ID, h.doctor.UserID, prescription.Input{
		Diagnosis: "Hypertension",
		Items: []prescription.ItemInput{
			{MedicineName: "Amlodipine", Dosage: "5mg", Frequency: "OD"},
			{MedicineName: "Metformin", Dosage: "500mg", Frequency: "BD"},
		},
	}); err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	return pt
}

// requestCode finds the source entry from dest and requests a code for it.
func requestCode(t *testing.T, e *env, dest hospital, nationalID string) (uuid.UUID, string) {
	t.Helper()
	ctx := context.Background()
	matches, err := e.transfers.Search(ctx, dest.partition(), nationalID)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	req, err := e.transfers.RequestConsent(ctx, dest.doctor, dest.partition(), matches[0].EntryID)
	if err != nil {
		t.Fatalf("request consent: %v", err)
	}
	if req.DemoCode == "" {
		t.Fatal("expected demo code echo")
	}
	return matches[0].EntryID, req.DemoCode
}

func TestTransfer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	city := e.provisionHospital(t, "City Hospital")
	general := e.provisionHospital(t, "General Hospital")
	src := seedSource(t, e, city)

	entryID, code := requestCode(t, e, general, src.NationalID)
	e.dispatcher.Wait()
	calls := e.notifier.Calls()
	if len(calls) != 1 || calls[0].To != "asha@example.test" {
		t.Fatalf("expected one code sent to the patient email, got %+v", calls)
	}

	newID, err := e.transfers.Submit(ctx, general.doctor, transfer.Submission{
		EntryID:              entryID,
		Code:                 code,
		IncludePrescriptions: true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if newID == src.ID {
		t.Error("transferred patient should get a new id")
	}

	detail, err := e.patients.Get(ctx, general.partition(), general.doctor, newID)
	if err != nil {
		t.Fatalf("get transferred patient: %v", err)
	}
	if detail.NationalID != src.NationalID || detail.FullName != src.FullName {
		t.Errorf("demographics not copied: %+v", detail.Patient)
	}
	if len(detail.Cases) != 2 {
		t.Errorf("expected 2 cases, got %d", len(detail.Cases))
	}
	if len(detail.Prescriptions) != 1 || len(detail.Prescriptions[0].Items) != 2 {
		t.Errorf("expected 1 prescription with 2 items, got %+v", detail.Prescriptions)
	}

	// The source record is untouched.
	if n := e.countRows(t, city.partition(), "patients"); n != 1 {
		t.Errorf("expected source partition to keep 1 patient, got %d", n)
	}

	entries, err := e.index.FindByNationalID(ctx, src.NationalID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected index entries at both hospitals, got %d", len(entries))
	}

	_, err = e.transfers.Submit(ctx, general.doctor, transfer.Submission{EntryID: entryID, Code: code})
	if !errors.Is(err, consent.ErrTokenAlreadyUsed) {
		t.Errorf("expected reused code to be rejected, got %v", err)
	}
}

func TestTransfer_WithoutPrescriptions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	city := e.provisionHospital(t, "City Hospital")
	general := e.provisionHospital(t, "General Hospital")
	src := seedSource(t, e, city)

	entryID, code := requestCode(t, e, general, src.NationalID)
	if _, err := e.transfers.Submit(ctx, general.doctor, transfer.Submission{EntryID: entryID, Code: code}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := e.countRows(t, general.partition(), "cases"); n != 2 {
		t.Errorf("expected 2 cases, got %d", n)
	}
	if n := e.countRows(t, general.partition(), "prescriptions"); n != 0 {
		t.Errorf("expected no prescriptions, got %d", n)
	}
}

func TestTransfer_WrongCodeLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	city := e.provisionHospital(t, "City Hospital")
	general := e.provisionHospital(t, "General Hospital")
	src := seedSource(t, e, city)

	entryID, code := requestCode(t, e, general, src.NationalID)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := e.transfers.Submit(ctx, general.doctor, transfer.Submission{EntryID: entryID, Code: wrong})
	if !errors.Is(err, consent.ErrTokenMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	for _, table := range []string{"patients", "cases", "prescriptions"} {
		if n := e.countRows(t, general.partition(), table); n != 0 {
			t.Errorf("expected no %s at destination, got %d", table, n)
		}
	}

	// The real code is still usable.
	if _, err := e.transfers.Submit(ctx, general.doctor, transfer.Submission{EntryID: entryID, Code: code}); err != nil {
		t.Fatalf("submit with correct code: %v", err)
	}
}

func TestTransfer_OwnRecordRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	city := e.provisionHospital(t, "City Hospital")
	src := seedSource(t, e, city)

	matches, err := e.transfers.Search(ctx, city.partition(), src.NationalID)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("own records should not be offered for transfer, got %d", len(matches))
	}

	entries, err := e.index.FindByNationalID(ctx, src.NationalID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("find: %v (%d entries)", err, len(entries))
	}
	_, err = e.transfers.RequestConsent(ctx, city.doctor, city.partition(), entries[0].ID)
	if !errors.Is(err, transfer.ErrSamePartition) {
		t.Errorf("expected same partition rejection, got %v", err)
	}
}
