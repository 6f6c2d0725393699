package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Prescription is a header with its medicine lines. It lives in one
// partition and belongs to one patient.
type Prescription struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	Diagnosis string     `json:"diagnosis,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Items     []*Item    `json:"items"`
}

// Item is one medicine line of a prescription.
type Item struct {
	ID             uuid.UUID `json:"id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	MedicineName   string    `json:"medicine_name"`
	Dosage         string    `json:"dosage,omitempty"`
	Frequency      string    `json:"frequency,omitempty"`
	Duration       string    `json:"duration,omitempty"`
	Instructions   string    `json:"instructions,omitempty"`
}

// Input is the body of create and update requests.
type Input struct {
	Diagnosis string      `json:"diagnosis"`
	Notes     string      `json:"notes"`
	Items     []ItemInput `json:"items" validate:"required,min=1,dive"`
}

type ItemInput struct {
	MedicineName string `json:"medicine_name" validate:"required"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}
