package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/domain/prescription"
	"github.com/ehr/medbridge/pkg/apperror"
)

// Patient types.
const (
	TypeOPD       = "OPD"
	TypeIPD       = "IPD"
	TypeEmergency = "EMERGENCY"
)

var ErrDuplicateNationalID = apperror.Conflict("duplicate_national_id",
	"a patient with this national id is already registered in this hospital")

func validType(t string) bool {
	switch t {
	case TypeOPD, TypeIPD, TypeEmergency:
		return true
	}
	return false
}

// Patient is a partition-local patient record. DateOfBirth is an ISO
// date (YYYY-MM-DD) or empty.
type Patient struct {
	ID               uuid.UUID `json:"id"`
	NationalID       string    `json:"national_id"`
	FullName         string    `json:"full_name"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	DateOfBirth      string    `json:"date_of_birth,omitempty"`
	Gender           string    `json:"gender,omitempty"`
	Department       string    `json:"department,omitempty"`
	BloodGroup       string    `json:"blood_group,omitempty"`
	Address          string    `json:"address,omitempty"`
	EmergencyContact string    `json:"emergency_contact,omitempty"`
	PatientType      string    `json:"patient_type"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Case is one clinical encounter note for a patient.
type Case struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Diagnosis string     `json:"diagnosis"`
	Notes     string     `json:"notes,omitempty"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Detail is a patient with its cases and prescriptions.
type Detail struct {
	*Patient
	Cases         []*Case                      `json:"cases"`
	Prescriptions []*prescription.Prescription `json:"prescriptions"`
}

type CreateInput struct {
	NationalID       string `json:"national_id" validate:"required,nationalid"`
	FullName         string `json:"full_name" validate:"required"`
	Phone            string `json:"phone"`
	Email            string `json:"email" validate:"omitempty,email"`
	DateOfBirth      string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Gender           string `json:"gender"`
	Department       string `json:"department"`
	BloodGroup       string `json:"blood_group"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergency_contact"`
	PatientType      string `json:"patient_type" validate:"omitempty,oneof=OPD IPD EMERGENCY"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	NationalID       *string `json:"national_id" validate:"omitempty,nationalid"`
	FullName         *string `json:"full_name"`
	Phone            *string `json:"phone"`
	Email            *string `json:"email" validate:"omitempty,email"`
	DateOfBirth      *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Gender           *string `json:"gender"`
	Department       *string `json:"department"`
	BloodGroup       *string `json:"blood_group"`
	Address          *string `json:"address"`
	EmergencyContact *string `json:"emergency_contact"`
	PatientType      *string `json:"patient_type" validate:"omitempty,oneof=OPD IPD EMERGENCY"`
}

func (pt Patch) apply(p *Patient) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.NationalID, pt.NationalID)
	set(&p.FullName, pt.FullName)
	set(&p.Phone, pt.Phone)
	set(&p.Email, pt.Email)
	set(&p.DateOfBirth, pt.DateOfBirth)
	set(&p.Gender, pt.Gender)
	set(&p.Department, pt.Department)
	set(&p.BloodGroup, pt.BloodGroup)
	set(&p.Address, pt.Address)
	set(&p.EmergencyContact, pt.EmergencyContact)
	set(&p.PatientType, pt.PatientType)
}

type CaseInput struct {
	Diagnosis string `json:"diagnosis" validate:"required"`
	Notes     string `json:"notes"`
}

// Filter narrows a patient listing. Search matches name, national id or
// phone by substring.
type Filter struct {
	Search     string
	NationalID string
	Phone      string
	Department string
	Limit      int
	Offset     int
}
