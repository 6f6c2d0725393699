package registry

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medbridge/internal/platform/db"
)

// Entry links a national id to one partition-local patient record. It
// carries display fields only, never clinical data.
type Entry struct {
	ID         uuid.UUID    `json:"id"`
	NationalID string       `json:"national_id"`
	Partition  db.Partition `json:"partition"`
	PatientID  uuid.UUID    `json:"patient_id"`
	FullName   string       `json:"full_name"`
	Phone      string       `json:"phone,omitempty"`
	Email      string       `json:"email,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ContactAddress returns where consent codes for this entry are sent:
// the email when present, otherwise the phone.
func (e *Entry) ContactAddress() string {
	if e.Email != "" {
		return e.Email
	}
	return e.Phone
}

// ValidNationalID reports whether s is exactly 12 ASCII digits.
func ValidNationalID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
