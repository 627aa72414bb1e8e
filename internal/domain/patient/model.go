package patient

import (
	"time"

	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

// Patient is a patient row with its resolved identity. ID may have been
// synthesized in memory when the stored row has none.
type Patient struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Record rowstore.Record `json:"record"`
}

// Visit is a visit row linked to a patient.
type Visit struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patient_id"`
	Date      string          `json:"date"`
	Record    rowstore.Record `json:"record"`
}

// PendingDelete is an unconfirmed patient delete.
type PendingDelete struct {
	PatientID string    `json:"patient_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	// Visits is the number of visit rows the delete will cascade to.
	Visits int `json:"visits"`
}

// DeleteResult reports what a confirmed delete removed.
type DeleteResult struct {
	PatientID   string `json:"patient_id"`
	PatientRows int    `json:"patient_rows"`
	VisitRows   int    `json:"visit_rows"`
}
