package reconcile

import (
	"sort"
	"strings"

	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

// Cascade is the outcome of deleting one patient.
type Cascade struct {
	Patients []rowstore.Record
	Visits   []rowstore.Record
	// Row numbers to remove from the store, highest first so that each
	// positional delete leaves the remaining numbers valid.
	PatientRows []int
	VisitRows   []int
}

// DeletePatient removes every patient row with identity patientID and every
// visit linked to it. Nothing else is checked.
func DeletePatient(patientID string, patients, visits []rowstore.Record, k Keys, vk VisitKeys) Cascade {
	patientID = strings.TrimSpace(patientID)
	var c Cascade

	for _, p := range patients {
		if patientID != "" && k.Identity(p) == patientID {
			c.PatientRows = append(c.PatientRows, p.Row)
			continue
		}
		c.Patients = append(c.Patients, p)
	}
	for _, v := range visits {
		if patientID != "" && strings.EqualFold(strings.TrimSpace(v.Get(vk.LinkColumn)), patientID) {
			c.VisitRows = append(c.VisitRows, v.Row)
			continue
		}
		c.Visits = append(c.Visits, v)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(c.PatientRows)))
	sort.Sort(sort.Reverse(sort.IntSlice(c.VisitRows)))
	return c
}
