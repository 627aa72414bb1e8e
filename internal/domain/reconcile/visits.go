package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/ehr/patientsheet/internal/domain/form"
	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

// VisitKeys names the visit table columns the reconciler relies on.
type VisitKeys struct {
	// LinkColumn holds the patient identifier a visit belongs to.
	LinkColumn string
	// DateColumn orders the history. Empty means the first column whose
	// label contains "date".
	DateColumn string
}

// DateColumnOf resolves the visit date column for a header.
func (k VisitKeys) DateColumnOf(header []string) string {
	if k.DateColumn != "" {
		for _, c := range header {
			if c == k.DateColumn {
				return c
			}
		}
	}
	for _, c := range header {
		if strings.Contains(strings.ToLower(c), "date") {
			return c
		}
	}
	return ""
}

// VisitsFor returns the visits linked to patientID, most recent first.
// Visits whose date cannot be parsed come last; ties keep table order.
// Visits pointing at unknown patients are simply never selected.
func VisitsFor(patientID string, visits []rowstore.Record, k VisitKeys) []rowstore.Record {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil
	}

	type dated struct {
		rec rowstore.Record
		at  time.Time
		ok  bool
	}
	var matched []dated
	for _, v := range visits {
		if !strings.EqualFold(strings.TrimSpace(v.Get(k.LinkColumn)), patientID) {
			continue
		}
		d := dated{rec: v}
		if col := k.DateColumnOf(v.Columns); col != "" {
			d.at, d.ok = form.ParseDate(v.Get(col))
		}
		matched = append(matched, d)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.ok != b.ok {
			return a.ok
		}
		if !a.ok {
			return false
		}
		return a.at.After(b.at)
	})

	out := make([]rowstore.Record, len(matched))
	for i, d := range matched {
		out[i] = d.rec
	}
	return out
}
