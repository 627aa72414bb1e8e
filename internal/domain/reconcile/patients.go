// Package reconcile turns raw patient and visit rows into the lists the
// application shows: deduplicated patients, per-patient visit history, new
// identifiers and cascading deletes. Every function is pure; callers pass in
// the snapshots they fetched.
package reconcile

import (
	"sort"
	"strings"

	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

// Keys names the patient table columns the reconciler relies on.
type Keys struct {
	IDColumn   string
	NameColumn string
}

// Identity is the key a patient is deduplicated and linked by: its
// identifier, or its case-folded name when the row has none.
func (k Keys) Identity(r rowstore.Record) string {
	if id := strings.TrimSpace(r.Get(k.IDColumn)); id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(r.Get(k.NameColumn)))
}

// ListPatients returns the patients matching search, one per identity.
// Matching is a case-insensitive substring test over every value; an empty
// search matches all. Results are ordered by name when the table has a name
// column and otherwise keep table order.
func ListPatients(patients []rowstore.Record, search string, k Keys) []rowstore.Record {
	search = strings.TrimSpace(search)

	seen := make(map[string]bool, len(patients))
	out := make([]rowstore.Record, 0, len(patients))
	for _, p := range patients {
		if search != "" && !p.Contains(search) {
			continue
		}
		key := k.Identity(p)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}

	if len(out) > 0 && k.NameColumn != "" && out[0].Has(k.NameColumn) {
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Get(k.NameColumn)) < strings.ToLower(out[j].Get(k.NameColumn))
		})
	}
	return out
}

// FindPatient returns the first patient whose identity equals id.
func FindPatient(patients []rowstore.Record, id string, k Keys) (rowstore.Record, bool) {
	id = strings.TrimSpace(id)
	for _, p := range patients {
		if k.Identity(p) == id {
			return p, true
		}
	}
	// Name identities are case-folded.
	folded := strings.ToLower(id)
	for _, p := range patients {
		if strings.TrimSpace(p.Get(k.IDColumn)) == "" && k.Identity(p) == folded {
			return p, true
		}
	}
	return rowstore.Record{}, false
}
