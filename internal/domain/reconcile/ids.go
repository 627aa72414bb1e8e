package reconcile

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

// Scheme describes identifiers of the form prefix + zero-padded number.
type Scheme struct {
	Prefix string
	Width  int
}

// Format renders n under the scheme.
func (s Scheme) Format(n int) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.Width, n)
}

// Sequence returns the numeric part of id, or false when id does not follow
// the scheme.
func (s Scheme) Sequence(id string) (int, bool) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, s.Prefix) {
		return 0, false
	}
	digits := id[len(s.Prefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MaxSequence is the highest sequence among existing ids under the scheme.
func MaxSequence(existing []string, s Scheme) int {
	highest := 0
	for _, id := range existing {
		if n, ok := s.Sequence(id); ok && n > highest {
			highest = n
		}
	}
	return highest
}

// NewIdentifier returns the id after the highest one in existing. Gaps left
// by deleted rows are never filled.
func NewIdentifier(existing []string, s Scheme) string {
	return s.Format(MaxSequence(existing, s) + 1)
}

// nameSpace seeds identifiers derived from patient names.
var nameSpace = uuid.MustParse("5b0e2f6c-8d3a-4c1e-9f47-2a6d1c8e3b90")

// NameIdentifier derives a stable identifier from a case-folded name. It
// carries the scheme prefix but a hex suffix, so Sequence never counts it
// and it cannot collide with an issued id.
func NameIdentifier(name string, s Scheme) string {
	folded := strings.ToLower(strings.TrimSpace(name))
	if folded == "" {
		return ""
	}
	u := uuid.NewSHA1(nameSpace, []byte(folded))
	return s.Prefix + "-" + hex.EncodeToString(u[:5])
}

// Backfill gives every patient row without an identifier one in memory,
// derived from its name. The id does not depend on row position, so it
// survives deletes and other processes compute the same one. Rows sharing a
// name share the id, and rows with neither id nor name are left as they are.
// Stored rows are untouched.
func Backfill(patients []rowstore.Record, k Keys, s Scheme) []rowstore.Record {
	out := make([]rowstore.Record, len(patients))
	for i, p := range patients {
		out[i] = p
		if strings.TrimSpace(p.Get(k.IDColumn)) != "" {
			continue
		}
		if id := NameIdentifier(p.Get(k.NameColumn), s); id != "" {
			out[i] = p.With(k.IDColumn, id)
		}
	}
	return out
}
