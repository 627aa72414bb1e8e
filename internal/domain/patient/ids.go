package patient

import (
	"sync"

	"github.com/ehr/patientsheet/internal/domain/reconcile"
)

// issuer hands out identifiers above a per-prefix high-water mark that only
// grows for the life of the process, so ids of deleted rows stay retired.
type issuer struct {
	mu   sync.Mutex
	high map[string]int
}

func newIssuer() *issuer {
	return &issuer{high: make(map[string]int)}
}

// observe raises the mark to the highest id in existing.
func (i *issuer) observe(existing []string, s reconcile.Scheme) {
	n := reconcile.MaxSequence(existing, s)
	i.mu.Lock()
	defer i.mu.Unlock()
	if n > i.high[s.Prefix] {
		i.high[s.Prefix] = n
	}
}

// next returns the id that would be issued now without reserving it.
func (i *issuer) next(existing []string, s reconcile.Scheme) string {
	i.observe(existing, s)
	i.mu.Lock()
	defer i.mu.Unlock()
	return s.Format(i.high[s.Prefix] + 1)
}

// commit records id as issued.
func (i *issuer) commit(id string, s reconcile.Scheme) {
	n, ok := s.Sequence(id)
	if !ok {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if n > i.high[s.Prefix] {
		i.high[s.Prefix] = n
	}
}
