package patient

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeleteNotPending means there is no pending delete for the patient
	// or the confirmation token does not match it.
	ErrDeleteNotPending = errors.New("no delete pending for patient")
	ErrDeleteExpired    = errors.New("delete confirmation expired")
)

// deletions tracks unconfirmed deletes per patient. A patient moves from
// idle to pending on request and back to idle on confirm, cancel or expiry.
type deletions struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]PendingDelete
}

func newDeletions(timeout time.Duration) *deletions {
	return &deletions{timeout: timeout, pending: make(map[string]PendingDelete)}
}

// request opens a pending delete, replacing any earlier one for the patient.
func (d *deletions) request(patientID string, visits int, now time.Time) PendingDelete {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune(now)
	p := PendingDelete{
		PatientID: patientID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(d.timeout),
		Visits:    visits,
	}
	d.pending[patientID] = p
	return p
}

// check reports whether token confirms the pending delete without
// consuming it.
func (d *deletions) check(patientID, token string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.validate(patientID, token, now)
}

// take consumes the pending delete when token confirms it.
func (d *deletions) take(patientID, token string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.validate(patientID, token, now); err != nil {
		return err
	}
	delete(d.pending, patientID)
	return nil
}

// validate drops an expired entry on the way. Callers hold mu.
func (d *deletions) validate(patientID, token string, now time.Time) error {
	p, ok := d.pending[patientID]
	if !ok || token == "" || p.Token != token {
		return ErrDeleteNotPending
	}
	if !now.Before(p.ExpiresAt) {
		delete(d.pending, patientID)
		return ErrDeleteExpired
	}
	return nil
}

func (d *deletions) cancel(patientID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pending[patientID]
	delete(d.pending, patientID)
	return ok
}

func (d *deletions) get(patientID string, now time.Time) (PendingDelete, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[patientID]
	if !ok || !now.Before(p.ExpiresAt) {
		return PendingDelete{}, false
	}
	return p, true
}

// prune drops expired entries. Callers hold mu.
func (d *deletions) prune(now time.Time) {
	for id, p := range d.pending {
		if !now.Before(p.ExpiresAt) {
			delete(d.pending, id)
		}
	}
}
