package patient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientsheet/internal/config"
	"github.com/ehr/patientsheet/internal/domain/form"
	"github.com/ehr/patientsheet/internal/domain/reconcile"
	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

var ErrPatientNotFound = errors.New("patient not found")

// Service reads and writes the patient and visit tables of a row store.
type Service struct {
	store   rowstore.Store
	layout  config.Layout
	logger  zerolog.Logger
	now     func() time.Time
	ids     *issuer
	deletes *deletions

	// Serializes read-modify-write sequences within this process.
	writeMu sync.Mutex
}

func NewService(store rowstore.Store, layout config.Layout, deleteTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		layout:  layout,
		logger:  logger.With().Str("component", "patient").Logger(),
		now:     time.Now,
		ids:     newIssuer(),
		deletes: newDeletions(deleteTimeout),
	}
}

func (s *Service) Layout() config.Layout {
	return s.layout
}

// EnsureTables creates missing tables with the layout headers. Existing
// headers are left as they are.
func (s *Service) EnsureTables(ctx context.Context) error {
	if err := s.store.EnsureTable(ctx, s.layout.Patients.Name, s.layout.Patients.Header); err != nil {
		return fmt.Errorf("ensure patient table: %w", err)
	}
	if err := s.store.EnsureTable(ctx, s.layout.Visits.Name, s.layout.Visits.Header); err != nil {
		return fmt.Errorf("ensure visit table: %w", err)
	}
	return nil
}

// Check reads the patient table header to verify the store answers.
func (s *Service) Check(ctx context.Context) error {
	_, err := s.store.Header(ctx, s.layout.Patients.Name)
	return err
}

// -- Patients --

func (s *Service) ListPatients(ctx context.Context, search string) ([]Patient, error) {
	recs, err := s.loadPatients(ctx)
	if err != nil {
		return nil, err
	}
	listed := reconcile.ListPatients(recs, search, s.patientKeys())
	out := make([]Patient, len(listed))
	for i, r := range listed {
		out[i] = s.toPatient(r)
	}
	return out, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	recs, err := s.loadPatients(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := reconcile.FindPatient(recs, id, s.patientKeys())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	p := s.toPatient(r)
	return &p, nil
}

// PatientForm returns the input plan for a new patient row, laid out on the
// live header.
func (s *Service) PatientForm(ctx context.Context) (*form.Plan, error) {
	t := s.layout.Patients
	header, err := s.store.Header(ctx, t.Name)
	if err != nil {
		return nil, fmt.Errorf("read patient header: %w", err)
	}
	recs, err := s.loadPatients(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	fixed := timestampValues(header, now)
	if hasColumn(header, t.IDColumn) {
		fixed[t.IDColumn] = s.ids.next(values(recs, t.IDColumn), s.patientScheme())
	}
	return form.Build(header, form.Context{Fixed: fixed, Now: now}), nil
}

// AddPatient appends a patient row. When columns is non-nil it must equal
// the live header, or the write is rejected with a column mismatch.
func (s *Service) AddPatient(ctx context.Context, columns []string, inputs map[string]string) (*Patient, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	t := s.layout.Patients
	header, err := s.store.Header(ctx, t.Name)
	if err != nil {
		return nil, fmt.Errorf("read patient header: %w", err)
	}
	if columns != nil && !rowstore.SameHeader(columns, header) {
		return nil, &rowstore.ColumnMismatchError{Table: t.Name, Expected: columns, Actual: header}
	}
	recs, err := s.loadPatients(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fixed := timestampValues(header, now)
	var id string
	if hasColumn(header, t.IDColumn) {
		id = s.ids.next(values(recs, t.IDColumn), s.patientScheme())
		fixed[t.IDColumn] = id
	}
	sub, err := form.Build(header, form.Context{Fixed: fixed, Now: now}).Submit(inputs)
	if err != nil {
		return nil, err
	}
	if err := rowstore.AppendChecked(ctx, s.store, t.Name, header, sub.Values); err != nil {
		return nil, fmt.Errorf("append patient: %w", err)
	}
	s.ids.commit(id, s.patientScheme())

	rec := rowstore.NewRecord(len(recs)+1, header, sub.Values)
	if id == "" {
		rec = reconcile.Backfill([]rowstore.Record{rec}, s.patientKeys(), s.patientScheme())[0]
	}
	p := s.toPatient(rec)
	s.logger.Info().Str("patient_id", p.ID).Int("row", rec.Row).Msg("patient added")
	return &p, nil
}

// -- Visits --

// PatientVisits returns the visits of a patient, most recent first.
func (s *Service) PatientVisits(ctx context.Context, patientID string) ([]Visit, error) {
	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.FetchAll(ctx, s.layout.Visits.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch visits: %w", err)
	}
	matched := reconcile.VisitsFor(p.ID, recs, s.visitKeys())
	out := make([]Visit, len(matched))
	for i, r := range matched {
		out[i] = s.toVisit(r)
	}
	return out, nil
}

// VisitForm returns the input plan for a new visit of patientID. The link
// and name columns are locked to the patient.
func (s *Service) VisitForm(ctx context.Context, patientID string) (*form.Plan, error) {
	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	header, err := s.store.Header(ctx, s.layout.Visits.Name)
	if err != nil {
		return nil, fmt.Errorf("read visit header: %w", err)
	}
	recs, err := s.store.FetchAll(ctx, s.layout.Visits.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch visits: %w", err)
	}
	now := s.now()
	fixed := s.visitFixed(header, p, now)
	if hasColumn(header, s.layout.Visits.IDColumn) {
		fixed[s.layout.Visits.IDColumn] = s.ids.next(values(recs, s.layout.Visits.IDColumn), s.visitScheme())
	}
	return form.Build(header, form.Context{Fixed: fixed, Now: now}), nil
}

// AddVisit appends a visit row for patientID. columns follows the same rule
// as in AddPatient.
func (s *Service) AddVisit(ctx context.Context, patientID string, columns []string, inputs map[string]string) (*Visit, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	t := s.layout.Visits
	header, err := s.store.Header(ctx, t.Name)
	if err != nil {
		return nil, fmt.Errorf("read visit header: %w", err)
	}
	if columns != nil && !rowstore.SameHeader(columns, header) {
		return nil, &rowstore.ColumnMismatchError{Table: t.Name, Expected: columns, Actual: header}
	}
	recs, err := s.store.FetchAll(ctx, t.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch visits: %w", err)
	}

	now := s.now()
	fixed := s.visitFixed(header, p, now)
	var id string
	if hasColumn(header, t.IDColumn) {
		id = s.ids.next(values(recs, t.IDColumn), s.visitScheme())
		fixed[t.IDColumn] = id
	}
	sub, err := form.Build(header, form.Context{Fixed: fixed, Now: now}).Submit(inputs)
	if err != nil {
		return nil, err
	}
	if err := rowstore.AppendChecked(ctx, s.store, t.Name, header, sub.Values); err != nil {
		return nil, fmt.Errorf("append visit: %w", err)
	}
	s.ids.commit(id, s.visitScheme())

	v := s.toVisit(rowstore.NewRecord(len(recs)+1, header, sub.Values))
	s.logger.Info().Str("patient_id", p.ID).Str("visit_id", v.ID).Msg("visit added")
	return &v, nil
}

// -- Delete --

// RequestDelete opens a pending delete for the patient. It must be confirmed
// with the returned token before the confirmation timeout.
func (s *Service) RequestDelete(ctx context.Context, patientID string) (*PendingDelete, error) {
	visits, err := s.PatientVisits(ctx, patientID)
	if err != nil {
		return nil, err
	}
	p := s.deletes.request(patientID, len(visits), s.now())
	s.logger.Info().Str("patient_id", patientID).Time("expires_at", p.ExpiresAt).Msg("delete requested")
	return &p, nil
}

// PendingDelete returns the open delete for the patient, if any.
func (s *Service) PendingDelete(patientID string) (PendingDelete, bool) {
	return s.deletes.get(patientID, s.now())
}

// CancelDelete drops the pending delete for the patient.
func (s *Service) CancelDelete(patientID string) error {
	if !s.deletes.cancel(patientID) {
		return ErrDeleteNotPending
	}
	return nil
}

// ConfirmDelete removes the patient and every visit linked to it. Rows are
// removed highest first, visits before the patient.
func (s *Service) ConfirmDelete(ctx context.Context, patientID, token string) (*DeleteResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.deletes.check(patientID, token, s.now()); err != nil {
		return nil, err
	}

	// Row numbers must come from the live tables, not a cached snapshot
	// another process may have shifted since.
	s.invalidate(ctx, s.layout.Patients.Name)
	s.invalidate(ctx, s.layout.Visits.Name)
	patients, err := s.loadPatients(ctx)
	if err != nil {
		return nil, err
	}
	visits, err := s.store.FetchAll(ctx, s.layout.Visits.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch visits: %w", err)
	}
	if err := s.deletes.take(patientID, token, s.now()); err != nil {
		return nil, err
	}
	c := reconcile.DeletePatient(patientID, patients, visits, s.patientKeys(), s.visitKeys())
	if len(c.PatientRows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}

	s.ids.observe(values(patients, s.layout.Patients.IDColumn), s.patientScheme())
	s.ids.observe(values(visits, s.layout.Visits.IDColumn), s.visitScheme())

	res := &DeleteResult{PatientID: patientID}
	for _, row := range c.VisitRows {
		if err := s.store.DeleteRow(ctx, s.layout.Visits.Name, row); err != nil {
			return res, fmt.Errorf("delete visit row %d: %w", row, err)
		}
		res.VisitRows++
	}
	for _, row := range c.PatientRows {
		if err := s.store.DeleteRow(ctx, s.layout.Patients.Name, row); err != nil {
			return res, fmt.Errorf("delete patient row %d: %w", row, err)
		}
		res.PatientRows++
	}

	s.logger.Info().
		Str("patient_id", patientID).
		Int("patient_rows", res.PatientRows).
		Int("visit_rows", res.VisitRows).
		Msg("patient deleted")
	return res, nil
}

// -- helpers --

// invalidator is implemented by stores that keep table snapshots.
type invalidator interface {
	Invalidate(ctx context.Context, table string)
}

func (s *Service) invalidate(ctx context.Context, table string) {
	if inv, ok := s.store.(invalidator); ok {
		inv.Invalidate(ctx, table)
	}
}

func (s *Service) loadPatients(ctx context.Context) ([]rowstore.Record, error) {
	recs, err := s.store.FetchAll(ctx, s.layout.Patients.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch patients: %w", err)
	}
	return reconcile.Backfill(recs, s.patientKeys(), s.patientScheme()), nil
}

func (s *Service) visitFixed(header []string, p *Patient, now time.Time) map[string]string {
	fixed := timestampValues(header, now)
	t := s.layout.Visits
	if hasColumn(header, t.PatientColumn) {
		fixed[t.PatientColumn] = p.ID
	}
	if t.NameColumn != "" && hasColumn(header, t.NameColumn) {
		fixed[t.NameColumn] = p.Name
	}
	return fixed
}

func (s *Service) toPatient(r rowstore.Record) Patient {
	return Patient{
		ID:     s.patientKeys().Identity(r),
		Name:   r.Get(s.layout.Patients.NameColumn),
		Record: r,
	}
}

func (s *Service) toVisit(r rowstore.Record) Visit {
	k := s.visitKeys()
	v := Visit{
		ID:        r.Get(s.layout.Visits.IDColumn),
		PatientID: r.Get(k.LinkColumn),
		Record:    r,
	}
	if col := k.DateColumnOf(r.Columns); col != "" {
		v.Date = r.Get(col)
	}
	return v
}

func (s *Service) patientKeys() reconcile.Keys {
	return reconcile.Keys{IDColumn: s.layout.Patients.IDColumn, NameColumn: s.layout.Patients.NameColumn}
}

func (s *Service) visitKeys() reconcile.VisitKeys {
	return reconcile.VisitKeys{LinkColumn: s.layout.Visits.PatientColumn, DateColumn: s.layout.Visits.DateColumn}
}

func (s *Service) patientScheme() reconcile.Scheme {
	return reconcile.Scheme{Prefix: s.layout.Patients.IDPrefix, Width: s.layout.Patients.IDWidth}
}

func (s *Service) visitScheme() reconcile.Scheme {
	return reconcile.Scheme{Prefix: s.layout.Visits.IDPrefix, Width: s.layout.Visits.IDWidth}
}

// timestampValues locks every timestamp column to now.
func timestampValues(header []string, now time.Time) map[string]string {
	fixed := make(map[string]string)
	for _, col := range header {
		if form.IsTimestamp(col) {
			fixed[col] = now.Format(form.TimestampLayout)
		}
	}
	return fixed
}

func hasColumn(header []string, col string) bool {
	if col == "" {
		return false
	}
	for _, c := range header {
		if c == col {
			return true
		}
	}
	return false
}

func values(recs []rowstore.Record, col string) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if v := r.Get(col); v != "" {
			out = append(out, v)
		}
	}
	return out
}
