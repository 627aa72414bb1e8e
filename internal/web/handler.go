package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patientsheet/internal/domain/form"
	"github.com/ehr/patientsheet/internal/domain/patient"
	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

// summaryColumns are shown on the patient header card when present.
var summaryColumns = []string{"Age (in years)", "Sex"}

type Handler struct {
	svc    *patient.Service
	logger zerolog.Logger
}

func NewHandler(svc *patient.Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.POST("/theme", h.Theme)
	e.POST("/patients", h.AddPatient)
	e.GET("/patients/:id", h.ShowPatient)
	e.POST("/patients/:id/visits", h.AddVisit)
	e.POST("/patients/:id/delete", h.RequestDelete)
	e.POST("/patients/:id/delete/confirm", h.ConfirmDelete)
	e.POST("/patients/:id/delete/cancel", h.CancelDelete)
}

type page struct {
	State   UIState
	Path    string
	Message string
	Error   string
}

type formView struct {
	Plan   *form.Plan
	Errors map[string]string
}

type listPage struct {
	page
	Patients []patient.Patient
	Form     formView
	FormOpen bool
}

type labeled struct {
	Label string
	Value string
}

type visitCard struct {
	Title  string
	Fields []labeled
}

type patientPage struct {
	page
	Patient *patient.Patient
	Summary []labeled
	Visits  []visitCard
	Form    formView
}

func (h *Handler) newPage(c echo.Context) page {
	return page{
		State:   StateFromRequest(c),
		Path:    c.Request().URL.RequestURI(),
		Message: c.QueryParam("msg"),
	}
}

// Index renders the patient list. ?patient=<id> links from older bookmarks
// are forwarded to the patient page.
func (h *Handler) Index(c echo.Context) error {
	if id := strings.TrimSpace(c.QueryParam("patient")); id != "" {
		return c.Redirect(http.StatusSeeOther, "/patients/"+url.PathEscape(id))
	}
	data := &listPage{page: h.newPage(c)}
	return h.renderList(c, data, http.StatusOK, nil)
}

func (h *Handler) renderList(c echo.Context, data *listPage, status int, inputs map[string]string) error {
	ctx := c.Request().Context()

	patients, err := h.svc.ListPatients(ctx, data.State.Search)
	if err != nil {
		return h.fail(c, "list", data, &data.page, err)
	}
	data.Patients = patients

	plan, err := h.svc.PatientForm(ctx)
	if err != nil {
		return h.fail(c, "list", data, &data.page, err)
	}
	data.Form.Plan = withInputs(plan, inputs)
	return h.render(c, status, "list", data)
}

func (h *Handler) AddPatient(c echo.Context) error {
	columns, inputs, err := formInputs(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.AddPatient(c.Request().Context(), columns, inputs)
	if err != nil {
		data := &listPage{page: h.newPage(c), FormOpen: true}
		data.Path = "/"
		data.Error, data.Form.Errors = describe(err)
		return h.renderList(c, data, patient.HTTPError(err).Code, inputs)
	}
	return c.Redirect(http.StatusSeeOther, "/patients/"+url.PathEscape(p.ID)+"?msg="+url.QueryEscape("Patient added."))
}

func (h *Handler) ShowPatient(c echo.Context) error {
	data := &patientPage{page: h.newPage(c)}
	return h.renderPatient(c, data, http.StatusOK, nil)
}

func (h *Handler) renderPatient(c echo.Context, data *patientPage, status int, inputs map[string]string) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	p, err := h.svc.GetPatient(ctx, id)
	if errors.Is(err, patient.ErrPatientNotFound) {
		data.Error = "No records found for this patient."
		return h.render(c, http.StatusNotFound, "patient", data)
	}
	if err != nil {
		return h.fail(c, "patient", data, &data.page, err)
	}
	data.Patient = p
	data.Summary = summary(p, h.svc.Layout().Patients.NameColumn)
	if pd, ok := h.svc.PendingDelete(p.ID); ok {
		data.State.PendingDelete = &pd
	}

	visits, err := h.svc.PatientVisits(ctx, p.ID)
	if err != nil {
		return h.fail(c, "patient", data, &data.page, err)
	}
	skip := h.svc.Layout().Visits.NameColumn
	data.Visits = make([]visitCard, len(visits))
	for i, v := range visits {
		data.Visits[i] = card(v, skip)
	}

	plan, err := h.svc.VisitForm(ctx, p.ID)
	if err != nil {
		return h.fail(c, "patient", data, &data.page, err)
	}
	data.Form.Plan = withInputs(plan, inputs)
	return h.render(c, status, "patient", data)
}

func (h *Handler) AddVisit(c echo.Context) error {
	id := c.Param("id")
	columns, inputs, err := formInputs(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := h.svc.AddVisit(c.Request().Context(), id, columns, inputs); err != nil {
		data := &patientPage{page: h.newPage(c)}
		data.Path = "/patients/" + url.PathEscape(id)
		data.Error, data.Form.Errors = describe(err)
		return h.renderPatient(c, data, patient.HTTPError(err).Code, inputs)
	}
	return c.Redirect(http.StatusSeeOther, "/patients/"+url.PathEscape(id)+"?msg="+url.QueryEscape("Visit added."))
}

func (h *Handler) RequestDelete(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.svc.RequestDelete(c.Request().Context(), id); err != nil {
		return h.patientError(c, id, err)
	}
	return c.Redirect(http.StatusSeeOther, "/patients/"+url.PathEscape(id))
}

func (h *Handler) ConfirmDelete(c echo.Context) error {
	id := c.Param("id")
	res, err := h.svc.ConfirmDelete(c.Request().Context(), id, c.FormValue("token"))
	if err != nil {
		return h.patientError(c, id, err)
	}
	msg := "Patient deleted."
	if res.VisitRows > 0 {
		msg = "Patient and their visits deleted."
	}
	return c.Redirect(http.StatusSeeOther, "/?msg="+url.QueryEscape(msg))
}

func (h *Handler) CancelDelete(c echo.Context) error {
	id := c.Param("id")
	// Nothing pending is already the state the viewer asked for.
	_ = h.svc.CancelDelete(id)
	return c.Redirect(http.StatusSeeOther, "/patients/"+url.PathEscape(id))
}

func (h *Handler) Theme(c echo.Context) error {
	on := c.FormValue("dark") == "true"
	setDarkMode(c, on)
	return c.Redirect(http.StatusSeeOther, localPath(c.FormValue("next")))
}

func (h *Handler) patientError(c echo.Context, id string, err error) error {
	data := &patientPage{page: h.newPage(c)}
	data.Path = "/patients/" + url.PathEscape(id)
	data.Error, _ = describe(err)
	return h.renderPatient(c, data, patient.HTTPError(err).Code, nil)
}

// fail renders the page with only the error message, for failures that
// leave nothing else to show.
func (h *Handler) fail(c echo.Context, name string, data interface{}, p *page, err error) error {
	h.logger.Error().Err(err).Str("page", name).Msg("page load failed")
	p.Error, _ = describe(err)
	return h.render(c, patient.HTTPError(err).Code, name, data)
}

func (h *Handler) render(c echo.Context, status int, name string, data interface{}) error {
	if err := c.Render(status, name, data); err != nil {
		h.logger.Error().Err(err).Str("page", name).Msg("render failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "render failed")
	}
	return nil
}

// describe turns an error into the page message and per-field messages.
func describe(err error) (string, map[string]string) {
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Some fields could not be saved. Please correct them and try again.", verr.Fields
	case errors.Is(err, rowstore.ErrColumnMismatch):
		return "The table columns changed while you were editing. The form has been refreshed; please submit again.", nil
	case errors.Is(err, patient.ErrDeleteExpired):
		return "The delete confirmation expired. Nothing was deleted.", nil
	case errors.Is(err, patient.ErrDeleteNotPending):
		return "There is no pending delete to confirm. Nothing was deleted.", nil
	case errors.Is(err, rowstore.ErrStoreUnavailable), errors.Is(err, rowstore.ErrTableNotFound):
		return "The record store is unavailable: " + err.Error(), nil
	}
	return "Write failed: " + err.Error(), nil
}

// Posted forms keep column values under fieldPrefix so that no column label
// can collide with columnsKey.
const (
	fieldPrefix = "field."
	columnsKey  = "columns"
)

// formInputs splits a posted form into the columns it was rendered with and
// the submitted values.
func formInputs(c echo.Context) ([]string, map[string]string, error) {
	params, err := c.FormParams()
	if err != nil {
		return nil, nil, err
	}
	columns := params[columnsKey]
	inputs := make(map[string]string, len(params))
	for k, v := range params {
		col, ok := strings.CutPrefix(k, fieldPrefix)
		if !ok || len(v) == 0 {
			continue
		}
		inputs[col] = v[0]
	}
	return columns, inputs, nil
}

// withInputs carries submitted values back into a re-rendered plan.
func withInputs(plan *form.Plan, inputs map[string]string) *form.Plan {
	if len(inputs) == 0 {
		return plan
	}
	for i, f := range plan.Fields {
		if f.ReadOnly {
			continue
		}
		v, ok := inputs[f.Column]
		switch {
		case f.Widget.Kind == form.Checkbox && ok:
			plan.Fields[i].Value = form.CheckedValue
		case f.Widget.Kind == form.Checkbox:
			plan.Fields[i].Value = ""
		case ok:
			plan.Fields[i].Value = v
		}
	}
	return plan
}

func summary(p *patient.Patient, nameColumn string) []labeled {
	var out []labeled
	for _, col := range append([]string{nameColumn}, summaryColumns...) {
		if p.Record.Has(col) {
			out = append(out, labeled{Label: col, Value: p.Record.Get(col)})
		}
	}
	return out
}

func card(v patient.Visit, skip string) visitCard {
	c := visitCard{Title: "Visit"}
	if v.Date != "" {
		c.Title = "Visit • " + v.Date
	}
	for i, col := range v.Record.Columns {
		if col == skip || i >= len(v.Record.Values) {
			continue
		}
		if val := strings.TrimSpace(v.Record.Values[i]); val != "" {
			c.Fields = append(c.Fields, labeled{Label: col, Value: val})
		}
	}
	return c
}
