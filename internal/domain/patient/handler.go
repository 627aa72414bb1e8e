package patient

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsheet/internal/domain/form"
	"github.com/ehr/patientsheet/internal/platform/rowstore"
	"github.com/ehr/patientsheet/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RowRequest is the body of a row append. Columns is the header the form
// was rendered with; it may be omitted to write against the live header.
type RowRequest struct {
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

type ConfirmDeleteRequest struct {
	Token string `json:"token"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/form", h.PatientForm)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patients/:id/visits", h.ListVisits)
	api.GET("/patients/:id/visits/form", h.VisitForm)
	api.POST("/patients/:id/visits", h.CreateVisit)

	api.POST("/patients/:id/delete-request", h.RequestDelete)
	api.DELETE("/patients/:id/delete-request", h.CancelDelete)
	api.POST("/patients/:id/delete-confirm", h.ConfirmDelete)
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, page(c, patients))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PatientForm(c echo.Context) error {
	plan, err := h.svc.PatientForm(c.Request().Context())
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req RowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.AddPatient(c.Request().Context(), req.Columns, req.Values)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListVisits(c echo.Context) error {
	visits, err := h.svc.PatientVisits(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, page(c, visits))
}

func (h *Handler) VisitForm(c echo.Context) error {
	plan, err := h.svc.VisitForm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var req RowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AddVisit(c.Request().Context(), c.Param("id"), req.Columns, req.Values)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) RequestDelete(c echo.Context) error {
	p, err := h.svc.RequestDelete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusAccepted, p)
}

func (h *Handler) CancelDelete(c echo.Context) error {
	if err := h.svc.CancelDelete(c.Param("id")); err != nil {
		return HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ConfirmDelete(c echo.Context) error {
	var req ConfirmDeleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.ConfirmDelete(c.Request().Context(), c.Param("id"), req.Token)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// HTTPError maps service and store errors to HTTP responses.
func HTTPError(err error) *echo.HTTPError {
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "invalid input",
			"fields":  verr.Fields,
		})
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, rowstore.ErrColumnMismatch),
		errors.Is(err, ErrDeleteNotPending),
		errors.Is(err, ErrDeleteExpired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, rowstore.ErrStoreUnavailable),
		errors.Is(err, rowstore.ErrTableNotFound):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// page cuts a full listing down to the requested window.
func page[T any](c echo.Context, items []T) *pagination.Response {
	p := pagination.FromContext(c)
	resp := pagination.NewResponse(pagination.Slice(items, p), len(items), p)
	resp.Links = p.Links(c.Request().URL.Path, c.QueryParams(), len(items))
	return resp
}
