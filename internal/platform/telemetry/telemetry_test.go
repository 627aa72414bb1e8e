package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsheet/internal/platform/rowstore"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5})
	for _, v := range []float64{0.5, 3, 4, 9} {
		h.Observe(v)
	}

	if h.Count() != 4 {
		t.Errorf("expected count 4, got %d", h.Count())
	}
	if h.Sum() != 16.5 {
		t.Errorf("expected sum 16.5, got %g", h.Sum())
	}
	cum := h.cumulativeBuckets()
	if cum[0] != 1 || cum[1] != 3 {
		t.Errorf("unexpected cumulative buckets %v", cum)
	}
}

func TestLabels(t *testing.T) {
	got := labels([]string{"method", "route", "status_code"}, labelsKey("GET", "/patients/:id", "200"))
	want := `method="GET",route="/patients/:id",status_code="200"`
	if got != want {
		t.Errorf("labels() = %s, want %s", got, want)
	}
}

func TestInstrumentStore_CountsOutcomes(t *testing.T) {
	m := New()
	s := m.InstrumentStore(rowstore.NewMemory())
	ctx := context.Background()

	if err := s.EnsureTable(ctx, "Patients", []string{"Patient ID", "Full Name"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendRow(ctx, "Patients", []string{"P0001", "Asha Rao"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FetchAll(ctx, "Visits"); err == nil {
		t.Fatal("expected missing table error")
	}

	if n := m.StoreOps("Patients", "append_row", "ok"); n != 1 {
		t.Errorf("expected 1 append, got %d", n)
	}
	if n := m.StoreOps("Visits", "fetch_all", "error"); n != 1 {
		t.Errorf("expected 1 failed fetch, got %d", n)
	}
}

func TestHandler_ExposesSeries(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/patients/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})
	e.GET("/metrics", m.Handler())

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/patients/P0001", nil))
	_, _ = m.InstrumentStore(rowstore.NewMemory()).Header(context.Background(), "Patients")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`http_server_request_duration_seconds_count{method="GET",route="/patients/:id",status_code="404"} 1`,
		`rowstore_operations_total{table="Patients",operation="header",outcome="error"} 1`,
		`rowstore_operation_duration_seconds_count{operation="header"} 1`,
		"http_server_active_requests 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %q\n%s", want, body)
		}
	}
}
