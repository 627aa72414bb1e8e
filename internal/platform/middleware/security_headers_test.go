package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func headersFor(t *testing.T, path string) http.Header {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), rec)

	h := SecurityHeaders("/api/")(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec.Header()
}

func TestSecurityHeaders_SetsCommonHeaders(t *testing.T) {
	h := headersFor(t, "/api/v1/patients")

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "0",
		"Referrer-Policy":        "same-origin",
		"Permissions-Policy":     "camera=(), microphone=(), geolocation=()",
		"Cache-Control":          "no-store",
	}
	for header, want := range expected {
		if got := h.Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
}

func TestSecurityHeaders_CSPByRoute(t *testing.T) {
	if got := headersFor(t, "/api/v1/patients").Get("Content-Security-Policy"); got != apiCSP {
		t.Errorf("api CSP: got %q", got)
	}
	if got := headersFor(t, "/patients/P0001").Get("Content-Security-Policy"); got != pageCSP {
		t.Errorf("page CSP: got %q", got)
	}
}
