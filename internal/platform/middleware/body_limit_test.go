package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10MB", 10 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
	}

	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader("Full+Name=Asha"))
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if string(b) != "Full+Name=Asha" {
			t.Errorf("unexpected body %q", b)
		}
		return nil
	}

	if err := BodyLimit("1K")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(strings.Repeat("a", 2048)))
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := BodyLimit("1K")(func(c echo.Context) error {
		called = true
		return nil
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
	if called {
		t.Error("handler must not run")
	}
}

func TestBodyLimit_RejectsWithoutContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(strings.Repeat("a", 2048)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit("1K")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 while reading, got %v", err)
	}
}
