package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func limitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func requestFrom(e *echo.Echo, ip string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		c, rec := requestFrom(e, "10.0.0.1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		c, _ := requestFrom(e, "10.0.0.1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	c, rec := requestFrom(e, "10.0.0.1")
	err := handler(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}

	retry, perr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if perr != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", got)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	e := echo.New()
	handler := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	c, _ := requestFrom(e, "10.0.0.1")
	if err := handler(c); err != nil {
		t.Fatal(err)
	}
	c, _ = requestFrom(e, "10.0.0.1")
	if err := handler(c); err == nil {
		t.Fatal("expected second request from the same client to be limited")
	}
	c, _ = requestFrom(e, "10.0.0.2")
	if err := handler(c); err != nil {
		t.Errorf("expected other client to pass, got %v", err)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	e := echo.New()
	handler := limitedHandler(RateLimitConfig{})

	for i := 0; i < 100; i++ {
		c, _ := requestFrom(e, "10.0.0.1")
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no limit, got %v", i+1, err)
		}
	}
}

func TestLimiterStore_EvictsIdleClients(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	start := time.Now()

	s.get("a", start)
	s.get("b", start.Add(30*time.Second))
	s.get("c", start.Add(90*time.Second))

	if _, ok := s.clients["a"]; ok {
		t.Error("expected idle client a to be evicted")
	}
	if _, ok := s.clients["b"]; !ok {
		t.Error("expected recent client b to be kept")
	}
}
