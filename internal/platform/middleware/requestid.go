package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	maxRequestIDLen = 128
)

// RequestID tags every request with the caller's X-Request-ID or a new
// UUID, and echoes it back on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" || len(rid) > maxRequestIDLen {
				rid = uuid.NewString()
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// RequestIDFrom returns the id RequestID stored on c, or "".
func RequestIDFrom(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
