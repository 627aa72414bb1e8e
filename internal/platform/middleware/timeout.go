package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Store calls that
// run past it fail with context.DeadlineExceeded, which is answered with 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
			}
			var he *echo.HTTPError
			if errors.As(err, &he) && he.Code == http.StatusInternalServerError && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
			}
			return err
		}
	}
}
