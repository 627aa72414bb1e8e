package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one line per request. Server errors log at error level,
// client errors at warn, the rest at info.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Let echo write the response now so the logged status is final.
				c.Error(err)
			}

			status := c.Response().Status
			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = logger.Error().Err(err)
			case status >= http.StatusBadRequest:
				evt = logger.Warn()
				if err != nil {
					evt = evt.Str("error", err.Error())
				}
			default:
				evt = logger.Info()
			}

			evt.
				Str("request_id", RequestIDFrom(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}
