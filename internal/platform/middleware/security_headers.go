package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiCSP  = "default-src 'none'; frame-ancestors 'none'"
	pageCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"
)

// SecurityHeaders sets hardening headers on every response. JSON routes
// under apiPrefix get a CSP that loads nothing; pages may load their own
// inline styles and post forms back to this site.
func SecurityHeaders(apiPrefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")
			h.Set("Referrer-Policy", "same-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			// Responses carry patient data.
			h.Set("Cache-Control", "no-store")

			if strings.HasPrefix(c.Request().URL.Path, apiPrefix) {
				h.Set("Content-Security-Policy", apiCSP)
			} else {
				h.Set("Content-Security-Policy", pageCSP)
			}
			return next(c)
		}
	}
}
