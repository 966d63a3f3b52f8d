package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets security response headers on every request. Form
// markup is served for embedding in the EHR, so frameAncestors lists the
// origins allowed to frame it; with none, framing is denied.
func SecurityHeaders(frameAncestors ...string) echo.MiddlewareFunc {
	ancestors := "'none'"
	if len(frameAncestors) > 0 {
		ancestors = "'self' " + strings.Join(frameAncestors, " ")
	}
	csp := "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; " +
		"object-src 'none'; base-uri 'none'; form-action 'self'; frame-ancestors " + ancestors

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Prevent MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			if len(frameAncestors) == 0 {
				h.Set("X-Frame-Options", "DENY")
			}

			h.Set("X-XSS-Protection", "0")
			h.Set("Content-Security-Policy", csp)
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Responses carry patient values.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
