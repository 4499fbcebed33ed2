package middleware

import (
	"github.com/labstack/echo/v4"
)

// ResponseSecurityHeaders is the canonical security header set for an API
// serving PHI. The middleware below applies it to every response, and the
// evaluator's header-compliance phase scores recommendations against the
// same set, so the two can never drift apart.
func ResponseSecurityHeaders() map[string]string {
	return map[string]string{
		// Prevent MIME type sniffing.
		"X-Content-Type-Options": "nosniff",

		// Prevent clickjacking.
		"X-Frame-Options": "DENY",

		// Disable the legacy browser XSS filter; Content-Security-Policy
		// is the mechanism that matters.
		"X-XSS-Protection": "0",

		// Strict CSP for a JSON API: deny all resource loading and frame
		// embedding.
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",

		// HTTP Strict Transport Security, 1 year including subdomains.
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",

		// Do not leak request paths to downstream services.
		"Referrer-Policy": "no-referrer",

		// Disable browser features an API does not need.
		"Permissions-Policy": "camera=(), microphone=(), geolocation=()",

		// Verdicts and audit summaries must never be cached.
		"Cache-Control": "no-store",
	}
}

// SecurityHeaders returns middleware that sets the canonical security
// header set on every response.
func SecurityHeaders() echo.MiddlewareFunc {
	headers := ResponseSecurityHeaders()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for name, value := range headers {
				h.Set(name, value)
			}
			return next(c)
		}
	}
}
