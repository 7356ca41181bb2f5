// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which attaches a fixed set of response
// headers suited to a JSON API sitting behind a reverse proxy.
//
// Design notes:
//   - No Content-Security-Policy: the API never serves HTML
//   - HSTS is opt-in and sent only on requests that arrived over HTTPS,
//     either directly or as reported by the proxy in X-Forwarded-Proto
//   - NoStore is meant for route groups that return credentials (the auth
//     endpoints), not for catalog reads, which rely on ETags instead
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions toggles the optional headers emitted by SecurityHeaders.
//
// HSTSMaxAge is the Strict-Transport-Security lifetime. Zero or negative
// values fall back to 180 days.
//
// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
// Only browsers act on them; other clients ignore them.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store
	EnablePolicy bool          // Permissions-Policy and cross-domain policy
}

// SecurityHeaders returns a Gin middleware that sets security headers before
// the handler runs, so they are present on error responses too.
//
// Behavior:
//   - Always sets:
//     X-Content-Type-Options: nosniff
//     X-Frame-Options: DENY
//     Referrer-Policy: no-referrer
//   - When EnablePolicy:
//     Permissions-Policy: geolocation=(), microphone=(), camera=(), payment=()
//     X-Permitted-Cross-Domain-Policies: none
//   - When NoStore:
//     Cache-Control: no-store
//     Pragma: no-cache
//   - When EnableHSTS and the request is HTTPS:
//     Strict-Transport-Security: max-age=<seconds>; includeSubDomains
//
// The HSTS value is computed once at construction.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int64(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int64((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.FormatInt(maxAge, 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// isHTTPS trusts X-Forwarded-Proto; deployments must strip it at the edge.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
