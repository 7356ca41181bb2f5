// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the access logger. Every request is logged once at
// completion with status, latency and sizes; credentials and personal data
// never reach the log:
//
//   - Authorization, Cookie, Set-Cookie and any configured header are
//     replaced by "[REDACTED]".
//   - Emails and JWT-shaped strings inside the query string and the remaining
//     headers are masked.
//
// Entity ids (UUIDs) are kept: they carry no personal data and are what an
// operator searches for when tracing a movie or review through the logs.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders lists extra header names (case-insensitive) to mask.
	MaskHeaders []string
	// SkipPaths are routes that are not logged (e.g. /health, /metrics).
	SkipPaths []string
}

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	jwtRE   = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`)
)

func redact(s string) string {
	if s == "" {
		return s
	}
	s = jwtRE.ReplaceAllString(s, "[REDACTED:token]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// RedactingLogger emits one structured access log line per request. The
// level follows the outcome: error for 5xx or collected gin errors, warn for
// 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if _, ok := skip[path]; ok {
			return
		}
		if path == "" {
			path = c.Request.URL.Path
		}

		headers := zerolog.Dict()
		for k, vv := range c.Request.Header {
			if _, ok := mask[strings.ToLower(k)]; ok {
				headers.Str(k, "[REDACTED]")
				continue
			}
			headers.Str(k, redact(strings.Join(vv, ", ")))
		}

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = log.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}

		ev.
			Str("request_id", c.GetString(requestIDKey)).
			Str("user_id", CurrentUserID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", headers).
			Msg("http_request")
	}
}
