// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request correlation ID, panic recovery, and the
// request-scoped logger:
//
//   - RequestID() ensures every request carries a stable correlation ID
//     (propagated via X-Request-ID and stored in the Gin context).
//   - Recovery() converts panics into JSON 500 responses while preserving the
//     correlation ID and emitting a stack trace to logs.
//   - LoggerFrom() returns a zerolog.Logger tagged with the request and
//     caller ids, for handlers that log on their own.
//
// Order them RequestID(), RedactingLogger(), Recovery() so panics are
// logged with the correlation ID.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
	// maxRequestIDLength bounds client-supplied correlation ids.
	maxRequestIDLength = 128
)

// RequestID reuses the incoming X-Request-ID (when short enough) or
// generates a UUIDv4, echoes it in the response, and stores it in the
// context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500:
//
//	{ "request_id": "...", "code": "internal_error", "message": "internal server error" }
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := c.GetString(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", rid).
					Str("path", c.Request.URL.Path).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, rid)
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": rid,
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the global logger enriched with the request id, the
// caller's user id (when authenticated), and the matched route.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	lc := log.With().Str("request_id", c.GetString(requestIDKey))
	if uid := CurrentUserID(c); uid != "" {
		lc = lc.Str("user_id", uid)
	}
	if p := c.FullPath(); p != "" {
		lc = lc.Str("route", p)
	}
	l := lc.Logger()
	return &l
}

// truncate returns s unchanged when within max bytes, otherwise the first
// max bytes followed by an ellipsis. A max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
