// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods. It
// validates an Idempotency-Key request header, optionally asks a lookup
// whether the same (user, scope, key) already completed, and annotates the
// request context so downstream handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served
//
// The middleware never serves a stored payload itself; handlers decide how
// to answer a replay.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether a completed request with the same key exists.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope names the resource a request targets. Requests with an empty
	// scope skip the lookup. Nil uses the :id path parameter.
	Scope func(*gin.Context) string
}

// IdempotencyLookup reports whether a still-valid result exists for
// (userID, scope, key) at now. TTL is enforced by the implementation. Errors
// never block the request.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator returns a Gin middleware that validates the
// Idempotency-Key header and flags retries of completed requests.
//
// Behavior:
//   - No header: the request passes through untouched.
//   - Key longer than MaxLen or outside Pattern: 400 bad_idempotency_key,
//     and the handler never runs.
//   - Valid key: stored in the context for GetIdempotencyKey.
//   - Valid key, authenticated caller, non-empty scope, and lookup reports a
//     stored result: the request is marked IsReplay and exempted from rate
//     limiting, since answering it writes nothing.
//
// Anonymous requests keep the key but are never looked up: records belong
// to a user. Lookup errors count as a miss, so a storage outage degrades to
// executing the request rather than failing it.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = func(c *gin.Context) string { return c.Param("id") }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid, scope := CurrentUserID(c), scopeOf(c)
		if lookup != nil && uid != "" && scope != "" {
			if exists, _ := lookup(c.Request.Context(), uid, scope, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
