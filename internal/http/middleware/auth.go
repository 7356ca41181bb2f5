// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication and role authorization.
// Authenticate resolves the caller from an "Authorization: Bearer <jwt>"
// header and stores the user id and role in the Gin context; RequireUser and
// Authorize gate routes on that identity. Downstream code reads the caller
// with CurrentUserID and CurrentRole.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-movie-reviews/internal/auth"
)

// Context keys for the authenticated caller.
const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "role"
)

var authRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "moviereviews_http_auth_rejections_total",
		Help: "Requests rejected by authentication or authorization, by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authRejections)
}

// TokenParser verifies an access token and returns its claims.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Authorizer answers role permission checks.
type Authorizer interface {
	Allow(role, obj, act string) bool
}

// Authenticate parses the bearer token when one is present. Requests without
// an Authorization header pass through anonymously; a malformed or invalid
// token is rejected with 401 so clients notice expired credentials.
func Authenticate(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if h == "" {
			c.Next()
			return
		}
		scheme, tok, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
			reject(c, http.StatusUnauthorized, "unauthorized", "malformed Authorization header", "malformed")
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(tok))
		if err != nil {
			reject(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token", "invalid_token")
			return
		}
		c.Set(ctxKeyUserID, claims.UserID)
		c.Set(ctxKeyRole, claims.Role)
		c.Next()
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUserID(c) == "" {
			reject(c, http.StatusUnauthorized, "unauthorized", "authentication required", "anonymous")
			return
		}
		c.Next()
	}
}

// Authorize requires an authenticated caller whose role may perform act on
// obj. Anonymous callers get 401, authenticated ones without the grant 403.
func Authorize(p Authorizer, obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUserID(c) == "" {
			reject(c, http.StatusUnauthorized, "unauthorized", "authentication required", "anonymous")
			return
		}
		if !p.Allow(CurrentRole(c), obj, act) {
			reject(c, http.StatusForbidden, "forbidden", "insufficient permissions", "forbidden")
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id, or "" for anonymous
// requests.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// CurrentRole returns the authenticated caller's role, or "".
func CurrentRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// IsAdmin reports whether the caller holds the admin role.
func IsAdmin(c *gin.Context) bool {
	return CurrentRole(c) == auth.RoleAdmin
}

func reject(c *gin.Context, status int, code, msg, reason string) {
	authRejections.WithLabelValues(reason).Inc()
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
