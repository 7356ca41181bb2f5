// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and rate
// limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/docs"
	"github.com/tbourn/go-movie-reviews/internal/auth"
	"github.com/tbourn/go-movie-reviews/internal/config"
	"github.com/tbourn/go-movie-reviews/internal/http/handlers"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// App is the set of collaborators the HTTP layer serves.
type App struct {
	Tokens    middleware.TokenParser
	Policy    middleware.Authorizer
	Users     handlers.UserService
	Movies    handlers.MovieService
	Reviews   handlers.ReviewService
	Watchlist handlers.WatchlistService
}

// NewApp builds the services over db. Mutations go through m so their
// events reach the aggregators.
func NewApp(db *gorm.DB, tokens *auth.TokenManager, m *services.Mutator) (App, error) {
	policy, err := auth.NewPolicy()
	if err != nil {
		return App{}, err
	}
	return App{
		Tokens:    tokens,
		Policy:    policy,
		Users:     services.NewUserService(db, tokens),
		Movies:    services.NewMovieService(db),
		Reviews:   services.NewReviewService(db, m),
		Watchlist: services.NewWatchlistService(db, m),
	}, nil
}

// idempotencyShim adapts the repository free functions to the
// handlers.IdempotencyStore interface.
type idempotencyShim struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency; expired or missing records are misses.
func (s idempotencyShim) Lookup(ctx context.Context, userID, scope, key string) (string, bool) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, time.Now().UTC())
	if err != nil || rec == nil {
		return "", false
	}
	return rec.ResourceID, true
}

// Remember proxies repo.CreateIdempotency.
func (s idempotencyShim) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) {
	if _, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl); err != nil {
		log.Warn().Err(err).Str("scope", scope).Msg("idempotency record not stored")
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, then mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics, then gzip
//  7. CORS and security headers (so auth failures stay readable cross-origin)
//  8. Authenticate: resolve the bearer token, if any
//  9. Idempotency validator (after auth, before rate limiting to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, app App) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.Use(middleware.Authenticate(app.Tokens))
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200, Scope: handlers.IdempotencyScope},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(handlers.Deps{
		Users:       app.Users,
		Movies:      app.Movies,
		Reviews:     app.Reviews,
		Watchlist:   app.Watchlist,
		Idempotency: idempotencyShim{db: db, ttl: cfg.IdempotencyTTL},
	})
	mountAPI(groupWithPrefix(r, cfg.APIBasePath), h, app.Policy)
}

// mountAPI registers the public endpoints on api.
func mountAPI(api *gin.RouterGroup, h *handlers.Handlers, p middleware.Authorizer) {
	user := middleware.RequireUser()
	allow := func(obj, act string) gin.HandlerFunc { return middleware.Authorize(p, obj, act) }

	// Auth: credentials and tokens must never be cached
	authGroup := api.Group("/auth", middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.GET("/me", user, h.Me)
	}

	// Users
	api.GET("/users", allow(auth.ObjUsers, auth.ActManage), h.ListUsers)
	api.GET("/users/top-reviewers", h.TopReviewers)
	api.GET("/users/search", h.SearchUsers)
	api.PUT("/users/me", allow(auth.ObjUsers, auth.ActWrite), h.UpdateProfile)
	api.GET("/users/:id", h.GetProfile)
	api.PATCH("/users/:id/status", allow(auth.ObjUsers, auth.ActManage), h.SetUserActive)
	api.GET("/users/:id/reviews", h.UserReviews)
	api.GET("/users/:id/reviews/stats", h.UserReviewStats)

	// Movies
	api.GET("/movies", h.ListMovies)
	api.GET("/movies/featured", h.FeaturedMovies)
	api.GET("/movies/genres", h.Genres)
	api.GET("/movies/:id", h.GetMovie)
	api.POST("/movies", allow(auth.ObjMovies, auth.ActWrite), h.CreateMovie)
	api.PUT("/movies/:id", allow(auth.ObjMovies, auth.ActWrite), h.UpdateMovie)
	api.DELETE("/movies/:id", allow(auth.ObjMovies, auth.ActWrite), h.DeleteMovie)

	// Reviews
	api.GET("/movies/:id/reviews", h.ListMovieReviews)
	api.POST("/movies/:id/reviews", allow(auth.ObjReviews, auth.ActWrite), h.SubmitReview)
	api.GET("/reviews/stats", h.ReviewStats)
	api.GET("/reviews/:id", h.GetReview)
	api.PUT("/reviews/:id", allow(auth.ObjReviews, auth.ActWrite), h.UpdateReview)
	api.DELETE("/reviews/:id", allow(auth.ObjReviews, auth.ActWrite), h.DeleteReview)
	api.POST("/reviews/:id/flag", allow(auth.ObjReviews, auth.ActWrite), h.FlagReview)
	api.POST("/reviews/:id/helpful", allow(auth.ObjReviews, auth.ActWrite), h.MarkHelpful)
	api.POST("/reviews/:id/not-helpful", allow(auth.ObjReviews, auth.ActWrite), h.MarkNotHelpful)
	api.PUT("/reviews/:id/moderation", allow(auth.ObjReviews, auth.ActModerate), h.ModerateReview)

	// Watchlist
	api.GET("/watchlist/popular", h.PopularWatchlisted)
	wl := api.Group("/watchlist", allow(auth.ObjWatchlist, auth.ActWrite))
	{
		wl.GET("", h.ListWatchlist)
		wl.GET("/stats", h.WatchlistStats)
		wl.POST("/:id", h.AddToWatchlist)
		wl.PUT("/:id", h.UpdateWatchlist)
		wl.DELETE("/:id", h.RemoveFromWatchlist)
		wl.POST("/:id/watched", h.MarkWatched)
		wl.GET("/:id/check", h.CheckWatchlist)
	}
}

// useCORS installs the CORS posture: any origin without credentials when no
// allowlist is configured, otherwise only the listed origins.
func useCORS(r *gin.Engine, origins []string) {
	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		// ACAO: * even without an Origin header, for simple clients and health checks.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		cc.AllowAllOrigins = true
		r.Use(cors.New(cc))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	cc.AllowOrigins = origins
	r.Use(cors.New(cc))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
