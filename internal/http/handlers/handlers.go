// Package handlers exposes the REST endpoints for accounts, movies, reviews
// and watchlists.
//
// Handlers are transport-thin: they bind and normalize inputs, resolve the
// caller from the auth middleware, delegate to the services, and translate
// results into HTTP responses (including conditional and replayed ones).
// Every business rule lives in the services.
package handlers

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService covers registration, login and account views.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
	Profile(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, patch services.ProfilePatch) (*domain.User, error)
	List(ctx context.Context, actor services.Actor, status, search string, page, pageSize int) ([]domain.User, int64, error)
	SetActive(ctx context.Context, actor services.Actor, userID string, active bool) (*domain.User, error)
	Reviews(ctx context.Context, userID, sortBy string, page, pageSize int) ([]domain.Review, int64, error)
	ReviewStats(ctx context.Context, userID string) (*services.ReviewStats, error)
	TopReviewers(ctx context.Context, limit int) ([]domain.User, error)
	Search(ctx context.Context, query string, page, pageSize int) ([]domain.User, int64, error)
}

// MovieService covers the catalog.
type MovieService interface {
	Create(ctx context.Context, actor services.Actor, in services.MovieInput) (*domain.Movie, error)
	Update(ctx context.Context, actor services.Actor, id string, patch services.MoviePatch) (*domain.Movie, error)
	Deactivate(ctx context.Context, actor services.Actor, id string) error
	List(ctx context.Context, f repo.MovieFilter, page, pageSize int) ([]domain.Movie, int64, error)
	Featured(ctx context.Context) (*services.Featured, error)
	Detail(ctx context.Context, id, viewerID string) (*services.MovieDetail, error)
	Genres() []string
}

// ReviewService covers the review lifecycle.
type ReviewService interface {
	Submit(ctx context.Context, actor services.Actor, movieID string, in services.ReviewInput) (*domain.Review, error)
	Update(ctx context.Context, actor services.Actor, reviewID string, patch services.ReviewPatch) (*domain.Review, error)
	Delete(ctx context.Context, actor services.Actor, reviewID string) error
	Flag(ctx context.Context, actor services.Actor, reviewID, reason string) (*domain.Review, error)
	MarkHelpful(ctx context.Context, actor services.Actor, reviewID string) (*domain.Review, error)
	MarkNotHelpful(ctx context.Context, actor services.Actor, reviewID string) (*domain.Review, error)
	Moderate(ctx context.Context, actor services.Actor, reviewID string, in services.ModerationInput) (*domain.Review, error)
	Get(ctx context.Context, actor services.Actor, reviewID string) (*domain.Review, error)
	ListForMovie(ctx context.Context, movieID string, f repo.ReviewFilter, page, pageSize int) ([]domain.Review, int64, error)
	MovieReviewsStats(ctx context.Context, movieID string) (int64, *time.Time, error)
	GlobalStats(ctx context.Context) (*services.ReviewStats, error)
}

// WatchlistService covers a user's watchlist.
type WatchlistService interface {
	Add(ctx context.Context, userID, movieID string, in services.WatchlistInput) (*domain.WatchlistEntry, error)
	Update(ctx context.Context, userID, movieID string, patch services.WatchlistPatch) (*domain.WatchlistEntry, error)
	MarkWatched(ctx context.Context, userID, movieID string, rating *int) (*domain.WatchlistEntry, error)
	Remove(ctx context.Context, userID, movieID string) error
	List(ctx context.Context, userID string, f repo.WatchlistFilter, page, pageSize int) ([]domain.WatchlistEntry, int64, error)
	Stats(ctx context.Context, userID string) (*services.WatchlistStats, error)
	Check(ctx context.Context, userID, movieID string) (*services.WatchlistCheck, error)
	Popular(ctx context.Context, limit int) ([]services.PopularMovie, error)
	WatchlistStatsETag(ctx context.Context, userID string) (int64, *time.Time, error)
}

// IdempotencyStore remembers which resource a keyed request created so a
// retry can be answered without repeating side effects.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, found bool)
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int)
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. Idempotency may be nil.
type Deps struct {
	Users       UserService
	Movies      MovieService
	Reviews     ReviewService
	Watchlist   WatchlistService
	Idempotency IdempotencyStore
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	users     UserService
	movies    MovieService
	reviews   ReviewService
	watchlist WatchlistService
	idem      IdempotencyStore
}

// New constructs Handlers bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		users:     d.Users,
		movies:    d.Movies,
		reviews:   d.Reviews,
		watchlist: d.Watchlist,
		idem:      d.Idempotency,
	}
}

//
// Helpers
//

// actor is the authenticated caller as the services see it.
func actor(c *gin.Context) services.Actor {
	return services.Actor{UserID: middleware.CurrentUserID(c), IsAdmin: middleware.IsAdmin(c)}
}

func pageParams(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"), services.DefaultPageSize, services.MaxPageSize)
}

// IdempotencyScope names the resource a keyed request creates, prefixed by
// kind so one client key reused on another endpoint never replays the wrong
// record. Routes without idempotent creation have no scope.
func IdempotencyScope(c *gin.Context) string {
	id := c.Param("id")
	if id == "" || c.Request.Method != http.MethodPost {
		return ""
	}
	p := c.FullPath()
	switch {
	case strings.HasSuffix(p, "/movies/:id/reviews"):
		return "review:" + id
	case strings.HasSuffix(p, "/watchlist/:id"):
		return "watchlist:" + id
	}
	return ""
}

// replayed looks up a completed request with the caller's idempotency key.
func (h *Handlers) replayed(c *gin.Context) (resourceID string, found bool) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.idem == nil {
		return "", false
	}
	scope := IdempotencyScope(c)
	if scope == "" {
		return "", false
	}
	return h.idem.Lookup(c.Request.Context(), middleware.CurrentUserID(c), scope, key)
}

// remember records a completed keyed request. Failures are ignored; the
// worst case is a retry that hits the uniqueness rules instead of a replay.
func (h *Handlers) remember(c *gin.Context, resourceID string, status int) {
	key, has := middleware.GetIdempotencyKey(c)
	scope := IdempotencyScope(c)
	if !has || h.idem == nil || scope == "" {
		return
	}
	h.idem.Remember(c.Request.Context(), middleware.CurrentUserID(c), scope, key, resourceID, status)
}

// weakETag builds a validator from a collection's size and last change,
// varied by the query so different pages never share a tag.
func weakETag(kind, owner string, count int64, maxTS *time.Time, rawQuery string) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(rawQuery))
	return fmt.Sprintf(`W/"%s:%s:%d:%d:%08x"`, kind, owner, count, ts, h.Sum32())
}

// notModified sets the ETag header and reports whether If-None-Match
// already matches it.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	if inm == "" {
		return false
	}
	for _, tag := range strings.Split(inm, ",") {
		if t := strings.TrimSpace(tag); t == etag || t == "*" {
			c.Status(http.StatusNotModified)
			return true
		}
	}
	return false
}
