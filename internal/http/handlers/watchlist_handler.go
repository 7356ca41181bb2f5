// Watchlist HTTP handlers. Every route except /watchlist/popular acts on
// the caller's own list.
//
//   - GET    /watchlist                 (conditional GET)
//   - GET    /watchlist/stats
//   - GET    /watchlist/popular         (public)
//   - POST   /watchlist/{id}            (add a movie, idempotent with a key)
//   - PUT    /watchlist/{id}
//   - DELETE /watchlist/{id}
//   - POST   /watchlist/{id}/watched
//   - GET    /watchlist/{id}/check
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/utils"
)

// MarkWatchedRequest optionally rates the movie while marking it watched.
type MarkWatchedRequest struct {
	PersonalRating *int `json:"personal_rating" example:"4"`
}

// ListWatchlistResponse is a page of watchlist entries.
type ListWatchlistResponse struct {
	Entries    []domain.WatchlistEntry `json:"entries"`
	Pagination Pagination              `json:"pagination"`
}

// bindOptionalJSON binds a body that may be absent.
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ListWatchlist godoc
// @ID          listWatchlist
// @Summary     Own watchlist
// @Description Supports If-None-Match; a matching tag yields 304.
// @Tags        Watchlist
// @Produce     json
// @Security    BearerAuth
// @Param       status         query   string  false  "want_to_watch|watching|watched"
// @Param       priority       query   string  false  "low|medium|high"
// @Param       sort           query   string  false  "added|rating|priority|date_watched"  default(added)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "ETag from a previous response"
// @Success     200  {object}  handlers.ListWatchlistResponse
// @Success     304  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Header      200  {string}  ETag  "Weak validator for this page"
// @Router      /watchlist [get]
func (h *Handlers) ListWatchlist(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.CurrentUserID(c)

	count, maxTS, err := h.watchlist.WatchlistStatsETag(ctx, uid)
	if err != nil {
		respondErr(c, err)
		return
	}
	if notModified(c, weakETag("watchlist", uid, count, maxTS, c.Request.URL.RawQuery)) {
		return
	}

	page, pageSize := pageParams(c)
	f := repo.WatchlistFilter{
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		SortBy:   c.Query("sort"),
	}
	items, total, err := h.watchlist.List(ctx, uid, f, page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListWatchlistResponse{Entries: items, Pagination: newPagination(page, pageSize, total)})
}

// WatchlistStats godoc
// @ID          watchlistStats
// @Summary     Own watchlist counts by status
// @Tags        Watchlist
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.WatchlistStats
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /watchlist/stats [get]
func (h *Handlers) WatchlistStats(c *gin.Context) {
	st, err := h.watchlist.Stats(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// PopularWatchlisted godoc
// @ID          popularWatchlisted
// @Summary     Most watchlisted movies
// @Tags        Watchlist
// @Produce     json
// @Param       limit  query  int  false  "Number of movies"  minimum(1) maximum(100) default(10)
// @Success     200  {array}  services.PopularMovie
// @Router      /watchlist/popular [get]
func (h *Handlers) PopularWatchlisted(c *gin.Context) {
	items, err := h.watchlist.Popular(c.Request.Context(), utils.AtoiDefault(c.Query("limit"), 10))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// AddToWatchlist godoc
// @ID          addToWatchlist
// @Summary     Add a movie to own watchlist
// @Description The body is optional. With an Idempotency-Key, a retried request returns the original entry.
// @Tags        Watchlist
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    string                   true   "Movie ID"
// @Param       Idempotency-Key  header  string                   false  "Client key for safe retries"
// @Param       body             body    services.WatchlistInput  false  "Entry"
// @Success     201  {object}  domain.WatchlistEntry
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Already on the watchlist"
// @Router      /watchlist/{id} [post]
func (h *Handlers) AddToWatchlist(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.CurrentUserID(c)
	movieID := c.Param("id")

	if _, found := h.replayed(c); found {
		chk, err := h.watchlist.Check(ctx, uid, movieID)
		if err == nil && chk.InWatchlist {
			c.Header("Idempotency-Replayed", "true")
			middleware.ObserveReplay("watchlist")
			ok(c, http.StatusCreated, chk.Entry)
			return
		}
	}

	var in services.WatchlistInput
	if err := bindOptionalJSON(c, &in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	e, err := h.watchlist.Add(ctx, uid, movieID, in)
	if err != nil {
		respondErr(c, err)
		return
	}
	h.remember(c, e.ID, http.StatusCreated)
	ok(c, http.StatusCreated, e)
}

// UpdateWatchlist godoc
// @ID          updateWatchlist
// @Summary     Edit an entry on own watchlist
// @Tags        Watchlist
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                   true  "Movie ID"
// @Param       body  body      services.WatchlistPatch  true  "Fields to change"
// @Success     200   {object}  domain.WatchlistEntry
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /watchlist/{id} [put]
func (h *Handlers) UpdateWatchlist(c *gin.Context) {
	var patch services.WatchlistPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	e, err := h.watchlist.Update(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// RemoveFromWatchlist godoc
// @ID          removeFromWatchlist
// @Summary     Remove a movie from own watchlist
// @Tags        Watchlist
// @Security    BearerAuth
// @Param       id  path  string  true  "Movie ID"
// @Success     204
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /watchlist/{id} [delete]
func (h *Handlers) RemoveFromWatchlist(c *gin.Context) {
	if err := h.watchlist.Remove(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	noContent(c)
}

// MarkWatched godoc
// @ID          markWatched
// @Summary     Mark a watchlist movie as watched
// @Description The body is optional; a personal_rating replaces the stored one.
// @Tags        Watchlist
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                       true   "Movie ID"
// @Param       body  body      handlers.MarkWatchedRequest  false  "Rating"
// @Success     200   {object}  domain.WatchlistEntry
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /watchlist/{id}/watched [post]
func (h *Handlers) MarkWatched(c *gin.Context) {
	var req MarkWatchedRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	e, err := h.watchlist.MarkWatched(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.PersonalRating)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// CheckWatchlist godoc
// @ID          checkWatchlist
// @Summary     Is a movie on own watchlist
// @Tags        Watchlist
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Movie ID"
// @Success     200  {object}  services.WatchlistCheck
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /watchlist/{id}/check [get]
func (h *Handlers) CheckWatchlist(c *gin.Context) {
	chk, err := h.watchlist.Check(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, chk)
}
