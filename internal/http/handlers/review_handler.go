// Review HTTP handlers.
//
//   - GET    /movies/{id}/reviews       (approved reviews, conditional GET)
//   - POST   /movies/{id}/reviews       (submit, idempotent with a key)
//   - GET    /reviews/stats             (site-wide summary)
//   - GET    /reviews/{id}
//   - PUT    /reviews/{id}              (author)
//   - DELETE /reviews/{id}              (author or admin)
//   - POST   /reviews/{id}/flag
//   - POST   /reviews/{id}/helpful
//   - POST   /reviews/{id}/not-helpful
//   - PUT    /reviews/{id}/moderation   (admin)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/utils"
)

// FlagRequest reports a review.
type FlagRequest struct {
	Reason string `json:"reason" binding:"required" example:"spoiler"`
}

// ListMovieReviews godoc
// @ID          listMovieReviews
// @Summary     Reviews of a movie
// @Description Approved, active reviews. Supports If-None-Match; a matching tag yields 304.
// @Tags        Reviews
// @Produce     json
// @Param       id             path    string  true   "Movie ID"
// @Param       sort           query   string  false  "helpful|newest|oldest|rating_high|rating_low"  default(helpful)
// @Param       rating         query   int     false  "Only this star rating"  minimum(1) maximum(5)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "ETag from a previous response"
// @Success     200  {object}  handlers.ListReviewsResponse
// @Success     304  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse
// @Header      200  {string}  ETag  "Weak validator for this page"
// @Router      /movies/{id}/reviews [get]
func (h *Handlers) ListMovieReviews(c *gin.Context) {
	ctx := c.Request.Context()
	movieID := c.Param("id")

	count, maxTS, err := h.reviews.MovieReviewsStats(ctx, movieID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if notModified(c, weakETag("reviews", movieID, count, maxTS, c.Request.URL.RawQuery)) {
		return
	}

	page, pageSize := pageParams(c)
	f := repo.ReviewFilter{SortBy: c.Query("sort"), Rating: utils.AtoiDefault(c.Query("rating"), 0)}
	items, total, err := h.reviews.ListForMovie(ctx, movieID, f, page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListReviewsResponse{Reviews: items, Pagination: newPagination(page, pageSize, total)})
}

// SubmitReview godoc
// @ID          submitReview
// @Summary     Review a movie
// @Description One review per user and movie; a previously deleted review is revived. With an Idempotency-Key, a retried request returns the original review.
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id               path    string                true   "Movie ID"
// @Param       Idempotency-Key  header  string                false  "Client key for safe retries"
// @Param       body             body    services.ReviewInput  true   "Review"
// @Success     201  {object}  domain.Review
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "Already reviewed"
// @Router      /movies/{id}/reviews [post]
func (h *Handlers) SubmitReview(c *gin.Context) {
	ctx := c.Request.Context()
	if id, found := h.replayed(c); found {
		r, err := h.reviews.Get(ctx, actor(c), id)
		if err == nil {
			c.Header("Idempotency-Replayed", "true")
			middleware.ObserveReplay("review")
			ok(c, http.StatusCreated, r)
			return
		}
		// the original review is gone; treat the retry as a new submission
	}

	var in services.ReviewInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.reviews.Submit(ctx, actor(c), c.Param("id"), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	h.remember(c, r.ID, http.StatusCreated)
	ok(c, http.StatusCreated, r)
}

// ReviewStats godoc
// @ID          reviewStats
// @Summary     Site-wide review summary
// @Tags        Reviews
// @Produce     json
// @Success     200  {object}  services.ReviewStats
// @Router      /reviews/stats [get]
func (h *Handlers) ReviewStats(c *gin.Context) {
	st, err := h.reviews.GlobalStats(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// GetReview godoc
// @ID          getReview
// @Summary     One review
// @Description Pending or rejected reviews are visible only to their author and admins.
// @Tags        Reviews
// @Produce     json
// @Param       id   path      string  true  "Review ID"
// @Success     200  {object}  domain.Review
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /reviews/{id} [get]
func (h *Handlers) GetReview(c *gin.Context) {
	r, err := h.reviews.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// UpdateReview godoc
// @ID          updateReview
// @Summary     Edit own review
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                true  "Review ID"
// @Param       body  body      services.ReviewPatch  true  "Fields to change"
// @Success     200   {object}  domain.Review
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /reviews/{id} [put]
func (h *Handlers) UpdateReview(c *gin.Context) {
	var patch services.ReviewPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.reviews.Update(c.Request.Context(), actor(c), c.Param("id"), patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// DeleteReview godoc
// @ID          deleteReview
// @Summary     Delete a review
// @Tags        Reviews
// @Security    BearerAuth
// @Param       id  path  string  true  "Review ID"
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /reviews/{id} [delete]
func (h *Handlers) DeleteReview(c *gin.Context) {
	if err := h.reviews.Delete(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	noContent(c)
}

// FlagReview godoc
// @ID          flagReview
// @Summary     Report a review
// @Description Enough flags send the review back to moderation.
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                true  "Review ID"
// @Param       body  body      handlers.FlagRequest  true  "spam|inappropriate|spoiler"
// @Success     200   {object}  domain.Review
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse  "Own review"
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /reviews/{id}/flag [post]
func (h *Handlers) FlagReview(c *gin.Context) {
	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reason required")
		return
	}
	r, err := h.reviews.Flag(c.Request.Context(), actor(c), c.Param("id"), req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// MarkHelpful godoc
// @ID          markHelpful
// @Summary     Vote a review helpful
// @Tags        Reviews
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Review ID"
// @Success     200  {object}  domain.Review
// @Failure     403  {object}  handlers.ErrorResponse  "Own review"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /reviews/{id}/helpful [post]
func (h *Handlers) MarkHelpful(c *gin.Context) {
	r, err := h.reviews.MarkHelpful(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// MarkNotHelpful godoc
// @ID          markNotHelpful
// @Summary     Vote a review not helpful
// @Tags        Reviews
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Review ID"
// @Success     200  {object}  domain.Review
// @Failure     403  {object}  handlers.ErrorResponse  "Own review"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /reviews/{id}/not-helpful [post]
func (h *Handlers) MarkNotHelpful(c *gin.Context) {
	r, err := h.reviews.MarkNotHelpful(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// ModerateReview godoc
// @ID          moderateReview
// @Summary     Approve or reject a review (admin)
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                    true  "Review ID"
// @Param       body  body      services.ModerationInput  true  "Decision"
// @Success     200   {object}  domain.Review
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /reviews/{id}/moderation [put]
func (h *Handlers) ModerateReview(c *gin.Context) {
	var in services.ModerationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.reviews.Moderate(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}
