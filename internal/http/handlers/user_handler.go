// User HTTP handlers.
//
//   - GET   /users                     (admin: list accounts)
//   - GET   /users/top-reviewers       (most active reviewers)
//   - GET   /users/search              (public directory search)
//   - PUT   /users/me                  (edit own profile)
//   - GET   /users/{id}                (public profile)
//   - PATCH /users/{id}/status         (admin: activate/deactivate)
//   - GET   /users/{id}/reviews        (a user's reviews, paginated)
//   - GET   /users/{id}/reviews/stats  (a user's review summary)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/utils"
)

// SetActiveRequest toggles an account.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required" example:"false"`
}

// ListUsersResponse is a page of accounts.
type ListUsersResponse struct {
	Users      []domain.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

// ListReviewsResponse is a page of reviews.
type ListReviewsResponse struct {
	Reviews    []domain.Review `json:"reviews"`
	Pagination Pagination      `json:"pagination"`
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List accounts (admin)
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       status     query  string  false  "all|active|inactive"  default(all)
// @Param       search     query  string  false  "Username or email substring"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListUsersResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	page, pageSize := pageParams(c)
	users, total, err := h.users.List(c.Request.Context(), actor(c), c.Query("status"), c.Query("search"), page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: users, Pagination: newPagination(page, pageSize, total)})
}

// TopReviewers godoc
// @ID          topReviewers
// @Summary     Top reviewers
// @Tags        Users
// @Produce     json
// @Param       limit  query  int  false  "Number of users"  minimum(1) maximum(100) default(10)
// @Success     200  {array}  domain.User
// @Router      /users/top-reviewers [get]
func (h *Handlers) TopReviewers(c *gin.Context) {
	users, err := h.users.TopReviewers(c.Request.Context(), utils.AtoiDefault(c.Query("limit"), 10))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, users)
}

// SearchUsers godoc
// @ID          searchUsers
// @Summary     Search users
// @Description Active users whose username or bio contains q, most reviews first.
// @Tags        Users
// @Produce     json
// @Param       q          query  string  true   "Username or bio substring"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(20) default(10)
// @Success     200  {object}  handlers.ListUsersResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /users/search [get]
func (h *Handlers) SearchUsers(c *gin.Context) {
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"), services.SearchPageSize, services.MaxSearchPageSize)
	users, total, err := h.users.Search(c.Request.Context(), c.Query("q"), page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: users, Pagination: newPagination(page, pageSize, total)})
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Edit own profile
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      services.ProfilePatch  true  "Fields to change"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Username taken"
// @Router      /users/me [put]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var patch services.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), middleware.CurrentUserID(c), patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Public profile
// @Tags        Users
// @Produce     json
// @Param       id   path      string  true  "User ID"
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	u, err := h.users.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// SetUserActive godoc
// @ID          setUserActive
// @Summary     Activate or deactivate an account (admin)
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                     true  "User ID"
// @Param       body  body      handlers.SetActiveRequest  true  "New state"
// @Success     200   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse  "Not admin, or self-deactivation"
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /users/{id}/status [patch]
func (h *Handlers) SetUserActive(c *gin.Context) {
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "is_active required")
		return
	}
	u, err := h.users.SetActive(c.Request.Context(), actor(c), c.Param("id"), *req.IsActive)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// UserReviews godoc
// @ID          userReviews
// @Summary     A user's reviews
// @Tags        Users
// @Produce     json
// @Param       id         path   string  true   "User ID"
// @Param       sort       query  string  false  "newest|oldest|rating_high|rating_low|helpful"  default(newest)
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListReviewsResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id}/reviews [get]
func (h *Handlers) UserReviews(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, total, err := h.users.Reviews(c.Request.Context(), c.Param("id"), c.Query("sort"), page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListReviewsResponse{Reviews: items, Pagination: newPagination(page, pageSize, total)})
}

// UserReviewStats godoc
// @ID          userReviewStats
// @Summary     A user's review summary
// @Tags        Users
// @Produce     json
// @Param       id   path      string  true  "User ID"
// @Success     200  {object}  services.ReviewStats
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id}/reviews/stats [get]
func (h *Handlers) UserReviewStats(c *gin.Context) {
	st, err := h.users.ReviewStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}
