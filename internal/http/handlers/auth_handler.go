// Auth HTTP handlers.
//
//   - POST /auth/register   (create account, returns token)
//   - POST /auth/login      (exchange credentials for a token)
//   - GET  /auth/me         (the caller's own account)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/services"
)

// Register godoc
// @ID          register
// @Summary     Register an account
// @Description Creates an active, non-admin account and returns an access token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      services.RegisterInput  true  "Account details"
// @Success     201   {object}  services.AuthResult
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409   {object}  handlers.ErrorResponse  "Email or username taken"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var in services.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Verifies credentials and returns an access token. Deactivated accounts are rejected.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      services.LoginInput  true  "Credentials"
// @Success     200   {object}  services.AuthResult
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials or account disabled"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var in services.LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.users.Login(c.Request.Context(), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// Me godoc
// @ID          me
// @Summary     Current account
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.users.Me(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
