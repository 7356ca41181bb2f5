// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Service
// errors are translated here, by kind, so no handler maps a specific error by
// hand:
//
//	validation → 400 validation_failed (with fields)
//	unauthorized → 401, forbidden → 403, not found → 404, conflict → 409
//	anything else → 500 internal_error (logged, message hidden)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// respondErr writes the envelope for a service error.
func respondErr(c *gin.Context, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		failWith(c, http.StatusBadRequest, ErrorResponse{
			Code:    ErrCodeValidation,
			Message: verr.Error(),
			Fields:  verr.Fields,
		})
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		c.AbortWithStatus(499)
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
