// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelopes and helpers shared by every
// endpoint:
//   - ErrorResponse carries a stable `code`, a safe message, and, for
//     validation failures, the list of failing fields.
//   - fail() writes an error envelope and logs server-side failures with the
//     request-scoped logger.
//   - ok() and noContent() write success responses.
//   - Pagination describes list pages.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "validation_failed",
//	  "message": "rating must be at most 5",
//	  "fields": [{"field": "rating", "rule": "max", "message": "rating must be at most 5"}]
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/utils"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"movie not found"`
	// Failing fields, for validation errors only
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("errors", c.Errors.String()).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
