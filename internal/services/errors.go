// Package services defines the business logic for users, movies, reviews,
// and watchlists. This file centralizes the service-level error values.
//
// Every error a service returns to callers belongs to one kind: ErrValidation,
// ErrConflict, ErrNotFound, ErrForbidden, or ErrUnauthorized. Specific errors
// wrap their kind, so handlers classify with errors.Is against the kind and
// show the specific message. Translation into HTTP status codes happens in
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-movie-reviews/internal/validation"
)

// Error kinds.
var (
	// ErrValidation is a field-constraint violation. Field failures are
	// *validation.Error values, which unwrap to it.
	ErrValidation = validation.ErrInvalid

	// ErrConflict is a uniqueness violation.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means the referenced record does not exist or is inactive.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is an ownership or self-action violation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized means the caller's credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error { return &kindError{kind: kind, msg: msg} }

// Not found.
var (
	ErrUserNotFound           = newKind(ErrNotFound, "user not found")
	ErrMovieNotFound          = newKind(ErrNotFound, "movie not found")
	ErrReviewNotFound         = newKind(ErrNotFound, "review not found")
	ErrWatchlistEntryNotFound = newKind(ErrNotFound, "movie not in watchlist")
)

// Conflicts.
var (
	ErrReviewExists       = newKind(ErrConflict, "you have already reviewed this movie")
	ErrAlreadyInWatchlist = newKind(ErrConflict, "movie is already in your watchlist")
	ErrUsernameTaken      = newKind(ErrConflict, "username is already taken")
	ErrEmailTaken         = newKind(ErrConflict, "email is already registered")
	ErrExternalIDTaken    = newKind(ErrConflict, "a movie with this external id already exists")
)

// Forbidden.
var (
	ErrSelfAction     = newKind(ErrForbidden, "you cannot flag or vote on your own review")
	ErrNotOwner       = newKind(ErrForbidden, "you can only modify your own content")
	ErrAdminOnly      = newKind(ErrForbidden, "admin privileges required")
	ErrSelfDeactivate = newKind(ErrForbidden, "you cannot deactivate your own account")
)

// Unauthorized.
var (
	ErrInvalidCredentials = newKind(ErrUnauthorized, "invalid email or password")
	ErrAccountDisabled    = newKind(ErrUnauthorized, "account is deactivated")
)

// AggregationWarning reports a recompute that could not run because its
// owner (a movie, or a user for counters) no longer exists. It is logged and
// never fails the mutation that triggered it.
type AggregationWarning struct {
	Kind    string
	MovieID string
	UserID  string
	Reason  string
}

func (w *AggregationWarning) Error() string {
	if w.UserID != "" {
		return fmt.Sprintf("%s aggregation skipped for user %s: %s", w.Kind, w.UserID, w.Reason)
	}
	return fmt.Sprintf("%s aggregation skipped for movie %s: %s", w.Kind, w.MovieID, w.Reason)
}

// IsAggregationWarning reports whether err is or wraps an AggregationWarning.
func IsAggregationWarning(err error) bool {
	var w *AggregationWarning
	return errors.As(err, &w)
}
