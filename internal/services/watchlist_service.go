// Package services – WatchlistService
//
// WatchlistService manages a user's watchlist. Adds and removals publish
// WatchlistChanged so the movie's watchlist count and the user's counter are
// recomputed; status, priority, and note edits leave both counts unchanged
// and publish nothing.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

// WatchlistInput adds a movie to a watchlist. Empty status and priority
// default to want_to_watch and medium.
type WatchlistInput struct {
	Status         string `json:"status"          validate:"omitempty,oneof=want_to_watch watching watched"`
	Priority       string `json:"priority"        validate:"omitempty,oneof=low medium high"`
	Notes          string `json:"notes"           validate:"max=500"`
	PersonalRating *int   `json:"personal_rating" validate:"omitnil,min=1,max=5"`
	IsPublic       bool   `json:"is_public"`
}

// WatchlistPatch edits an entry. Nil fields are left unchanged.
type WatchlistPatch struct {
	Status         *string `json:"status"          validate:"omitnil,oneof=want_to_watch watching watched"`
	Priority       *string `json:"priority"        validate:"omitnil,oneof=low medium high"`
	Notes          *string `json:"notes"           validate:"omitnil,max=500"`
	PersonalRating *int    `json:"personal_rating" validate:"omitnil,min=1,max=5"`
	IsPublic       *bool   `json:"is_public"`
}

func (p *WatchlistPatch) empty() bool {
	return p.Status == nil && p.Priority == nil && p.Notes == nil && p.PersonalRating == nil && p.IsPublic == nil
}

// WatchlistStats counts a user's entries.
type WatchlistStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// WatchlistCheck reports whether a movie is on a user's watchlist.
type WatchlistCheck struct {
	InWatchlist bool                   `json:"in_watchlist"`
	Entry       *domain.WatchlistEntry `json:"entry,omitempty"`
}

// PopularMovie is a movie ranked by watchlist entries.
type PopularMovie struct {
	Movie          domain.Movie `json:"movie"`
	WatchlistCount int64        `json:"watchlist_count"`
}

// WatchlistService coordinates watchlist mutations and reads.
type WatchlistService struct {
	DB      *gorm.DB
	Mutator *Mutator

	now func() time.Time
}

// NewWatchlistService returns a WatchlistService.
func NewWatchlistService(db *gorm.DB, m *Mutator) *WatchlistService {
	return &WatchlistService{DB: db, Mutator: m, now: func() time.Time { return time.Now().UTC() }}
}

func (s *WatchlistService) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}

func watchlistSpan(ctx context.Context, name, userID, movieID string) (context.Context, trace.Span) {
	return otel.Tracer("services/WatchlistService").Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", userID), attribute.String("movie.id", movieID)))
}

// Add puts movieID on the user's watchlist.
func (s *WatchlistService) Add(ctx context.Context, userID, movieID string, in WatchlistInput) (*domain.WatchlistEntry, error) {
	ctx, span := watchlistSpan(ctx, "Add", userID, movieID)
	defer span.End()

	in.Notes = strings.TrimSpace(in.Notes)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = domain.WatchStatusWantToWatch
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}

	e := &domain.WatchlistEntry{
		UserID:         userID,
		MovieID:        movieID,
		Status:         in.Status,
		Priority:       in.Priority,
		Notes:          in.Notes,
		PersonalRating: in.PersonalRating,
		IsPublic:       in.IsPublic,
	}
	if e.Status == domain.WatchStatusWatched {
		now := s.clock()
		e.DateWatched = &now
	}

	err := s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		if _, err := repo.GetActiveMovie(ctx, tx, movieID); err != nil {
			if repo.IsNotFound(err) {
				return ErrMovieNotFound
			}
			return err
		}
		if _, err := repo.GetWatchlistEntry(ctx, tx, userID, movieID); err == nil {
			return ErrAlreadyInWatchlist
		} else if !repo.IsNotFound(err) {
			return err
		}
		if err := repo.CreateWatchlistEntry(ctx, tx, e); err != nil {
			return err
		}
		ch.Emit(domain.WatchlistChanged{MovieID: movieID, UserID: userID, Op: domain.OpCreated})
		return nil
	})
	if err != nil {
		if repo.IsDuplicate(err) {
			return nil, ErrAlreadyInWatchlist
		}
		return nil, err
	}
	return e, nil
}

// Update edits the user's entry for movieID. Moving into watched stamps
// DateWatched; moving out of watched clears it.
func (s *WatchlistService) Update(ctx context.Context, userID, movieID string, patch WatchlistPatch) (*domain.WatchlistEntry, error) {
	ctx, span := watchlistSpan(ctx, "Update", userID, movieID)
	defer span.End()

	if patch.Notes != nil {
		n := strings.TrimSpace(*patch.Notes)
		patch.Notes = &n
	}
	if patch.empty() {
		return nil, validation.Field("body", "required", "at least one field must be provided")
	}
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}

	var out *domain.WatchlistEntry
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, _ *Changes) error {
		e, err := s.entry(ctx, tx, userID, movieID)
		if err != nil {
			return err
		}
		if patch.Status != nil {
			s.setStatus(e, *patch.Status)
		}
		if patch.Priority != nil {
			e.Priority = *patch.Priority
		}
		if patch.Notes != nil {
			e.Notes = *patch.Notes
		}
		if patch.PersonalRating != nil {
			e.PersonalRating = patch.PersonalRating
		}
		if patch.IsPublic != nil {
			e.IsPublic = *patch.IsPublic
		}
		if err := repo.SaveWatchlistEntry(ctx, tx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *WatchlistService) setStatus(e *domain.WatchlistEntry, status string) {
	switch {
	case status == domain.WatchStatusWatched && e.Status != domain.WatchStatusWatched:
		now := s.clock()
		e.DateWatched = &now
	case status != domain.WatchStatusWatched:
		e.DateWatched = nil
	}
	e.Status = status
}

// MarkWatched sets the entry to watched and stamps DateWatched with the
// current time, even when it was already watched. A non-nil rating replaces
// the personal rating.
func (s *WatchlistService) MarkWatched(ctx context.Context, userID, movieID string, rating *int) (*domain.WatchlistEntry, error) {
	ctx, span := watchlistSpan(ctx, "MarkWatched", userID, movieID)
	defer span.End()

	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, validation.Field("personal_rating", "max", "personal_rating must be between 1 and 5")
	}

	var out *domain.WatchlistEntry
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, _ *Changes) error {
		e, err := s.entry(ctx, tx, userID, movieID)
		if err != nil {
			return err
		}
		now := s.clock()
		e.Status = domain.WatchStatusWatched
		e.DateWatched = &now
		if rating != nil {
			e.PersonalRating = rating
		}
		if err := repo.SaveWatchlistEntry(ctx, tx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes the user's entry for movieID.
func (s *WatchlistService) Remove(ctx context.Context, userID, movieID string) error {
	ctx, span := watchlistSpan(ctx, "Remove", userID, movieID)
	defer span.End()

	return s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		if err := repo.DeleteWatchlistEntry(ctx, tx, userID, movieID); err != nil {
			if repo.IsNotFound(err) {
				return ErrWatchlistEntryNotFound
			}
			return err
		}
		ch.Emit(domain.WatchlistChanged{MovieID: movieID, UserID: userID, Op: domain.OpDeleted})
		return nil
	})
}

// List returns a page of the user's entries with their movies.
func (s *WatchlistService) List(ctx context.Context, userID string, f repo.WatchlistFilter, page, pageSize int) ([]domain.WatchlistEntry, int64, error) {
	ctx, span := watchlistSpan(ctx, "List", userID, "")
	defer span.End()

	offset, limit := pageBounds(page, pageSize)
	return repo.ListWatchlistPage(ctx, s.DB, userID, f, offset, limit)
}

// Stats counts the user's entries per status.
func (s *WatchlistService) Stats(ctx context.Context, userID string) (*WatchlistStats, error) {
	ctx, span := watchlistSpan(ctx, "Stats", userID, "")
	defer span.End()

	counts, err := repo.WatchlistStatusCounts(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := &WatchlistStats{ByStatus: map[string]int64{
		domain.WatchStatusWantToWatch: 0,
		domain.WatchStatusWatching:    0,
		domain.WatchStatusWatched:     0,
	}}
	for status, n := range counts {
		out.ByStatus[status] = n
		out.Total += n
	}
	return out, nil
}

// Check reports whether movieID is on the user's watchlist.
func (s *WatchlistService) Check(ctx context.Context, userID, movieID string) (*WatchlistCheck, error) {
	ctx, span := watchlistSpan(ctx, "Check", userID, movieID)
	defer span.End()

	e, err := repo.GetWatchlistEntry(ctx, s.DB, userID, movieID)
	if repo.IsNotFound(err) {
		return &WatchlistCheck{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &WatchlistCheck{InWatchlist: true, Entry: e}, nil
}

// Popular returns the active movies with the most watchlist entries.
func (s *WatchlistService) Popular(ctx context.Context, limit int) ([]PopularMovie, error) {
	ctx, span := watchlistSpan(ctx, "Popular", "", "")
	defer span.End()

	if limit <= 0 || limit > MaxPageSize {
		limit = 10
	}
	counts, err := repo.PopularWatchlistMovies(ctx, s.DB, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(counts))
	for i, c := range counts {
		ids[i] = c.MovieID
	}
	movies, err := repo.GetMoviesByIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	out := make([]PopularMovie, 0, len(counts))
	for _, c := range counts {
		if m, ok := movies[c.MovieID]; ok {
			out = append(out, PopularMovie{Movie: m, WatchlistCount: c.N})
		}
	}
	return out, nil
}

// WatchlistStatsETag returns the entry count and latest update time, for
// conditional responses.
func (s *WatchlistService) WatchlistStatsETag(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.WatchlistStats(ctx, s.DB, userID)
}

func (s *WatchlistService) entry(ctx context.Context, db *gorm.DB, userID, movieID string) (*domain.WatchlistEntry, error) {
	e, err := repo.GetWatchlistEntry(ctx, db, userID, movieID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrWatchlistEntryNotFound
	}
	return e, err
}
