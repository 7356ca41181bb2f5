// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for watchlist
// entries.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// Watchlist sort keys.
const (
	WatchlistSortAdded       = "added"
	WatchlistSortRating      = "rating"
	WatchlistSortPriority    = "priority"
	WatchlistSortDateWatched = "date_watched"
)

// WatchlistFilter narrows a user's watchlist listing.
type WatchlistFilter struct {
	Status   string
	Priority string
	SortBy   string
}

// MovieCount pairs a movie ID with a number of watchlist entries.
type MovieCount struct {
	MovieID string
	N       int64
}

// CreateWatchlistEntry inserts e, assigning an ID and UTC timestamps.
func CreateWatchlistEntry(ctx context.Context, db *gorm.DB, e *domain.WatchlistEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	return db.WithContext(ctx).Omit("User", "Movie").Create(e).Error
}

// GetWatchlistEntry fetches the (user, movie) entry.
func GetWatchlistEntry(ctx context.Context, db *gorm.DB, userID, movieID string) (*domain.WatchlistEntry, error) {
	var e domain.WatchlistEntry
	err := db.WithContext(ctx).First(&e, "user_id = ? AND movie_id = ?", userID, movieID).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveWatchlistEntry writes every column of e.
func SaveWatchlistEntry(ctx context.Context, db *gorm.DB, e *domain.WatchlistEntry) error {
	e.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Omit("User", "Movie").Save(e).Error
}

// DeleteWatchlistEntry removes the (user, movie) entry. Returns ErrNotFound
// when no row matched.
func DeleteWatchlistEntry(ctx context.Context, db *gorm.DB, userID, movieID string) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND movie_id = ?", userID, movieID).
		Delete(&domain.WatchlistEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWatchlistByMovie counts entries for a movie, regardless of status.
func CountWatchlistByMovie(ctx context.Context, db *gorm.DB, movieID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.WatchlistEntry{}).Where("movie_id = ?", movieID).Count(&n).Error
	return n, err
}

// CountWatchlistByUser counts a user's entries.
func CountWatchlistByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.WatchlistEntry{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// WatchlistStatusCounts returns a user's entry counts keyed by status.
func WatchlistStatusCounts(ctx context.Context, db *gorm.DB, userID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).Model(&domain.WatchlistEntry{}).
		Select("status, COUNT(*) AS n").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func orderWatchlist(q *gorm.DB, sortBy string) *gorm.DB {
	switch sortBy {
	case WatchlistSortRating:
		// Unrated entries sort last on every backend.
		return q.Order("personal_rating IS NULL").Order("personal_rating DESC").Order("created_at DESC")
	case WatchlistSortPriority:
		return q.Order("CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END").Order("created_at DESC")
	case WatchlistSortDateWatched:
		return q.Order("date_watched IS NULL").Order("date_watched DESC").Order("created_at DESC")
	default:
		return q.Order("created_at DESC")
	}
}

// ListWatchlistPage returns a page of a user's entries with their movies
// preloaded and the total number of matches.
//
// Status and Priority filters apply when non-empty. Sorting by rating or
// date watched places entries without that value last on every backend.
func ListWatchlistPage(ctx context.Context, db *gorm.DB, userID string, f WatchlistFilter, offset, limit int) ([]domain.WatchlistEntry, int64, error) {
	q := db.WithContext(ctx).Model(&domain.WatchlistEntry{}).Where("user_id = ?", userID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.WatchlistEntry
	err := orderWatchlist(q, f.SortBy).Preload("Movie").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// PopularWatchlistMovies returns the movies with the most watchlist entries.
func PopularWatchlistMovies(ctx context.Context, db *gorm.DB, limit int) ([]MovieCount, error) {
	var out []MovieCount
	err := db.WithContext(ctx).Model(&domain.WatchlistEntry{}).
		Select("watchlists.movie_id AS movie_id, COUNT(*) AS n").
		Joins("JOIN movies ON movies.id = watchlists.movie_id AND movies.is_active = ?", true).
		Group("watchlists.movie_id").
		Order("n DESC").Order("watchlists.movie_id ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}
