// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (weak ETags) in the HTTP layer. Each function is
// context-aware and safe to call from services or handlers.
//
// A listing's validator must move whenever any byte of the listing can
// change, including the rows it preloads. Every writer that touches a
// column rendered in those listings therefore also writes updated_at, and
// the stats below take the newest updated_at across the listed rows and
// their preloaded parents.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// latest returns the row count and greatest updated_at of q.
func latest(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// newestParent returns the greatest updated_at of the parent rows selected
// by q, or cur when it is newer. col names the qualified parent column, for
// example "users.updated_at".
func newestParent(q *gorm.DB, col string, cur *time.Time) (*time.Time, error) {
	var rows []struct {
		UpdatedAt time.Time
	}
	if err := q.Select(col).Order(col + " DESC").Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return cur, nil
	}
	if cur == nil || rows[0].UpdatedAt.After(*cur) {
		return &rows[0].UpdatedAt, nil
	}
	return cur, nil
}

// MovieReviewsStats returns aggregate metadata for a movie's visible
// (active, approved) reviews: how many there are and when the listing last
// changed.
//
// The timestamp covers the reviews themselves (edits, votes, flags and
// moderation all write updated_at) and the authors embedded in each item,
// whose counters the aggregator rewrites. When the movie has no visible
// reviews, count is 0 and maxUpdatedAt is nil.
//
// Return values:
//   - count:        visible reviews of movieID
//   - maxUpdatedAt: newest review or author change, or nil if no rows
//   - err:          database error, if any
func MovieReviewsStats(ctx context.Context, db *gorm.DB, movieID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := qualifying(db.WithContext(ctx).Model(&domain.Review{})).Where("movie_id = ?", movieID)
	if count, maxUpdatedAt, err = latest(q); err != nil || count == 0 {
		return count, maxUpdatedAt, err
	}

	authors := db.WithContext(ctx).Model(&domain.User{}).
		Joins("JOIN reviews ON reviews.user_id = users.id").
		Where("reviews.movie_id = ? AND reviews.is_active = ? AND reviews.moderation_status = ?",
			movieID, true, domain.ModerationApproved)
	if maxUpdatedAt, err = newestParent(authors, "users.updated_at", maxUpdatedAt); err != nil {
		return 0, nil, err
	}
	return count, maxUpdatedAt, nil
}

// WatchlistStats returns aggregate metadata for a user's watchlist: the
// number of entries and the latest change among them or the movies they
// embed. Movie rating and watchlist aggregates write updated_at, so a
// recomputed average invalidates the tag; view counts do not.
//
// Return values:
//   - count:        entries on userID's watchlist
//   - maxUpdatedAt: newest entry or movie change, or nil if no rows
//   - err:          database error, if any
func WatchlistStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.WatchlistEntry{}).Where("user_id = ?", userID)
	if count, maxUpdatedAt, err = latest(q); err != nil || count == 0 {
		return count, maxUpdatedAt, err
	}

	movies := db.WithContext(ctx).Model(&domain.Movie{}).
		Joins("JOIN watchlists ON watchlists.movie_id = movies.id").
		Where("watchlists.user_id = ?", userID)
	if maxUpdatedAt, err = newestParent(movies, "movies.updated_at", maxUpdatedAt); err != nil {
		return 0, nil, err
	}
	return count, maxUpdatedAt, nil
}
