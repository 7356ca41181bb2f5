// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Review
// model: CRUD, counter increments, listing, and the grouped rating queries
// the aggregation services read from.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// Review sort keys.
const (
	ReviewSortNewest     = "newest"
	ReviewSortOldest     = "oldest"
	ReviewSortRatingHigh = "rating_high"
	ReviewSortRatingLow  = "rating_low"
	ReviewSortHelpful    = "helpful"
)

// ReviewFilter narrows review listings.
type ReviewFilter struct {
	SortBy string
	Rating int // 1..5, 0 for any
}

// qualifying restricts q to reviews that count toward movie aggregates.
func qualifying(q *gorm.DB) *gorm.DB {
	return q.Where("is_active = ? AND moderation_status = ?", true, domain.ModerationApproved)
}

// CreateReview inserts r, assigning an ID and UTC timestamps when missing.
func CreateReview(ctx context.Context, db *gorm.DB, r *domain.Review) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	return db.WithContext(ctx).Omit("User", "Movie").Create(r).Error
}

// SaveReview writes every column of r.
func SaveReview(ctx context.Context, db *gorm.DB, r *domain.Review) error {
	r.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Omit("User", "Movie").Save(r).Error
}

// GetReview fetches a review by ID regardless of activity.
func GetReview(ctx context.Context, db *gorm.DB, id string) (*domain.Review, error) {
	var r domain.Review
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetActiveReview fetches a review that has not been soft-deleted.
func GetActiveReview(ctx context.Context, db *gorm.DB, id string) (*domain.Review, error) {
	var r domain.Review
	if err := db.WithContext(ctx).First(&r, "id = ? AND is_active = ?", id, true).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// FindReviewByUserMovie returns the (user, movie) review row, active or not.
func FindReviewByUserMovie(ctx context.Context, db *gorm.DB, userID, movieID string) (*domain.Review, error) {
	var r domain.Review
	err := db.WithContext(ctx).First(&r, "user_id = ? AND movie_id = ?", userID, movieID).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReview applies column updates to an active review.
func UpdateReview(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Review{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementReviewFlag adds one to the flag counter for reason. Like every
// counter write here it also moves updated_at, which the listing ETag reads.
func IncrementReviewFlag(ctx context.Context, db *gorm.DB, id, reason string) error {
	col := "flags_" + reason
	switch reason {
	case domain.FlagSpam, domain.FlagInappropriate, domain.FlagSpoiler:
	default:
		return fmt.Errorf("unknown flag reason %q", reason)
	}
	res := db.WithContext(ctx).Model(&domain.Review{}).
		Where("id = ? AND is_active = ?", id, true).
		UpdateColumns(map[string]any{
			col:          gorm.Expr(col+" + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EscalateFlaggedReview moves an approved review to pending when its total
// flag count has reached threshold. It reports whether the status changed.
func EscalateFlaggedReview(ctx context.Context, db *gorm.DB, id string, threshold int) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Review{}).
		Where("id = ? AND moderation_status = ?", id, domain.ModerationApproved).
		Where("flags_spam + flags_inappropriate + flags_spoiler >= ?", threshold).
		UpdateColumns(map[string]any{
			"moderation_status": domain.ModerationPending,
			"moderation_reason": "flag threshold reached",
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementReviewVotes records one vote; helpful votes also bump
// helpful_votes.
func IncrementReviewVotes(ctx context.Context, db *gorm.DB, id string, helpful bool) error {
	cols := map[string]any{
		"total_votes": gorm.Expr("total_votes + ?", 1),
		"updated_at":  time.Now().UTC(),
	}
	if helpful {
		cols["helpful_votes"] = gorm.Expr("helpful_votes + ?", 1)
	}
	res := db.WithContext(ctx).Model(&domain.Review{}).
		Where("id = ? AND is_active = ?", id, true).
		UpdateColumns(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type ratingBucket struct {
	Rating int
	N      int64
}

func scanBuckets(q *gorm.DB) (domain.RatingDistribution, error) {
	var rows []ratingBucket
	var dist domain.RatingDistribution
	if err := q.Select("rating, COUNT(*) AS n").Group("rating").Scan(&rows).Error; err != nil {
		return dist, err
	}
	for _, r := range rows {
		dist.Add(r.Rating, int(r.N))
	}
	return dist, nil
}

// MovieRatingBuckets returns the per-star counts of a movie's qualifying
// reviews (active and approved).
func MovieRatingBuckets(ctx context.Context, db *gorm.DB, movieID string) (domain.RatingDistribution, error) {
	q := qualifying(db.WithContext(ctx).Model(&domain.Review{})).Where("movie_id = ?", movieID)
	return scanBuckets(q)
}

// UserRatingBuckets returns the per-star counts of a user's active reviews.
func UserRatingBuckets(ctx context.Context, db *gorm.DB, userID string) (domain.RatingDistribution, error) {
	q := db.WithContext(ctx).Model(&domain.Review{}).Where("user_id = ? AND is_active = ?", userID, true)
	return scanBuckets(q)
}

// GlobalRatingBuckets returns the per-star counts across all qualifying
// reviews.
func GlobalRatingBuckets(ctx context.Context, db *gorm.DB) (domain.RatingDistribution, error) {
	return scanBuckets(qualifying(db.WithContext(ctx).Model(&domain.Review{})))
}

// SumHelpfulVotes totals helpful votes over a user's active reviews.
func SumHelpfulVotes(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var row struct{ Total int64 }
	err := db.WithContext(ctx).Model(&domain.Review{}).
		Select("COALESCE(SUM(helpful_votes), 0) AS total").
		Where("user_id = ? AND is_active = ?", userID, true).
		Scan(&row).Error
	return row.Total, err
}

// CountActiveReviewsByUser counts a user's active reviews.
func CountActiveReviewsByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Review{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&n).Error
	return n, err
}

func orderReviews(q *gorm.DB, sortBy string) *gorm.DB {
	switch sortBy {
	case ReviewSortNewest:
		return q.Order("created_at DESC")
	case ReviewSortOldest:
		return q.Order("created_at ASC")
	case ReviewSortRatingHigh:
		return q.Order("rating DESC").Order("created_at DESC")
	case ReviewSortRatingLow:
		return q.Order("rating ASC").Order("created_at DESC")
	default:
		return q.Order("helpful_votes DESC").Order("created_at DESC")
	}
}

func authorColumns(db *gorm.DB) *gorm.DB {
	return db.Select("id", "username", "first_name", "last_name", "review_count", "created_at")
}

func movieColumns(db *gorm.DB) *gorm.DB {
	return db.Select("id", "title", "poster_url", "release_date", "genres", "average_rating")
}

// ListMovieReviewsPage returns one page of a movie's qualifying reviews
// (active and approved) with their authors preloaded.
//
// f.Rating narrows to a single star value when it is 1..5; other values
// mean any rating. f.SortBy takes the ReviewSort* keys and defaults to most
// helpful first, ties broken newest first. Authors are loaded with public
// columns only, so emails never reach a listing.
//
// Return values:
//   - reviews: at most limit rows starting at offset
//   - total:   matches across all pages, for pagination
//   - err:     database error, if any
func ListMovieReviewsPage(ctx context.Context, db *gorm.DB, movieID string, f ReviewFilter, offset, limit int) ([]domain.Review, int64, error) {
	q := qualifying(db.WithContext(ctx).Model(&domain.Review{})).Where("movie_id = ?", movieID)
	if f.Rating >= 1 && f.Rating <= 5 {
		q = q.Where("rating = ?", f.Rating)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Review
	err := orderReviews(q, f.SortBy).Preload("User", authorColumns).
		Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// ListUserReviewsPage returns a page of a user's active, approved reviews
// with their movies.
func ListUserReviewsPage(ctx context.Context, db *gorm.DB, userID string, sortBy string, offset, limit int) ([]domain.Review, int64, error) {
	q := qualifying(db.WithContext(ctx).Model(&domain.Review{})).Where("user_id = ?", userID)
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if sortBy == "" {
		sortBy = ReviewSortNewest
	}
	var out []domain.Review
	err := orderReviews(q, sortBy).Preload("Movie", movieColumns).
		Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}
