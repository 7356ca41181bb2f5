// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Movie
// model, including the narrow writers used by the aggregation services for
// derived fields.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// Movie sort keys accepted by ListMoviesPage.
const (
	MovieSortRelevance  = "relevance"
	MovieSortRating     = "rating"
	MovieSortYear       = "year"
	MovieSortPopularity = "popularity"
	MovieSortTitle      = "title"
)

// MovieFilter narrows catalog listings. Zero values mean "no filter".
type MovieFilter struct {
	Genre     string
	Year      int
	MinRating float64
	Search    string
	SortBy    string
}

// CreateMovie inserts m, assigning an ID and UTC timestamps when missing.
func CreateMovie(ctx context.Context, db *gorm.DB, m *domain.Movie) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	return db.WithContext(ctx).Create(m).Error
}

// GetMovie fetches a movie by ID regardless of activity.
func GetMovie(ctx context.Context, db *gorm.DB, id string) (*domain.Movie, error) {
	var m domain.Movie
	if err := db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetActiveMovie fetches a movie that has not been soft-deleted.
func GetActiveMovie(ctx context.Context, db *gorm.DB, id string) (*domain.Movie, error) {
	var m domain.Movie
	if err := db.WithContext(ctx).First(&m, "id = ? AND is_active = ?", id, true).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMovie applies column updates to an active movie. Returns ErrNotFound
// when no row matched.
func UpdateMovie(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Movie{}).
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

// SaveMovieColumns writes the named columns of m to its active row. Struct
// updates run the JSON serializers of cast and genres.
func SaveMovieColumns(ctx context.Context, db *gorm.DB, m *domain.Movie, columns ...string) error {
	m.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).Model(m).
		Where("is_active = ?", true).
		Select(append(columns, "updated_at")).
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementViewCount bumps view_count by one for an active movie. It leaves
// updated_at alone so detail views do not invalidate cached listings.
func IncrementViewCount(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.Movie{}).
		Where("id = ? AND is_active = ?", id, true).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRatingAggregate writes the rating-derived fields of a movie (average,
// total and the five histogram buckets) in one statement, so readers never
// see an average that disagrees with its histogram.
//
// It bypasses hooks and moves updated_at, which conditional listings that
// embed the movie depend on. The movie's is_active flag is not checked:
// deactivated movies keep accurate aggregates. Returns ErrNotFound when the
// row does not exist.
func SetRatingAggregate(ctx context.Context, db *gorm.DB, id string, avg float64, total int, dist domain.RatingDistribution) error {
	res := db.WithContext(ctx).Model(&domain.Movie{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"average_rating": avg,
			"total_ratings":  total,
			"rating_1":       dist.One,
			"rating_2":       dist.Two,
			"rating_3":       dist.Three,
			"rating_4":       dist.Four,
			"rating_5":       dist.Five,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWatchlistCount writes the movie's watchlist_count.
func SetWatchlistCount(ctx context.Context, db *gorm.DB, id string, n int64) error {
	res := db.WithContext(ctx).Model(&domain.Movie{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"watchlist_count": n, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMoviesPage returns a page of active movies matching f and the total
// number of matches.
func ListMoviesPage(ctx context.Context, db *gorm.DB, f MovieFilter, offset, limit int) ([]domain.Movie, int64, error) {
	q := applyMovieFilter(db.WithContext(ctx).Model(&domain.Movie{}), f)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Movie
	err := orderMovies(q, f.SortBy).Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// SearchMovies returns every active movie matching f without paging. Used
// when results are ranked in memory.
func SearchMovies(ctx context.Context, db *gorm.DB, f MovieFilter, max int) ([]domain.Movie, error) {
	var out []domain.Movie
	q := applyMovieFilter(db.WithContext(ctx).Model(&domain.Movie{}), f)
	if max > 0 {
		q = q.Limit(max)
	}
	err := q.Order("popularity DESC").Find(&out).Error
	return out, err
}

func applyMovieFilter(q *gorm.DB, f MovieFilter) *gorm.DB {
	q = q.Where("is_active = ?", true)
	if g := strings.TrimSpace(f.Genre); g != "" {
		// genres is a JSON array of strings; match the quoted element.
		q = q.Where("genres LIKE ?", `%"`+g+`"%`)
	}
	if f.Year > 0 {
		start := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(1, 0, 0)
		q = q.Where("release_date >= ? AND release_date < ?", start, end)
	}
	if f.MinRating > 0 {
		q = q.Where("average_rating >= ?", f.MinRating)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(overview) LIKE ? OR LOWER(director) LIKE ?", like, like, like)
	}
	return q
}

func orderMovies(q *gorm.DB, sortBy string) *gorm.DB {
	switch sortBy {
	case MovieSortRating:
		return q.Order("average_rating DESC").Order("total_ratings DESC")
	case MovieSortYear:
		return q.Order("release_date DESC")
	case MovieSortTitle:
		return q.Order("title ASC")
	case MovieSortPopularity:
		return q.Order("popularity DESC")
	default:
		return q.Order("created_at DESC")
	}
}

// ListPopularMovies returns active movies by popularity.
func ListPopularMovies(ctx context.Context, db *gorm.DB, limit int) ([]domain.Movie, error) {
	var out []domain.Movie
	err := db.WithContext(ctx).Where("is_active = ?", true).
		Order("popularity DESC").Limit(limit).Find(&out).Error
	return out, err
}

// ListRecentMovies returns active movies by release date, newest first.
func ListRecentMovies(ctx context.Context, db *gorm.DB, limit int) ([]domain.Movie, error) {
	var out []domain.Movie
	err := db.WithContext(ctx).Where("is_active = ? AND release_date IS NOT NULL", true).
		Order("release_date DESC").Limit(limit).Find(&out).Error
	return out, err
}

// ListTopRatedMovies returns active movies with at least minRatings ratings,
// best average first.
func ListTopRatedMovies(ctx context.Context, db *gorm.DB, minRatings, limit int) ([]domain.Movie, error) {
	var out []domain.Movie
	err := db.WithContext(ctx).Where("is_active = ? AND total_ratings >= ?", true, minRatings).
		Order("average_rating DESC").Order("total_ratings DESC").Limit(limit).Find(&out).Error
	return out, err
}

// GetMoviesByIDs returns movies keyed by ID.
func GetMoviesByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Movie, error) {
	out := make(map[string]domain.Movie, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Movie
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}

// ListMovieIDs returns every movie ID, active or not.
func ListMovieIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.Movie{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}
