// Package domain defines the persistence models for users, movies, reviews,
// and watchlist entries. These types are mapped with GORM and form the core
// data layer of the movie review platform.
//
// Derived fields on Movie (rating aggregates, watchlist count) and on User
// (review/watchlist counters) are never written from request input; they are
// recomputed by the services layer from the underlying review and watchlist
// rows.
package domain

import (
	"time"
)

// User represents a registered account.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Username / Email: unique identifiers; email is stored lowercased.
//   - PasswordHash: bcrypt hash, never serialized.
//   - IsAdmin / IsActive: role flag and soft-deactivation flag.
//   - ReviewCount / WatchlistCount: denormalized counters kept equal to the
//     number of the user's active reviews and watchlist entries.
type User struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	Username       string     `json:"username"        gorm:"type:varchar(20);not null;uniqueIndex:ux_users_username"`
	Email          string     `json:"email,omitempty" gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash   string     `json:"-"               gorm:"type:varchar(100);not null"`
	FirstName      string     `json:"first_name,omitempty" gorm:"type:varchar(50)"`
	LastName       string     `json:"last_name,omitempty"  gorm:"type:varchar(50)"`
	Bio            string     `json:"bio,omitempty"   gorm:"type:varchar(500)"`
	FavoriteGenres []string   `json:"favorite_genres" gorm:"type:text;serializer:json"`
	IsAdmin        bool       `json:"is_admin"        gorm:"not null"`
	IsActive       bool       `json:"is_active"       gorm:"not null;index"`
	ReviewCount    int        `json:"review_count"    gorm:"not null"`
	WatchlistCount int        `json:"watchlist_count" gorm:"not null"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// CastMember is one credited actor of a movie.
type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character,omitempty"`
}

// Movie is a catalog entry. AverageRating, TotalRatings, Distribution and
// WatchlistCount are aggregate fields owned by the aggregation services.
type Movie struct {
	ID          string       `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string       `json:"title"        gorm:"type:varchar(200);not null;index"`
	Overview    string       `json:"overview"     gorm:"type:text"`
	ReleaseDate *time.Time   `json:"release_date,omitempty" gorm:"index"`
	Runtime     int          `json:"runtime,omitempty"`
	Director    string       `json:"director"     gorm:"type:varchar(200);not null"`
	Cast        []CastMember `json:"cast"         gorm:"type:text;serializer:json"`
	Genres      []string     `json:"genres"       gorm:"type:text;serializer:json"`
	PosterURL   string       `json:"poster_url,omitempty"`
	BackdropURL string       `json:"backdrop_url,omitempty"`
	TrailerURL  string       `json:"trailer_url,omitempty"`
	ImdbID      *string      `json:"imdb_id,omitempty" gorm:"type:varchar(20);uniqueIndex:ux_movies_imdb"`
	TmdbID      *int64       `json:"tmdb_id,omitempty" gorm:"uniqueIndex:ux_movies_tmdb"`

	AverageRating  float64            `json:"average_rating"  gorm:"not null;index"`
	TotalRatings   int                `json:"total_ratings"   gorm:"not null"`
	Distribution   RatingDistribution `json:"rating_distribution" gorm:"embedded;embeddedPrefix:rating_"`
	Popularity     float64            `json:"popularity"      gorm:"not null;index"`
	ViewCount      int64              `json:"view_count"      gorm:"not null"`
	WatchlistCount int                `json:"watchlist_count" gorm:"not null"`

	IsActive  bool      `json:"is_active"  gorm:"not null;index"`
	CreatedBy string    `json:"created_by,omitempty" gorm:"type:char(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Movie.
func (Movie) TableName() string { return "movies" }

// ReviewFlags holds per-category flag counters.
type ReviewFlags struct {
	Spam          int `json:"spam"          gorm:"not null"`
	Inappropriate int `json:"inappropriate" gorm:"not null"`
	Spoiler       int `json:"spoiler"       gorm:"not null"`
}

// Total sums all flag categories.
func (f ReviewFlags) Total() int { return f.Spam + f.Inappropriate + f.Spoiler }

// Review is one user's opinion of one movie. The (UserID, MovieID) pair is
// unique across all rows, including soft-deleted ones.
type Review struct {
	ID               string      `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID           string      `json:"user_id"   gorm:"type:char(36);not null;index;uniqueIndex:ux_reviews_user_movie,priority:1"`
	MovieID          string      `json:"movie_id"  gorm:"type:char(36);not null;index:idx_reviews_movie_state,priority:1;uniqueIndex:ux_reviews_user_movie,priority:2"`
	Rating           int         `json:"rating"    gorm:"not null;check:rating BETWEEN 1 AND 5"`
	Title            string      `json:"title"     gorm:"type:varchar(100);not null"`
	Content          string      `json:"content"   gorm:"type:text;not null"`
	Spoilers         bool        `json:"spoilers"  gorm:"not null"`
	HelpfulVotes     int         `json:"helpful_votes" gorm:"not null"`
	TotalVotes       int         `json:"total_votes"   gorm:"not null"`
	IsEdited         bool        `json:"is_edited"     gorm:"not null"`
	EditedAt         *time.Time  `json:"edited_at,omitempty"`
	IsActive         bool        `json:"is_active"     gorm:"not null;index:idx_reviews_movie_state,priority:2"`
	ModerationStatus string      `json:"moderation_status" gorm:"type:varchar(16);not null;index:idx_reviews_movie_state,priority:3;check:moderation_status IN ('approved','pending','rejected')"`
	ModerationReason string      `json:"moderation_reason,omitempty" gorm:"type:varchar(255)"`
	Flags            ReviewFlags `json:"flags"     gorm:"embedded;embeddedPrefix:flags_"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`

	// User is the review author, loaded for listings.
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	// Movie is the reviewed title, loaded for user-centric listings.
	Movie *Movie `json:"movie,omitempty" gorm:"foreignKey:MovieID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Review.
func (Review) TableName() string { return "reviews" }

// HelpfulPercentage is round(helpful/total*100), or 0 without votes.
func (r Review) HelpfulPercentage() int {
	if r.TotalVotes <= 0 {
		return 0
	}
	return (r.HelpfulVotes*200 + r.TotalVotes) / (r.TotalVotes * 2)
}

// WatchlistEntry is one user's tracking record for one movie. DateWatched is
// non-nil exactly when Status is WatchStatusWatched.
type WatchlistEntry struct {
	ID             string     `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID         string     `json:"user_id"   gorm:"type:char(36);not null;index;uniqueIndex:ux_watchlist_user_movie,priority:1"`
	MovieID        string     `json:"movie_id"  gorm:"type:char(36);not null;index;uniqueIndex:ux_watchlist_user_movie,priority:2"`
	Status         string     `json:"status"    gorm:"type:varchar(16);not null;index;check:status IN ('want_to_watch','watching','watched')"`
	Priority       string     `json:"priority"  gorm:"type:varchar(8);not null;check:priority IN ('low','medium','high')"`
	Notes          string     `json:"notes,omitempty" gorm:"type:varchar(500)"`
	PersonalRating *int       `json:"personal_rating,omitempty" gorm:"check:personal_rating IS NULL OR personal_rating BETWEEN 1 AND 5"`
	DateWatched    *time.Time `json:"date_watched,omitempty"`
	IsPublic       bool       `json:"is_public" gorm:"not null"`
	CreatedAt      time.Time  `json:"added_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	User  *User  `json:"-"               gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Movie *Movie `json:"movie,omitempty" gorm:"foreignKey:MovieID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for WatchlistEntry.
func (WatchlistEntry) TableName() string { return "watchlists" }
