package domain

// Event topics.
const (
	TopicReviewChanged    = "review.changed"
	TopicWatchlistChanged = "watchlist.changed"
)

// Change operations carried by events.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Event is a post-commit notification that a record owned by a movie (and a
// user) changed. Consumers recompute derived fields from scratch.
type Event interface {
	Topic() string
	Movie() string
	User() string
}

// ReviewChanged is published after a review create, update, flag, moderation,
// or soft delete commits.
type ReviewChanged struct {
	MovieID  string `json:"movie_id"`
	UserID   string `json:"user_id"`
	ReviewID string `json:"review_id"`
	Op       string `json:"op"`
}

func (e ReviewChanged) Topic() string { return TopicReviewChanged }
func (e ReviewChanged) Movie() string { return e.MovieID }
func (e ReviewChanged) User() string  { return e.UserID }

// WatchlistChanged is published after a watchlist entry is added or removed.
type WatchlistChanged struct {
	MovieID string `json:"movie_id"`
	UserID  string `json:"user_id"`
	Op      string `json:"op"`
}

func (e WatchlistChanged) Topic() string { return TopicWatchlistChanged }
func (e WatchlistChanged) Movie() string { return e.MovieID }
func (e WatchlistChanged) User() string  { return e.UserID }
