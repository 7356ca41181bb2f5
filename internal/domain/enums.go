package domain

import (
	"encoding/json"
	"strconv"
)

// Moderation states of a review.
const (
	ModerationApproved = "approved"
	ModerationPending  = "pending"
	ModerationRejected = "rejected"
)

// Watchlist statuses.
const (
	WatchStatusWantToWatch = "want_to_watch"
	WatchStatusWatching    = "watching"
	WatchStatusWatched     = "watched"
)

// Watchlist priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Flag reasons accepted for reviews.
const (
	FlagSpam          = "spam"
	FlagInappropriate = "inappropriate"
	FlagSpoiler       = "spoiler"
)

// FlagThreshold is the total flag count at which an approved review is sent
// back to moderation.
const FlagThreshold = 5

// DefaultDirector is stored when a movie is created without a director.
const DefaultDirector = "Unknown Director"

// Genres is the canonical genre list.
var Genres = []string{
	"Action", "Adventure", "Animation", "Comedy", "Crime", "Documentary",
	"Drama", "Family", "Fantasy", "History", "Horror", "Music", "Mystery",
	"Romance", "Science Fiction", "TV Movie", "Thriller", "War", "Western",
}

// RatingDistribution is the five-bucket histogram of star ratings.
// It is stored as five integer columns and serialized as {"1":n,...,"5":n}.
type RatingDistribution struct {
	One   int `json:"-" gorm:"column:1;not null"`
	Two   int `json:"-" gorm:"column:2;not null"`
	Three int `json:"-" gorm:"column:3;not null"`
	Four  int `json:"-" gorm:"column:4;not null"`
	Five  int `json:"-" gorm:"column:5;not null"`
}

// Add increments the bucket for stars by n. Out-of-range stars are ignored.
func (d *RatingDistribution) Add(stars, n int) {
	switch stars {
	case 1:
		d.One += n
	case 2:
		d.Two += n
	case 3:
		d.Three += n
	case 4:
		d.Four += n
	case 5:
		d.Five += n
	}
}

// Count returns the bucket for stars, or 0 when out of range.
func (d RatingDistribution) Count(stars int) int {
	switch stars {
	case 1:
		return d.One
	case 2:
		return d.Two
	case 3:
		return d.Three
	case 4:
		return d.Four
	case 5:
		return d.Five
	}
	return 0
}

// Total sums every bucket.
func (d RatingDistribution) Total() int {
	return d.One + d.Two + d.Three + d.Four + d.Five
}

// MarshalJSON renders the histogram keyed by star value.
func (d RatingDistribution) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, 5)
	for s := 1; s <= 5; s++ {
		m[strconv.Itoa(s)] = d.Count(s)
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the keyed form produced by MarshalJSON.
func (d *RatingDistribution) UnmarshalJSON(b []byte) error {
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*d = RatingDistribution{}
	for k, v := range m {
		if s, err := strconv.Atoi(k); err == nil {
			d.Add(s, v)
		}
	}
	return nil
}
