// Package services – Aggregator
//
// Aggregator owns every derived field: a movie's rating statistics and
// watchlist count, and a user's review and watchlist counters. Each value is
// always recomputed from the full current row set, never adjusted
// incrementally, so concurrent recomputes converge on the same result.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/events"
	"github.com/tbourn/go-movie-reviews/internal/repo"
)

// Aggregation kinds, used as metric labels and in warnings.
const (
	AggMovieRating    = "movie_rating"
	AggWatchlistCount = "watchlist_count"
	AggUserCounts     = "user_counts"
)

var (
	aggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviereviews_aggregations_total",
			Help: "Recomputations of derived fields, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	aggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moviereviews_aggregation_duration_seconds",
			Help:    "Time spent recomputing derived fields.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(aggregationsTotal, aggregationDuration)
}

// RatingSummary is the rating aggregate of a set of reviews.
type RatingSummary struct {
	Average      float64                   `json:"average_rating"`
	Total        int                       `json:"total_ratings"`
	Distribution domain.RatingDistribution `json:"rating_distribution"`
}

// Summarize computes count and mean (one decimal, half up) of dist.
func Summarize(dist domain.RatingDistribution) RatingSummary {
	return RatingSummary{Average: AverageRating(dist), Total: dist.Total(), Distribution: dist}
}

// AverageRating returns the mean star rating of dist rounded half up to one
// decimal place, or 0 for an empty histogram. The mean is computed in
// integer tenths, so exact halves such as 3.45 always round up.
func AverageRating(dist domain.RatingDistribution) float64 {
	n := dist.Total()
	if n == 0 {
		return 0
	}
	sum := 0
	for stars := 1; stars <= 5; stars++ {
		sum += stars * dist.Count(stars)
	}
	tenths := (sum*20 + n) / (2 * n)
	return float64(tenths) / 10
}

// Aggregator recomputes derived fields.
type Aggregator struct {
	DB  *gorm.DB
	Log zerolog.Logger
}

// NewAggregator returns an Aggregator over db.
func NewAggregator(db *gorm.DB, log zerolog.Logger) *Aggregator {
	return &Aggregator{DB: db, Log: log}
}

func (a *Aggregator) observe(kind string, start time.Time, err error) {
	aggregationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		aggregationsTotal.WithLabelValues(kind, "ok").Inc()
	case IsAggregationWarning(err):
		aggregationsTotal.WithLabelValues(kind, "warning").Inc()
	default:
		aggregationsTotal.WithLabelValues(kind, "error").Inc()
	}
}

// RecomputeMovieRating rewrites a movie's average, total, and histogram from
// its active, approved reviews. A missing movie yields *AggregationWarning.
func (a *Aggregator) RecomputeMovieRating(ctx context.Context, movieID string) (sum RatingSummary, err error) {
	ctx, span := otel.Tracer("services/Aggregator").Start(ctx, "RecomputeMovieRating",
		trace.WithAttributes(attribute.String("movie.id", movieID)))
	defer span.End()
	defer func(start time.Time) { a.observe(AggMovieRating, start, err) }(time.Now())

	dist, err := repo.MovieRatingBuckets(ctx, a.DB, movieID)
	if err != nil {
		return RatingSummary{}, err
	}
	sum = Summarize(dist)
	err = repo.SetRatingAggregate(ctx, a.DB, movieID, sum.Average, sum.Total, sum.Distribution)
	if errors.Is(err, repo.ErrNotFound) {
		return sum, &AggregationWarning{Kind: AggMovieRating, MovieID: movieID, Reason: "movie not found"}
	}
	if err != nil {
		return RatingSummary{}, err
	}
	return sum, nil
}

// RecomputeWatchlistCount rewrites a movie's watchlist count from its
// entries, regardless of status. A missing movie yields *AggregationWarning.
func (a *Aggregator) RecomputeWatchlistCount(ctx context.Context, movieID string) (n int64, err error) {
	ctx, span := otel.Tracer("services/Aggregator").Start(ctx, "RecomputeWatchlistCount",
		trace.WithAttributes(attribute.String("movie.id", movieID)))
	defer span.End()
	defer func(start time.Time) { a.observe(AggWatchlistCount, start, err) }(time.Now())

	n, err = repo.CountWatchlistByMovie(ctx, a.DB, movieID)
	if err != nil {
		return 0, err
	}
	err = repo.SetWatchlistCount(ctx, a.DB, movieID, n)
	if errors.Is(err, repo.ErrNotFound) {
		return n, &AggregationWarning{Kind: AggWatchlistCount, MovieID: movieID, Reason: "movie not found"}
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RecomputeUserCounts rewrites a user's active review count and watchlist
// entry count. A missing user yields *AggregationWarning.
func (a *Aggregator) RecomputeUserCounts(ctx context.Context, userID string) (err error) {
	ctx, span := otel.Tracer("services/Aggregator").Start(ctx, "RecomputeUserCounts",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()
	defer func(start time.Time) { a.observe(AggUserCounts, start, err) }(time.Now())

	reviews, err := repo.CountActiveReviewsByUser(ctx, a.DB, userID)
	if err != nil {
		return err
	}
	watchlist, err := repo.CountWatchlistByUser(ctx, a.DB, userID)
	if err != nil {
		return err
	}
	err = repo.SetUserCounts(ctx, a.DB, userID, reviews, watchlist)
	if errors.Is(err, repo.ErrNotFound) {
		return &AggregationWarning{Kind: AggUserCounts, UserID: userID, Reason: "user not found"}
	}
	return err
}

// Register subscribes the aggregator's consumers to bus.
func (a *Aggregator) Register(bus *events.Bus) {
	bus.Subscribe(domain.TopicReviewChanged, AggMovieRating, a.consume(func(ctx context.Context, ev domain.Event) error {
		_, err := a.RecomputeMovieRating(ctx, ev.Movie())
		return err
	}))
	bus.Subscribe(domain.TopicReviewChanged, AggUserCounts, a.consume(a.userCounts))

	bus.Subscribe(domain.TopicWatchlistChanged, AggWatchlistCount, a.consume(func(ctx context.Context, ev domain.Event) error {
		_, err := a.RecomputeWatchlistCount(ctx, ev.Movie())
		return err
	}))
	bus.Subscribe(domain.TopicWatchlistChanged, AggUserCounts, a.consume(a.userCounts))
}

func (a *Aggregator) userCounts(ctx context.Context, ev domain.Event) error {
	return a.RecomputeUserCounts(ctx, ev.User())
}

// consume logs warnings and swallows them; other errors propagate so the
// event can be replayed.
func (a *Aggregator) consume(fn events.Handler) events.Handler {
	return func(ctx context.Context, ev domain.Event) error {
		err := fn(ctx, ev)
		var w *AggregationWarning
		if errors.As(err, &w) {
			a.Log.Warn().
				Str("kind", w.Kind).
				Str("movie_id", w.MovieID).
				Str("user_id", w.UserID).
				Str("reason", w.Reason).
				Msg("aggregation skipped")
			return nil
		}
		return err
	}
}
