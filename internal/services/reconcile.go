package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"

	"github.com/tbourn/go-movie-reviews/internal/repo"
)

// ReconcileReport counts the outcome of a full reconciliation.
type ReconcileReport struct {
	Movies   int64         `json:"movies"`
	Users    int64         `json:"users"`
	Warnings int64         `json:"warnings"`
	Took     time.Duration `json:"took"`
}

// Reconciler recomputes every derived field from scratch. It repairs drift
// left by events whose consumers failed past their retries.
type Reconciler struct {
	Agg     *Aggregator
	Workers int
	Log     zerolog.Logger
}

// NewReconciler returns a Reconciler running up to workers recomputes at once.
func NewReconciler(agg *Aggregator, workers int, log zerolog.Logger) *Reconciler {
	return &Reconciler{Agg: agg, Workers: workers, Log: log}
}

// Run recomputes rating and watchlist aggregates for every movie, then the
// counters of every user. The first hard error cancels the remaining work.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := otel.Tracer("services/Reconciler").Start(ctx, "Run")
	defer span.End()

	start := time.Now()
	var rep ReconcileReport

	movieIDs, err := repo.ListMovieIDs(ctx, r.Agg.DB)
	if err != nil {
		return nil, err
	}
	err = r.each(ctx, movieIDs, &rep.Warnings, func(ctx context.Context, id string) error {
		if _, err := r.Agg.RecomputeMovieRating(ctx, id); err != nil {
			return err
		}
		_, err := r.Agg.RecomputeWatchlistCount(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	rep.Movies = int64(len(movieIDs))

	userIDs, err := repo.ListUserIDs(ctx, r.Agg.DB)
	if err != nil {
		return nil, err
	}
	err = r.each(ctx, userIDs, &rep.Warnings, r.Agg.RecomputeUserCounts)
	if err != nil {
		return nil, err
	}
	rep.Users = int64(len(userIDs))

	rep.Took = time.Since(start)
	r.Log.Info().
		Int64("movies", rep.Movies).
		Int64("users", rep.Users).
		Int64("warnings", rep.Warnings).
		Dur("took", rep.Took).
		Msg("reconciliation complete")
	return &rep, nil
}

func (r *Reconciler) each(ctx context.Context, ids []string, warnings *int64, fn func(context.Context, string) error) error {
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(workers)
	for _, id := range ids {
		p.Go(func(ctx context.Context) error {
			err := fn(ctx, id)
			if IsAggregationWarning(err) {
				atomic.AddInt64(warnings, 1)
				r.Log.Warn().Err(err).Msg("reconcile skipped record")
				return nil
			}
			return err
		})
	}
	return p.Wait()
}
