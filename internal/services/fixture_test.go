package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/events"
	"github.com/tbourn/go-movie-reviews/internal/repo"
)

// fixture wires the services over an isolated in-memory database, with the
// aggregator subscribed to a synchronous bus the way the server wires them.
type fixture struct {
	db        *gorm.DB
	bus       *events.Bus
	agg       *Aggregator
	mut       *Mutator
	reviews   *ReviewService
	watchlist *WatchlistService
	movies    *MovieService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := zerolog.Nop()

	bus := events.NewBus(log)
	agg := NewAggregator(db, log)
	agg.Register(bus)
	mut := NewMutator(db, bus, log)

	return &fixture{
		db:        db,
		bus:       bus,
		agg:       agg,
		mut:       mut,
		reviews:   NewReviewService(db, mut),
		watchlist: NewWatchlistService(db, mut),
		movies:    NewMovieService(db),
	}
}

func (f *fixture) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, Email: name + "@example.com", PasswordHash: "x", IsActive: true}
	if err := repo.CreateUser(context.Background(), f.db, u); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (f *fixture) movie(t *testing.T, title string) *domain.Movie {
	t.Helper()
	m := &domain.Movie{Title: title, Director: domain.DefaultDirector, Genres: []string{"Drama"}, IsActive: true}
	if err := repo.CreateMovie(context.Background(), f.db, m); err != nil {
		t.Fatalf("create movie %s: %v", title, err)
	}
	return m
}

func (f *fixture) reloadMovie(t *testing.T, id string) *domain.Movie {
	t.Helper()
	m, err := repo.GetMovie(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("reload movie: %v", err)
	}
	return m
}

func (f *fixture) reloadUser(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := repo.GetUser(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return u
}

func actor(u *domain.User) Actor { return Actor{UserID: u.ID, IsAdmin: u.IsAdmin} }

func review(rating int) ReviewInput {
	return ReviewInput{Rating: rating, Title: "My take", Content: "Worth every minute of the runtime."}
}

func wantRating(t *testing.T, m *domain.Movie, avg float64, total int) {
	t.Helper()
	if m.AverageRating != avg || m.TotalRatings != total {
		t.Fatalf("movie %q: avg=%v total=%d, want avg=%v total=%d", m.Title, m.AverageRating, m.TotalRatings, avg, total)
	}
	if m.Distribution.Total() != total {
		t.Fatalf("histogram total=%d, want %d", m.Distribution.Total(), total)
	}
}
