package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/repo"
)

func TestWatchlist_CountFollowsAddAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	y := f.movie(t, "Movie Y")

	steps := []struct {
		name string
		do   func() error
		want int
	}{
		{"A adds", func() error { _, err := f.watchlist.Add(ctx, a.ID, y.ID, WatchlistInput{}); return err }, 1},
		{"B adds", func() error { _, err := f.watchlist.Add(ctx, b.ID, y.ID, WatchlistInput{}); return err }, 2},
		{"A removes", func() error { return f.watchlist.Remove(ctx, a.ID, y.ID) }, 1},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got := f.reloadMovie(t, y.ID).WatchlistCount; got != s.want {
			t.Fatalf("%s: watchlist_count=%d, want %d", s.name, got, s.want)
		}
	}
	if got := f.reloadUser(t, a.ID).WatchlistCount; got != 0 {
		t.Fatalf("alice watchlist_count=%d", got)
	}
	if got := f.reloadUser(t, b.ID).WatchlistCount; got != 1 {
		t.Fatalf("bob watchlist_count=%d", got)
	}
}

func TestWatchlist_AddDefaultsAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	y := f.movie(t, "Movie Y")

	e, err := f.watchlist.Add(ctx, a.ID, y.ID, WatchlistInput{Notes: "  weekend  "})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if e.Status != domain.WatchStatusWantToWatch || e.Priority != domain.PriorityMedium || e.Notes != "weekend" {
		t.Fatalf("defaults: %+v", e)
	}
	if e.DateWatched != nil {
		t.Fatalf("date_watched set for want_to_watch")
	}

	_, err = f.watchlist.Add(ctx, a.ID, y.ID, WatchlistInput{})
	if !errors.Is(err, ErrAlreadyInWatchlist) || !errors.Is(err, ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	if got := f.reloadMovie(t, y.ID).WatchlistCount; got != 1 {
		t.Fatalf("watchlist_count=%d after rejected add", got)
	}

	if _, err := f.watchlist.Add(ctx, a.ID, "missing", WatchlistInput{}); !errors.Is(err, ErrMovieNotFound) {
		t.Fatalf("missing movie: %v", err)
	}
	if _, err := f.watchlist.Add(ctx, a.ID, y.ID, WatchlistInput{Status: "later"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad status: %v", err)
	}
}

func TestWatchlist_DateWatchedTracksStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	y := f.movie(t, "Movie Y")

	t0 := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	f.watchlist.now = func() time.Time { return t0 }

	e, err := f.watchlist.Add(ctx, a.ID, y.ID, WatchlistInput{Status: domain.WatchStatusWatched})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if e.DateWatched == nil || !e.DateWatched.Equal(t0) {
		t.Fatalf("date_watched on add: %v", e.DateWatched)
	}

	watching := domain.WatchStatusWatching
	e, err = f.watchlist.Update(ctx, a.ID, y.ID, WatchlistPatch{Status: &watching})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if e.DateWatched != nil {
		t.Fatalf("date_watched should clear when leaving watched")
	}

	t1 := t0.Add(48 * time.Hour)
	f.watchlist.now = func() time.Time { return t1 }
	rating := 4
	e, err = f.watchlist.MarkWatched(ctx, a.ID, y.ID, &rating)
	if err != nil {
		t.Fatalf("mark watched: %v", err)
	}
	if e.Status != domain.WatchStatusWatched || e.DateWatched == nil || !e.DateWatched.Equal(t1) {
		t.Fatalf("mark watched: %+v", e)
	}
	if e.PersonalRating == nil || *e.PersonalRating != 4 {
		t.Fatalf("personal rating: %v", e.PersonalRating)
	}

	t2 := t1.Add(time.Hour)
	f.watchlist.now = func() time.Time { return t2 }
	e, err = f.watchlist.MarkWatched(ctx, a.ID, y.ID, nil)
	if err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	if !e.DateWatched.Equal(t2) || *e.PersonalRating != 4 {
		t.Fatalf("re-mark should refresh date and keep rating: %+v", e)
	}

	// a priority-only edit keeps the watched date
	high := domain.PriorityHigh
	e, err = f.watchlist.Update(ctx, a.ID, y.ID, WatchlistPatch{Priority: &high})
	if err != nil || e.DateWatched == nil {
		t.Fatalf("priority edit: %+v %v", e, err)
	}
}

func TestWatchlist_MissingEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	y := f.movie(t, "Movie Y")

	if _, err := f.watchlist.MarkWatched(ctx, a.ID, y.ID, nil); !errors.Is(err, ErrWatchlistEntryNotFound) {
		t.Fatalf("mark watched: %v", err)
	}
	if err := f.watchlist.Remove(ctx, a.ID, y.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove: %v", err)
	}
	high := domain.PriorityHigh
	if _, err := f.watchlist.Update(ctx, a.ID, y.ID, WatchlistPatch{Priority: &high}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: %v", err)
	}
	bad := 9
	if _, err := f.watchlist.MarkWatched(ctx, a.ID, y.ID, &bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad rating: %v", err)
	}
}

func TestWatchlist_StatusEditsPublishNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "alice")
	y := f.movie(t, "Movie Y")
	if _, err := f.watchlist.Add(ctx, a.ID, y.ID, WatchlistInput{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	seen := 0
	f.bus.Subscribe(domain.TopicWatchlistChanged, "probe", func(context.Context, domain.Event) error {
		seen++
		return nil
	})
	watching := domain.WatchStatusWatching
	if _, err := f.watchlist.Update(ctx, a.ID, y.ID, WatchlistPatch{Status: &watching}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.watchlist.MarkWatched(ctx, a.ID, y.ID, nil); err != nil {
		t.Fatalf("mark watched: %v", err)
	}
	if seen != 0 {
		t.Fatalf("status edits published %d events", seen)
	}
	if err := f.watchlist.Remove(ctx, a.ID, y.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if seen != 1 {
		t.Fatalf("remove published %d events, want 1", seen)
	}
}

func TestWatchlist_ListStatsCheckPopular(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.user(t, "alice"), f.user(t, "bob")
	y, z := f.movie(t, "Movie Y"), f.movie(t, "Movie Z")

	mustAdd := func(userID, movieID, status string) {
		t.Helper()
		if _, err := f.watchlist.Add(ctx, userID, movieID, WatchlistInput{Status: status}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	mustAdd(a.ID, y.ID, domain.WatchStatusWatched)
	mustAdd(a.ID, z.ID, "")
	mustAdd(b.ID, z.ID, domain.WatchStatusWatching)

	items, total, err := f.watchlist.List(ctx, a.ID, repo.WatchlistFilter{Status: domain.WatchStatusWatched}, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].Movie == nil || items[0].Movie.Title != "Movie Y" {
		t.Fatalf("list: total=%d items=%+v", total, items)
	}

	st, err := f.watchlist.Stats(ctx, a.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 2 || st.ByStatus[domain.WatchStatusWatched] != 1 ||
		st.ByStatus[domain.WatchStatusWantToWatch] != 1 || st.ByStatus[domain.WatchStatusWatching] != 0 {
		t.Fatalf("stats: %+v", st)
	}

	chk, err := f.watchlist.Check(ctx, b.ID, y.ID)
	if err != nil || chk.InWatchlist {
		t.Fatalf("check absent: %+v %v", chk, err)
	}
	chk, err = f.watchlist.Check(ctx, b.ID, z.ID)
	if err != nil || !chk.InWatchlist || chk.Entry == nil {
		t.Fatalf("check present: %+v %v", chk, err)
	}

	pop, err := f.watchlist.Popular(ctx, 5)
	if err != nil {
		t.Fatalf("popular: %v", err)
	}
	if len(pop) != 2 || pop[0].Movie.ID != z.ID || pop[0].WatchlistCount != 2 {
		t.Fatalf("popular: %+v", pop)
	}
}
