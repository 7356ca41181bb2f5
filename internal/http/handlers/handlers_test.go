package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/auth"
	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

//
// Stubs. Each embeds the interface so unexercised methods panic.
//

type stubTokens map[string]*auth.Claims

func (s stubTokens) Parse(tok string) (*auth.Claims, error) {
	if c, ok := s[tok]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

var testTokens = stubTokens{
	"alice": {UserID: "u1", Role: auth.RoleUser},
	"root":  {UserID: "a1", Role: auth.RoleAdmin},
}

type stubUsers struct {
	UserService
	register  func(services.RegisterInput) (*services.AuthResult, error)
	setActive func(services.Actor, string, bool) (*domain.User, error)
}

func (s *stubUsers) Register(_ context.Context, in services.RegisterInput) (*services.AuthResult, error) {
	return s.register(in)
}

func (s *stubUsers) SetActive(_ context.Context, a services.Actor, id string, active bool) (*domain.User, error) {
	return s.setActive(a, id, active)
}

type stubMovies struct {
	MovieService
	lastFilter repo.MovieFilter
	lastPage   [2]int
	lastViewer string
}

func (s *stubMovies) List(_ context.Context, f repo.MovieFilter, page, pageSize int) ([]domain.Movie, int64, error) {
	s.lastFilter, s.lastPage = f, [2]int{page, pageSize}
	return []domain.Movie{{ID: "m1", Title: "Heat"}}, 1, nil
}

func (s *stubMovies) Detail(_ context.Context, id, viewerID string) (*services.MovieDetail, error) {
	s.lastViewer = viewerID
	if id != "m1" {
		return nil, services.ErrMovieNotFound
	}
	return &services.MovieDetail{Movie: &domain.Movie{ID: id}}, nil
}

type stubReviews struct {
	ReviewService
	submits int
	lists   int
	count   int64
	maxTS   *time.Time
	gone    map[string]bool
}

func (s *stubReviews) Submit(_ context.Context, a services.Actor, movieID string, in services.ReviewInput) (*domain.Review, error) {
	s.submits++
	if in.Rating == 0 {
		return nil, validation.Field("rating", "min", "rating must be at least 1")
	}
	return &domain.Review{ID: "r" + string(rune('0'+s.submits)), UserID: a.UserID, MovieID: movieID, Rating: in.Rating}, nil
}

func (s *stubReviews) Get(_ context.Context, _ services.Actor, id string) (*domain.Review, error) {
	if s.gone[id] {
		return nil, services.ErrReviewNotFound
	}
	return &domain.Review{ID: id}, nil
}

func (s *stubReviews) Delete(context.Context, services.Actor, string) error { return nil }

func (s *stubReviews) MovieReviewsStats(_ context.Context, movieID string) (int64, *time.Time, error) {
	if movieID != "m1" {
		return 0, nil, services.ErrMovieNotFound
	}
	return s.count, s.maxTS, nil
}

func (s *stubReviews) ListForMovie(context.Context, string, repo.ReviewFilter, int, int) ([]domain.Review, int64, error) {
	s.lists++
	return []domain.Review{}, s.count, nil
}

type stubWatchlist struct {
	WatchlistService
	added      []services.WatchlistInput
	rated      *int
	lists      int
	entries    map[string]*domain.WatchlistEntry
	lastUserID string
}

func (s *stubWatchlist) Add(_ context.Context, userID, movieID string, in services.WatchlistInput) (*domain.WatchlistEntry, error) {
	if _, dup := s.entries[movieID]; dup {
		return nil, services.ErrAlreadyInWatchlist
	}
	s.added = append(s.added, in)
	e := &domain.WatchlistEntry{ID: "w-" + movieID, UserID: userID, MovieID: movieID}
	s.entries[movieID] = e
	return e, nil
}

func (s *stubWatchlist) Check(_ context.Context, _, movieID string) (*services.WatchlistCheck, error) {
	if e, ok := s.entries[movieID]; ok {
		return &services.WatchlistCheck{InWatchlist: true, Entry: e}, nil
	}
	return &services.WatchlistCheck{}, nil
}

func (s *stubWatchlist) MarkWatched(_ context.Context, _, movieID string, rating *int) (*domain.WatchlistEntry, error) {
	s.rated = rating
	return &domain.WatchlistEntry{ID: "w-" + movieID, Status: domain.WatchStatusWatched, PersonalRating: rating}, nil
}

func (s *stubWatchlist) WatchlistStatsETag(_ context.Context, userID string) (int64, *time.Time, error) {
	s.lastUserID = userID
	return int64(len(s.entries)), nil, nil
}

func (s *stubWatchlist) List(context.Context, string, repo.WatchlistFilter, int, int) ([]domain.WatchlistEntry, int64, error) {
	s.lists++
	return []domain.WatchlistEntry{}, 0, nil
}

type memIdempotency map[string]string

func (m memIdempotency) Lookup(_ context.Context, userID, scope, key string) (string, bool) {
	id, ok := m[userID+"|"+scope+"|"+key]
	return id, ok
}

func (m memIdempotency) Remember(_ context.Context, userID, scope, key, resourceID string, _ int) {
	m[userID+"|"+scope+"|"+key] = resourceID
}

//
// Harness
//

type fixture struct {
	users     *stubUsers
	movies    *stubMovies
	reviews   *stubReviews
	watchlist *stubWatchlist
	idem      memIdempotency
	r         *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	captureLogger(t)

	f := &fixture{
		users:     &stubUsers{},
		movies:    &stubMovies{},
		reviews:   &stubReviews{gone: map[string]bool{}},
		watchlist: &stubWatchlist{entries: map[string]*domain.WatchlistEntry{}},
		idem:      memIdempotency{},
	}
	h := New(Deps{Users: f.users, Movies: f.movies, Reviews: f.reviews, Watchlist: f.watchlist, Idempotency: f.idem})

	r := gin.New()
	r.Use(middleware.Authenticate(testTokens))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: IdempotencyScope}, nil))
	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.PATCH("/users/:id/status", h.SetUserActive)
	api.GET("/movies", h.ListMovies)
	api.GET("/movies/:id", h.GetMovie)
	api.GET("/movies/:id/reviews", h.ListMovieReviews)
	api.POST("/movies/:id/reviews", h.SubmitReview)
	api.DELETE("/reviews/:id", h.DeleteReview)
	api.POST("/reviews/:id/flag", h.FlagReview)
	api.GET("/watchlist", h.ListWatchlist)
	api.POST("/watchlist/:id", h.AddToWatchlist)
	api.POST("/watchlist/:id/watched", h.MarkWatched)
	f.r = r
	return f
}

func (f *fixture) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

//
// Tests
//

func TestRegister_ValidationFields(t *testing.T) {
	f := newFixture(t)
	f.users.register = func(in services.RegisterInput) (*services.AuthResult, error) {
		return nil, &validation.Error{Fields: []validation.FieldError{
			{Field: "email", Rule: "email", Message: "email must be a valid email address"},
			{Field: "password", Rule: "min", Message: "password must be at least 8 characters"},
		}}
	}

	w := f.do(http.MethodPost, "/api/v1/auth/register", "", `{"email":"nope","password":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Code != ErrCodeValidation || len(resp.Fields) != 2 {
		t.Fatalf("unexpected %+v", resp)
	}

	w = f.do(http.MethodPost, "/api/v1/auth/register", "", `{not json`)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("malformed body: %d %s", w.Code, w.Body.String())
	}
}

func TestSetUserActive_RequiresFlag(t *testing.T) {
	f := newFixture(t)
	var got struct {
		actor  services.Actor
		id     string
		active bool
	}
	f.users.setActive = func(a services.Actor, id string, active bool) (*domain.User, error) {
		got.actor, got.id, got.active = a, id, active
		return &domain.User{ID: id, IsActive: active}, nil
	}

	if w := f.do(http.MethodPatch, "/api/v1/users/u9/status", "root", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing flag: %d", w.Code)
	}

	w := f.do(http.MethodPatch, "/api/v1/users/u9/status", "root", `{"is_active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got.id != "u9" || got.active || !got.actor.IsAdmin || got.actor.UserID != "a1" {
		t.Fatalf("unexpected call %+v", got)
	}
}

func TestListMovies_ParsesQuery(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/movies?genre=drama&year=1995&min_rating=abc&search=heat&sort=rating&page=0&page_size=500", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	want := repo.MovieFilter{Genre: "drama", Year: 1995, MinRating: 0, Search: "heat", SortBy: "rating"}
	if f.movies.lastFilter != want {
		t.Fatalf("filter=%+v", f.movies.lastFilter)
	}
	if f.movies.lastPage != [2]int{1, services.MaxPageSize} {
		t.Fatalf("page=%v", f.movies.lastPage)
	}
	var body ListMoviesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Movies) != 1 || body.Pagination.Total != 1 || body.Pagination.HasNext {
		t.Fatalf("body=%+v", body)
	}
}

func TestGetMovie_ViewerAndNotFound(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodGet, "/api/v1/movies/m1", "", ""); w.Code != http.StatusOK || f.movies.lastViewer != "" {
		t.Fatalf("anonymous: %d viewer=%q", w.Code, f.movies.lastViewer)
	}
	if w := f.do(http.MethodGet, "/api/v1/movies/m1", "alice", ""); w.Code != http.StatusOK || f.movies.lastViewer != "u1" {
		t.Fatalf("viewer: %d viewer=%q", w.Code, f.movies.lastViewer)
	}
	w := f.do(http.MethodGet, "/api/v1/movies/zzz", "", "")
	if w.Code != http.StatusNotFound || decodeError(t, w).Message != "movie not found" {
		t.Fatalf("missing: %d %s", w.Code, w.Body.String())
	}
}

func TestSubmitReview_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	body := `{"rating":4,"title":"Great","content":"A tense, well made film."}`

	w := f.do(http.MethodPost, "/api/v1/movies/m1/reviews", "alice", body, middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", w.Code, w.Body.String())
	}
	if f.idem["u1|review:m1|k-1"] != "r1" {
		t.Fatalf("not remembered: %v", f.idem)
	}

	w = f.do(http.MethodPost, "/api/v1/movies/m1/reviews", "alice", body, middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d headers=%v", w.Code, w.Header())
	}
	if f.reviews.submits != 1 {
		t.Fatalf("submit ran %d times", f.reviews.submits)
	}

	// same key on another movie is a different scope
	w = f.do(http.MethodPost, "/api/v1/movies/m2/reviews", "alice", body, middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "" || f.reviews.submits != 2 {
		t.Fatalf("other scope: %d submits=%d", w.Code, f.reviews.submits)
	}
}

func TestSubmitReview_ReplayOfDeletedReviewResubmits(t *testing.T) {
	f := newFixture(t)
	f.idem["u1|review:m1|k-2"] = "r-old"
	f.reviews.gone["r-old"] = true

	w := f.do(http.MethodPost, "/api/v1/movies/m1/reviews", "alice",
		`{"rating":5,"title":"Again","content":"Watched it a second time."}`,
		middleware.HeaderIdempotencyKey, "k-2")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("status=%d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
	if f.reviews.submits != 1 {
		t.Fatalf("expected a fresh submit, got %d", f.reviews.submits)
	}
}

func TestSubmitReview_ValidationAndBadKey(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/movies/m1/reviews", "alice", `{"rating":0}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeValidation || resp.Fields[0].Field != "rating" {
		t.Fatalf("resp=%+v", resp)
	}

	w = f.do(http.MethodPost, "/api/v1/movies/m1/reviews", "alice", `{"rating":3}`, middleware.HeaderIdempotencyKey, "bad key!")
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
		t.Fatalf("bad key: %d %s", w.Code, w.Body.String())
	}
}

func TestListMovieReviews_ConditionalGet(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.reviews.count, f.reviews.maxTS = 3, &ts

	w := f.do(http.MethodGet, "/api/v1/movies/m1/reviews?page=1", "", "")
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || !strings.HasPrefix(etag, `W/"reviews:m1:3:`) {
		t.Fatalf("first: %d etag=%q", w.Code, etag)
	}

	w = f.do(http.MethodGet, "/api/v1/movies/m1/reviews?page=1", "", "", "If-None-Match", etag)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("revalidate: %d %q", w.Code, w.Body.String())
	}
	if f.reviews.lists != 1 {
		t.Fatalf("list ran %d times", f.reviews.lists)
	}

	// another page has its own tag
	w = f.do(http.MethodGet, "/api/v1/movies/m1/reviews?page=2", "", "", "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("other page: %d", w.Code)
	}

	// a new review changes the tag
	f.reviews.count = 4
	w = f.do(http.MethodGet, "/api/v1/movies/m1/reviews?page=1", "", "", "If-None-Match", etag)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == etag {
		t.Fatalf("changed: %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}

func TestListMovieReviews_WildcardOnMissingMovieIs404(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/movies/gone/reviews", "", "", "If-None-Match", "*")
	if w.Code != http.StatusNotFound || w.Header().Get("ETag") != "" {
		t.Fatalf("missing movie: %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
	if f.reviews.lists != 0 {
		t.Fatalf("list ran for a missing movie")
	}

	w = f.do(http.MethodGet, "/api/v1/movies/m1/reviews", "", "", "If-None-Match", "*")
	if w.Code != http.StatusNotModified {
		t.Fatalf("existing movie wildcard: %d", w.Code)
	}
}

func TestListWatchlist_WildcardAndOwner(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/watchlist", "alice", "", "If-None-Match", "*")
	if w.Code != http.StatusNotModified || f.watchlist.lastUserID != "u1" {
		t.Fatalf("wildcard: %d user=%q", w.Code, f.watchlist.lastUserID)
	}
	w = f.do(http.MethodGet, "/api/v1/watchlist", "alice", "", "If-None-Match", `W/"other", W/"tags"`)
	if w.Code != http.StatusOK || f.watchlist.lists != 1 {
		t.Fatalf("mismatch: %d lists=%d", w.Code, f.watchlist.lists)
	}
}

func TestAddToWatchlist_OptionalBodyAndReplay(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/watchlist/m1", "alice", "", middleware.HeaderIdempotencyKey, "w-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("empty body: %d %s", w.Code, w.Body.String())
	}
	if len(f.watchlist.added) != 1 || f.watchlist.added[0] != (services.WatchlistInput{}) {
		t.Fatalf("added=%+v", f.watchlist.added)
	}

	w = f.do(http.MethodPost, "/api/v1/watchlist/m1", "alice", "", middleware.HeaderIdempotencyKey, "w-1")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d %s", w.Code, w.Body.String())
	}

	// without a key the duplicate is a conflict
	w = f.do(http.MethodPost, "/api/v1/watchlist/m1", "alice", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d", w.Code)
	}

	w = f.do(http.MethodPost, "/api/v1/watchlist/m2", "alice", `{"status":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: %d", w.Code)
	}

	w = f.do(http.MethodPost, "/api/v1/watchlist/m3", "alice", `{"priority":"high","notes":"with friends"}`)
	if w.Code != http.StatusCreated || f.watchlist.added[1].Priority != "high" {
		t.Fatalf("with body: %d %+v", w.Code, f.watchlist.added)
	}
}

func TestMarkWatched_OptionalRating(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodPost, "/api/v1/watchlist/m1/watched", "alice", ""); w.Code != http.StatusOK || f.watchlist.rated != nil {
		t.Fatalf("no body: %d rated=%v", w.Code, f.watchlist.rated)
	}
	w := f.do(http.MethodPost, "/api/v1/watchlist/m1/watched", "alice", `{"personal_rating":4}`)
	if w.Code != http.StatusOK || f.watchlist.rated == nil || *f.watchlist.rated != 4 {
		t.Fatalf("rated: %d %v", w.Code, f.watchlist.rated)
	}
}

func TestDeleteAndFlagReview(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodDelete, "/api/v1/reviews/r1", "alice", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/v1/reviews/r1/flag", "alice", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("flag without reason: %d", w.Code)
	}
}

func TestIdempotencyScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got []string
	record := func(c *gin.Context) { got = append(got, IdempotencyScope(c)) }
	r.POST("/api/v1/movies/:id/reviews", record)
	r.GET("/api/v1/movies/:id/reviews", record)
	r.POST("/api/v1/watchlist/:id", record)
	r.POST("/api/v1/reviews/:id/flag", record)

	for _, rq := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/movies/m1/reviews"},
		{http.MethodGet, "/api/v1/movies/m1/reviews"},
		{http.MethodPost, "/api/v1/watchlist/m2"},
		{http.MethodPost, "/api/v1/reviews/r1/flag"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(rq.method, rq.path, nil))
	}
	want := []string{"review:m1", "", "watchlist:m2", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scope[%d]=%q want %q", i, got[i], want[i])
		}
	}
}

func TestWeakETag(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := weakETag("reviews", "m1", 2, &ts, "page=1")
	if a != weakETag("reviews", "m1", 2, &ts, "page=1") {
		t.Fatal("not stable")
	}
	sameMilli := ts.Add(300 * time.Microsecond)
	for _, b := range []string{
		weakETag("reviews", "m1", 2, &sameMilli, "page=1"),
		weakETag("reviews", "m1", 3, &ts, "page=1"),
		weakETag("reviews", "m1", 2, nil, "page=1"),
		weakETag("reviews", "m1", 2, &ts, "page=2"),
		weakETag("watchlist", "m1", 2, &ts, "page=1"),
	} {
		if a == b {
			t.Fatalf("collision: %s", a)
		}
	}
	if !strings.HasPrefix(a, `W/"`) {
		t.Fatalf("not weak: %s", a)
	}
}
