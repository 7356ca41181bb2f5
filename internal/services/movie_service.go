// Package services – MovieService
//
// MovieService owns the movie catalog: admin maintenance of catalog entries,
// filtered and ranked listings, featured shelves, and the detail view with
// its view counter. Aggregate fields (ratings, watchlist count, view count)
// are never taken from input.
package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/search"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

// Featured shelf sizes.
const (
	FeaturedLimit          = 8
	TopRatedMinRatings     = 10
	maxRelevanceCandidates = 1000
)

// MovieInput creates a catalog entry.
type MovieInput struct {
	Title       string              `json:"title"        validate:"notblank,max=200"`
	Overview    string              `json:"overview"     validate:"max=2000"`
	ReleaseDate *time.Time          `json:"release_date"`
	Runtime     int                 `json:"runtime"      validate:"omitempty,min=1"`
	Director    string              `json:"director"     validate:"max=200"`
	Cast        []domain.CastMember `json:"cast"`
	Genres      []string            `json:"genres"       validate:"required,min=1"`
	PosterURL   string              `json:"poster_url"   validate:"omitempty,url"`
	BackdropURL string              `json:"backdrop_url" validate:"omitempty,url"`
	TrailerURL  string              `json:"trailer_url"  validate:"omitempty,url"`
	ImdbID      *string             `json:"imdb_id"      validate:"omitempty,max=20"`
	TmdbID      *int64              `json:"tmdb_id"      validate:"omitempty,min=1"`
	Popularity  float64             `json:"popularity"   validate:"min=0"`
}

// MoviePatch edits a catalog entry. Nil fields are left unchanged.
type MoviePatch struct {
	Title       *string              `json:"title"        validate:"omitnil,notblank,max=200"`
	Overview    *string              `json:"overview"     validate:"omitnil,max=2000"`
	ReleaseDate *time.Time           `json:"release_date"`
	Runtime     *int                 `json:"runtime"      validate:"omitnil,min=1"`
	Director    *string              `json:"director"     validate:"omitnil,max=200"`
	Cast        *[]domain.CastMember `json:"cast"`
	Genres      *[]string            `json:"genres"       validate:"omitnil,min=1"`
	PosterURL   *string              `json:"poster_url"   validate:"omitnil,url"`
	BackdropURL *string              `json:"backdrop_url" validate:"omitnil,url"`
	TrailerURL  *string              `json:"trailer_url"  validate:"omitnil,url"`
	ImdbID      *string              `json:"imdb_id"      validate:"omitnil,max=20"`
	TmdbID      *int64               `json:"tmdb_id"      validate:"omitnil,min=1"`
	Popularity  *float64             `json:"popularity"   validate:"omitnil,min=0"`
}

// Featured groups the home page shelves.
type Featured struct {
	Popular  []domain.Movie `json:"popular"`
	Recent   []domain.Movie `json:"recent"`
	TopRated []domain.Movie `json:"top_rated"`
}

// MovieDetail is a movie as seen by one viewer.
type MovieDetail struct {
	Movie       *domain.Movie  `json:"movie"`
	InWatchlist bool           `json:"in_watchlist"`
	UserReview  *domain.Review `json:"user_review,omitempty"`
}

// MovieService coordinates catalog reads and admin writes.
type MovieService struct {
	DB     *gorm.DB
	Ranker *search.Ranker
}

// NewMovieService returns a MovieService with the default relevance ranker.
func NewMovieService(db *gorm.DB) *MovieService {
	return &MovieService{DB: db, Ranker: search.NewRanker(search.WithStopwords(search.DefaultStopwords))}
}

func movieSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/MovieService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Create adds a catalog entry.
func (s *MovieService) Create(ctx context.Context, actor Actor, in MovieInput) (*domain.Movie, error) {
	ctx, span := movieSpan(ctx, "Create", attribute.String("user.id", actor.UserID))
	defer span.End()

	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Overview = strings.TrimSpace(in.Overview)
	in.Director = strings.TrimSpace(in.Director)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	genres, err := validation.CanonicalGenres("genres", in.Genres)
	if err != nil {
		return nil, err
	}
	if in.Director == "" {
		in.Director = domain.DefaultDirector
	}

	m := &domain.Movie{
		Title:       in.Title,
		Overview:    in.Overview,
		ReleaseDate: in.ReleaseDate,
		Runtime:     in.Runtime,
		Director:    in.Director,
		Cast:        in.Cast,
		Genres:      genres,
		PosterURL:   in.PosterURL,
		BackdropURL: in.BackdropURL,
		TrailerURL:  in.TrailerURL,
		ImdbID:      in.ImdbID,
		TmdbID:      in.TmdbID,
		Popularity:  in.Popularity,
		IsActive:    true,
		CreatedBy:   actor.UserID,
	}
	if m.Cast == nil {
		m.Cast = []domain.CastMember{}
	}
	if err := repo.CreateMovie(ctx, s.DB, m); err != nil {
		if repo.IsDuplicate(err) {
			return nil, ErrExternalIDTaken
		}
		return nil, err
	}
	return m, nil
}

// Update applies patch to an active catalog entry.
func (s *MovieService) Update(ctx context.Context, actor Actor, id string, patch MoviePatch) (*domain.Movie, error) {
	ctx, span := movieSpan(ctx, "Update", attribute.String("movie.id", id))
	defer span.End()

	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}

	m, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	var cols []string
	set := func(col string) { cols = append(cols, col) }

	if patch.Title != nil {
		m.Title = strings.TrimSpace(*patch.Title)
		set("title")
	}
	if patch.Overview != nil {
		m.Overview = strings.TrimSpace(*patch.Overview)
		set("overview")
	}
	if patch.ReleaseDate != nil {
		m.ReleaseDate = patch.ReleaseDate
		set("release_date")
	}
	if patch.Runtime != nil {
		m.Runtime = *patch.Runtime
		set("runtime")
	}
	if patch.Director != nil {
		m.Director = strings.TrimSpace(*patch.Director)
		if m.Director == "" {
			m.Director = domain.DefaultDirector
		}
		set("director")
	}
	if patch.Cast != nil {
		m.Cast = *patch.Cast
		set("cast")
	}
	if patch.Genres != nil {
		genres, err := validation.CanonicalGenres("genres", *patch.Genres)
		if err != nil {
			return nil, err
		}
		m.Genres = genres
		set("genres")
	}
	if patch.PosterURL != nil {
		m.PosterURL = *patch.PosterURL
		set("poster_url")
	}
	if patch.BackdropURL != nil {
		m.BackdropURL = *patch.BackdropURL
		set("backdrop_url")
	}
	if patch.TrailerURL != nil {
		m.TrailerURL = *patch.TrailerURL
		set("trailer_url")
	}
	if patch.ImdbID != nil {
		m.ImdbID = patch.ImdbID
		set("imdb_id")
	}
	if patch.TmdbID != nil {
		m.TmdbID = patch.TmdbID
		set("tmdb_id")
	}
	if patch.Popularity != nil {
		m.Popularity = *patch.Popularity
		set("popularity")
	}
	if len(cols) == 0 {
		return nil, validation.Field("body", "required", "at least one field must be provided")
	}

	if err := repo.SaveMovieColumns(ctx, s.DB, m, cols...); err != nil {
		switch {
		case repo.IsNotFound(err):
			return nil, ErrMovieNotFound
		case repo.IsDuplicate(err):
			return nil, ErrExternalIDTaken
		}
		return nil, err
	}
	return m, nil
}

// Deactivate soft-deletes a catalog entry.
func (s *MovieService) Deactivate(ctx context.Context, actor Actor, id string) error {
	ctx, span := movieSpan(ctx, "Deactivate", attribute.String("movie.id", id))
	defer span.End()

	if !actor.IsAdmin {
		return ErrAdminOnly
	}
	err := repo.UpdateMovie(ctx, s.DB, id, map[string]any{"is_active": false})
	if repo.IsNotFound(err) {
		return ErrMovieNotFound
	}
	return err
}

// List returns a page of active movies. Relevance ordering with a search
// term ranks candidates in memory; without one it falls back to popularity.
func (s *MovieService) List(ctx context.Context, f repo.MovieFilter, page, pageSize int) ([]domain.Movie, int64, error) {
	ctx, span := movieSpan(ctx, "List",
		attribute.String("movie.sort", f.SortBy), attribute.Int("page", page), attribute.Int("page_size", pageSize))
	defer span.End()

	if f.Genre != "" {
		g, ok := validation.CanonicalGenre(f.Genre)
		if !ok {
			return nil, 0, validation.Field("genre", "genre", "genre must be one of the catalog genres")
		}
		f.Genre = g
	}
	f.Search = strings.TrimSpace(f.Search)
	offset, limit := pageBounds(page, pageSize)

	if f.SortBy == repo.MovieSortRelevance {
		if f.Search == "" {
			f.SortBy = repo.MovieSortPopularity
		} else {
			return s.listByRelevance(ctx, f, offset, limit)
		}
	}
	return repo.ListMoviesPage(ctx, s.DB, f, offset, limit)
}

func (s *MovieService) listByRelevance(ctx context.Context, f repo.MovieFilter, offset, limit int) ([]domain.Movie, int64, error) {
	query := f.Search
	f.Search = ""
	candidates, err := repo.SearchMovies(ctx, s.DB, f, maxRelevanceCandidates)
	if err != nil {
		return nil, 0, err
	}

	docs := make([]search.Doc, len(candidates))
	byID := make(map[string]domain.Movie, len(candidates))
	for i, m := range candidates {
		docs[i] = search.Doc{ID: m.ID, Title: m.Title, Body: movieBody(m)}
		byID[m.ID] = m
	}
	hits := s.ranker().Rank(query, docs)

	total := int64(len(hits))
	if offset >= len(hits) {
		return []domain.Movie{}, total, nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	out := make([]domain.Movie, 0, end-offset)
	for _, h := range hits[offset:end] {
		out = append(out, byID[h.ID])
	}
	return out, total, nil
}

func (s *MovieService) ranker() *search.Ranker {
	if s.Ranker == nil {
		return search.NewRanker()
	}
	return s.Ranker
}

func movieBody(m domain.Movie) string {
	var b strings.Builder
	b.WriteString(m.Overview)
	b.WriteByte(' ')
	b.WriteString(m.Director)
	for _, c := range m.Cast {
		b.WriteByte(' ')
		b.WriteString(c.Name)
	}
	return b.String()
}

// Featured returns the popular, recent, and top rated shelves.
func (s *MovieService) Featured(ctx context.Context) (*Featured, error) {
	ctx, span := movieSpan(ctx, "Featured")
	defer span.End()

	popular, err := repo.ListPopularMovies(ctx, s.DB, FeaturedLimit)
	if err != nil {
		return nil, err
	}
	recent, err := repo.ListRecentMovies(ctx, s.DB, FeaturedLimit)
	if err != nil {
		return nil, err
	}
	top, err := repo.ListTopRatedMovies(ctx, s.DB, TopRatedMinRatings, FeaturedLimit)
	if err != nil {
		return nil, err
	}
	return &Featured{Popular: popular, Recent: recent, TopRated: top}, nil
}

// Detail increments the movie's view count and returns it with the viewer's
// watchlist state and own review. An empty viewerID is an anonymous view.
func (s *MovieService) Detail(ctx context.Context, id, viewerID string) (*MovieDetail, error) {
	ctx, span := movieSpan(ctx, "Detail", attribute.String("movie.id", id))
	defer span.End()

	if err := repo.IncrementViewCount(ctx, s.DB, id); err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrMovieNotFound
		}
		return nil, err
	}
	m, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &MovieDetail{Movie: m}
	if viewerID == "" {
		return out, nil
	}

	if _, err := repo.GetWatchlistEntry(ctx, s.DB, viewerID, id); err == nil {
		out.InWatchlist = true
	} else if !repo.IsNotFound(err) {
		return nil, err
	}
	r, err := repo.FindReviewByUserMovie(ctx, s.DB, viewerID, id)
	switch {
	case err == nil && r.IsActive:
		out.UserReview = r
	case err != nil && !repo.IsNotFound(err):
		return nil, err
	}
	return out, nil
}

// Get returns an active movie without counting a view.
func (s *MovieService) Get(ctx context.Context, id string) (*domain.Movie, error) {
	return s.active(ctx, id)
}

// Genres returns the canonical genre list.
func (s *MovieService) Genres() []string {
	return append([]string(nil), domain.Genres...)
}

func (s *MovieService) active(ctx context.Context, id string) (*domain.Movie, error) {
	m, err := repo.GetActiveMovie(ctx, s.DB, id)
	if repo.IsNotFound(err) {
		return nil, ErrMovieNotFound
	}
	return m, err
}
