// Movie HTTP handlers.
//
//   - GET    /movies            (browse the catalog)
//   - GET    /movies/featured   (home page shelves)
//   - GET    /movies/genres     (allowed genres)
//   - GET    /movies/{id}       (detail, with the caller's own state)
//   - POST   /movies            (admin)
//   - PUT    /movies/{id}       (admin)
//   - DELETE /movies/{id}       (admin, soft delete)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
	"github.com/tbourn/go-movie-reviews/internal/utils"
)

// ListMoviesResponse is a page of movies.
type ListMoviesResponse struct {
	Movies     []domain.Movie `json:"movies"`
	Pagination Pagination     `json:"pagination"`
}

// GenresResponse lists the allowed genres.
type GenresResponse struct {
	Genres []string `json:"genres"`
}

// ListMovies godoc
// @ID          listMovies
// @Summary     Browse movies
// @Description Active movies filtered by genre, release year, minimum rating and a text query.
// @Tags        Movies
// @Produce     json
// @Param       genre       query  string  false  "Genre (case-insensitive)"
// @Param       year        query  int     false  "Release year"
// @Param       min_rating  query  number  false  "Minimum average rating"  minimum(0) maximum(5)
// @Param       search      query  string  false  "Text query over title, overview, director and cast"
// @Param       sort        query  string  false  "popularity|rating|year|title|relevance"  default(popularity)
// @Param       page        query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size   query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMoviesResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /movies [get]
func (h *Handlers) ListMovies(c *gin.Context) {
	page, pageSize := pageParams(c)
	f := repo.MovieFilter{
		Genre:     c.Query("genre"),
		Year:      utils.AtoiDefault(c.Query("year"), 0),
		MinRating: utils.FloatDefault(c.Query("min_rating"), 0),
		Search:    c.Query("search"),
		SortBy:    c.Query("sort"),
	}
	items, total, err := h.movies.List(c.Request.Context(), f, page, pageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListMoviesResponse{Movies: items, Pagination: newPagination(page, pageSize, total)})
}

// FeaturedMovies godoc
// @ID          featuredMovies
// @Summary     Home page shelves
// @Tags        Movies
// @Produce     json
// @Success     200  {object}  services.Featured
// @Router      /movies/featured [get]
func (h *Handlers) FeaturedMovies(c *gin.Context) {
	f, err := h.movies.Featured(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, f)
}

// Genres godoc
// @ID          genres
// @Summary     Allowed genres
// @Tags        Movies
// @Produce     json
// @Success     200  {object}  handlers.GenresResponse
// @Router      /movies/genres [get]
func (h *Handlers) Genres(c *gin.Context) {
	ok(c, http.StatusOK, GenresResponse{Genres: h.movies.Genres()})
}

// GetMovie godoc
// @ID          getMovie
// @Summary     Movie detail
// @Description When called with a token, includes whether the movie is on the caller's watchlist and the caller's review.
// @Tags        Movies
// @Produce     json
// @Param       id   path      string  true  "Movie ID"
// @Success     200  {object}  services.MovieDetail
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /movies/{id} [get]
func (h *Handlers) GetMovie(c *gin.Context) {
	d, err := h.movies.Detail(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// CreateMovie godoc
// @ID          createMovie
// @Summary     Add a movie (admin)
// @Tags        Movies
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      services.MovieInput  true  "Movie"
// @Success     201   {object}  domain.Movie
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "External ID taken"
// @Router      /movies [post]
func (h *Handlers) CreateMovie(c *gin.Context) {
	var in services.MovieInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	m, err := h.movies.Create(c.Request.Context(), actor(c), in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+m.ID)
	ok(c, http.StatusCreated, m)
}

// UpdateMovie godoc
// @ID          updateMovie
// @Summary     Edit a movie (admin)
// @Tags        Movies
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string               true  "Movie ID"
// @Param       body  body      services.MoviePatch  true  "Fields to change"
// @Success     200   {object}  domain.Movie
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /movies/{id} [put]
func (h *Handlers) UpdateMovie(c *gin.Context) {
	var patch services.MoviePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	m, err := h.movies.Update(c.Request.Context(), actor(c), c.Param("id"), patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteMovie godoc
// @ID          deleteMovie
// @Summary     Remove a movie from the catalog (admin)
// @Tags        Movies
// @Security    BearerAuth
// @Param       id  path  string  true  "Movie ID"
// @Success     204
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /movies/{id} [delete]
func (h *Handlers) DeleteMovie(c *gin.Context) {
	if err := h.movies.Deactivate(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	noContent(c)
}
