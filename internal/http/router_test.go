package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-movie-reviews/internal/auth"
	"github.com/tbourn/go-movie-reviews/internal/config"
	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/events"
	"github.com/tbourn/go-movie-reviews/internal/http/middleware"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/services"
)

const testSecret = "router-test-secret-0123456789"

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

func testConfig(base string) config.Config {
	return config.Config{
		APIBasePath:    base,
		RateRPS:        100,
		RateBurst:      50,
		IdempotencyTTL: time.Hour,
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		JWT:            config.JWTConfig{Secret: testSecret, TTL: time.Hour},
	}
}

type server struct {
	r      *gin.Engine
	db     *gorm.DB
	tokens *auth.TokenManager
}

func newServer(t *testing.T, cfg config.Config) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	prev := auth.HashCost
	auth.HashCost = bcrypt.MinCost
	t.Cleanup(func() { auth.HashCost = prev })

	db := newTestDB(t)
	tm, err := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	log := zerolog.Nop()
	bus := events.NewBus(log)
	services.NewAggregator(db, log).Register(bus)
	app, err := NewApp(db, tm, services.NewMutator(db, bus, log))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db, cfg, app)
	return &server{r: r, db: db, tokens: tm}
}

func (s *server) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	s := newServer(t, testConfig("/api/v1"))

	w := s.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = s.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = s.do(http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = s.do(http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig("/api/v2")
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	s := newServer(t, cfg)

	w := s.do(http.MethodGet, "/health", "", nil, "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = s.do(http.MethodGet, "/api/v2/movies/genres", "", nil, "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin must not be echoed, got %q", got)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func TestPipeline_Smoke(t *testing.T) {
	cfg := testConfig("/api/v1")
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	s := newServer(t, cfg)

	w := s.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
}

func TestIdempotencyShim_RoundTripAndExpiry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	shim := idempotencyShim{db: db, ttl: time.Hour}

	if _, ok := shim.Lookup(ctx, "u1", "review:m1", "k1"); ok {
		t.Fatalf("missing record must be a miss")
	}
	shim.Remember(ctx, "u1", "review:m1", "k1", "r1", http.StatusCreated)
	id, ok := shim.Lookup(ctx, "u1", "review:m1", "k1")
	if !ok || id != "r1" {
		t.Fatalf("lookup = %q %v", id, ok)
	}
	if _, ok := shim.Lookup(ctx, "u2", "review:m1", "k1"); ok {
		t.Fatalf("records are per user")
	}

	expired := idempotencyShim{db: db, ttl: -time.Minute}
	expired.Remember(ctx, "u1", "watchlist:m1", "k2", "e1", http.StatusCreated)
	if _, ok := shim.Lookup(ctx, "u1", "watchlist:m1", "k2"); ok {
		t.Fatalf("expired record must be a miss")
	}
}

func TestRegisterRoutes_AuthorizationFailures(t *testing.T) {
	s := newServer(t, testConfig("/api/v1"))

	w := s.do(http.MethodPost, "/api/v1/movies/m1/reviews", "", map[string]any{"rating": 4})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous review submit = %d", w.Code)
	}

	userTok, _, err := s.tokens.Issue(uuid.NewString(), auth.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	w = s.do(http.MethodPost, "/api/v1/movies", userTok, map[string]any{"title": "Heat", "genres": []string{"Crime"}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("user movie create = %d", w.Code)
	}

	w = s.do(http.MethodGet, "/api/v1/auth/me", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}
}

func TestRegisterRoutes_ReviewFlowEndToEnd(t *testing.T) {
	s := newServer(t, testConfig("/api/v1"))
	ctx := context.Background()

	// register a reviewer over HTTP
	w := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"username": "alice_1", "email": "alice@example.com", "password": "secret123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("auth responses must not be cached: %v", w.Header())
	}
	var reg struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, w, &reg)
	if reg.Token == "" || reg.User.ID == "" {
		t.Fatalf("register body: %s", w.Body.String())
	}

	// seed an administrator directly
	admin := &domain.User{
		ID: uuid.NewString(), Username: "root", Email: "root@example.com",
		PasswordHash: "x", IsAdmin: true, IsActive: true,
	}
	if err := repo.CreateUser(ctx, s.db, admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	adminTok, _, err := s.tokens.Issue(admin.ID, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w = s.do(http.MethodPost, "/api/v1/movies", adminTok, map[string]any{"title": "Heat", "genres": []string{"crime"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create movie = %d %s", w.Code, w.Body.String())
	}
	var mv domain.Movie
	decode(t, w, &mv)

	review := map[string]any{
		"rating": 4, "title": "Tense", "content": "A long, tense and satisfying heist film.",
	}
	path := "/api/v1/movies/" + mv.ID + "/reviews"
	w = s.do(http.MethodPost, path, reg.Token, review, middleware.HeaderIdempotencyKey, "submit-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}
	var first domain.Review
	decode(t, w, &first)

	// same key replays the stored review
	w = s.do(http.MethodPost, path, reg.Token, review, middleware.HeaderIdempotencyKey, "submit-1")
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay = %d %v %s", w.Code, w.Header(), w.Body.String())
	}
	var again domain.Review
	decode(t, w, &again)
	if again.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", again.ID, first.ID)
	}

	// a fresh key hits the one-review-per-movie rule
	w = s.do(http.MethodPost, path, reg.Token, review, middleware.HeaderIdempotencyKey, "submit-2")
	if w.Code != http.StatusConflict {
		t.Fatalf("second review = %d %s", w.Code, w.Body.String())
	}

	// the aggregate reflects the review
	w = s.do(http.MethodGet, "/api/v1/movies/"+mv.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get movie = %d", w.Code)
	}
	var detail struct {
		Movie      domain.Movie   `json:"movie"`
		UserReview *domain.Review `json:"user_review"`
	}
	decode(t, w, &detail)
	if detail.Movie.TotalRatings != 1 || detail.Movie.AverageRating != 4 {
		t.Fatalf("aggregate = %d %v", detail.Movie.TotalRatings, detail.Movie.AverageRating)
	}
	if detail.UserReview != nil {
		t.Fatalf("anonymous viewer has no own review")
	}

	// conditional listing
	w = s.do(http.MethodGet, path, "", nil)
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" {
		t.Fatalf("list reviews = %d etag=%q", w.Code, etag)
	}
	w = s.do(http.MethodGet, path, "", nil, "If-None-Match", etag)
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d", w.Code)
	}

	// a vote changes the listed item, so the old tag must not revalidate
	w = s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"username": "bob_2", "email": "bob@example.com", "password": "secret123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register voter = %d %s", w.Code, w.Body.String())
	}
	var voter struct {
		Token string `json:"token"`
	}
	decode(t, w, &voter)
	w = s.do(http.MethodPost, "/api/v1/reviews/"+first.ID+"/helpful", voter.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("helpful vote = %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodGet, path, "", nil, "If-None-Match", etag)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == etag {
		t.Fatalf("list after vote = %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
	var listed struct {
		Reviews []domain.Review `json:"reviews"`
	}
	decode(t, w, &listed)
	if len(listed.Reviews) != 1 || listed.Reviews[0].HelpfulVotes != 1 {
		t.Fatalf("listing after vote: %s", w.Body.String())
	}

	// a missing movie is 404 even for a wildcard validator
	w = s.do(http.MethodGet, "/api/v1/movies/"+uuid.NewString()+"/reviews", "", nil, "If-None-Match", "*")
	if w.Code != http.StatusNotFound {
		t.Fatalf("wildcard on missing movie = %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotencyCallback_ErrorBranch(t *testing.T) {
	s := newServer(t, testConfig("/api/v1"))
	tok, _, err := s.tokens.Issue(uuid.NewString(), auth.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	// the lookup fails, so the request proceeds and fails in the service
	w := s.do(http.MethodPost, "/api/v1/watchlist/m1", tok, nil, middleware.HeaderIdempotencyKey, "force-error")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_PublicUserSearch(t *testing.T) {
	s := newServer(t, testConfig("/api/v1"))

	w := s.do(http.MethodGet, "/api/v1/users/search", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing q = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"username": "noir_fan", "email": "noir@example.com", "password": "secret123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/v1/users/search?q=noir&page_size=50", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Users      []domain.User `json:"users"`
		Pagination struct {
			PageSize int   `json:"page_size"`
			Total    int64 `json:"total"`
		} `json:"pagination"`
	}
	decode(t, w, &out)
	if len(out.Users) != 1 || out.Users[0].Email != "" || out.Pagination.PageSize != services.MaxSearchPageSize {
		t.Fatalf("search body: %s", w.Body.String())
	}
}
