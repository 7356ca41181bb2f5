// Package services – UserService
//
// UserService covers accounts: registration and login (issuing access
// tokens), profile reads and edits, admin account management, and the
// per-user review views. The denormalized review and watchlist counters on
// User are never written here; the Aggregator owns them.
package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/auth"
	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

// RegisterInput creates an account.
type RegisterInput struct {
	Username  string `json:"username"   validate:"required,min=3,max=20,username"`
	Email     string `json:"email"      validate:"required,email,max=255"`
	Password  string `json:"password"   validate:"required,min=6,max=72"`
	FirstName string `json:"first_name" validate:"max=50"`
	LastName  string `json:"last_name"  validate:"max=50"`
}

// LoginInput authenticates an account.
type LoginInput struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfilePatch edits the caller's profile. Nil fields are left unchanged.
type ProfilePatch struct {
	Username       *string   `json:"username"        validate:"omitnil,min=3,max=20,username"`
	FirstName      *string   `json:"first_name"      validate:"omitnil,max=50"`
	LastName       *string   `json:"last_name"       validate:"omitnil,max=50"`
	Bio            *string   `json:"bio"             validate:"omitnil,max=500"`
	FavoriteGenres *[]string `json:"favorite_genres"`
}

// AuthResult is a successful registration or login.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// UserService coordinates account operations.
type UserService struct {
	DB     *gorm.DB
	Tokens *auth.TokenManager
}

// NewUserService returns a UserService issuing tokens with tm.
func NewUserService(db *gorm.DB, tm *auth.TokenManager) *UserService {
	return &UserService{DB: db, Tokens: tm}
}

func userSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return otel.Tracer("services/UserService").Start(ctx, name,
		trace.WithAttributes(attribute.String("user.id", userID)))
}

// Register creates an active, non-admin account and logs it in.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, span := userSpan(ctx, "Register", "")
	defer span.End()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	if _, err := repo.GetUserByEmail(ctx, s.DB, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !repo.IsNotFound(err) {
		return nil, err
	}
	if _, err := repo.GetUserByUsername(ctx, s.DB, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !repo.IsNotFound(err) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		Username:       in.Username,
		Email:          in.Email,
		PasswordHash:   hash,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		FavoriteGenres: []string{},
		IsActive:       true,
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if repo.IsDuplicate(err) {
			return nil, s.whichTaken(ctx, in.Email)
		}
		return nil, err
	}
	return s.issue(u)
}

// whichTaken resolves a storage uniqueness violation raised by a concurrent
// registration.
func (s *UserService) whichTaken(ctx context.Context, email string) error {
	if _, err := repo.GetUserByEmail(ctx, s.DB, email); err == nil {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

// Login verifies credentials, records the login time, and issues a token.
func (s *UserService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	ctx, span := userSpan(ctx, "Login", "")
	defer span.End()

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	u, err := repo.GetUserByEmail(ctx, s.DB, in.Email)
	if repo.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}

	now := time.Now().UTC()
	if err := repo.UpdateUser(ctx, s.DB, u.ID, map[string]any{"last_login": now}); err != nil {
		return nil, err
	}
	u.LastLogin = &now
	return s.issue(u)
}

func (s *UserService) issue(u *domain.User) (*AuthResult, error) {
	role := auth.RoleUser
	if u.IsAdmin {
		role = auth.RoleAdmin
	}
	tok, exp, err := s.Tokens.Issue(u.ID, role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: tok, ExpiresAt: exp, User: u}, nil
}

// Me returns the caller's own account.
func (s *UserService) Me(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := userSpan(ctx, "Me", userID)
	defer span.End()

	return s.user(ctx, userID)
}

// Profile returns the public view of an active account. Email is hidden.
func (s *UserService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := userSpan(ctx, "Profile", userID)
	defer span.End()

	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserNotFound
	}
	u.Email = ""
	u.LastLogin = nil
	return u, nil
}

// UpdateProfile edits the caller's profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*domain.User, error) {
	ctx, span := userSpan(ctx, "UpdateProfile", userID)
	defer span.End()

	if patch.Username != nil {
		un := strings.TrimSpace(*patch.Username)
		patch.Username = &un
	}
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}

	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	var cols []string
	if patch.Username != nil && *patch.Username != u.Username {
		if other, err := repo.GetUserByUsername(ctx, s.DB, *patch.Username); err == nil && other.ID != u.ID {
			return nil, ErrUsernameTaken
		} else if err != nil && !repo.IsNotFound(err) {
			return nil, err
		}
		u.Username = *patch.Username
		cols = append(cols, "username")
	}
	if patch.FirstName != nil {
		u.FirstName = strings.TrimSpace(*patch.FirstName)
		cols = append(cols, "first_name")
	}
	if patch.LastName != nil {
		u.LastName = strings.TrimSpace(*patch.LastName)
		cols = append(cols, "last_name")
	}
	if patch.Bio != nil {
		u.Bio = strings.TrimSpace(*patch.Bio)
		cols = append(cols, "bio")
	}
	if patch.FavoriteGenres != nil {
		genres, err := validation.CanonicalGenres("favorite_genres", *patch.FavoriteGenres)
		if err != nil {
			return nil, err
		}
		u.FavoriteGenres = genres
		cols = append(cols, "favorite_genres")
	}
	if len(cols) == 0 {
		return u, nil
	}

	if err := repo.SaveUserColumns(ctx, s.DB, u, cols...); err != nil {
		if repo.IsDuplicate(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return u, nil
}

// List returns a page of accounts for admins. status is one of all, active,
// or inactive; empty means all.
func (s *UserService) List(ctx context.Context, actor Actor, status, search string, page, pageSize int) ([]domain.User, int64, error) {
	ctx, span := userSpan(ctx, "List", actor.UserID)
	defer span.End()

	if !actor.IsAdmin {
		return nil, 0, ErrAdminOnly
	}
	switch status {
	case "", repo.UserStatusAll, repo.UserStatusActive, repo.UserStatusInactive:
	default:
		return nil, 0, validation.Field("status", "oneof", "status must be one of: all active inactive")
	}
	offset, limit := pageBounds(page, pageSize)
	return repo.ListUsersPage(ctx, s.DB, status, search, offset, limit)
}

// SetActive activates or deactivates an account. Admins cannot deactivate
// themselves.
func (s *UserService) SetActive(ctx context.Context, actor Actor, userID string, active bool) (*domain.User, error) {
	ctx, span := userSpan(ctx, "SetActive", userID)
	defer span.End()

	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	if !active && actor.UserID == userID {
		return nil, ErrSelfDeactivate
	}
	if err := repo.UpdateUser(ctx, s.DB, userID, map[string]any{"is_active": active}); err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.user(ctx, userID)
}

// Reviews returns a page of an active user's visible reviews with movies.
func (s *UserService) Reviews(ctx context.Context, userID, sortBy string, page, pageSize int) ([]domain.Review, int64, error) {
	ctx, span := userSpan(ctx, "Reviews", userID)
	defer span.End()

	if _, err := s.Profile(ctx, userID); err != nil {
		return nil, 0, err
	}
	offset, limit := pageBounds(page, pageSize)
	return repo.ListUserReviewsPage(ctx, s.DB, userID, sortBy, offset, limit)
}

// ReviewStats summarizes an active user's visible reviews.
func (s *UserService) ReviewStats(ctx context.Context, userID string) (*ReviewStats, error) {
	ctx, span := userSpan(ctx, "ReviewStats", userID)
	defer span.End()

	if _, err := s.Profile(ctx, userID); err != nil {
		return nil, err
	}
	dist, err := repo.UserRatingBuckets(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	helpful, err := repo.SumHelpfulVotes(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return &ReviewStats{RatingSummary: Summarize(dist), TotalHelpfulVotes: helpful}, nil
}

// Public user search page sizes.
const (
	SearchPageSize    = 10
	MaxSearchPageSize = 20
)

// Search finds active users by username or bio for the public directory.
// Emails and login times are stripped from the results.
func (s *UserService) Search(ctx context.Context, query string, page, pageSize int) ([]domain.User, int64, error) {
	ctx, span := userSpan(ctx, "Search", "")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, validation.Field("q", "required", "search query is required")
	}
	if pageSize <= 0 {
		pageSize = SearchPageSize
	}
	if pageSize > MaxSearchPageSize {
		pageSize = MaxSearchPageSize
	}
	offset, limit := pageBounds(page, pageSize)
	users, total, err := repo.SearchActiveUsers(ctx, s.DB, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		users[i].Email = ""
		users[i].LastLogin = nil
	}
	return users, total, nil
}

// TopReviewers returns the active users with the most reviews.
func (s *UserService) TopReviewers(ctx context.Context, limit int) ([]domain.User, error) {
	ctx, span := userSpan(ctx, "TopReviewers", "")
	defer span.End()

	if limit <= 0 || limit > MaxPageSize {
		limit = 10
	}
	users, err := repo.TopReviewers(ctx, s.DB, limit)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Email = ""
		users[i].LastLogin = nil
	}
	return users, nil
}

func (s *UserService) user(ctx context.Context, id string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if repo.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	return u, err
}
