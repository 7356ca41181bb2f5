// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Missing rows yield ErrNotFound (gorm.ErrRecordNotFound).
//   - Unique violations on username/email are returned as raw DB errors;
//     callers use IsDuplicate to classify them.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// User status filters for ListUsers.
const (
	UserStatusAll      = "all"
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// CreateUser inserts u, assigning an ID and UTC timestamps when missing.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	return db.WithContext(ctx).Create(u).Error
}

// GetUser fetches a user by ID regardless of activity.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by (lowercased) email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).First(&u, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername fetches a user by exact username.
func GetUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser applies column updates to a user. Returns ErrNotFound when no
// row matched.
func UpdateUser(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveUserColumns writes the named columns of u. Struct updates run the
// JSON serializer of favorite_genres.
func SaveUserColumns(ctx context.Context, db *gorm.DB, u *domain.User, columns ...string) error {
	u.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).Model(u).Select(append(columns, "updated_at")).Updates(u)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserCounts writes the denormalized review and watchlist counters.
func SetUserCounts(ctx context.Context, db *gorm.DB, id string, reviews, watchlist int64) error {
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"review_count":    reviews,
			"watchlist_count": watchlist,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsersPage returns a page of users filtered by status, newest first,
// along with the total number of matching rows.
func ListUsersPage(ctx context.Context, db *gorm.DB, status, search string, offset, limit int) ([]domain.User, int64, error) {
	q := db.WithContext(ctx).Model(&domain.User{})
	switch status {
	case UserStatusActive:
		q = q.Where("is_active = ?", true)
	case UserStatusInactive:
		q = q.Where("is_active = ?", false)
	}
	if s := strings.TrimSpace(search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.User
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// likeEscaper neutralizes LIKE wildcards in user-supplied terms.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchActiveUsers returns a page of active users whose username or bio
// contains term (case-insensitive), most prolific reviewers first, and the
// total number of matches. Wildcards in term match literally.
func SearchActiveUsers(ctx context.Context, db *gorm.DB, term string, offset, limit int) ([]domain.User, int64, error) {
	like := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
	q := db.WithContext(ctx).Model(&domain.User{}).
		Where("is_active = ?", true).
		Where(`(LOWER(username) LIKE ? ESCAPE '\' OR LOWER(bio) LIKE ? ESCAPE '\')`, like, like)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.User
	err := q.Order("review_count DESC").Order("created_at DESC").
		Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// TopReviewers returns active users with at least one review ordered by
// review count (ties: earliest account first).
func TopReviewers(ctx context.Context, db *gorm.DB, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("is_active = ? AND review_count > 0", true).
		Order("review_count DESC").Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListUserIDs returns every user ID.
func ListUserIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&domain.User{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}
