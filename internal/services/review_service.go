// Package services – ReviewService
//
// ReviewService implements the review lifecycle: one review per (user,
// movie), edit tracking, soft deletion, flagging with escalation to
// moderation, helpfulness votes, and admin moderation. Every write runs
// through the Mutator, which publishes ReviewChanged after commit so the
// movie's rating aggregate and the author's counters are recomputed.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-reviews/internal/domain"
	"github.com/tbourn/go-movie-reviews/internal/repo"
	"github.com/tbourn/go-movie-reviews/internal/validation"
)

// ReviewInput is a new review.
type ReviewInput struct {
	Rating   int    `json:"rating"   validate:"min=1,max=5"`
	Title    string `json:"title"    validate:"required,min=3,max=100"`
	Content  string `json:"content"  validate:"required,min=10,max=2000"`
	Spoilers bool   `json:"spoilers"`
}

// ReviewPatch is a partial review edit. Nil fields are left unchanged.
type ReviewPatch struct {
	Rating   *int    `json:"rating"   validate:"omitnil,min=1,max=5"`
	Title    *string `json:"title"    validate:"omitnil,min=3,max=100"`
	Content  *string `json:"content"  validate:"omitnil,min=10,max=2000"`
	Spoilers *bool   `json:"spoilers"`
}

func (p *ReviewPatch) empty() bool {
	return p.Rating == nil && p.Title == nil && p.Content == nil && p.Spoilers == nil
}

// ModerationInput is an admin moderation decision.
type ModerationInput struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Reason string `json:"reason" validate:"max=255"`
}

// ReviewStats summarizes a set of reviews.
type ReviewStats struct {
	RatingSummary
	TotalHelpfulVotes int64 `json:"total_helpful_votes,omitempty"`
}

// ReviewService coordinates review mutations and reads.
type ReviewService struct {
	DB      *gorm.DB
	Mutator *Mutator

	// FlagThreshold is the total flag count that sends an approved review
	// back to moderation.
	FlagThreshold int
}

// NewReviewService returns a ReviewService with the default flag threshold.
func NewReviewService(db *gorm.DB, m *Mutator) *ReviewService {
	return &ReviewService{DB: db, Mutator: m, FlagThreshold: domain.FlagThreshold}
}

func reviewSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/ReviewService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Submit creates actor's review of movieID. A second review of the same
// movie is rejected with ErrReviewExists, whether caught here or by the
// storage uniqueness constraint. A previously deleted review is revived in
// place with the new content.
func (s *ReviewService) Submit(ctx context.Context, actor Actor, movieID string, in ReviewInput) (*domain.Review, error) {
	ctx, span := reviewSpan(ctx, "Submit",
		attribute.String("movie.id", movieID), attribute.String("user.id", actor.UserID))
	defer span.End()

	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var out *domain.Review
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		if _, err := repo.GetActiveMovie(ctx, tx, movieID); err != nil {
			if repo.IsNotFound(err) {
				return ErrMovieNotFound
			}
			return err
		}

		existing, err := repo.FindReviewByUserMovie(ctx, tx, actor.UserID, movieID)
		switch {
		case err == nil && existing.IsActive:
			return ErrReviewExists
		case err == nil:
			reviveReview(existing, in)
			if err := repo.SaveReview(ctx, tx, existing); err != nil {
				return err
			}
			out = existing
		case repo.IsNotFound(err):
			r := &domain.Review{
				UserID:           actor.UserID,
				MovieID:          movieID,
				Rating:           in.Rating,
				Title:            in.Title,
				Content:          in.Content,
				Spoilers:         in.Spoilers,
				IsActive:         true,
				ModerationStatus: domain.ModerationApproved,
			}
			if err := repo.CreateReview(ctx, tx, r); err != nil {
				if repo.IsDuplicate(err) {
					return ErrReviewExists
				}
				return err
			}
			out = r
		default:
			return err
		}

		ch.Emit(domain.ReviewChanged{MovieID: movieID, UserID: actor.UserID, ReviewID: out.ID, Op: domain.OpCreated})
		return nil
	})
	if err != nil {
		if repo.IsDuplicate(err) {
			return nil, ErrReviewExists
		}
		return nil, err
	}
	return out, nil
}

// reviveReview resets a soft-deleted review to a fresh submission.
func reviveReview(r *domain.Review, in ReviewInput) {
	r.Rating = in.Rating
	r.Title = in.Title
	r.Content = in.Content
	r.Spoilers = in.Spoilers
	r.HelpfulVotes, r.TotalVotes = 0, 0
	r.Flags = domain.ReviewFlags{}
	r.IsEdited, r.EditedAt = false, nil
	r.IsActive = true
	r.ModerationStatus = domain.ModerationApproved
	r.ModerationReason = ""
	r.CreatedAt = time.Now().UTC()
}

// Update applies patch to the actor's own review and marks it edited.
func (s *ReviewService) Update(ctx context.Context, actor Actor, reviewID string, patch ReviewPatch) (*domain.Review, error) {
	ctx, span := reviewSpan(ctx, "Update",
		attribute.String("review.id", reviewID), attribute.String("user.id", actor.UserID))
	defer span.End()

	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		patch.Title = &t
	}
	if patch.Content != nil {
		c := strings.TrimSpace(*patch.Content)
		patch.Content = &c
	}
	if patch.empty() {
		return nil, validation.Field("body", "required", "at least one field must be provided")
	}
	if err := validation.Struct(patch); err != nil {
		return nil, err
	}

	var out *domain.Review
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		r, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if r.UserID != actor.UserID {
			return ErrNotOwner
		}
		if patch.Rating != nil {
			r.Rating = *patch.Rating
		}
		if patch.Title != nil {
			r.Title = *patch.Title
		}
		if patch.Content != nil {
			r.Content = *patch.Content
		}
		if patch.Spoilers != nil {
			r.Spoilers = *patch.Spoilers
		}
		now := time.Now().UTC()
		r.IsEdited, r.EditedAt = true, &now
		if err := repo.SaveReview(ctx, tx, r); err != nil {
			return err
		}
		out = r
		ch.Emit(domain.ReviewChanged{MovieID: r.MovieID, UserID: r.UserID, ReviewID: r.ID, Op: domain.OpUpdated})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete soft-deletes a review. Authors may delete their own; admins may
// delete any.
func (s *ReviewService) Delete(ctx context.Context, actor Actor, reviewID string) error {
	ctx, span := reviewSpan(ctx, "Delete",
		attribute.String("review.id", reviewID), attribute.String("user.id", actor.UserID))
	defer span.End()

	return s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		r, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if r.UserID != actor.UserID && !actor.IsAdmin {
			return ErrNotOwner
		}
		if err := repo.UpdateReview(ctx, tx, r.ID, map[string]any{"is_active": false}); err != nil {
			return err
		}
		ch.Emit(domain.ReviewChanged{MovieID: r.MovieID, UserID: r.UserID, ReviewID: r.ID, Op: domain.OpDeleted})
		return nil
	})
}

// Flag records one flag for reason. When the review's flags reach the
// threshold an approved review moves to pending; pending and rejected
// reviews are never changed by flags.
func (s *ReviewService) Flag(ctx context.Context, actor Actor, reviewID, reason string) (*domain.Review, error) {
	ctx, span := reviewSpan(ctx, "Flag",
		attribute.String("review.id", reviewID), attribute.String("flag.reason", reason))
	defer span.End()

	reason = strings.ToLower(strings.TrimSpace(reason))
	switch reason {
	case domain.FlagSpam, domain.FlagInappropriate, domain.FlagSpoiler:
	default:
		return nil, validation.Field("reason", "oneof", "reason must be one of: spam inappropriate spoiler")
	}

	threshold := s.FlagThreshold
	if threshold <= 0 {
		threshold = domain.FlagThreshold
	}

	var out *domain.Review
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		r, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if r.UserID == actor.UserID {
			return ErrSelfAction
		}
		if err := repo.IncrementReviewFlag(ctx, tx, r.ID, reason); err != nil {
			return err
		}
		if _, err := repo.EscalateFlaggedReview(ctx, tx, r.ID, threshold); err != nil {
			return err
		}
		if out, err = repo.GetReview(ctx, tx, r.ID); err != nil {
			return err
		}
		ch.Emit(domain.ReviewChanged{MovieID: r.MovieID, UserID: r.UserID, ReviewID: r.ID, Op: domain.OpUpdated})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkHelpful records a helpful vote.
func (s *ReviewService) MarkHelpful(ctx context.Context, actor Actor, reviewID string) (*domain.Review, error) {
	return s.vote(ctx, actor, reviewID, true)
}

// MarkNotHelpful records a not-helpful vote.
func (s *ReviewService) MarkNotHelpful(ctx context.Context, actor Actor, reviewID string) (*domain.Review, error) {
	return s.vote(ctx, actor, reviewID, false)
}

// vote changes no aggregate, so it emits nothing.
func (s *ReviewService) vote(ctx context.Context, actor Actor, reviewID string, helpful bool) (*domain.Review, error) {
	ctx, span := reviewSpan(ctx, "Vote",
		attribute.String("review.id", reviewID), attribute.Bool("vote.helpful", helpful))
	defer span.End()

	var out *domain.Review
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, _ *Changes) error {
		r, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if r.UserID == actor.UserID {
			return ErrSelfAction
		}
		if err := repo.IncrementReviewVotes(ctx, tx, r.ID, helpful); err != nil {
			return err
		}
		out, err = repo.GetReview(ctx, tx, r.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Moderate sets an admin decision on a review.
func (s *ReviewService) Moderate(ctx context.Context, actor Actor, reviewID string, in ModerationInput) (*domain.Review, error) {
	ctx, span := reviewSpan(ctx, "Moderate",
		attribute.String("review.id", reviewID), attribute.String("moderation.status", in.Status))
	defer span.End()

	if !actor.IsAdmin {
		return nil, ErrAdminOnly
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var out *domain.Review
	err := s.Mutator.Run(ctx, func(tx *gorm.DB, ch *Changes) error {
		r, err := s.activeReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if err := repo.UpdateReview(ctx, tx, r.ID, map[string]any{
			"moderation_status": in.Status,
			"moderation_reason": in.Reason,
		}); err != nil {
			return err
		}
		if out, err = repo.GetReview(ctx, tx, r.ID); err != nil {
			return err
		}
		ch.Emit(domain.ReviewChanged{MovieID: r.MovieID, UserID: r.UserID, ReviewID: r.ID, Op: domain.OpUpdated})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns an active review. Reviews awaiting or failing moderation are
// visible only to their author and admins.
func (s *ReviewService) Get(ctx context.Context, actor Actor, reviewID string) (*domain.Review, error) {
	ctx, span := reviewSpan(ctx, "Get", attribute.String("review.id", reviewID))
	defer span.End()

	r, err := s.activeReview(ctx, s.DB, reviewID)
	if err != nil {
		return nil, err
	}
	if r.ModerationStatus != domain.ModerationApproved && r.UserID != actor.UserID && !actor.IsAdmin {
		return nil, ErrReviewNotFound
	}
	return r, nil
}

// ListForMovie returns a page of a movie's visible reviews.
func (s *ReviewService) ListForMovie(ctx context.Context, movieID string, f repo.ReviewFilter, page, pageSize int) ([]domain.Review, int64, error) {
	ctx, span := reviewSpan(ctx, "ListForMovie",
		attribute.String("movie.id", movieID), attribute.Int("page", page), attribute.Int("page_size", pageSize))
	defer span.End()

	if _, err := repo.GetActiveMovie(ctx, s.DB, movieID); err != nil {
		if repo.IsNotFound(err) {
			return nil, 0, ErrMovieNotFound
		}
		return nil, 0, err
	}
	offset, limit := pageBounds(page, pageSize)
	return repo.ListMovieReviewsPage(ctx, s.DB, movieID, f, offset, limit)
}

// MovieReviewsStats returns the count and latest update time of a movie's
// visible reviews, for conditional responses. A missing or deactivated movie
// is ErrMovieNotFound, so a wildcard If-None-Match cannot mask a 404.
func (s *ReviewService) MovieReviewsStats(ctx context.Context, movieID string) (int64, *time.Time, error) {
	if _, err := repo.GetActiveMovie(ctx, s.DB, movieID); err != nil {
		if repo.IsNotFound(err) {
			return 0, nil, ErrMovieNotFound
		}
		return 0, nil, err
	}
	return repo.MovieReviewsStats(ctx, s.DB, movieID)
}

// GlobalStats summarizes every visible review.
func (s *ReviewService) GlobalStats(ctx context.Context) (*ReviewStats, error) {
	ctx, span := reviewSpan(ctx, "GlobalStats")
	defer span.End()

	dist, err := repo.GlobalRatingBuckets(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	return &ReviewStats{RatingSummary: Summarize(dist)}, nil
}

func (s *ReviewService) activeReview(ctx context.Context, db *gorm.DB, id string) (*domain.Review, error) {
	r, err := repo.GetActiveReview(ctx, db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReviewNotFound
	}
	return r, err
}
