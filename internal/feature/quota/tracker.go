// Package quota enforces the free-tier daily match limit. Counters are keyed
// by UTC day, so the limit resets at midnight UTC without any mutation: a new
// day simply reads as zero usage.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"game_results_bot/internal/domain"
	"game_results_bot/internal/logging"
)

type quotaCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// entitlementChecker reports whether the user holds an active subscription.
// Subscribers are never quota limited.
type entitlementChecker interface {
	IsActive(ctx context.Context, userID int64, now time.Time) (bool, error)
}

// timeNow is overridable for tests.
var timeNow = time.Now

// Tracker meters free-tier match lookups per user per UTC day.
type Tracker struct {
	quotas quotaCollection
	subs   entitlementChecker
	limit  int
	logger *logrus.Entry
}

// NewTracker constructs a Tracker. A non-positive limit falls back to the
// default free allowance.
func NewTracker(quotas quotaCollection, subs entitlementChecker, limit int, logger *logrus.Entry) *Tracker {
	if limit <= 0 {
		limit = domain.DefaultFreeMatchesPerDay
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Tracker{
		quotas: quotas,
		subs:   subs,
		limit:  limit,
		logger: logger,
	}
}

// Allowance describes what the user may still consume today.
type Allowance struct {
	Unlimited bool
	Limit     int
	Used      int
	Remaining int
}

// Allowance reports the user's remaining free matches for the current UTC day.
// Subscribers get an unlimited allowance regardless of recorded usage.
func (t *Tracker) Allowance(ctx context.Context, userID int64) (Allowance, error) {
	if t == nil || t.quotas == nil {
		return Allowance{}, errors.New("quota tracker is not initialized")
	}
	if ctx == nil {
		return Allowance{}, errors.New("context is required")
	}
	if userID == 0 {
		return Allowance{}, errors.New("user id is required")
	}

	now := timeNow().UTC()

	if t.subs != nil {
		active, err := t.subs.IsActive(ctx, userID, now)
		if err != nil {
			return Allowance{}, fmt.Errorf("check subscription for quota: %w", err)
		}
		if active {
			return Allowance{Unlimited: true, Limit: t.limit}, nil
		}
	}

	used, err := t.usedToday(ctx, userID, now)
	if err != nil {
		return Allowance{}, err
	}

	remaining := t.limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Allowance{
		Limit:     t.limit,
		Used:      used,
		Remaining: remaining,
	}, nil
}

// CanConsume reports whether one more match lookup is allowed right now.
func (t *Tracker) CanConsume(ctx context.Context, userID int64) (bool, error) {
	allowance, err := t.Allowance(ctx, userID)
	if err != nil {
		return false, err
	}

	return allowance.Unlimited || allowance.Remaining > 0, nil
}

// Consume records one match lookup against today's counter. Free-tier users
// over the limit get ErrQuotaExceeded and no counter change. Subscriber usage
// is still recorded for statistics but never rejected.
func (t *Tracker) Consume(ctx context.Context, userID int64, game domain.Game) error {
	allowance, err := t.Allowance(ctx, userID)
	if err != nil {
		return err
	}
	if !allowance.Unlimited && allowance.Remaining <= 0 {
		t.logger.WithFields(logging.Fields{
			"event":   "quota_exceeded",
			"user_id": userID,
			"game":    game,
			"limit":   allowance.Limit,
		}).Info("free tier daily limit reached")
		return domain.ErrQuotaExceeded
	}

	now := timeNow().UTC().Truncate(time.Millisecond)
	day := domain.DayKey(now)

	update := bson.M{
		"$inc": bson.M{
			"matches_used":           1,
			"games." + string(game): 1,
		},
		"$set": bson.M{
			"last_match_at": now,
			"updated_at":    now,
		},
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"day":        day,
			"last_reset": now,
		},
	}

	if _, err := t.quotas.UpdateOne(ctx,
		bson.M{"user_id": userID, "day": day},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("record quota usage: %w", err)
	}

	t.logger.WithFields(logging.Fields{
		"event":   "quota_consumed",
		"user_id": userID,
		"game":    game,
		"day":     day,
	}).Debug("recorded match lookup")

	return nil
}

func (t *Tracker) usedToday(ctx context.Context, userID int64, now time.Time) (int, error) {
	result := t.quotas.FindOne(ctx, bson.M{
		"user_id": userID,
		"day":     domain.DayKey(now),
	})
	if result == nil {
		return 0, errors.New("find quota returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("find quota: %w", err)
	}

	var quota domain.DailyQuota
	if err := result.Decode(&quota); err != nil {
		return 0, fmt.Errorf("decode quota: %w", err)
	}

	return quota.MatchesUsed, nil
}
