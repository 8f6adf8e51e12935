// Package sweep runs the periodic maintenance pass: deactivating expired
// subscriptions, warning users shortly before expiry, and pruning spent
// daily quota records.
package sweep

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

// DefaultInterval is how often the maintenance pass runs.
const DefaultInterval = time.Hour

// expiryWarningWindow is how far ahead of expiry users are warned.
const expiryWarningWindow = 3 * 24 * time.Hour

type subscriptionSweepCollection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type quotaSweepCollection interface {
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// expiryNotifier warns a user that their subscription is about to lapse.
type expiryNotifier interface {
	SubscriptionExpiring(ctx context.Context, userID int64, daysLeft int) error
}

// timeNow is overridable for tests.
var timeNow = time.Now

// Sweeper owns the periodic maintenance pass.
type Sweeper struct {
	subs     subscriptionSweepCollection
	quotas   quotaSweepCollection
	notifier expiryNotifier
	logger   *logrus.Entry
}

// NewSweeper constructs a Sweeper.
func NewSweeper(subs subscriptionSweepCollection, quotas quotaSweepCollection, notifier expiryNotifier, logger *logrus.Entry) *Sweeper {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Sweeper{
		subs:     subs,
		quotas:   quotas,
		notifier: notifier,
		logger:   logger,
	}
}

// Run executes the maintenance pass on a fixed interval until the context is
// cancelled. The first pass happens immediately.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.pass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	if err := s.SweepSubscriptions(ctx); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "subscription_sweep_error",
			"error": err.Error(),
		}).Error("subscription sweep failed")
	}
	if err := s.PruneQuotas(ctx); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "quota_prune_error",
			"error": err.Error(),
		}).Error("quota prune failed")
	}
}

// SweepSubscriptions deactivates subscriptions past their end date and warns
// users whose subscription lapses within the warning window. Each user is
// warned at most once per UTC day.
func (s *Sweeper) SweepSubscriptions(ctx context.Context) error {
	if s == nil || s.subs == nil {
		return errors.New("sweeper is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	result, err := s.subs.UpdateMany(ctx,
		bson.M{"is_active": true, "end_date": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{
			"is_active":  false,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("deactivate expired subscriptions: %w", err)
	}
	if result != nil && result.ModifiedCount > 0 {
		s.logger.WithFields(logging.Fields{
			"event": "subscriptions_expired",
			"count": result.ModifiedCount,
		}).Info("deactivated expired subscriptions")
	}

	if s.notifier == nil {
		return nil
	}

	return s.warnExpiring(ctx, now)
}

func (s *Sweeper) warnExpiring(ctx context.Context, now time.Time) error {
	today := domain.DayKey(now)

	cursor, err := s.subs.Find(ctx, bson.M{
		"is_active":         true,
		"end_date":          bson.M{"$gt": now, "$lte": now.Add(expiryWarningWindow)},
		"expiry_warned_day": bson.M{"$ne": today},
	})
	if err != nil {
		return fmt.Errorf("find expiring subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var expiring []domain.Subscription
	if err := cursor.All(ctx, &expiring); err != nil {
		return fmt.Errorf("decode expiring subscriptions: %w", err)
	}

	for _, sub := range expiring {
		if err := s.notifier.SubscriptionExpiring(ctx, sub.UserID, sub.DaysLeft(now)); err != nil {
			s.logger.WithFields(logging.Fields{
				"event":   "expiry_warning_error",
				"user_id": sub.UserID,
				"error":   err.Error(),
			}).Warn("could not deliver expiry warning")
			continue
		}

		if _, err := s.subs.UpdateOne(ctx,
			bson.M{"user_id": sub.UserID},
			bson.M{"$set": bson.M{"expiry_warned_day": today}},
		); err != nil {
			s.logger.WithFields(logging.Fields{
				"event":   "expiry_warning_mark_error",
				"user_id": sub.UserID,
				"error":   err.Error(),
			}).Warn("could not record expiry warning")
		}
	}

	return nil
}

// PruneQuotas deletes quota counters from past UTC days. Today's counters are
// the only ones ever read, so this is pure housekeeping.
func (s *Sweeper) PruneQuotas(ctx context.Context) error {
	if s == nil || s.quotas == nil {
		return errors.New("sweeper is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	today := domain.DayKey(timeNow())

	result, err := s.quotas.DeleteMany(ctx, bson.M{"day": bson.M{"$lt": today}})
	if err != nil {
		return fmt.Errorf("prune quotas: %w", err)
	}
	if result != nil && result.DeletedCount > 0 {
		s.logger.WithFields(logging.Fields{
			"event": "quotas_pruned",
			"count": result.DeletedCount,
		}).Debug("removed past quota records")
	}

	return nil
}
