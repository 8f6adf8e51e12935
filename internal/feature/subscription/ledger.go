// Package subscription implements the subscription ledger: activation,
// additive renewal, cancellation, and the authoritative entitlement check.
package subscription

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

type subscriptionCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// timeNow is overridable for tests.
var timeNow = time.Now

// Ledger owns the single subscription row per user.
type Ledger struct {
	subs   subscriptionCollection
	logger *logrus.Entry
}

// NewLedger constructs a Ledger for the provided subscriptions collection.
func NewLedger(subs subscriptionCollection, logger *logrus.Entry) *Ledger {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Ledger{
		subs:   subs,
		logger: logger,
	}
}

// Renew applies one plan purchase: extend-if-active, restart-if-not. An
// unexpired end_date is extended by the plan duration (renewals stack);
// otherwise the subscription restarts from now. The row is re-read inside this
// call so a renewal racing the expiry sweep never stacks onto stale state.
func (l *Ledger) Renew(ctx context.Context, userID int64, plan domain.Plan, paymentMethod, transactionID string) (domain.Subscription, error) {
	if l == nil || l.subs == nil {
		return domain.Subscription{}, errors.New("subscription ledger is not initialized")
	}
	if ctx == nil {
		return domain.Subscription{}, errors.New("context is required")
	}
	if userID == 0 {
		return domain.Subscription{}, errors.New("user id is required")
	}

	duration, err := domain.PlanDuration(plan)
	if err != nil {
		return domain.Subscription{}, err
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	existing, found, err := l.Get(ctx, userID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("read subscription before renew: %w", err)
	}

	start := now
	end := now.Add(duration)
	if found && existing.EndDate.After(now) {
		end = existing.EndDate.Add(duration)
		if !existing.StartDate.IsZero() {
			start = existing.StartDate
		}
	}

	update := bson.M{
		"$set": bson.M{
			"is_active":      true,
			"plan_type":      plan,
			"start_date":     start,
			"end_date":       end,
			"payment_method": paymentMethod,
			"transaction_id": transactionID,
			"updated_at":     now,
		},
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"created_at": now,
		},
	}

	if _, err := l.subs.UpdateOne(ctx,
		bson.M{"user_id": userID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return domain.Subscription{}, fmt.Errorf("renew subscription: %w", err)
	}

	renewed := domain.Subscription{
		UserID:        userID,
		IsActive:      true,
		Plan:          plan,
		StartDate:     start,
		EndDate:       end,
		PaymentMethod: paymentMethod,
		TransactionID: transactionID,
		UpdatedAt:     now,
	}

	l.logger.WithFields(logging.Fields{
		"event":     "subscription_renewed",
		"user_id":   userID,
		"plan":      plan,
		"method":    paymentMethod,
		"end_date":  end,
		"days_left": renewed.DaysLeft(now),
	}).Info("subscription renewed")

	return renewed, nil
}

// Cancel clears the active flag. The end date stays untouched so remaining
// time is still reportable for audit and UI.
func (l *Ledger) Cancel(ctx context.Context, userID int64) error {
	if l == nil || l.subs == nil {
		return errors.New("subscription ledger is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 {
		return errors.New("user id is required")
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	result, err := l.subs.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"is_active":  false,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	if result == nil || result.MatchedCount == 0 {
		l.logger.WithFields(logging.Fields{
			"event":   "subscription_cancel_noop",
			"user_id": userID,
		}).Warn("cancel requested for user without a subscription")
		return nil
	}

	l.logger.WithFields(logging.Fields{
		"event":   "subscription_cancelled",
		"user_id": userID,
	}).Info("subscription cancelled")

	return nil
}

// Get fetches the user's subscription row. The second return reports whether
// one exists.
func (l *Ledger) Get(ctx context.Context, userID int64) (domain.Subscription, bool, error) {
	if l == nil || l.subs == nil {
		return domain.Subscription{}, false, errors.New("subscription ledger is not initialized")
	}
	if ctx == nil {
		return domain.Subscription{}, false, errors.New("context is required")
	}
	if userID == 0 {
		return domain.Subscription{}, false, errors.New("user id is required")
	}

	result := l.subs.FindOne(ctx, bson.M{"user_id": userID})
	if result == nil {
		return domain.Subscription{}, false, errors.New("find subscription returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Subscription{}, false, nil
		}
		return domain.Subscription{}, false, fmt.Errorf("find subscription: %w", err)
	}

	var sub domain.Subscription
	if err := result.Decode(&sub); err != nil {
		return domain.Subscription{}, false, fmt.Errorf("decode subscription: %w", err)
	}

	return sub, true, nil
}

// IsActive is the authoritative entitlement check: the stored flag must be set
// AND the end date must be in the future. The flag alone lags behind reality
// between expiry sweeps.
func (l *Ledger) IsActive(ctx context.Context, userID int64, now time.Time) (bool, error) {
	sub, found, err := l.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	return sub.ActiveAt(now), nil
}
