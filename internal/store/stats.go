package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for the
// owner diagnostics command without leaking MongoDB internals to callers.
type StatsProvider struct {
	users         countCollection
	subscriptions countCollection
	payments      countCollection
}

// NewStatsProvider constructs a StatsProvider backed by the provided
// collections.
func NewStatsProvider(users, subscriptions, payments countCollection) *StatsProvider {
	return &StatsProvider{
		users:         users,
		subscriptions: subscriptions,
		payments:      payments,
	}
}

// CountUsers returns the number of registered users.
func (p *StatsProvider) CountUsers(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.users == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// CountActiveSubscriptions returns the number of subscriptions whose stored
// flag is set and whose end date is in the future.
func (p *StatsProvider) CountActiveSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.subscriptions == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	filter := bson.M{
		"is_active": true,
		"end_date":  bson.M{"$gt": now.UTC()},
	}

	count, err := p.subscriptions.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}

	return count, nil
}

// CountCompletedPayments returns the number of completed payment records.
func (p *StatsProvider) CountCompletedPayments(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.payments == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.payments.CountDocuments(ctx, bson.M{"status": "completed"})
	if err != nil {
		return 0, fmt.Errorf("count completed payments: %w", err)
	}

	return count, nil
}
