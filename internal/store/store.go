// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"game_results_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionUsers         = "users"
	CollectionGameAccounts  = "game_accounts"
	CollectionDailyQuotas   = "daily_quotas"
	CollectionSubscriptions = "subscriptions"
	CollectionPayments      = "payments"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Ping verifies connectivity against the primary, for health checks.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	return nil
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Users returns the users collection handle.
func (m *Manager) Users() *mongo.Collection {
	return m.Collection(CollectionUsers)
}

// GameAccounts returns the game account links collection handle.
func (m *Manager) GameAccounts() *mongo.Collection {
	return m.Collection(CollectionGameAccounts)
}

// DailyQuotas returns the per-day quota counters collection handle.
func (m *Manager) DailyQuotas() *mongo.Collection {
	return m.Collection(CollectionDailyQuotas)
}

// Subscriptions returns the subscriptions collection handle.
func (m *Manager) Subscriptions() *mongo.Collection {
	return m.Collection(CollectionSubscriptions)
}

// Payments returns the payment audit collection handle.
func (m *Manager) Payments() *mongo.Collection {
	return m.Collection(CollectionPayments)
}

// EnsureBaseIndexes creates the foundational indexes enforcing the entity
// invariants: one link per (user, game), one subscription per user, one quota
// row per (user, day), and globally unique transaction references. Collections
// are created implicitly if they do not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	plans := []struct {
		collection *mongo.Collection
		models     []mongo.IndexModel
	}{
		{
			collection: m.Users(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "user_id", Value: 1}},
					Options: options.Index().
						SetName("user_id_unique").
						SetUnique(true),
				},
			},
		},
		{
			collection: m.GameAccounts(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "game", Value: 1}},
					Options: options.Index().
						SetName("user_game_unique").
						SetUnique(true),
				},
			},
		},
		{
			collection: m.DailyQuotas(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "day", Value: 1}},
					Options: options.Index().
						SetName("user_day_unique").
						SetUnique(true),
				},
			},
		},
		{
			collection: m.Subscriptions(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "user_id", Value: 1}},
					Options: options.Index().
						SetName("user_id_unique").
						SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "end_date", Value: 1}},
					Options: options.Index().SetName("end_date"),
				},
			},
		},
		{
			collection: m.Payments(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "transaction_id", Value: 1}},
					Options: options.Index().
						SetName("transaction_id_unique").
						SetUnique(true),
				},
				{
					Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
					Options: options.Index().SetName("user_created"),
				},
			},
		},
	}

	for _, plan := range plans {
		if _, err := createIndexes(ctx, plan.collection, plan.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", plan.collection.Name(), err)
		}
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
