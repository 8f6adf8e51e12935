// Package owner provides startup helpers for ensuring the configured bot owner
// exists in the database with the correct role and a standing subscription.
package owner

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

type userCollection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// subscriptionChecker reports whether the owner already holds entitlement.
type subscriptionChecker interface {
	IsActive(ctx context.Context, userID int64, now time.Time) (bool, error)
}

// grantIssuer records and settles the owner's complimentary subscription so it
// shows up in the payment audit trail like any other grant.
type grantIssuer interface {
	CreatePending(ctx context.Context, userID int64, plan domain.Plan, method string) (domain.Payment, error)
	Confirm(ctx context.Context, transactionID, providerChargeID string) (domain.Payment, domain.Subscription, error)
}

// timeNow is overridable for tests.
var timeNow = time.Now

// Registrar bootstraps the configured bot owner record.
type Registrar struct {
	users  userCollection
	subs   subscriptionChecker
	grants grantIssuer
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar for the provided users collection.
func NewRegistrar(users userCollection, subs subscriptionChecker, grants grantIssuer, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		users:  users,
		subs:   subs,
		grants: grants,
		logger: logger,
	}
}

// EnsureOwner upserts the configured owner user_id with role=owner, demotes
// any previous owners to admin, and grants the owner an infinite subscription
// unless one is already active.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID int64) error {
	if r == nil || r.users == nil {
		return errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if ownerID == 0 {
		return errors.New("owner id is required")
	}

	now := timeNow().UTC()

	demoteResult, err := r.users.UpdateMany(ctx,
		bson.M{"role": domain.RoleOwner, "user_id": bson.M{"$ne": ownerID}},
		bson.M{"$set": bson.M{
			"role":       domain.RoleAdmin,
			"updated_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("demote previous owners: %w", err)
	}

	upsertResult, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": ownerID},
		bson.M{
			"$set": bson.M{
				"user_id":    ownerID,
				"role":       domain.RoleOwner,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"language":   domain.DefaultLanguage,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_bootstrap",
		"owner_id":       ownerID,
		"demoted_owners": modifiedCount(demoteResult),
		"matched_owner":  matchedCount(upsertResult),
		"upserted_owner": upsertedCount(upsertResult),
	}).Info("ensured bot owner")

	return r.ensureGrant(ctx, ownerID, now)
}

// ensureGrant issues the infinite owner subscription at most once: a repeated
// startup finds an active subscription and leaves the ledger alone.
func (r *Registrar) ensureGrant(ctx context.Context, ownerID int64, now time.Time) error {
	if r.subs == nil || r.grants == nil {
		return nil
	}

	active, err := r.subs.IsActive(ctx, ownerID, now)
	if err != nil {
		return fmt.Errorf("check owner subscription: %w", err)
	}
	if active {
		return nil
	}

	pending, err := r.grants.CreatePending(ctx, ownerID, domain.PlanInfinite, domain.MethodAdminGrant)
	if err != nil {
		return fmt.Errorf("create owner grant: %w", err)
	}
	if _, _, err := r.grants.Confirm(ctx, pending.TransactionID, ""); err != nil {
		return fmt.Errorf("confirm owner grant: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_grant",
		"owner_id":       ownerID,
		"transaction_id": pending.TransactionID,
	}).Info("granted owner subscription")

	return nil
}

func modifiedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.ModifiedCount
}

func matchedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.MatchedCount
}

func upsertedCount(result *mongo.UpdateResult) int64 {
	if result == nil {
		return 0
	}
	return result.UpsertedCount
}
