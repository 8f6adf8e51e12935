// Package payment owns the payment audit trail and its status transitions.
// Every purchase produces exactly one pending record keyed by a unique
// transaction reference; confirmation is at-most-once per reference and only a
// confirmed payment activates subscription time.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"game_results_bot/internal/domain"
	"game_results_bot/internal/logging"
)

type paymentCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// subscriptionRenewer applies confirmed payments to the subscription ledger.
type subscriptionRenewer interface {
	Renew(ctx context.Context, userID int64, plan domain.Plan, paymentMethod, transactionID string) (domain.Subscription, error)
}

// timeNow is overridable for tests.
var timeNow = time.Now

// newTransactionRef builds the unique reference a payment is tracked under.
var newTransactionRef = func(method string, userID int64) string {
	return fmt.Sprintf("%s_%d_%s", method, userID, ulid.Make().String())
}

// Reconciler creates pending payments and drives their status transitions.
type Reconciler struct {
	payments paymentCollection
	ledger   subscriptionRenewer
	logger   *logrus.Entry
}

// NewReconciler constructs a Reconciler.
func NewReconciler(payments paymentCollection, ledger subscriptionRenewer, logger *logrus.Entry) *Reconciler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Reconciler{
		payments: payments,
		ledger:   ledger,
		logger:   logger,
	}
}

// CreatePending records a new payment attempt with the fixed plan price for
// the chosen method. Admin grants carry a zero amount.
func (r *Reconciler) CreatePending(ctx context.Context, userID int64, plan domain.Plan, method string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment reconciler is not initialized")
	}
	if ctx == nil {
		return domain.Payment{}, errors.New("context is required")
	}
	if userID == 0 {
		return domain.Payment{}, errors.New("user id is required")
	}

	amount, currency, err := priceFor(plan, method)
	if err != nil {
		return domain.Payment{}, err
	}

	now := timeNow().UTC().Truncate(time.Millisecond)
	payment := domain.Payment{
		UserID:        userID,
		Amount:        amount,
		Currency:      currency,
		Plan:          plan,
		Status:        domain.PaymentPending,
		TransactionID: newTransactionRef(method, userID),
		PaymentMethod: method,
		CreatedAt:     now,
	}

	if _, err := r.payments.InsertOne(ctx, payment); err != nil {
		return domain.Payment{}, fmt.Errorf("insert pending payment: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "payment_created",
		"user_id":        userID,
		"plan":           plan,
		"method":         method,
		"transaction_id": payment.TransactionID,
	}).Info("created pending payment")

	return payment, nil
}

// Confirm completes a pending payment and applies it to the subscription
// ledger. The pending->completed transition happens in a single conditional
// update, so a second confirm for the same reference finds no pending row and
// reports ErrDuplicatePayment without granting time twice. If the renewal
// fails the payment is reverted to pending so a later confirm can retry.
func (r *Reconciler) Confirm(ctx context.Context, transactionID, providerChargeID string) (domain.Payment, domain.Subscription, error) {
	if r == nil || r.payments == nil || r.ledger == nil {
		return domain.Payment{}, domain.Subscription{}, errors.New("payment reconciler is not initialized")
	}
	if ctx == nil {
		return domain.Payment{}, domain.Subscription{}, errors.New("context is required")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Payment{}, domain.Subscription{}, errors.New("transaction id is required")
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	set := bson.M{
		"status":       domain.PaymentCompleted,
		"confirmed_at": now,
	}
	if providerChargeID != "" {
		set["provider_charge_id"] = providerChargeID
	}

	result := r.payments.FindOneAndUpdate(ctx,
		bson.M{"transaction_id": transactionID, "status": domain.PaymentPending},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result == nil {
		return domain.Payment{}, domain.Subscription{}, errors.New("confirm payment returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return r.classifyMissingPending(ctx, transactionID)
		}
		return domain.Payment{}, domain.Subscription{}, fmt.Errorf("confirm payment: %w", err)
	}

	var payment domain.Payment
	if err := result.Decode(&payment); err != nil {
		return domain.Payment{}, domain.Subscription{}, fmt.Errorf("decode confirmed payment: %w", err)
	}

	sub, err := r.ledger.Renew(ctx, payment.UserID, payment.Plan, payment.PaymentMethod, payment.TransactionID)
	if err != nil {
		if revertErr := r.revertToPending(ctx, transactionID); revertErr != nil {
			r.logger.WithFields(logging.Fields{
				"event":          "payment_revert_failed",
				"transaction_id": transactionID,
				"error":          revertErr.Error(),
			}).Error("could not revert payment after renewal failure")
		}
		return domain.Payment{}, domain.Subscription{}, fmt.Errorf("apply payment to subscription: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "payment_confirmed",
		"user_id":        payment.UserID,
		"plan":           payment.Plan,
		"method":         payment.PaymentMethod,
		"transaction_id": payment.TransactionID,
		"usd_value":      payment.USDValue(),
	}).Info("payment confirmed")

	return payment, sub, nil
}

// Fail moves a pending payment to failed with a reason. Failing an
// already-terminal payment is a no-op.
func (r *Reconciler) Fail(ctx context.Context, transactionID, reason string) error {
	if r == nil || r.payments == nil {
		return errors.New("payment reconciler is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if transactionID == "" {
		return errors.New("transaction id is required")
	}

	result, err := r.payments.UpdateOne(ctx,
		bson.M{"transaction_id": transactionID, "status": domain.PaymentPending},
		bson.M{"$set": bson.M{
			"status":         domain.PaymentFailed,
			"failure_reason": reason,
		}},
	)
	if err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}
	if result == nil || result.MatchedCount == 0 {
		if _, lookupErr := r.lookup(ctx, transactionID); lookupErr != nil {
			return lookupErr
		}
		return nil
	}

	r.logger.WithFields(logging.Fields{
		"event":          "payment_failed",
		"transaction_id": transactionID,
		"reason":         reason,
	}).Warn("payment marked failed")

	return nil
}

// Refund marks a completed payment refunded. Subscription time already granted
// stays on the ledger until an operator revokes it explicitly.
func (r *Reconciler) Refund(ctx context.Context, transactionID string) error {
	if r == nil || r.payments == nil {
		return errors.New("payment reconciler is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if transactionID == "" {
		return errors.New("transaction id is required")
	}

	now := timeNow().UTC().Truncate(time.Millisecond)

	result, err := r.payments.UpdateOne(ctx,
		bson.M{"transaction_id": transactionID, "status": domain.PaymentCompleted},
		bson.M{"$set": bson.M{
			"status":      domain.PaymentRefunded,
			"refunded_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("refund payment: %w", err)
	}
	if result == nil || result.MatchedCount == 0 {
		payment, lookupErr := r.lookup(ctx, transactionID)
		if lookupErr != nil {
			return lookupErr
		}
		return fmt.Errorf("cannot refund payment in status %q", payment.Status)
	}

	r.logger.WithFields(logging.Fields{
		"event":          "payment_refunded",
		"transaction_id": transactionID,
	}).Info("payment refunded")

	return nil
}

// Lookup fetches a payment by its transaction reference.
func (r *Reconciler) Lookup(ctx context.Context, transactionID string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment reconciler is not initialized")
	}
	if ctx == nil {
		return domain.Payment{}, errors.New("context is required")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Payment{}, errors.New("transaction id is required")
	}

	return r.lookup(ctx, transactionID)
}

func (r *Reconciler) classifyMissingPending(ctx context.Context, transactionID string) (domain.Payment, domain.Subscription, error) {
	payment, err := r.lookup(ctx, transactionID)
	if err != nil {
		return domain.Payment{}, domain.Subscription{}, err
	}

	if payment.Status == domain.PaymentCompleted || payment.Status == domain.PaymentRefunded {
		r.logger.WithFields(logging.Fields{
			"event":          "payment_duplicate_confirm",
			"transaction_id": transactionID,
		}).Warn("confirm repeated for settled payment")
		return payment, domain.Subscription{}, domain.ErrDuplicatePayment
	}

	return domain.Payment{}, domain.Subscription{}, fmt.Errorf("cannot confirm payment in status %q", payment.Status)
}

func (r *Reconciler) revertToPending(ctx context.Context, transactionID string) error {
	_, err := r.payments.UpdateOne(ctx,
		bson.M{"transaction_id": transactionID, "status": domain.PaymentCompleted},
		bson.M{
			"$set":   bson.M{"status": domain.PaymentPending},
			"$unset": bson.M{"confirmed_at": ""},
		},
	)
	return err
}

func (r *Reconciler) lookup(ctx context.Context, transactionID string) (domain.Payment, error) {
	result := r.payments.FindOne(ctx, bson.M{"transaction_id": transactionID})
	if result == nil {
		return domain.Payment{}, errors.New("find payment returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("find payment: %w", err)
	}

	var payment domain.Payment
	if err := result.Decode(&payment); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment: %w", err)
	}

	return payment, nil
}

func priceFor(plan domain.Plan, method string) (float64, string, error) {
	switch method {
	case domain.MethodStars:
		stars, ok := domain.StarsPrice(plan)
		if !ok {
			return 0, "", domain.ErrUnknownPlan
		}
		return float64(stars), domain.CurrencyStars, nil
	case domain.MethodCrypto:
		usd, ok := domain.USDPrice(plan)
		if !ok {
			return 0, "", domain.ErrUnknownPlan
		}
		return usd, domain.CurrencyUSD, nil
	case domain.MethodAdminGrant:
		if _, err := domain.PlanDuration(plan); err != nil {
			return 0, "", err
		}
		return 0, domain.CurrencyUSD, nil
	default:
		return 0, "", fmt.Errorf("unsupported payment method %q", method)
	}
}
