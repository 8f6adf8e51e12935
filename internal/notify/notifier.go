// Package notify delivers proactive bot messages in the user's language.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"game_results_bot/internal/domain"
	"game_results_bot/internal/logging"
)

// messageSender is the slice of *bot.Bot the notifier needs.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// languageSource resolves the user's preferred language.
type languageSource interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

// Message kinds, used as template keys and log tags.
const (
	kindSubscriptionExpiring = "subscription_expiring"
	kindPaymentReceived      = "payment_received"
	kindPaymentTimeout       = "payment_timeout"
)

// templates holds the per-language message bodies. English is the fallback.
var templates = map[string]map[string]string{
	"en": {
		kindSubscriptionExpiring: "Your subscription expires in %d day(s). Renew with /subscribe to keep unlimited access.",
		kindPaymentReceived:      "Payment received. Your %s subscription is active until %s.",
		kindPaymentTimeout:       "We could not see your payment within the waiting window. If you already paid, run /paycheck %s once the transfer settles.",
	},
	"ru": {
		kindSubscriptionExpiring: "Ваша подписка истекает через %d дн. Продлите её командой /subscribe, чтобы сохранить безлимитный доступ.",
		kindPaymentReceived:      "Оплата получена. Подписка %s активна до %s.",
		kindPaymentTimeout:       "Мы не увидели ваш платёж за отведённое время. Если вы уже оплатили, выполните /paycheck %s после подтверждения перевода.",
	},
}

// Notifier sends templated direct messages to users.
type Notifier struct {
	sender messageSender
	users  languageSource
	logger *logrus.Entry
}

// NewNotifier constructs a Notifier.
func NewNotifier(sender messageSender, users languageSource, logger *logrus.Entry) *Notifier {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Notifier{
		sender: sender,
		users:  users,
		logger: logger,
	}
}

// SubscriptionExpiring warns the user their subscription lapses soon.
func (n *Notifier) SubscriptionExpiring(ctx context.Context, userID int64, daysLeft int) error {
	text := fmt.Sprintf(n.template(ctx, userID, kindSubscriptionExpiring), daysLeft)
	return n.send(ctx, userID, kindSubscriptionExpiring, text)
}

// PaymentReceived confirms a settled payment and the new expiry date.
func (n *Notifier) PaymentReceived(ctx context.Context, userID int64, sub domain.Subscription) error {
	text := fmt.Sprintf(n.template(ctx, userID, kindPaymentReceived), sub.Plan, sub.EndDate.Format("2006-01-02"))
	return n.send(ctx, userID, kindPaymentReceived, text)
}

// PaymentTimedOut tells the user the polling window closed without seeing the
// funds and how to reconcile manually.
func (n *Notifier) PaymentTimedOut(ctx context.Context, userID int64, transactionID string) error {
	text := fmt.Sprintf(n.template(ctx, userID, kindPaymentTimeout), transactionID)
	return n.send(ctx, userID, kindPaymentTimeout, text)
}

func (n *Notifier) template(ctx context.Context, userID int64, kind string) string {
	language := domain.DefaultLanguage
	if n.users != nil {
		if user, err := n.users.GetByID(ctx, userID); err == nil && user.Language != "" {
			language = user.Language
		}
	}

	if body, ok := templates[language][kind]; ok {
		return body
	}
	return templates[domain.DefaultLanguage][kind]
}

func (n *Notifier) send(ctx context.Context, userID int64, kind, text string) error {
	if n == nil || n.sender == nil {
		return errors.New("notifier is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 {
		return errors.New("user id is required")
	}

	if _, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: userID,
		Text:   text,
	}); err != nil {
		return fmt.Errorf("send %s notification: %w", kind, err)
	}

	n.logger.WithFields(logging.Fields{
		"event":   "notification_sent",
		"kind":    kind,
		"user_id": userID,
	}).Debug("delivered notification")

	return nil
}
