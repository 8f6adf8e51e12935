package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"game_results_bot/internal/domain"
	"game_results_bot/internal/logging"
)

const (
	planCallbackPrefix   = "sub_"
	starsCallbackPrefix  = "pay_stars:"
	cryptoCallbackPrefix = "pay_crypto:"
	invoicePayloadPrefix = "sub"
)

var planLabels = map[domain.Plan]string{
	domain.Plan1Month:   "1 month",
	domain.Plan3Months:  "3 months",
	domain.Plan6Months:  "6 months",
	domain.Plan12Months: "12 months",
	domain.PlanInfinite: "infinite",
}

func planLabel(plan domain.Plan) string {
	if label, ok := planLabels[plan]; ok {
		return label
	}
	return string(plan)
}

// planKeyboard offers every purchasable plan with both price tags.
func planKeyboard() *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(domain.PurchasablePlans))
	for _, plan := range domain.PurchasablePlans {
		stars, _ := domain.StarsPrice(plan)
		usd, _ := domain.USDPrice(plan)
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         fmt.Sprintf("%s - %d Stars / $%.2f", planLabel(plan), stars, usd),
			CallbackData: planCallbackPrefix + string(plan),
		}})
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// methodKeyboard offers the payment methods available for one plan.
func methodKeyboard(plan domain.Plan, cryptoEnabled bool) *models.InlineKeyboardMarkup {
	rows := [][]models.InlineKeyboardButton{{{
		Text:         "Pay with Telegram Stars",
		CallbackData: starsCallbackPrefix + string(plan),
	}}}
	if cryptoEnabled {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         "Pay with crypto (USDT)",
			CallbackData: cryptoCallbackPrefix + string(plan),
		}})
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// invoicePayload ties a Stars invoice back to its pending payment.
func invoicePayload(plan domain.Plan, userID int64, transactionID string) string {
	return fmt.Sprintf("%s:%s:%d:%s", invoicePayloadPrefix, plan, userID, transactionID)
}

// transactionFromPayload extracts the transaction reference from an invoice
// payload.
func transactionFromPayload(payload string) (string, error) {
	parts := strings.SplitN(payload, ":", 4)
	if len(parts) != 4 || parts[0] != invoicePayloadPrefix || parts[3] == "" {
		return "", fmt.Errorf("malformed invoice payload %q", payload)
	}
	return parts[3], nil
}

func (c *Client) handleSubscribeCmd(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}

	c.ensureUser(ctx, update.Message.From)
	c.reply(ctx, b, update.Message.Chat.ID, "Choose a subscription plan:", planKeyboard())
}

func (c *Client) handlePlanCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	c.ensureUser(ctx, &cq.From)
	c.ackCallback(ctx, b, cq.ID)

	chatID := messageChatID(cq.Message)
	if chatID == 0 {
		return
	}

	plan, err := domain.ParsePlan(strings.TrimPrefix(cq.Data, planCallbackPrefix))
	if err != nil || !purchasable(plan) {
		c.reply(ctx, b, chatID, "That plan is no longer available. Run /subscribe again.", nil)
		return
	}

	stars, _ := domain.StarsPrice(plan)
	usd, _ := domain.USDPrice(plan)
	text := fmt.Sprintf("Plan %s: %d Stars or $%.2f in crypto. Choose a payment method:", planLabel(plan), stars, usd)
	c.reply(ctx, b, chatID, text, methodKeyboard(plan, c.cfg.CryptoEnabled()))
}

func (c *Client) handlePayCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	c.ensureUser(ctx, &cq.From)
	c.ackCallback(ctx, b, cq.ID)

	chatID := messageChatID(cq.Message)
	if chatID == 0 || c.payments == nil {
		return
	}

	switch {
	case strings.HasPrefix(cq.Data, starsCallbackPrefix):
		c.startStarsPayment(ctx, b, chatID, cq.From.ID, strings.TrimPrefix(cq.Data, starsCallbackPrefix))
	case strings.HasPrefix(cq.Data, cryptoCallbackPrefix):
		c.startCryptoPayment(ctx, b, chatID, cq.From.ID, strings.TrimPrefix(cq.Data, cryptoCallbackPrefix))
	}
}

func (c *Client) startStarsPayment(ctx context.Context, b *bot.Bot, chatID, userID int64, rawPlan string) {
	plan, err := domain.ParsePlan(rawPlan)
	if err != nil || !purchasable(plan) {
		c.reply(ctx, b, chatID, "That plan is no longer available. Run /subscribe again.", nil)
		return
	}

	pending, err := c.payments.CreatePending(ctx, userID, plan, domain.MethodStars)
	if err != nil {
		c.logger.WithError(err).Error("stars payment create failed")
		c.reply(ctx, b, chatID, "Could not start the payment. Try again later.", nil)
		return
	}

	stars, _ := domain.StarsPrice(plan)
	params := &bot.SendInvoiceParams{
		ChatID:      chatID,
		Title:       fmt.Sprintf("Subscription: %s", planLabel(plan)),
		Description: "Unlimited match stat lookups for all linked accounts.",
		Payload:     invoicePayload(plan, userID, pending.TransactionID),
		Currency:    domain.CurrencyStars,
		Prices: []models.LabeledPrice{
			{Label: planLabel(plan), Amount: stars},
		},
	}

	if err := c.sendInvoice(ctx, b, params); err != nil {
		c.logger.WithError(err).Error("stars invoice send failed")
		c.reply(ctx, b, chatID, "Could not send the invoice. Try again later.", nil)
	}
}

func (c *Client) startCryptoPayment(ctx context.Context, b *bot.Bot, chatID, userID int64, rawPlan string) {
	if !c.cfg.CryptoEnabled() {
		c.reply(ctx, b, chatID, "Crypto payments are not available right now.", nil)
		return
	}

	plan, err := domain.ParsePlan(rawPlan)
	if err != nil || !purchasable(plan) {
		c.reply(ctx, b, chatID, "That plan is no longer available. Run /subscribe again.", nil)
		return
	}

	pending, err := c.payments.CreatePending(ctx, userID, plan, domain.MethodCrypto)
	if err != nil {
		c.logger.WithError(err).Error("crypto payment create failed")
		c.reply(ctx, b, chatID, "Could not start the payment. Try again later.", nil)
		return
	}

	if c.watcher != nil {
		if err := c.watcher.Watch(ctx, pending); err != nil {
			c.logger.WithError(err).Warn("could not start payment watch")
		}
	}

	text := strings.Join([]string{
		fmt.Sprintf("Send exactly $%.2f USDT to:", pending.Amount),
		c.cfg.CryptoAddress,
		"",
		fmt.Sprintf("Reference: %s", pending.TransactionID),
		"We will check for the transfer automatically for the next few minutes.",
		fmt.Sprintf("If it settles later, run /paycheck %s.", pending.TransactionID),
	}, "\n")
	c.reply(ctx, b, chatID, text, nil)
}

// handleDefault routes the payment updates that have no text to match on and
// logs everything else.
func (c *Client) handleDefault(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	switch {
	case update.PreCheckoutQuery != nil:
		c.handlePreCheckout(ctx, b, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		c.handleSuccessfulPayment(ctx, b, update.Message)
	default:
		meta := extractUpdateMeta(update)
		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}
		if meta.text != "" {
			fields["text"] = meta.text
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}
		c.logger.WithFields(fields).Debug("telegram update received")
	}
}

// handlePreCheckout approves the checkout; the definitive settlement happens
// on the successful payment update.
func (c *Client) handlePreCheckout(ctx context.Context, b *bot.Bot, query *models.PreCheckoutQuery) {
	params := &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}

	if _, err := transactionFromPayload(query.InvoicePayload); err != nil {
		params.OK = false
		params.ErrorMessage = "This invoice is no longer valid. Run /subscribe again."
	}

	if err := c.answerPreCheckout(ctx, b, params); err != nil {
		c.logger.WithError(err).Error("pre checkout answer failed")
	}
}

func (c *Client) handleSuccessfulPayment(ctx context.Context, b *bot.Bot, msg *models.Message) {
	sp := msg.SuccessfulPayment
	chatID := msg.Chat.ID

	reference, err := transactionFromPayload(sp.InvoicePayload)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "payment_payload_error",
			"chat_id": chatID,
		}).WithError(err).Error("unparseable invoice payload")
		c.reply(ctx, b, chatID, "We received your payment but could not match it. Contact support.", nil)
		return
	}

	if c.payments == nil {
		return
	}

	_, sub, err := c.payments.Confirm(ctx, reference, sp.TelegramPaymentChargeID)
	if errors.Is(err, domain.ErrDuplicatePayment) {
		c.reply(ctx, b, chatID, "This payment was already processed. Check /status.", nil)
		return
	}
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":          "payment_confirm_error",
			"transaction_id": reference,
		}).WithError(err).Error("stars payment confirm failed")
		c.reply(ctx, b, chatID, "Payment received but activation failed. Run /paycheck "+reference+" in a minute.", nil)
		return
	}

	text := fmt.Sprintf("Payment received. Your %s subscription is active until %s. Enjoy unlimited lookups!",
		planLabel(sub.Plan), sub.EndDate.Format("2006-01-02"))
	c.reply(ctx, b, chatID, text, nil)
}

func (c *Client) ackCallback(ctx context.Context, b *bot.Bot, callbackID string) {
	if err := c.answerCallback(ctx, b, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID}); err != nil {
		c.logger.WithError(err).Warn("callback answer failed")
	}
}

func purchasable(plan domain.Plan) bool {
	for _, known := range domain.PurchasablePlans {
		if plan == known {
			return true
		}
	}
	return false
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     fromID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.CallbackQuery != nil:
		return updateMeta{
			userID:     update.CallbackQuery.From.ID,
			chatID:     messageChatID(update.CallbackQuery.Message),
			text:       strings.TrimSpace(update.CallbackQuery.Data),
			updateType: "callback_query",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func fromID(user *models.User) int64 {
	if user == nil {
		return 0
	}
	return user.ID
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.Chat.ID
	default:
		return 0
	}
}
