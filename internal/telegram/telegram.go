// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"game_results_bot/internal/config"
	"game_results_bot/internal/domain"
	"game_results_bot/internal/feature/binding"
	"game_results_bot/internal/feature/quota"
	"game_results_bot/internal/logging"
)

type botRunner interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
		"pre_checkout_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

type userRegistrar interface {
	EnsureUser(ctx context.Context, userID int64, username, language string) (bool, error)
}

type userFetcher interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

type accountBinder interface {
	Bind(ctx context.Context, userID int64, game domain.Game, accountID, region string) (domain.GameAccount, error)
	Status(ctx context.Context, userID int64, game domain.Game) (binding.Status, error)
	Get(ctx context.Context, userID int64, game domain.Game) (domain.GameAccount, bool, error)
	List(ctx context.Context, userID int64) ([]domain.GameAccount, error)
}

type quotaTracker interface {
	Allowance(ctx context.Context, userID int64) (quota.Allowance, error)
	Consume(ctx context.Context, userID int64, game domain.Game) error
}

type subscriptionLedger interface {
	Get(ctx context.Context, userID int64) (domain.Subscription, bool, error)
	Cancel(ctx context.Context, userID int64) error
}

type paymentService interface {
	CreatePending(ctx context.Context, userID int64, plan domain.Plan, method string) (domain.Payment, error)
	Confirm(ctx context.Context, transactionID, providerChargeID string) (domain.Payment, domain.Subscription, error)
	Lookup(ctx context.Context, transactionID string) (domain.Payment, error)
}

type paymentWatcher interface {
	Watch(ctx context.Context, payment domain.Payment) error
}

type paymentChecker interface {
	Check(ctx context.Context, payment domain.Payment) (paid bool, providerChargeID string, err error)
}

// gameCatalog reports the titles whose accounts can currently be verified.
type gameCatalog interface {
	Games() []domain.Game
}

type statsProvider interface {
	CountUsers(ctx context.Context) (int64, error)
	CountActiveSubscriptions(ctx context.Context, now time.Time) (int64, error)
	CountCompletedPayments(ctx context.Context) (int64, error)
}

// Client wraps the Telegram bot instance and the feature services behind the
// chat surface.
type Client struct {
	bot    botRunner
	logger *logrus.Entry
	cfg    config.Config

	registrar userRegistrar
	users     userFetcher
	binder    accountBinder
	quotas    quotaTracker
	ledger    subscriptionLedger
	payments  paymentService
	watcher   paymentWatcher
	checker   paymentChecker
	stats     statsProvider
	catalog   gameCatalog

	// API seams, overridable in tests.
	sendMessage       func(ctx context.Context, b *bot.Bot, params *bot.SendMessageParams) error
	sendInvoice       func(ctx context.Context, b *bot.Bot, params *bot.SendInvoiceParams) error
	answerCallback    func(ctx context.Context, b *bot.Bot, params *bot.AnswerCallbackQueryParams) error
	answerPreCheckout func(ctx context.Context, b *bot.Bot, params *bot.AnswerPreCheckoutQueryParams) error
}

// Option customizes the Client with one collaborator.
type Option func(*Client)

// WithUserRegistrar wires the user registrar invoked on every interaction.
func WithUserRegistrar(registrar userRegistrar) Option {
	return func(c *Client) { c.registrar = registrar }
}

// WithUserFetcher wires user lookups for role checks.
func WithUserFetcher(users userFetcher) Option {
	return func(c *Client) { c.users = users }
}

// WithAccountBinder wires the game account linking policy.
func WithAccountBinder(binder accountBinder) Option {
	return func(c *Client) { c.binder = binder }
}

// WithQuotaTracker wires the free-tier lookup meter.
func WithQuotaTracker(quotas quotaTracker) Option {
	return func(c *Client) { c.quotas = quotas }
}

// WithSubscriptionLedger wires the subscription ledger.
func WithSubscriptionLedger(ledger subscriptionLedger) Option {
	return func(c *Client) { c.ledger = ledger }
}

// WithPaymentService wires payment creation and settlement.
func WithPaymentService(payments paymentService) Option {
	return func(c *Client) { c.payments = payments }
}

// WithPaymentWatcher wires the background crypto payment poller.
func WithPaymentWatcher(watcher paymentWatcher) Option {
	return func(c *Client) { c.watcher = watcher }
}

// WithPaymentChecker wires the manual /paycheck status source.
func WithPaymentChecker(checker paymentChecker) Option {
	return func(c *Client) { c.checker = checker }
}

// WithStatsProvider wires the admin statistics source.
func WithStatsProvider(stats statsProvider) Option {
	return func(c *Client) { c.stats = stats }
}

// WithGameCatalog wires the verifier registry so /start advertises only the
// titles whose credentials are configured.
func WithGameCatalog(catalog gameCatalog) Option {
	return func(c *Client) { c.catalog = catalog }
}

// NewClient initializes the Telegram bot with long polling and the command
// handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		logger: logger,
		cfg:    cfg,

		sendMessage: func(ctx context.Context, b *bot.Bot, params *bot.SendMessageParams) error {
			_, err := b.SendMessage(ctx, params)
			return err
		},
		sendInvoice: func(ctx context.Context, b *bot.Bot, params *bot.SendInvoiceParams) error {
			_, err := b.SendInvoice(ctx, params)
			return err
		},
		answerCallback: func(ctx context.Context, b *bot.Bot, params *bot.AnswerCallbackQueryParams) error {
			_, err := b.AnswerCallbackQuery(ctx, params)
			return err
		},
		answerPreCheckout: func(ctx context.Context, b *bot.Bot, params *bot.AnswerPreCheckoutQueryParams) error {
			_, err := b.AnswerPreCheckoutQuery(ctx, params)
			return err
		},
	}
	for _, opt := range opts {
		opt(client)
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleDefault),
		bot.WithErrorsHandler(errorHandler(logger)),
		bot.WithMessageTextHandler("/start", bot.MatchTypePrefix, client.command(client.handleStart)),
		bot.WithMessageTextHandler("/help", bot.MatchTypePrefix, client.command(client.handleStart)),
		bot.WithMessageTextHandler("/link", bot.MatchTypePrefix, client.command(client.handleLink)),
		bot.WithMessageTextHandler("/stats", bot.MatchTypePrefix, client.command(client.handleStats)),
		bot.WithMessageTextHandler("/status", bot.MatchTypePrefix, client.command(client.handleStatus)),
		bot.WithMessageTextHandler("/subscribe", bot.MatchTypePrefix, client.handleSubscribeCmd),
		bot.WithMessageTextHandler("/cancel", bot.MatchTypePrefix, client.command(client.handleCancel)),
		bot.WithMessageTextHandler("/paycheck", bot.MatchTypePrefix, client.command(client.handlePaycheck)),
		bot.WithMessageTextHandler("/grant", bot.MatchTypePrefix, client.command(client.handleGrant)),
		bot.WithMessageTextHandler("/revoke", bot.MatchTypePrefix, client.command(client.handleRevoke)),
		bot.WithMessageTextHandler("/botstats", bot.MatchTypePrefix, client.command(client.handleBotStats)),
		bot.WithCallbackQueryDataHandler("sub_", bot.MatchTypePrefix, client.handlePlanCallback),
		bot.WithCallbackQueryDataHandler("pay_", bot.MatchTypePrefix, client.handlePayCallback),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot
	return client, nil
}

// AttachPaymentWatcher wires the crypto payment poller. The watcher notifies
// users through this client, so it cannot exist before the client does.
func (c *Client) AttachPaymentWatcher(watcher paymentWatcher) {
	c.watcher = watcher
}

// SendMessage exposes the underlying bot as a plain message sender for
// notification services.
func (c *Client) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if c == nil || c.bot == nil {
		return nil, errors.New("telegram client is not initialized")
	}

	return c.bot.SendMessage(ctx, params)
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// command wraps a reply-producing handler: it registers the user, builds the
// reply, and sends it to the chat the command came from.
func (c *Client) command(build func(ctx context.Context, userID int64, args []string) string) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update == nil || update.Message == nil || update.Message.From == nil {
			return
		}

		userID := update.Message.From.ID
		c.ensureUser(ctx, update.Message.From)

		fields := strings.Fields(update.Message.Text)
		var args []string
		if len(fields) > 1 {
			args = fields[1:]
		}

		text := build(ctx, userID, args)
		if text == "" {
			return
		}

		c.reply(ctx, b, update.Message.Chat.ID, text, nil)
	}
}

func (c *Client) ensureUser(ctx context.Context, from *models.User) {
	if c.registrar == nil || from == nil {
		return
	}

	if _, err := c.registrar.EnsureUser(ctx, from.ID, from.Username, from.LanguageCode); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "ensure_user_error",
			"user_id": from.ID,
		}).WithError(err).Warn("could not register user")
	}
}

func (c *Client) reply(ctx context.Context, b *bot.Bot, chatID int64, text string, markup models.ReplyMarkup) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if err := c.sendMessage(ctx, b, params); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_send_error",
			"chat_id": chatID,
		}).WithError(err).Warn("could not send message")
	}
}

func (c *Client) handleStart(_ context.Context, _ int64, _ []string) string {
	titles := domain.Games
	if c.catalog != nil {
		if verifiable := c.catalog.Games(); len(verifiable) > 0 {
			titles = verifiable
		}
	}

	games := make([]string, 0, len(titles))
	for _, game := range titles {
		games = append(games, string(game))
	}

	return strings.Join([]string{
		"Match results bot. Link your game accounts and pull your latest stats.",
		"",
		"Supported games: " + strings.Join(games, ", "),
		"",
		"/link <game> <account_id> [region] - link a game account",
		"/stats <game> - show stats for a linked account",
		"/status - subscription, links, and today's allowance",
		"/subscribe - unlimited lookups",
		"/cancel - cancel auto renewal",
		"/paycheck <reference> - re-check a crypto payment",
	}, "\n")
}

func (c *Client) handleLink(ctx context.Context, userID int64, args []string) string {
	if c.binder == nil {
		return "Account linking is not available right now."
	}
	if len(args) < 2 {
		return "Usage: /link <game> <account_id> [region]"
	}

	game, err := domain.ParseGame(args[0])
	if err != nil {
		return fmt.Sprintf("Unknown game %q. Supported: %s", args[0], supportedGames())
	}

	region := ""
	if len(args) > 2 {
		region = args[2]
	}

	account, err := c.binder.Bind(ctx, userID, game, args[1], region)
	switch {
	case errors.Is(err, domain.ErrCooldownActive):
		status, statusErr := c.binder.Status(ctx, userID, game)
		if statusErr != nil {
			return "You changed this account recently. Try again later."
		}
		return fmt.Sprintf("You changed this account recently. You can rebind in %.1f hours.", status.HoursLeft)
	case errors.Is(err, domain.ErrInvalidAccount):
		return fmt.Sprintf("Could not find that %s account. Check the id and try again.", game)
	case err != nil:
		c.logger.WithFields(logging.Fields{
			"event":   "link_error",
			"user_id": userID,
			"game":    game,
		}).WithError(err).Warn("account linking failed")
		return "Account verification is unavailable right now. Try again in a few minutes."
	}

	name := account.Nickname
	if name == "" {
		name = account.AccountID
	}
	return fmt.Sprintf("Linked %s account %s.", game, name)
}

func (c *Client) handleStats(ctx context.Context, userID int64, args []string) string {
	if c.binder == nil || c.quotas == nil {
		return "Stats are not available right now."
	}
	if len(args) < 1 {
		return "Usage: /stats <game>"
	}

	game, err := domain.ParseGame(args[0])
	if err != nil {
		return fmt.Sprintf("Unknown game %q. Supported: %s", args[0], supportedGames())
	}

	account, found, err := c.binder.Get(ctx, userID, game)
	if err != nil {
		c.logger.WithError(err).Warn("account lookup failed")
		return "Could not load your account. Try again later."
	}
	if !found {
		return fmt.Sprintf("No %s account linked yet. Use /link %s <account_id> first.", game, game)
	}

	if err := c.quotas.Consume(ctx, userID, game); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			return fmt.Sprintf("You used all %d free lookups for today. The counter resets at midnight UTC, or get unlimited access with /subscribe.", c.freeLimit())
		}
		c.logger.WithError(err).Warn("quota check failed")
		return "Could not check your allowance. Try again later."
	}

	lines := []string{fmt.Sprintf("Latest %s results for %s:", game, account.Nickname)}
	lines = append(lines, fmt.Sprintf("Comparing your last %d matches, auto update every %d minutes.",
		account.Settings.CompareDepth, account.Settings.UpdateInterval/60))

	allowance, err := c.quotas.Allowance(ctx, userID)
	if err == nil && !allowance.Unlimited {
		lines = append(lines, fmt.Sprintf("Free lookups left today: %d of %d.", allowance.Remaining, allowance.Limit))
	}

	return strings.Join(lines, "\n")
}

func (c *Client) handleStatus(ctx context.Context, userID int64, _ []string) string {
	var lines []string

	if c.ledger != nil {
		sub, found, err := c.ledger.Get(ctx, userID)
		now := time.Now().UTC()
		switch {
		case err != nil:
			lines = append(lines, "Subscription: unavailable")
		case found && sub.ActiveAt(now):
			lines = append(lines, fmt.Sprintf("Subscription: active (%s), %d day(s) left.", sub.Plan, sub.DaysLeft(now)))
		case found && !sub.IsActive && sub.EndDate.After(now):
			lines = append(lines, fmt.Sprintf("Subscription: cancelled, access until %s.", sub.EndDate.Format("2006-01-02")))
		default:
			lines = append(lines, "Subscription: none. Get unlimited lookups with /subscribe.")
		}
	}

	if c.binder != nil {
		accounts, err := c.binder.List(ctx, userID)
		if err == nil && len(accounts) > 0 {
			lines = append(lines, "Linked accounts:")
			for _, account := range accounts {
				name := account.Nickname
				if name == "" {
					name = account.AccountID
				}
				lines = append(lines, fmt.Sprintf("  %s: %s", account.Game, name))
			}
		} else if err == nil {
			lines = append(lines, "Linked accounts: none. Use /link <game> <account_id>.")
		}
	}

	if c.quotas != nil {
		allowance, err := c.quotas.Allowance(ctx, userID)
		switch {
		case err != nil:
		case allowance.Unlimited:
			lines = append(lines, "Lookups today: unlimited.")
		default:
			lines = append(lines, fmt.Sprintf("Free lookups left today: %d of %d.", allowance.Remaining, allowance.Limit))
		}
	}

	if len(lines) == 0 {
		return "Status is not available right now."
	}
	return strings.Join(lines, "\n")
}

func (c *Client) handleCancel(ctx context.Context, userID int64, _ []string) string {
	if c.ledger == nil {
		return "Subscriptions are not available right now."
	}

	if err := c.ledger.Cancel(ctx, userID); err != nil {
		c.logger.WithError(err).Warn("cancel failed")
		return "Could not cancel your subscription. Try again later."
	}

	if sub, found, err := c.ledger.Get(ctx, userID); err == nil && found && sub.EndDate.After(time.Now().UTC()) {
		return fmt.Sprintf("Auto renewal cancelled. You keep access until %s.", sub.EndDate.Format("2006-01-02"))
	}
	return "Auto renewal cancelled."
}

func (c *Client) handlePaycheck(ctx context.Context, userID int64, args []string) string {
	if c.payments == nil {
		return "Payments are not available right now."
	}
	if len(args) < 1 {
		return "Usage: /paycheck <reference>"
	}

	reference := args[0]
	payment, err := c.payments.Lookup(ctx, reference)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return "No payment found for that reference."
	}
	if err != nil {
		c.logger.WithError(err).Warn("payment lookup failed")
		return "Could not check the payment. Try again later."
	}
	if payment.UserID != userID {
		return "No payment found for that reference."
	}

	switch payment.Status {
	case domain.PaymentCompleted, domain.PaymentRefunded:
		return "This payment is already confirmed."
	case domain.PaymentFailed:
		return "This payment failed: " + payment.FailureReason
	}

	if payment.PaymentMethod != domain.MethodCrypto || c.checker == nil {
		return "This payment is still pending."
	}

	paid, chargeID, err := c.checker.Check(ctx, payment)
	if err != nil || !paid {
		return "The transfer is not visible yet. Wait for confirmations and run /paycheck again."
	}

	_, sub, err := c.payments.Confirm(ctx, reference, chargeID)
	if errors.Is(err, domain.ErrDuplicatePayment) {
		return "This payment is already confirmed."
	}
	if err != nil {
		c.logger.WithError(err).Error("manual payment confirm failed")
		return "The transfer arrived but activation failed. Support has been notified, try /paycheck again shortly."
	}

	return fmt.Sprintf("Payment confirmed. Your %s subscription is active until %s.", sub.Plan, sub.EndDate.Format("2006-01-02"))
}

func (c *Client) handleGrant(ctx context.Context, userID int64, args []string) string {
	if !c.isAdmin(ctx, userID) {
		return ""
	}
	if c.payments == nil {
		return "Payments are not available right now."
	}
	if len(args) < 1 {
		return "Usage: /grant <user_id> [plan]"
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || targetID == 0 {
		return "Usage: /grant <user_id> [plan]"
	}

	plan := domain.PlanInfinite
	if len(args) > 1 {
		plan, err = domain.ParsePlan(args[1])
		if err != nil {
			return fmt.Sprintf("Unknown plan %q.", args[1])
		}
	}

	pending, err := c.payments.CreatePending(ctx, targetID, plan, domain.MethodAdminGrant)
	if err != nil {
		c.logger.WithError(err).Error("grant create failed")
		return "Could not create the grant."
	}
	_, sub, err := c.payments.Confirm(ctx, pending.TransactionID, "")
	if err != nil {
		c.logger.WithError(err).Error("grant confirm failed")
		return "Could not apply the grant."
	}

	return fmt.Sprintf("Granted %s to user %d, active until %s.", plan, targetID, sub.EndDate.Format("2006-01-02"))
}

func (c *Client) handleRevoke(ctx context.Context, userID int64, args []string) string {
	if !c.isAdmin(ctx, userID) {
		return ""
	}
	if c.ledger == nil {
		return "Subscriptions are not available right now."
	}
	if len(args) < 1 {
		return "Usage: /revoke <user_id>"
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || targetID == 0 {
		return "Usage: /revoke <user_id>"
	}

	if err := c.ledger.Cancel(ctx, targetID); err != nil {
		c.logger.WithError(err).Error("revoke failed")
		return "Could not revoke the subscription."
	}

	return fmt.Sprintf("Cancelled subscription for user %d.", targetID)
}

func (c *Client) handleBotStats(ctx context.Context, userID int64, _ []string) string {
	if !c.isAdmin(ctx, userID) {
		return ""
	}
	if c.stats == nil {
		return "Statistics are not available right now."
	}

	users, err := c.stats.CountUsers(ctx)
	if err != nil {
		return "Could not load statistics."
	}
	subs, err := c.stats.CountActiveSubscriptions(ctx, time.Now().UTC())
	if err != nil {
		return "Could not load statistics."
	}
	payments, err := c.stats.CountCompletedPayments(ctx)
	if err != nil {
		return "Could not load statistics."
	}

	return fmt.Sprintf("Users: %d\nActive subscriptions: %d\nCompleted payments: %d", users, subs, payments)
}

func (c *Client) isAdmin(ctx context.Context, userID int64) bool {
	if userID == c.cfg.BotOwnerID {
		return true
	}
	if c.users == nil {
		return false
	}

	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return false
	}
	return user.Role == domain.RoleOwner || user.Role == domain.RoleAdmin
}

func (c *Client) freeLimit() int {
	if c.cfg.FreeMatchesPerDay > 0 {
		return c.cfg.FreeMatchesPerDay
	}
	return domain.DefaultFreeMatchesPerDay
}

func supportedGames() string {
	games := make([]string, 0, len(domain.Games))
	for _, game := range domain.Games {
		games = append(games, string(game))
	}
	return strings.Join(games, ", ")
}
