package telegram

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"game_results_bot/internal/config"
	"game_results_bot/internal/domain"
	"game_results_bot/internal/feature/binding"
	"game_results_bot/internal/feature/quota"
)

type fakeBot struct {
	startedWith context.Context
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) SendMessage(_ context.Context, _ *bot.SendMessageParams) (*models.Message, error) {
	return &models.Message{}, nil
}

type fakeBinder struct {
	account domain.GameAccount
	found   bool
	list    []domain.GameAccount
	status  binding.Status
	bindErr error
}

func (f *fakeBinder) Bind(_ context.Context, _ int64, _ domain.Game, _, _ string) (domain.GameAccount, error) {
	if f.bindErr != nil {
		return domain.GameAccount{}, f.bindErr
	}
	return f.account, nil
}

func (f *fakeBinder) Status(_ context.Context, _ int64, _ domain.Game) (binding.Status, error) {
	return f.status, nil
}

func (f *fakeBinder) Get(_ context.Context, _ int64, _ domain.Game) (domain.GameAccount, bool, error) {
	return f.account, f.found, nil
}

func (f *fakeBinder) List(_ context.Context, _ int64) ([]domain.GameAccount, error) {
	return f.list, nil
}

type fakeQuotas struct {
	allowance  quota.Allowance
	consumeErr error
	consumed   int
}

func (f *fakeQuotas) Allowance(_ context.Context, _ int64) (quota.Allowance, error) {
	return f.allowance, nil
}

func (f *fakeQuotas) Consume(_ context.Context, _ int64, _ domain.Game) error {
	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed++
	return nil
}

type fakeLedger struct {
	sub       domain.Subscription
	found     bool
	cancelled []int64
}

func (f *fakeLedger) Get(_ context.Context, _ int64) (domain.Subscription, bool, error) {
	return f.sub, f.found, nil
}

func (f *fakeLedger) Cancel(_ context.Context, userID int64) error {
	f.cancelled = append(f.cancelled, userID)
	return nil
}

type confirmCall struct {
	transactionID    string
	providerChargeID string
}

type fakePayments struct {
	pending    domain.Payment
	createErr  error
	sub        domain.Subscription
	confirmErr error
	confirmed  []confirmCall
	lookup     map[string]domain.Payment
}

func (f *fakePayments) CreatePending(_ context.Context, userID int64, plan domain.Plan, method string) (domain.Payment, error) {
	if f.createErr != nil {
		return domain.Payment{}, f.createErr
	}

	pending := f.pending
	pending.UserID = userID
	pending.Plan = plan
	pending.PaymentMethod = method
	return pending, nil
}

func (f *fakePayments) Confirm(_ context.Context, transactionID, providerChargeID string) (domain.Payment, domain.Subscription, error) {
	f.confirmed = append(f.confirmed, confirmCall{transactionID: transactionID, providerChargeID: providerChargeID})
	if f.confirmErr != nil {
		return domain.Payment{}, domain.Subscription{}, f.confirmErr
	}
	return f.pending, f.sub, nil
}

func (f *fakePayments) Lookup(_ context.Context, transactionID string) (domain.Payment, error) {
	payment, ok := f.lookup[transactionID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

type fakeWatcher struct {
	watched []domain.Payment
}

func (f *fakeWatcher) Watch(_ context.Context, payment domain.Payment) error {
	f.watched = append(f.watched, payment)
	return nil
}

type fakeChecker struct {
	paid     bool
	chargeID string
	err      error
}

func (f *fakeChecker) Check(_ context.Context, _ domain.Payment) (bool, string, error) {
	return f.paid, f.chargeID, f.err
}

type testHarness struct {
	client    *Client
	sent      []*bot.SendMessageParams
	invoices  []*bot.SendInvoiceParams
	callbacks []*bot.AnswerCallbackQueryParams
	prechecks []*bot.AnswerPreCheckoutQueryParams
}

func newTestClient(t *testing.T, cfg config.Config, opts ...Option) *testHarness {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	h := &testHarness{}

	client := &Client{
		logger: logrus.NewEntry(hookLogger),
		cfg:    cfg,
	}
	client.sendMessage = func(_ context.Context, _ *bot.Bot, params *bot.SendMessageParams) error {
		h.sent = append(h.sent, params)
		return nil
	}
	client.sendInvoice = func(_ context.Context, _ *bot.Bot, params *bot.SendInvoiceParams) error {
		h.invoices = append(h.invoices, params)
		return nil
	}
	client.answerCallback = func(_ context.Context, _ *bot.Bot, params *bot.AnswerCallbackQueryParams) error {
		h.callbacks = append(h.callbacks, params)
		return nil
	}
	client.answerPreCheckout = func(_ context.Context, _ *bot.Bot, params *bot.AnswerPreCheckoutQueryParams) error {
		h.prechecks = append(h.prechecks, params)
		return nil
	}

	for _, opt := range opts {
		opt(client)
	}

	h.client = client
	return h
}

func callbackUpdate(userID, chatID int64, data string) *models.Update {
	return &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-1",
			From: models.User{ID: userID},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Type: models.MaybeInaccessibleMessageTypeMessage,
				Message: &models.Message{
					Chat: models.Chat{ID: chatID},
				},
			},
		},
	}
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil {
		t.Fatalf("expected client and bot to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 16 {
		t.Fatalf("expected 16 bot options, got %d", len(gotOptions))
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(config.Config{}, nil); err == nil {
		t.Fatalf("expected error for missing telegram token")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (botRunner, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartLogsAndUsesContext(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	client := &Client{
		bot:    &fakeBot{},
		logger: logrus.NewEntry(hookLogger),
	}

	ctx := context.Background()
	client.Start(ctx)

	if fb, ok := client.bot.(*fakeBot); ok {
		if fb.startedWith != ctx {
			t.Fatalf("expected bot to start with provided context")
		}
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}

	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestHandleStartAdvertisesVerifiableGames(t *testing.T) {
	catalog := &fakeCatalog{games: []domain.Game{domain.GameCSGO, domain.GameDota2}}
	h := newTestClient(t, config.Config{}, WithGameCatalog(catalog))

	reply := h.client.handleStart(context.Background(), 42, nil)
	if !strings.Contains(reply, "Supported games: csgo, dota2") {
		t.Fatalf("expected verifiable titles in start message, got %q", reply)
	}
}

func TestHandleStartListsAllGamesWithoutCatalog(t *testing.T) {
	h := newTestClient(t, config.Config{})

	reply := h.client.handleStart(context.Background(), 42, nil)
	for _, game := range domain.Games {
		if !strings.Contains(reply, string(game)) {
			t.Fatalf("expected %s in start message, got %q", game, reply)
		}
	}
}

type fakeCatalog struct {
	games []domain.Game
}

func (f *fakeCatalog) Games() []domain.Game { return f.games }

func TestHandleLinkCooldownMessage(t *testing.T) {
	binder := &fakeBinder{
		bindErr: domain.ErrCooldownActive,
		status:  binding.Status{Bound: true, HoursLeft: 5.5},
	}
	h := newTestClient(t, config.Config{}, WithAccountBinder(binder))

	reply := h.client.handleLink(context.Background(), 42, []string{"csgo", "76561198000000001"})
	if !strings.Contains(reply, "5.5 hours") {
		t.Fatalf("expected cooldown hint with hours left, got %q", reply)
	}
}

func TestHandleLinkInvalidAccount(t *testing.T) {
	binder := &fakeBinder{bindErr: domain.ErrInvalidAccount}
	h := newTestClient(t, config.Config{}, WithAccountBinder(binder))

	reply := h.client.handleLink(context.Background(), 42, []string{"dota2", "999"})
	if !strings.Contains(reply, "Could not find that dota2 account") {
		t.Fatalf("expected invalid account message, got %q", reply)
	}
}

func TestHandleLinkSuccessUsesNickname(t *testing.T) {
	binder := &fakeBinder{
		account: domain.GameAccount{Game: domain.GameCSGO, AccountID: "76561198000000001", Nickname: "player_one"},
	}
	h := newTestClient(t, config.Config{}, WithAccountBinder(binder))

	reply := h.client.handleLink(context.Background(), 42, []string{"csgo", "76561198000000001", "eu"})
	if reply != "Linked csgo account player_one." {
		t.Fatalf("unexpected link reply %q", reply)
	}
}

func TestHandleLinkRejectsUnknownGame(t *testing.T) {
	h := newTestClient(t, config.Config{}, WithAccountBinder(&fakeBinder{}))

	reply := h.client.handleLink(context.Background(), 42, []string{"fortnite", "id"})
	if !strings.Contains(reply, "Unknown game") {
		t.Fatalf("expected unknown game message, got %q", reply)
	}
}

func TestHandleStatsQuotaExhausted(t *testing.T) {
	binder := &fakeBinder{found: true, account: domain.GameAccount{Game: domain.GameDota2, Nickname: "mid_or_feed"}}
	quotas := &fakeQuotas{consumeErr: domain.ErrQuotaExceeded}
	h := newTestClient(t, config.Config{}, WithAccountBinder(binder), WithQuotaTracker(quotas))

	reply := h.client.handleStats(context.Background(), 42, []string{"dota2"})
	if !strings.Contains(reply, "all 2 free lookups") || !strings.Contains(reply, "/subscribe") {
		t.Fatalf("expected quota exhausted message with upsell, got %q", reply)
	}
}

func TestHandleStatsShowsRemainingAllowance(t *testing.T) {
	binder := &fakeBinder{
		found: true,
		account: domain.GameAccount{
			Game:     domain.GameDota2,
			Nickname: "mid_or_feed",
			Settings: domain.DefaultGameSettings(),
		},
	}
	quotas := &fakeQuotas{allowance: quota.Allowance{Limit: 2, Used: 1, Remaining: 1}}
	h := newTestClient(t, config.Config{}, WithAccountBinder(binder), WithQuotaTracker(quotas))

	reply := h.client.handleStats(context.Background(), 42, []string{"dota2"})
	if quotas.consumed != 1 {
		t.Fatalf("expected one lookup consumed, got %d", quotas.consumed)
	}
	if !strings.Contains(reply, "mid_or_feed") || !strings.Contains(reply, "last 3 matches") {
		t.Fatalf("expected account summary with compare depth, got %q", reply)
	}
	if !strings.Contains(reply, "1 of 2") {
		t.Fatalf("expected remaining allowance, got %q", reply)
	}
}

func TestHandleStatsRequiresLinkedAccount(t *testing.T) {
	h := newTestClient(t, config.Config{}, WithAccountBinder(&fakeBinder{}), WithQuotaTracker(&fakeQuotas{}))

	reply := h.client.handleStats(context.Background(), 42, []string{"pubg"})
	if !strings.Contains(reply, "/link pubg") {
		t.Fatalf("expected link hint, got %q", reply)
	}
}

func TestHandleStatusComposition(t *testing.T) {
	now := time.Now().UTC()
	ledger := &fakeLedger{
		found: true,
		sub: domain.Subscription{
			Plan:     domain.Plan3Months,
			IsActive: true,
			EndDate:  now.Add(10 * 24 * time.Hour),
		},
	}
	binder := &fakeBinder{list: []domain.GameAccount{
		{Game: domain.GameCSGO, Nickname: "player_one"},
		{Game: domain.GameWoT, AccountID: "tanker"},
	}}
	quotas := &fakeQuotas{allowance: quota.Allowance{Unlimited: true}}
	h := newTestClient(t, config.Config{},
		WithSubscriptionLedger(ledger), WithAccountBinder(binder), WithQuotaTracker(quotas))

	reply := h.client.handleStatus(context.Background(), 42, nil)
	for _, want := range []string{"active (3_months)", "player_one", "wot: tanker", "unlimited"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("expected status to contain %q, got %q", want, reply)
		}
	}
}

func TestHandleStatusCancelledKeepsAccessDate(t *testing.T) {
	ledger := &fakeLedger{
		found: true,
		sub: domain.Subscription{
			Plan:    domain.Plan1Month,
			EndDate: time.Now().UTC().Add(48 * time.Hour),
		},
	}
	h := newTestClient(t, config.Config{}, WithSubscriptionLedger(ledger))

	reply := h.client.handleStatus(context.Background(), 42, nil)
	if !strings.Contains(reply, "cancelled, access until") {
		t.Fatalf("expected cancelled status with end date, got %q", reply)
	}
}

func TestHandleCancelReportsAccessWindow(t *testing.T) {
	end := time.Now().UTC().Add(72 * time.Hour)
	ledger := &fakeLedger{found: true, sub: domain.Subscription{EndDate: end}}
	h := newTestClient(t, config.Config{}, WithSubscriptionLedger(ledger))

	reply := h.client.handleCancel(context.Background(), 42, nil)
	if len(ledger.cancelled) != 1 || ledger.cancelled[0] != 42 {
		t.Fatalf("expected cancel for user 42, got %v", ledger.cancelled)
	}
	if !strings.Contains(reply, end.Format("2006-01-02")) {
		t.Fatalf("expected access-until date, got %q", reply)
	}
}

func TestHandlePaycheckUnknownReference(t *testing.T) {
	h := newTestClient(t, config.Config{}, WithPaymentService(&fakePayments{}))

	reply := h.client.handlePaycheck(context.Background(), 42, []string{"crypto_42_missing"})
	if !strings.Contains(reply, "No payment found") {
		t.Fatalf("expected not-found message, got %q", reply)
	}
}

func TestHandlePaycheckHidesOtherUsersPayments(t *testing.T) {
	payments := &fakePayments{lookup: map[string]domain.Payment{
		"crypto_7_ref": {TransactionID: "crypto_7_ref", UserID: 7, Status: domain.PaymentPending},
	}}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments))

	reply := h.client.handlePaycheck(context.Background(), 42, []string{"crypto_7_ref"})
	if !strings.Contains(reply, "No payment found") {
		t.Fatalf("expected not-found message for foreign payment, got %q", reply)
	}
}

func TestHandlePaycheckConfirmsVisibleTransfer(t *testing.T) {
	payments := &fakePayments{
		lookup: map[string]domain.Payment{
			"crypto_42_ref": {
				TransactionID: "crypto_42_ref",
				UserID:        42,
				Status:        domain.PaymentPending,
				PaymentMethod: domain.MethodCrypto,
			},
		},
		sub: domain.Subscription{
			Plan:    domain.Plan1Month,
			EndDate: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	checker := &fakeChecker{paid: true, chargeID: "tx-abc"}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments), WithPaymentChecker(checker))

	reply := h.client.handlePaycheck(context.Background(), 42, []string{"crypto_42_ref"})
	if len(payments.confirmed) != 1 {
		t.Fatalf("expected one confirm call, got %d", len(payments.confirmed))
	}
	if payments.confirmed[0].providerChargeID != "tx-abc" {
		t.Fatalf("expected provider charge id to be forwarded, got %q", payments.confirmed[0].providerChargeID)
	}
	if !strings.Contains(reply, "2025-10-01") {
		t.Fatalf("expected confirmation with end date, got %q", reply)
	}
}

func TestHandlePaycheckTransferNotVisible(t *testing.T) {
	payments := &fakePayments{lookup: map[string]domain.Payment{
		"crypto_42_ref": {
			TransactionID: "crypto_42_ref",
			UserID:        42,
			Status:        domain.PaymentPending,
			PaymentMethod: domain.MethodCrypto,
		},
	}}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments), WithPaymentChecker(&fakeChecker{paid: false}))

	reply := h.client.handlePaycheck(context.Background(), 42, []string{"crypto_42_ref"})
	if len(payments.confirmed) != 0 {
		t.Fatalf("expected no confirm for unpaid transfer, got %d", len(payments.confirmed))
	}
	if !strings.Contains(reply, "not visible yet") {
		t.Fatalf("expected wait message, got %q", reply)
	}
}

func TestHandleGrantRequiresAdmin(t *testing.T) {
	payments := &fakePayments{}
	h := newTestClient(t, config.Config{BotOwnerID: 1}, WithPaymentService(payments))

	if reply := h.client.handleGrant(context.Background(), 42, []string{"7"}); reply != "" {
		t.Fatalf("expected silence for non-admin, got %q", reply)
	}
	if len(payments.confirmed) != 0 {
		t.Fatalf("expected no grant issued, got %d confirms", len(payments.confirmed))
	}
}

func TestHandleGrantIssuesInfinitePlan(t *testing.T) {
	payments := &fakePayments{
		pending: domain.Payment{TransactionID: "admin_grant_7_ref"},
		sub: domain.Subscription{
			Plan:    domain.PlanInfinite,
			EndDate: time.Date(2125, 8, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	h := newTestClient(t, config.Config{BotOwnerID: 1}, WithPaymentService(payments))

	reply := h.client.handleGrant(context.Background(), 1, []string{"7"})
	if len(payments.confirmed) != 1 || payments.confirmed[0].transactionID != "admin_grant_7_ref" {
		t.Fatalf("expected grant confirm, got %v", payments.confirmed)
	}
	if !strings.Contains(reply, "Granted infinite to user 7") {
		t.Fatalf("expected grant summary, got %q", reply)
	}
}

func TestSubscribeSendsPlanKeyboard(t *testing.T) {
	h := newTestClient(t, config.Config{})

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 42},
			Chat: models.Chat{ID: 42},
			Text: "/subscribe",
		},
	}
	h.client.handleSubscribeCmd(context.Background(), nil, update)

	if len(h.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(h.sent))
	}
	markup, ok := h.sent[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", h.sent[0].ReplyMarkup)
	}
	if len(markup.InlineKeyboard) != len(domain.PurchasablePlans) {
		t.Fatalf("expected %d plan rows, got %d", len(domain.PurchasablePlans), len(markup.InlineKeyboard))
	}
	first := markup.InlineKeyboard[0][0]
	if first.CallbackData != "sub_1_month" {
		t.Fatalf("expected callback data sub_1_month, got %q", first.CallbackData)
	}
	if !strings.Contains(first.Text, "99 Stars") || !strings.Contains(first.Text, "$0.99") {
		t.Fatalf("expected both price tags on the button, got %q", first.Text)
	}
}

func TestPlanCallbackOffersPaymentMethods(t *testing.T) {
	h := newTestClient(t, config.Config{CryptoAddress: "TB3gX"})

	h.client.handlePlanCallback(context.Background(), nil, callbackUpdate(42, 42, "sub_3_months"))

	if len(h.callbacks) != 1 {
		t.Fatalf("expected callback to be answered, got %d answers", len(h.callbacks))
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected one method message, got %d", len(h.sent))
	}
	markup := h.sent[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("expected stars and crypto rows, got %d", len(markup.InlineKeyboard))
	}
	if markup.InlineKeyboard[0][0].CallbackData != "pay_stars:3_months" {
		t.Fatalf("unexpected stars callback data %q", markup.InlineKeyboard[0][0].CallbackData)
	}
	if markup.InlineKeyboard[1][0].CallbackData != "pay_crypto:3_months" {
		t.Fatalf("unexpected crypto callback data %q", markup.InlineKeyboard[1][0].CallbackData)
	}
}

func TestPlanCallbackHidesCryptoWhenUnconfigured(t *testing.T) {
	h := newTestClient(t, config.Config{})

	h.client.handlePlanCallback(context.Background(), nil, callbackUpdate(42, 42, "sub_1_month"))

	markup := h.sent[0].ReplyMarkup.(*models.InlineKeyboardMarkup)
	if len(markup.InlineKeyboard) != 1 {
		t.Fatalf("expected stars-only keyboard, got %d rows", len(markup.InlineKeyboard))
	}
}

func TestPayCallbackStarsSendsInvoice(t *testing.T) {
	payments := &fakePayments{pending: domain.Payment{TransactionID: "telegram_stars_42_ref"}}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments))

	h.client.handlePayCallback(context.Background(), nil, callbackUpdate(42, 42, "pay_stars:1_month"))

	if len(h.invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(h.invoices))
	}
	invoice := h.invoices[0]
	if invoice.Currency != domain.CurrencyStars {
		t.Fatalf("expected XTR invoice, got %q", invoice.Currency)
	}
	if len(invoice.Prices) != 1 || invoice.Prices[0].Amount != 99 {
		t.Fatalf("expected single 99 Stars price, got %+v", invoice.Prices)
	}
	ref, err := transactionFromPayload(invoice.Payload)
	if err != nil {
		t.Fatalf("invoice payload %q did not round-trip: %v", invoice.Payload, err)
	}
	if ref != "telegram_stars_42_ref" {
		t.Fatalf("expected payload to carry the transaction reference, got %q", ref)
	}
}

func TestPayCallbackCryptoSendsAddressAndWatches(t *testing.T) {
	payments := &fakePayments{pending: domain.Payment{TransactionID: "crypto_42_ref", Amount: 2.50}}
	watcher := &fakeWatcher{}
	h := newTestClient(t, config.Config{CryptoAddress: "TB3gX"},
		WithPaymentService(payments), WithPaymentWatcher(watcher))

	h.client.handlePayCallback(context.Background(), nil, callbackUpdate(42, 42, "pay_crypto:3_months"))

	if len(watcher.watched) != 1 || watcher.watched[0].TransactionID != "crypto_42_ref" {
		t.Fatalf("expected payment watch to start, got %v", watcher.watched)
	}
	text := h.sent[0].Text
	for _, want := range []string{"$2.50", "TB3gX", "crypto_42_ref", "/paycheck"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected crypto instructions to contain %q, got %q", want, text)
		}
	}
}

func TestPayCallbackCryptoDisabled(t *testing.T) {
	payments := &fakePayments{}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments))

	h.client.handlePayCallback(context.Background(), nil, callbackUpdate(42, 42, "pay_crypto:3_months"))

	if !strings.Contains(h.sent[0].Text, "not available") {
		t.Fatalf("expected crypto-disabled message, got %q", h.sent[0].Text)
	}
}

func TestPreCheckoutApproved(t *testing.T) {
	h := newTestClient(t, config.Config{})

	update := &models.Update{
		PreCheckoutQuery: &models.PreCheckoutQuery{
			ID:             "pcq-1",
			InvoicePayload: invoicePayload(domain.Plan1Month, 42, "telegram_stars_42_ref"),
		},
	}
	h.client.handleDefault(context.Background(), nil, update)

	if len(h.prechecks) != 1 {
		t.Fatalf("expected one pre-checkout answer, got %d", len(h.prechecks))
	}
	if !h.prechecks[0].OK {
		t.Fatalf("expected pre-checkout to be approved")
	}
}

func TestPreCheckoutRejectsMalformedPayload(t *testing.T) {
	h := newTestClient(t, config.Config{})

	update := &models.Update{
		PreCheckoutQuery: &models.PreCheckoutQuery{ID: "pcq-1", InvoicePayload: "garbage"},
	}
	h.client.handleDefault(context.Background(), nil, update)

	if len(h.prechecks) != 1 || h.prechecks[0].OK {
		t.Fatalf("expected pre-checkout rejection, got %+v", h.prechecks)
	}
}

func TestSuccessfulPaymentConfirmsAndReplies(t *testing.T) {
	payments := &fakePayments{
		sub: domain.Subscription{
			Plan:    domain.Plan1Month,
			EndDate: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments))

	update := &models.Update{
		Message: &models.Message{
			Chat: models.Chat{ID: 42},
			SuccessfulPayment: &models.SuccessfulPayment{
				InvoicePayload:          invoicePayload(domain.Plan1Month, 42, "telegram_stars_42_ref"),
				TelegramPaymentChargeID: "tg-charge-1",
			},
		},
	}
	h.client.handleDefault(context.Background(), nil, update)

	if len(payments.confirmed) != 1 {
		t.Fatalf("expected one confirm, got %d", len(payments.confirmed))
	}
	call := payments.confirmed[0]
	if call.transactionID != "telegram_stars_42_ref" || call.providerChargeID != "tg-charge-1" {
		t.Fatalf("unexpected confirm call %+v", call)
	}
	if !strings.Contains(h.sent[0].Text, "2025-10-01") {
		t.Fatalf("expected activation message with end date, got %q", h.sent[0].Text)
	}
}

func TestSuccessfulPaymentDuplicateIsAcknowledged(t *testing.T) {
	payments := &fakePayments{confirmErr: domain.ErrDuplicatePayment}
	h := newTestClient(t, config.Config{}, WithPaymentService(payments))

	update := &models.Update{
		Message: &models.Message{
			Chat: models.Chat{ID: 42},
			SuccessfulPayment: &models.SuccessfulPayment{
				InvoicePayload:          invoicePayload(domain.Plan1Month, 42, "telegram_stars_42_ref"),
				TelegramPaymentChargeID: "tg-charge-1",
			},
		},
	}
	h.client.handleDefault(context.Background(), nil, update)

	if !strings.Contains(h.sent[0].Text, "already processed") {
		t.Fatalf("expected duplicate acknowledgement, got %q", h.sent[0].Text)
	}
}

func TestDefaultHandlerLogsUnmatchedUpdate(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	hookLogger.SetLevel(logrus.DebugLevel)
	client := &Client{logger: logrus.NewEntry(hookLogger), cfg: config.Config{}}

	update := &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 99},
			Chat: models.Chat{ID: 199},
			Text: "ping",
		},
	}
	client.handleDefault(context.Background(), nil, update)

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry from handler")
	}
	if entry.Data["event"] != "telegram_update" {
		t.Fatalf("expected event=telegram_update, got %v", entry.Data["event"])
	}
	if entry.Data["user_id"] != int64(99) || entry.Data["chat_id"] != int64(199) {
		t.Fatalf("expected user_id=99 and chat_id=199, got user_id=%v chat_id=%v", entry.Data["user_id"], entry.Data["chat_id"])
	}
	if entry.Data["update_type"] != "message" {
		t.Fatalf("expected update_type=message, got %v", entry.Data["update_type"])
	}
}

func TestTransactionFromPayload(t *testing.T) {
	payload := invoicePayload(domain.Plan6Months, 42, "telegram_stars_42_ref")
	ref, err := transactionFromPayload(payload)
	if err != nil {
		t.Fatalf("transactionFromPayload returned error: %v", err)
	}
	if ref != "telegram_stars_42_ref" {
		t.Fatalf("expected transaction reference, got %q", ref)
	}

	for _, bad := range []string{"", "garbage", "sub:1_month:42:", "other:1_month:42:ref"} {
		if _, err := transactionFromPayload(bad); err == nil {
			t.Fatalf("expected error for payload %q", bad)
		}
	}
}
