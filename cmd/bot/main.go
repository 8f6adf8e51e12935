package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"game_results_bot/internal/config"
	"game_results_bot/internal/domain"
	"game_results_bot/internal/feature/binding"
	"game_results_bot/internal/feature/owner"
	"game_results_bot/internal/feature/payment"
	"game_results_bot/internal/feature/quota"
	"game_results_bot/internal/feature/subscription"
	"game_results_bot/internal/feature/sweep"
	"game_results_bot/internal/feature/user"
	"game_results_bot/internal/gameapi"
	"game_results_bot/internal/health"
	"game_results_bot/internal/logging"
	"game_results_bot/internal/notify"
	"game_results_bot/internal/store"
	"game_results_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	ownerBootstrapTimeout   = 10 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

var processStart = time.Now()

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	ledger := subscription.NewLedger(mongoManager.Subscriptions(), logger)
	reconciler := payment.NewReconciler(mongoManager.Payments(), ledger, logger)

	ownerRegistrar := owner.NewRegistrar(mongoManager.Users(), ledger, reconciler, logger)
	ownerCtx, cancelOwner := context.WithTimeout(context.Background(), ownerBootstrapTimeout)
	if err := ownerRegistrar.EnsureOwner(ownerCtx, cfg.BotOwnerID); err != nil {
		cancelOwner()
		logger.WithError(err).Error("owner bootstrap error")
		fmt.Fprintf(os.Stderr, "owner bootstrap error: %v\n", err)
		os.Exit(1)
	}
	cancelOwner()

	verifiers := gameapi.NewDefaultRegistry(gameapi.Credentials{
		SteamAPIKey:      cfg.SteamAPIKey,
		RiotAPIKey:       cfg.RiotAPIKey,
		WotApplicationID: cfg.WotApplicationID,
		PubgAPIKey:       cfg.PubgAPIKey,
	})

	userRegistrar := user.NewRegistrar(mongoManager.Users(), logger)
	userRepository := domain.NewUserRepository(mongoManager.Users())
	bindingPolicy := binding.NewPolicy(mongoManager.GameAccounts(), verifiers, cfg.RebindCooldown, logger)
	quotaTracker := quota.NewTracker(mongoManager.DailyQuotas(), ledger, cfg.FreeMatchesPerDay, logger)
	statsProvider := store.NewStatsProvider(mongoManager.Users(), mongoManager.Subscriptions(), mongoManager.Payments())

	var cryptoChecker *payment.CryptoPayChecker
	if cfg.CryptoPayAPIKey != "" {
		cryptoChecker = &payment.CryptoPayChecker{
			APIKey:  cfg.CryptoPayAPIKey,
			Address: cfg.CryptoAddress,
		}
	}

	clientOpts := []telegram.Option{
		telegram.WithUserRegistrar(userRegistrar),
		telegram.WithUserFetcher(userRepository),
		telegram.WithAccountBinder(bindingPolicy),
		telegram.WithQuotaTracker(quotaTracker),
		telegram.WithSubscriptionLedger(ledger),
		telegram.WithPaymentService(reconciler),
		telegram.WithStatsProvider(statsProvider),
		telegram.WithGameCatalog(verifiers),
	}
	if cryptoChecker != nil {
		clientOpts = append(clientOpts, telegram.WithPaymentChecker(cryptoChecker))
	}

	tgClient, err := telegram.NewClient(cfg, logger, clientOpts...)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	notifier := notify.NewNotifier(tgClient, userRepository, logger)

	var watcher *payment.Watcher
	if cryptoChecker != nil {
		watcher = payment.NewWatcher(cryptoChecker, reconciler, notifier,
			cfg.CryptoPollInterval, cfg.CryptoPollCount, logger)
		tgClient.AttachPaymentWatcher(watcher)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	sweeper := sweep.NewSweeper(mongoManager.Subscriptions(), mongoManager.DailyQuotas(), notifier, logger)
	go sweeper.Run(sweepCtx, sweep.DefaultInterval)

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, processStart, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()
	cancelSweep()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	if watcher != nil {
		watcher.Shutdown()
		logger.WithField("event", "watcher_stopped").Info("payment watcher stopped")
	}

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
