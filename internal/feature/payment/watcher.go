package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"game_results_bot/internal/domain"
	"game_results_bot/internal/logging"
)

// StatusChecker polls an external source for the settlement state of one
// pending payment. It reports paid=true once the funds are visible.
type StatusChecker interface {
	Check(ctx context.Context, payment domain.Payment) (paid bool, providerChargeID string, err error)
}

// paymentConfirmer settles a payment once the checker sees the funds.
type paymentConfirmer interface {
	Confirm(ctx context.Context, transactionID, providerChargeID string) (domain.Payment, domain.Subscription, error)
}

// watchNotifier delivers the two possible outcomes of a watch to the user.
type watchNotifier interface {
	PaymentReceived(ctx context.Context, userID int64, sub domain.Subscription) error
	PaymentTimedOut(ctx context.Context, userID int64, transactionID string) error
}

// Watcher polls pending crypto payments on a fixed budget. A payment that is
// not settled within the budget stays pending and the user is told exactly
// once; it can still be reconciled manually later.
type Watcher struct {
	checker   StatusChecker
	confirmer paymentConfirmer
	notifier  watchNotifier
	interval  time.Duration
	attempts  int
	logger    *logrus.Entry

	mu      sync.Mutex
	cancels map[string]*watchHandle
	wg      sync.WaitGroup
}

type watchHandle struct {
	cancel context.CancelFunc
}

// NewWatcher constructs a Watcher polling every interval for at most attempts
// rounds per payment.
func NewWatcher(checker StatusChecker, confirmer paymentConfirmer, notifier watchNotifier, interval time.Duration, attempts int, logger *logrus.Entry) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if attempts <= 0 {
		attempts = 20
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Watcher{
		checker:   checker,
		confirmer: confirmer,
		notifier:  notifier,
		interval:  interval,
		attempts:  attempts,
		logger:    logger,
		cancels:   make(map[string]*watchHandle),
	}
}

// Watch starts polling one pending payment in the background. A second watch
// for the same transaction reference replaces the first.
func (w *Watcher) Watch(ctx context.Context, payment domain.Payment) error {
	if w == nil || w.checker == nil || w.confirmer == nil {
		return errors.New("payment watcher is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if payment.TransactionID == "" {
		return errors.New("transaction id is required")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	handle := &watchHandle{cancel: cancel}

	w.mu.Lock()
	if prev, ok := w.cancels[payment.TransactionID]; ok {
		prev.cancel()
	}
	w.cancels[payment.TransactionID] = handle
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.forget(payment.TransactionID, handle)
		w.poll(watchCtx, payment)
	}()

	return nil
}

// Stop cancels the watch for one transaction reference, if any.
func (w *Watcher) Stop(transactionID string) {
	w.mu.Lock()
	handle, ok := w.cancels[transactionID]
	if ok {
		delete(w.cancels, transactionID)
	}
	w.mu.Unlock()

	if ok {
		handle.cancel()
	}
}

// Shutdown cancels every active watch and waits for the pollers to exit.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	for _, handle := range w.cancels {
		handle.cancel()
	}
	w.cancels = make(map[string]*watchHandle)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Watcher) poll(ctx context.Context, payment domain.Payment) {
	logger := w.logger.WithFields(logging.Fields{
		"user_id":        payment.UserID,
		"transaction_id": payment.TransactionID,
	})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= w.attempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.WithField("event", "payment_watch_cancelled").Debug("watch cancelled")
			return
		case <-ticker.C:
		}

		paid, chargeID, err := w.checker.Check(ctx, payment)
		if err != nil {
			logger.WithFields(logging.Fields{
				"event":   "payment_check_error",
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("payment status check failed")
			continue
		}
		if !paid {
			continue
		}

		_, sub, err := w.confirmer.Confirm(ctx, payment.TransactionID, chargeID)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicatePayment) {
				logger.WithField("event", "payment_watch_settled_elsewhere").Info("payment already settled")
				return
			}
			logger.WithFields(logging.Fields{
				"event": "payment_confirm_error",
				"error": err.Error(),
			}).Error("could not confirm settled payment")
			continue
		}

		logger.WithField("event", "payment_watch_confirmed").Info("crypto payment confirmed")
		if w.notifier != nil {
			if err := w.notifier.PaymentReceived(ctx, payment.UserID, sub); err != nil {
				logger.WithField("error", err.Error()).Warn("could not deliver payment notification")
			}
		}
		return
	}

	// Budget exhausted. The payment stays pending and the user hears about
	// the timeout exactly once.
	logger.WithFields(logging.Fields{
		"event":    "payment_watch_timeout",
		"attempts": w.attempts,
	}).Warn("crypto payment not seen within polling budget")

	if w.notifier != nil {
		if err := w.notifier.PaymentTimedOut(ctx, payment.UserID, payment.TransactionID); err != nil {
			logger.WithField("error", err.Error()).Warn("could not deliver timeout notification")
		}
	}
}

func (w *Watcher) forget(transactionID string, handle *watchHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Only remove the entry if it still belongs to this watch.
	if current, ok := w.cancels[transactionID]; ok && current == handle {
		delete(w.cancels, transactionID)
	}
	handle.cancel()
}
