package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"game_results_bot/internal/domain"
)

func newWatcher(t *testing.T, checker StatusChecker, confirmer paymentConfirmer, notifier watchNotifier, attempts int) *Watcher {
	t.Helper()

	hookLogger, _ := logtest.NewNullLogger()
	return NewWatcher(checker, confirmer, notifier, time.Millisecond, attempts, logrus.NewEntry(hookLogger))
}

func TestWatchConfirmsOncePaymentIsSeen(t *testing.T) {
	checker := &scriptedChecker{paidAfter: 3}
	coll := newFakePaymentCollection()
	ledger := &fakeRenewer{}
	hookLogger, _ := logtest.NewNullLogger()
	recon := NewReconciler(coll, ledger, logrus.NewEntry(hookLogger))
	notifier := &recordingNotifier{}

	pending, err := recon.CreatePending(context.Background(), 42, domain.Plan1Month, domain.MethodCrypto)
	if err != nil {
		t.Fatalf("CreatePending returned error: %v", err)
	}

	watcher := newWatcher(t, checker, recon, notifier, 20)
	if err := watcher.Watch(context.Background(), pending); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	// Let the poller run to completion before shutting down; Shutdown alone
	// would cancel the watch before the first tick.
	watcher.wg.Wait()
	watcher.Shutdown()

	stored := coll.docFor(t, pending.TransactionID)
	if stored.Status != domain.PaymentCompleted {
		t.Fatalf("expected completed payment, got %s", stored.Status)
	}
	if got := notifier.receivedCount(); got != 1 {
		t.Fatalf("expected one received notification, got %d", got)
	}
	if got := notifier.timeoutCount(); got != 0 {
		t.Fatalf("expected no timeout notification, got %d", got)
	}
}

func TestWatchTimesOutWithSingleNotification(t *testing.T) {
	checker := &scriptedChecker{paidAfter: -1}
	coll := newFakePaymentCollection()
	hookLogger, _ := logtest.NewNullLogger()
	recon := NewReconciler(coll, &fakeRenewer{}, logrus.NewEntry(hookLogger))
	notifier := &recordingNotifier{}

	pending, err := recon.CreatePending(context.Background(), 42, domain.Plan1Month, domain.MethodCrypto)
	if err != nil {
		t.Fatalf("CreatePending returned error: %v", err)
	}

	watcher := newWatcher(t, checker, recon, notifier, 5)
	if err := watcher.Watch(context.Background(), pending); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	// Wait for the polling budget to be spent before shutting down.
	watcher.wg.Wait()
	watcher.Shutdown()

	if got := checker.attemptsMade(); got != 5 {
		t.Fatalf("expected exactly 5 polls, got %d", got)
	}
	if got := notifier.timeoutCount(); got != 1 {
		t.Fatalf("expected exactly one timeout notification, got %d", got)
	}

	// The payment is still pending and reconcilable later.
	stored := coll.docFor(t, pending.TransactionID)
	if stored.Status != domain.PaymentPending {
		t.Fatalf("expected payment to stay pending after timeout, got %s", stored.Status)
	}
}

func TestStopCancelsWatchWithoutNotification(t *testing.T) {
	checker := &scriptedChecker{paidAfter: -1}
	coll := newFakePaymentCollection()
	hookLogger, _ := logtest.NewNullLogger()
	recon := NewReconciler(coll, &fakeRenewer{}, logrus.NewEntry(hookLogger))
	notifier := &recordingNotifier{}

	pending, err := recon.CreatePending(context.Background(), 42, domain.Plan1Month, domain.MethodCrypto)
	if err != nil {
		t.Fatalf("CreatePending returned error: %v", err)
	}

	watcher := NewWatcher(checker, recon, notifier, time.Hour, 20, logrus.NewEntry(hookLogger))
	if err := watcher.Watch(context.Background(), pending); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}

	watcher.Stop(pending.TransactionID)
	watcher.Shutdown()

	if got := notifier.timeoutCount(); got != 0 {
		t.Fatalf("expected no timeout notification after cancel, got %d", got)
	}
}

func TestWatchValidatesInputs(t *testing.T) {
	watcher := newWatcher(t, &scriptedChecker{}, &fakeConfirmer{}, &recordingNotifier{}, 1)

	if err := watcher.Watch(context.Background(), domain.Payment{}); err == nil {
		t.Fatalf("expected error for missing transaction id")
	}
	if err := watcher.Watch(nil, domain.Payment{TransactionID: "x"}); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

// scriptedChecker reports paid once attempt paidAfter is reached; paidAfter<0
// means never.
type scriptedChecker struct {
	mu        sync.Mutex
	attempts  int
	paidAfter int
}

func (s *scriptedChecker) Check(_ context.Context, _ domain.Payment) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.paidAfter >= 0 && s.attempts >= s.paidAfter {
		return true, "txhash_123", nil
	}
	return false, "", nil
}

func (s *scriptedChecker) attemptsMade() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type recordingNotifier struct {
	mu       sync.Mutex
	received int
	timeouts int
}

func (r *recordingNotifier) PaymentReceived(context.Context, int64, domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
	return nil
}

func (r *recordingNotifier) PaymentTimedOut(context.Context, int64, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
	return nil
}

func (r *recordingNotifier) receivedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

func (r *recordingNotifier) timeoutCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeouts
}

type fakeConfirmer struct{}

func (fakeConfirmer) Confirm(context.Context, string, string) (domain.Payment, domain.Subscription, error) {
	return domain.Payment{}, domain.Subscription{}, nil
}
