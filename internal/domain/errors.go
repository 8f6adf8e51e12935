// Package domain defines shared entities, constants, and the entitlement
// error taxonomy.
package domain

import "errors"

var (
	// ErrInvalidAccount indicates the external verifier rejected the account.
	ErrInvalidAccount = errors.New("game account not found or invalid")
	// ErrCooldownActive indicates a rebind was attempted before the cooldown
	// window elapsed.
	ErrCooldownActive = errors.New("account change cooldown is active")
	// ErrQuotaExceeded indicates the free daily lookup limit was reached.
	ErrQuotaExceeded = errors.New("daily free limit reached")
	// ErrDuplicatePayment indicates a confirm for an already-completed
	// transaction reference. Callers treat it as a no-op success.
	ErrDuplicatePayment = errors.New("payment already confirmed")
	// ErrPaymentNotFound indicates no payment exists for a transaction reference.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrUnknownPlan indicates a plan type outside the fixed plan table.
	ErrUnknownPlan = errors.New("unknown subscription plan")
)
