package domain

import (
	"fmt"
	"time"
)

// Plan identifies one of the fixed subscription durations.
type Plan string

const (
	Plan1Month   Plan = "1_month"
	Plan3Months  Plan = "3_months"
	Plan6Months  Plan = "6_months"
	Plan12Months Plan = "12_months"
	// PlanInfinite is an ordinary subscription with an end date ~100 years out,
	// so the expiry sweep stays uniform.
	PlanInfinite Plan = "infinite"
)

// Payment method tags stored on subscriptions and payments.
const (
	MethodCrypto     = "crypto"
	MethodStars      = "telegram_stars"
	MethodAdminGrant = "admin_grant"
)

// planDurationDays maps plan types to their duration in days.
var planDurationDays = map[Plan]int{
	Plan1Month:   30,
	Plan3Months:  90,
	Plan6Months:  180,
	Plan12Months: 365,
	PlanInfinite: 36500,
}

// ParsePlan validates a plan code against the fixed plan table.
func ParsePlan(value string) (Plan, error) {
	plan := Plan(value)
	if _, ok := planDurationDays[plan]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, value)
	}

	return plan, nil
}

// PlanDuration returns the entitlement duration for the plan.
func PlanDuration(plan Plan) (time.Duration, error) {
	days, ok := planDurationDays[plan]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}

	return time.Duration(days) * 24 * time.Hour, nil
}

// PurchasablePlans lists the plans offered in the subscription menu, in price
// order. The infinite plan is reserved for admin grants.
var PurchasablePlans = []Plan{Plan1Month, Plan3Months, Plan6Months, Plan12Months}

// Subscription is the single entitlement record per user.
type Subscription struct {
	UserID        int64     `bson:"user_id" json:"user_id"`
	IsActive      bool      `bson:"is_active" json:"is_active"`
	Plan          Plan      `bson:"plan_type" json:"plan_type"`
	StartDate     time.Time `bson:"start_date" json:"start_date"`
	EndDate       time.Time `bson:"end_date" json:"end_date"`
	PaymentMethod string    `bson:"payment_method" json:"payment_method"`
	TransactionID string    `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// ActiveAt is the authoritative entitlement check. The stored flag alone is
// not sufficient because the expiry sweep only runs hourly.
func (s Subscription) ActiveAt(now time.Time) bool {
	return s.IsActive && s.EndDate.After(now)
}

// DaysLeft returns the whole days remaining until expiry, rounding partial
// days up, and never below zero.
func (s Subscription) DaysLeft(now time.Time) int {
	if !s.EndDate.After(now) {
		return 0
	}

	remaining := s.EndDate.Sub(now)
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}

	return days
}
