package domain

import "time"

// Payment statuses. A payment moves pending -> {completed, failed} and a
// completed payment may later become refunded.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Currency codes recorded on payments.
const (
	CurrencyUSD   = "USD"
	CurrencyStars = "XTR"
)

// StarsToUSDRate converts Telegram Stars to USD for display and cross-checks
// only; settlement amounts always come from the fixed price tables.
const StarsToUSDRate = 0.01

// planPriceStars is the fixed Telegram Stars price per plan.
var planPriceStars = map[Plan]int{
	Plan1Month:   99,
	Plan3Months:  250,
	Plan6Months:  500,
	Plan12Months: 1000,
}

// planPriceUSD is the fixed USD price per plan, used for crypto payments.
var planPriceUSD = map[Plan]float64{
	Plan1Month:   0.99,
	Plan3Months:  2.50,
	Plan6Months:  5.00,
	Plan12Months: 10.00,
}

// StarsPrice returns the Telegram Stars price for a purchasable plan.
func StarsPrice(plan Plan) (int, bool) {
	price, ok := planPriceStars[plan]
	return price, ok
}

// USDPrice returns the USD price for a purchasable plan.
func USDPrice(plan Plan) (float64, bool) {
	price, ok := planPriceUSD[plan]
	return price, ok
}

// Payment is the audit record of one payment attempt.
type Payment struct {
	UserID           int64      `bson:"user_id" json:"user_id"`
	Amount           float64    `bson:"amount" json:"amount"`
	Currency         string     `bson:"currency" json:"currency"`
	Plan             Plan       `bson:"plan_type" json:"plan_type"`
	Status           string     `bson:"status" json:"status"`
	TransactionID    string     `bson:"transaction_id" json:"transaction_id"`
	PaymentMethod    string     `bson:"payment_method" json:"payment_method"`
	ProviderChargeID string     `bson:"provider_charge_id,omitempty" json:"provider_charge_id,omitempty"`
	FailureReason    string     `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	ConfirmedAt      *time.Time `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
	RefundedAt       *time.Time `bson:"refunded_at,omitempty" json:"refunded_at,omitempty"`
}

// IsTerminal reports whether the status admits no further transition except
// the completed->refunded one.
func (p Payment) IsTerminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentFailed || p.Status == PaymentRefunded
}

// USDValue returns the display value of the payment in USD.
func (p Payment) USDValue() float64 {
	switch p.Currency {
	case CurrencyUSD:
		return p.Amount
	case CurrencyStars:
		return p.Amount * StarsToUSDRate
	default:
		return 0
	}
}
