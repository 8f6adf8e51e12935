package domain

import (
	"math"
	"testing"
)

func TestPriceTablesCoverPurchasablePlans(t *testing.T) {
	wantStars := map[Plan]int{
		Plan1Month:   99,
		Plan3Months:  250,
		Plan6Months:  500,
		Plan12Months: 1000,
	}
	wantUSD := map[Plan]float64{
		Plan1Month:   0.99,
		Plan3Months:  2.50,
		Plan6Months:  5.00,
		Plan12Months: 10.00,
	}

	for _, plan := range PurchasablePlans {
		stars, ok := StarsPrice(plan)
		if !ok || stars != wantStars[plan] {
			t.Fatalf("StarsPrice(%s) = %d,%v, want %d", plan, stars, ok, wantStars[plan])
		}

		usd, ok := USDPrice(plan)
		if !ok || usd != wantUSD[plan] {
			t.Fatalf("USDPrice(%s) = %v,%v, want %v", plan, usd, ok, wantUSD[plan])
		}
	}

	if _, ok := StarsPrice(PlanInfinite); ok {
		t.Fatalf("infinite plan must not be purchasable with stars")
	}
	if _, ok := USDPrice(PlanInfinite); ok {
		t.Fatalf("infinite plan must not be purchasable with crypto")
	}
}

func TestUSDValueConvertsStarsForDisplay(t *testing.T) {
	stars := Payment{Amount: 250, Currency: CurrencyStars}
	if math.Abs(stars.USDValue()-2.50) > 1e-9 {
		t.Fatalf("expected 250 stars to display as $2.50, got %v", stars.USDValue())
	}

	usd := Payment{Amount: 5.00, Currency: CurrencyUSD}
	if usd.USDValue() != 5.00 {
		t.Fatalf("expected USD payment to display as-is, got %v", usd.USDValue())
	}
}

func TestIsTerminal(t *testing.T) {
	if (Payment{Status: PaymentPending}).IsTerminal() {
		t.Fatalf("pending payment must not be terminal")
	}

	for _, status := range []string{PaymentCompleted, PaymentFailed, PaymentRefunded} {
		if !(Payment{Status: status}).IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
}
