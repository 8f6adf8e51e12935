package domain

import (
	"math"
	"testing"
	"time"
)

func TestCanRebindHonorsCooldown(t *testing.T) {
	bound := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	account := GameAccount{LastChanged: bound}

	if account.CanRebind(RebindCooldown, bound.Add(47*time.Hour+59*time.Minute)) {
		t.Fatalf("expected rebind to be blocked one minute before cooldown end")
	}

	if !account.CanRebind(RebindCooldown, bound.Add(48*time.Hour)) {
		t.Fatalf("expected rebind to be allowed exactly at cooldown end")
	}

	if !account.CanRebind(RebindCooldown, bound.Add(48*time.Hour+time.Minute)) {
		t.Fatalf("expected rebind to be allowed after cooldown end")
	}
}

func TestCanRebindAllowsAccountsWithoutHistory(t *testing.T) {
	account := GameAccount{}
	if !account.CanRebind(RebindCooldown, time.Now()) {
		t.Fatalf("expected account without last_changed to be rebindable")
	}
	if hours := account.HoursUntilRebind(RebindCooldown, time.Now()); hours != 0 {
		t.Fatalf("expected zero hours remaining, got %v", hours)
	}
}

func TestHoursUntilRebindReportsRemainder(t *testing.T) {
	bound := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	account := GameAccount{LastChanged: bound}

	hours := account.HoursUntilRebind(RebindCooldown, bound.Add(47*time.Hour+59*time.Minute))
	if math.Abs(hours-1.0/60.0) > 1e-9 {
		t.Fatalf("expected ~0.0167 hours remaining, got %v", hours)
	}

	if got := account.HoursUntilRebind(RebindCooldown, bound.Add(72*time.Hour)); got != 0 {
		t.Fatalf("expected zero hours after cooldown, got %v", got)
	}
}

func TestDefaultGameSettings(t *testing.T) {
	settings := DefaultGameSettings()

	if settings.CompareDepth != 3 {
		t.Fatalf("expected compare depth 3, got %d", settings.CompareDepth)
	}
	if !settings.AutoUpdate || !settings.Notifications {
		t.Fatalf("expected auto update and notifications enabled by default")
	}
	if settings.UpdateInterval != 180 {
		t.Fatalf("expected update interval 180, got %d", settings.UpdateInterval)
	}
}
