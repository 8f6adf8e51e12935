package domain

import "time"

// RebindCooldown is the mandatory waiting period before a linked game account
// may be replaced.
const RebindCooldown = 48 * time.Hour

// Verification is the outcome of an external account lookup.
type Verification struct {
	Valid    bool
	Nickname string
}

// GameSettings holds per-link preferences created alongside every binding.
type GameSettings struct {
	CompareDepth   int  `bson:"compare_depth" json:"compare_depth"`
	AutoUpdate     bool `bson:"auto_update" json:"auto_update"`
	Notifications  bool `bson:"notifications" json:"notifications"`
	UpdateInterval int  `bson:"update_interval" json:"update_interval"`
}

// DefaultGameSettings returns the settings attached to a freshly bound account.
func DefaultGameSettings() GameSettings {
	return GameSettings{
		CompareDepth:   3,
		AutoUpdate:     true,
		Notifications:  true,
		UpdateInterval: 180,
	}
}

// GameAccount links a user to one external game identity. At most one link
// exists per (user, game) pair; rebinding replaces the whole document.
type GameAccount struct {
	UserID      int64        `bson:"user_id" json:"user_id"`
	Game        Game         `bson:"game" json:"game"`
	AccountID   string       `bson:"account_id" json:"account_id"`
	Nickname    string       `bson:"nickname" json:"nickname"`
	Region      string       `bson:"region,omitempty" json:"region,omitempty"`
	IsVerified  bool         `bson:"is_verified" json:"is_verified"`
	LastChanged time.Time    `bson:"last_changed" json:"last_changed"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	Settings    GameSettings `bson:"settings" json:"settings"`
}

// CanRebind reports whether the cooldown since the last change has elapsed.
func (a GameAccount) CanRebind(cooldown time.Duration, now time.Time) bool {
	if a.LastChanged.IsZero() {
		return true
	}

	return now.Sub(a.LastChanged) >= cooldown
}

// HoursUntilRebind returns the remaining cooldown in fractional hours, zero
// once rebinding is allowed.
func (a GameAccount) HoursUntilRebind(cooldown time.Duration, now time.Time) float64 {
	if a.CanRebind(cooldown, now) {
		return 0
	}

	remaining := cooldown - now.Sub(a.LastChanged)
	return remaining.Hours()
}
