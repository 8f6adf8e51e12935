package domain

import "time"

// DefaultFreeMatchesPerDay is the free-tier daily lookup allowance.
const DefaultFreeMatchesPerDay = 2

// DayKey returns the UTC calendar-day key a quota record is filed under.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DailyQuota counts stat lookups for one user on one UTC day. Absence of a
// record is equivalent to a zero count.
type DailyQuota struct {
	UserID      int64          `bson:"user_id" json:"user_id"`
	Day         string         `bson:"day" json:"day"`
	MatchesUsed int            `bson:"matches_used" json:"matches_used"`
	Games       map[string]int `bson:"games,omitempty" json:"games,omitempty"`
	LastMatchAt time.Time      `bson:"last_match_at" json:"last_match_at"`
	LastReset   time.Time      `bson:"last_reset,omitempty" json:"last_reset,omitempty"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}
