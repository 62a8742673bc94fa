package memory

import (
	"github.com/lazypower/engram/internal/store"
)

const dayMillis = 24 * 60 * 60 * 1000

// TTL tiers by importance. Importance >= 10 means permanent (no expiry).
// The tiered base is then scaled by importance so that, within a tier,
// higher importance lives longer: ttl = base * (1 + (importance/10) * 0.7).
const (
	ttlScaleFactor  = 0.7
	maxExpiryBonus  = 7.0  // extra days at creation, importance-proportional
	maxAccessBonus  = 30.0 // extra days on refresh, importance-proportional
	highRefreshGap  = 7 * dayMillis
	midRefreshGap   = 30 * dayMillis
	highRefreshTier = 6.0
	midRefreshTier  = 4.0
)

// BaseTTLDays returns the unscaled tier TTL. permanent is true when the
// record never expires.
func BaseTTLDays(importance float64) (days float64, permanent bool) {
	switch {
	case importance >= 10:
		return 0, true
	case importance >= 8:
		return 365, false
	case importance >= 6:
		return 180, false
	case importance >= 4:
		return 90, false
	case importance >= 2:
		return 30, false
	default:
		return 7, false
	}
}

// TTLDays returns the importance-scaled TTL in days.
func TTLDays(importance float64) (days float64, permanent bool) {
	base, permanent := BaseTTLDays(importance)
	if permanent {
		return 0, true
	}
	return base * (1 + (importance/10)*ttlScaleFactor), false
}

// ComputeExpiry returns the expiry timestamp for a record created at
// createdAt: created + scaled TTL + an importance-proportional bonus of up
// to 7 days. nil means permanent.
func ComputeExpiry(createdAt int64, importance float64) *int64 {
	days, permanent := TTLDays(importance)
	if permanent {
		return nil
	}
	bonus := (importance / 10) * maxExpiryBonus
	exp := createdAt + int64((days+bonus)*dayMillis)
	return &exp
}

// RefreshExpiry implements lazy decay refresh, computed at access time.
// High-importance records (>= 6) accessed after more than 7 idle days get
// their expiry extended by the original TTL plus an access bonus of up to
// 30 importance-proportional days. Mid-importance records (4-6) get half
// that extension after 30 idle days. Everything else expires naturally.
// Returns the new expiry and whether anything changed.
func RefreshExpiry(rec *store.Record, now int64) (*int64, bool) {
	if rec.ExpiresAt == nil {
		return nil, false
	}

	days, permanent := TTLDays(rec.Importance)
	if permanent {
		return nil, false
	}

	idle := now - rec.LastAccessed
	accessBonus := (rec.Importance / 10) * maxAccessBonus
	extension := int64((days + accessBonus) * dayMillis)

	switch {
	case rec.Importance >= highRefreshTier && idle > highRefreshGap:
		// full extension
	case rec.Importance >= midRefreshTier && idle > midRefreshGap:
		extension /= 2
	default:
		return rec.ExpiresAt, false
	}

	exp := *rec.ExpiresAt + extension
	return &exp, true
}
