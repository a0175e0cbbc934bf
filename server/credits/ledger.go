// Package credits enforces per-user daily and monthly computation
// quotas. Credits are consumed atomically at job acceptance and never
// refunded, even if the job later dead-letters.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tier is the subscription level quota limits derive from. Unknown
// values fall back to free.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// Limits are computations per period.
type Limits struct {
	Daily   int
	Monthly int
}

func (t Tier) Limits() Limits {
	switch t {
	case TierPlus:
		return Limits{Daily: 250, Monthly: 2_500}
	case TierPro:
		return Limits{Daily: 2_500, Monthly: 50_000}
	default:
		return Limits{Daily: 25, Monthly: 200}
	}
}

// ErrQuotaExceeded is returned (wrapped in a QuotaError) when either
// period counter is at its limit. It is a non-retryable rejection.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Snapshot is the ledger state for one user, after lazy rollover.
type Snapshot struct {
	UserID     string `json:"user_id"`
	DayKey     string `json:"day_key"`
	MonthKey   string `json:"month_key"`
	DayUsed    int    `json:"day_used"`
	MonthUsed  int    `json:"month_used"`
	DayLimit   int    `json:"day_limit"`
	MonthLimit int    `json:"month_limit"`
}

// QuotaError carries the counters that caused the rejection so the
// API layer can report {used, limit, periods}.
type QuotaError struct {
	Snapshot Snapshot
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: day %d/%d, month %d/%d",
		e.Snapshot.UserID, e.Snapshot.DayUsed, e.Snapshot.DayLimit,
		e.Snapshot.MonthUsed, e.Snapshot.MonthLimit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Ledger is the quota store. CheckAndReserve must be atomic with
// respect to concurrent submissions by the same user: when one unit
// remains, exactly one of two racing calls succeeds.
type Ledger interface {
	// CheckAndReserve verifies both counters are under the tier
	// limits, increments both, and returns the post-reserve snapshot.
	// On either limit it returns a *QuotaError without mutating.
	CheckAndReserve(ctx context.Context, userID string, tier Tier) (Snapshot, error)

	// Snapshot returns the current counters without reserving.
	Snapshot(ctx context.Context, userID string, tier Tier) (Snapshot, error)
}

// PeriodKeys derives the day and month bucket keys. Periods roll over
// at fixed UTC boundaries; rollover is applied lazily by comparing
// stored keys on the next access.
func PeriodKeys(now time.Time) (day, month string) {
	u := now.UTC()
	return u.Format("2006-01-02"), u.Format("2006-01")
}
