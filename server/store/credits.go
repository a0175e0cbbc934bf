package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lcrostarosa/ploscope/server/credits"
)

// PGLedger implements credits.Ledger with a single conditional upsert,
// so check-and-increment is atomic per user row: two concurrent
// submissions with one unit left serialize on the row and exactly one
// succeeds. Period rollover is lazy: a stale day or month key resets
// that counter inside the same statement.
type PGLedger struct{ db *DB }

func NewPGLedger(db *DB) *PGLedger { return &PGLedger{db: db} }

func (l *PGLedger) CheckAndReserve(ctx context.Context, userID string, tier credits.Tier) (credits.Snapshot, error) {
	day, month := credits.PeriodKeys(time.Now())
	lim := tier.Limits()

	var dayUsed, monthUsed int
	err := l.db.QueryRow(ctx, `
        INSERT INTO credit_ledger(user_id, day_key, month_key, day_used, month_used)
        VALUES ($1, $2, $3, 1, 1)
        ON CONFLICT (user_id) DO UPDATE SET
            day_used   = CASE WHEN credit_ledger.day_key   = $2 THEN credit_ledger.day_used + 1   ELSE 1 END,
            month_used = CASE WHEN credit_ledger.month_key = $3 THEN credit_ledger.month_used + 1 ELSE 1 END,
            day_key    = $2,
            month_key  = $3
        WHERE (CASE WHEN credit_ledger.day_key   = $2 THEN credit_ledger.day_used   ELSE 0 END) < $4
          AND (CASE WHEN credit_ledger.month_key = $3 THEN credit_ledger.month_used ELSE 0 END) < $5
        RETURNING day_used, month_used
    `, userID, day, month, lim.Daily, lim.Monthly).Scan(&dayUsed, &monthUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conditional update declined: over quota. Report the
			// counters that blocked it.
			snap, serr := l.Snapshot(ctx, userID, tier)
			if serr != nil {
				return credits.Snapshot{}, serr
			}
			return credits.Snapshot{}, &credits.QuotaError{Snapshot: snap}
		}
		return credits.Snapshot{}, err
	}
	return credits.Snapshot{
		UserID:     userID,
		DayKey:     day,
		MonthKey:   month,
		DayUsed:    dayUsed,
		MonthUsed:  monthUsed,
		DayLimit:   lim.Daily,
		MonthLimit: lim.Monthly,
	}, nil
}

func (l *PGLedger) Snapshot(ctx context.Context, userID string, tier credits.Tier) (credits.Snapshot, error) {
	day, month := credits.PeriodKeys(time.Now())
	lim := tier.Limits()
	snap := credits.Snapshot{
		UserID:     userID,
		DayKey:     day,
		MonthKey:   month,
		DayLimit:   lim.Daily,
		MonthLimit: lim.Monthly,
	}

	var storedDay, storedMonth string
	var dayUsed, monthUsed int
	err := l.db.QueryRow(ctx, `
        SELECT day_key, month_key, day_used, month_used
          FROM credit_ledger WHERE user_id = $1
    `, userID).Scan(&storedDay, &storedMonth, &dayUsed, &monthUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, nil
		}
		return credits.Snapshot{}, err
	}
	// Lazy rollover on read: stale keys count as zero.
	if storedDay == day {
		snap.DayUsed = dayUsed
	}
	if storedMonth == month {
		snap.MonthUsed = monthUsed
	}
	return snap, nil
}
