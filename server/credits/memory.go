package credits

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process Ledger used in dev mode and tests. A single
// mutex serializes check-and-reserve; contention is per-process, which
// is fine for the one-node dev setup this backs.
type Memory struct {
	mu   sync.Mutex
	rows map[string]*memRow
	now  func() time.Time
}

type memRow struct {
	dayKey    string
	monthKey  string
	dayUsed   int
	monthUsed int
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]*memRow), now: time.Now}
}

// WithClock overrides time for rollover tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) CheckAndReserve(ctx context.Context, userID string, tier Tier) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.roll(userID)
	lim := tier.Limits()
	if row.dayUsed >= lim.Daily || row.monthUsed >= lim.Monthly {
		return Snapshot{}, &QuotaError{Snapshot: m.snapshot(userID, row, lim)}
	}
	row.dayUsed++
	row.monthUsed++
	return m.snapshot(userID, row, lim), nil
}

func (m *Memory) Snapshot(ctx context.Context, userID string, tier Tier) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(userID, m.roll(userID), tier.Limits()), nil
}

// roll fetches the row, resetting any counter whose period key is
// stale (lazy rollover on first access in the new period).
func (m *Memory) roll(userID string) *memRow {
	day, month := PeriodKeys(m.now())
	row, ok := m.rows[userID]
	if !ok {
		row = &memRow{dayKey: day, monthKey: month}
		m.rows[userID] = row
		return row
	}
	if row.dayKey != day {
		row.dayKey = day
		row.dayUsed = 0
	}
	if row.monthKey != month {
		row.monthKey = month
		row.monthUsed = 0
	}
	return row
}

func (m *Memory) snapshot(userID string, row *memRow, lim Limits) Snapshot {
	return Snapshot{
		UserID:     userID,
		DayKey:     row.dayKey,
		MonthKey:   row.monthKey,
		DayUsed:    row.dayUsed,
		MonthUsed:  row.monthUsed,
		DayLimit:   lim.Daily,
		MonthLimit: lim.Monthly,
	}
}
