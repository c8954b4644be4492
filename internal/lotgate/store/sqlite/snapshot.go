package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

// Snapshot reads every dashboard aggregate inside one read transaction so the
// figures agree with each other.
func (l *Ledger) Snapshot(ctx context.Context, now time.Time, loc *time.Location) (types.Snapshot, error) {
	if loc == nil {
		loc = time.Local
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Snapshot{}, classify("Snapshot begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := types.Snapshot{GeneratedAt: now.UTC()}

	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN payment_status = 0 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN payment_status = 1 THEN 1 ELSE 0 END), 0)
FROM plates_log;
`).Scan(&snap.ParkingStatus.TotalRecords, &snap.ParkingStatus.UnpaidRecords, &snap.ParkingStatus.PaidRecords); err != nil {
		return types.Snapshot{}, classify("Snapshot parking status", err)
	}

	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN e.payment_status = 0 THEN 1 ELSE 0 END), 0)
FROM plates_log e
WHERE e.action_type = 'ENTRY'
  AND NOT EXISTS (
    SELECT 1 FROM plates_log x
    WHERE x.plate_number = e.plate_number
      AND x.action_type = 'EXIT'
      AND x.entry_timestamp = e.entry_timestamp);
`).Scan(&snap.Occupancy.Current, &snap.Occupancy.Unpaid); err != nil {
		return types.Snapshot{}, classify("Snapshot occupancy", err)
	}

	latest, err := scanRecords(ctx, tx, `
SELECT plate_number, payment_status, entry_timestamp, exit_timestamp, action_type, reason
FROM plates_log
ORDER BY COALESCE(exit_timestamp, entry_timestamp) DESC, id DESC
LIMIT 1;
`)
	if err != nil {
		return types.Snapshot{}, classify("Snapshot latest activity", err)
	}
	if len(latest) == 1 {
		snap.LatestActivity = &latest[0]
	}

	snap.UnauthorizedExits, err = scanRecords(ctx, tx, `
SELECT plate_number, payment_status, entry_timestamp, exit_timestamp, action_type, reason
FROM plates_log
WHERE action_type = 'UNAUTHORIZED_EXIT'
ORDER BY exit_timestamp DESC, id ASC
LIMIT ?;
`, store.RecentUnauthorized)
	if err != nil {
		return types.Snapshot{}, classify("Snapshot unauthorized exits", err)
	}

	snap.RecentTransactions, err = scanTransactions(ctx, tx, store.RecentTransactions)
	if err != nil {
		return types.Snapshot{}, classify("Snapshot transactions", err)
	}

	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE exit_time >= ?;
`, toMs(store.StartOfDay(now, loc))).Scan(&snap.TodayRevenue); err != nil {
		return types.Snapshot{}, classify("Snapshot revenue", err)
	}

	hourly, err := hourlyEntries(ctx, tx, now, loc)
	if err != nil {
		return types.Snapshot{}, classify("Snapshot hourly", err)
	}
	snap.HourlyEntries = types.HourlyBuckets(hourly)

	return snap, nil
}

func scanRecords(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]types.LogRecord, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.LogRecord, 0)
	for rows.Next() {
		var (
			rec     types.LogRecord
			entryMs int64
			exitMs  sql.NullInt64
			action  string
			reason  sql.NullString
		)
		if err := rows.Scan(&rec.Plate, &rec.PaymentStatus, &entryMs, &exitMs, &action, &reason); err != nil {
			return nil, fmt.Errorf("scan plates_log: %w", err)
		}
		rec.EntryTime = fromMs(entryMs)
		if exitMs.Valid {
			t := fromMs(exitMs.Int64)
			rec.ExitTime = &t
		}
		rec.Action = types.ActionType(action)
		rec.Reason = reason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTransactions(ctx context.Context, tx *sql.Tx, limit int) ([]types.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT id, plate_number, entry_time, exit_time, duration_hr, amount, payment_status
FROM transactions
ORDER BY exit_time DESC, rowid ASC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Transaction, 0, limit)
	for rows.Next() {
		var t types.Transaction
		var entryMs, exitMs int64
		if err := rows.Scan(&t.ID, &t.Plate, &entryMs, &exitMs, &t.DurationHours, &t.Amount, &t.PaymentStatus); err != nil {
			return nil, fmt.Errorf("scan transactions: %w", err)
		}
		t.EntryTime = fromMs(entryMs)
		t.ExitTime = fromMs(exitMs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// hourlyEntries buckets ENTRY rows from the trailing 24 hours by local hour.
// Bucketing happens here rather than in SQL because strftime only knows UTC
// and fixed offsets.
func hourlyEntries(ctx context.Context, tx *sql.Tx, now time.Time, loc *time.Location) (map[int]int, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT entry_timestamp FROM plates_log
WHERE action_type = 'ENTRY' AND entry_timestamp >= ? AND entry_timestamp <= ?;
`, toMs(now.Add(-24*time.Hour)), toMs(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan entry_timestamp: %w", err)
		}
		counts[fromMs(ms).In(loc).Hour()]++
	}
	return counts, rows.Err()
}
