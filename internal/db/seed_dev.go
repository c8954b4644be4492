package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.jetify.com/typeid/v2"
)

type SeedDevOptions struct {
	// Now anchors the sample sessions; zero means time.Now.
	Now time.Time
}

// SeedDev fills an empty ledger with a few sessions so a dev dashboard has
// something to draw: one unpaid car, one paid car still inside, one that
// left, and one denied exit.  A ledger that already has rows is untouched.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := opt.Now
	if now.IsZero() {
		now = time.Now()
	}
	ms := func(d time.Duration) int64 { return now.Add(-d).UTC().UnixMilli() }

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM plates_log`).Scan(&n); err != nil {
		return fmt.Errorf("seed count: %w", err)
	}
	if n > 0 {
		return nil
	}

	rows := []struct {
		plate  string
		paid   int
		entry  int64
		exit   any
		action string
		reason any
	}{
		{"DEV100A", 0, ms(40 * time.Minute), nil, "ENTRY", nil},
		{"DEV200B", 1, ms(3 * time.Hour), ms(5 * time.Minute), "ENTRY", nil},
		{"DEV300C", 1, ms(2 * time.Hour), ms(time.Hour), "ENTRY", nil},
		{"DEV300C", 1, ms(2 * time.Hour), ms(55 * time.Minute), "EXIT", nil},
		{"DEV400D", 0, ms(10 * time.Minute), ms(10 * time.Minute), "UNAUTHORIZED_EXIT", "no payment found"},
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO plates_log(plate_number, payment_status, entry_timestamp, exit_timestamp, action_type, reason)
VALUES (?, ?, ?, ?, ?, ?);`, r.plate, r.paid, r.entry, r.exit, r.action, r.reason); err != nil {
			return fmt.Errorf("seed plates_log %s: %w", r.plate, err)
		}
	}

	txns := []struct {
		plate       string
		entry, exit int64
		hours       float64
		amount      int64
	}{
		{"DEV200B", ms(3 * time.Hour), ms(5 * time.Minute), 2.92, 1460},
		{"DEV300C", ms(2 * time.Hour), ms(time.Hour), 1.00, 500},
	}
	for _, t := range txns {
		id, err := typeid.Generate("txn")
		if err != nil {
			return fmt.Errorf("seed transaction id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO transactions(id, plate_number, entry_time, exit_time, duration_hr, amount, payment_status)
VALUES (?, ?, ?, ?, ?, ?, 1);`, id.String(), t.plate, t.entry, t.exit, t.hours, t.amount); err != nil {
			return fmt.Errorf("seed transaction %s: %w", t.plate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed commit: %w", err)
	}
	return nil
}
