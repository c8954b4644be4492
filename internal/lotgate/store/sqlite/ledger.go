package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/lotgate/internal/db"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

// Ledger is the shared store.Ledger backed by the plates_log and
// transactions tables.  Reads go straight to db; writes go through the
// process's single writer.
type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedger(db *sql.DB, writer *dbpkg.Worker) *Ledger {
	return &Ledger{db: db, writer: writer}
}

var _ store.Ledger = (*Ledger)(nil)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type openRow struct {
	id       int64
	paid     bool
	entryMs  int64
	exitMs   sql.NullInt64
	lastTxMs sql.NullInt64
	resolved bool
}

// Latest ENTRY row for the plate, whether an EXIT row resolves it, and the
// newest transaction billed against it.
const openSessionQuery = `
SELECT e.id, e.payment_status, e.entry_timestamp, e.exit_timestamp,
       (SELECT MAX(t.exit_time) FROM transactions t
         WHERE t.plate_number = e.plate_number AND t.exit_time >= e.entry_timestamp),
       EXISTS(SELECT 1 FROM plates_log x
               WHERE x.plate_number = e.plate_number
                 AND x.action_type = 'EXIT'
                 AND x.entry_timestamp = e.entry_timestamp)
FROM plates_log e
WHERE e.plate_number = ? AND e.action_type = 'ENTRY'
ORDER BY e.entry_timestamp DESC, e.id DESC
LIMIT 1;`

func queryOpen(ctx context.Context, q querier, plate string) (openRow, error) {
	var r openRow
	var paid, resolved int
	err := q.QueryRowContext(ctx, openSessionQuery, plate).
		Scan(&r.id, &paid, &r.entryMs, &r.exitMs, &r.lastTxMs, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return openRow{}, store.ErrNoSession
	}
	if err != nil {
		return openRow{}, err
	}
	if resolved != 0 {
		return openRow{}, store.ErrNoSession
	}
	r.paid = paid == 1
	return r, nil
}

func (r openRow) session(plate string) types.Session {
	s := types.Session{Plate: plate, Status: types.PaymentUnpaid, EntryTime: fromMs(r.entryMs)}
	if !r.paid {
		return s
	}
	s.Status = types.PaymentPaid
	settled := int64(0)
	if r.exitMs.Valid {
		settled = r.exitMs.Int64
	}
	if r.lastTxMs.Valid && r.lastTxMs.Int64 > settled {
		settled = r.lastTxMs.Int64
	}
	if settled > 0 {
		s.SettledAt = fromMs(settled)
	}
	return s
}

func (l *Ledger) OpenSession(ctx context.Context, plate string) (types.Session, error) {
	r, err := queryOpen(ctx, l.db, plate)
	if err != nil {
		return types.Session{}, classify("OpenSession", err)
	}
	return r.session(plate), nil
}

func (l *Ledger) HasOpenSession(ctx context.Context, plate string) (bool, error) {
	_, err := l.OpenSession(ctx, plate)
	if errors.Is(err, store.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) LatestPaymentStatus(ctx context.Context, plate string) (types.PaymentStatus, error) {
	s, err := l.OpenSession(ctx, plate)
	if errors.Is(err, store.ErrNoSession) {
		return types.PaymentNone, nil
	}
	if err != nil {
		return types.PaymentNone, err
	}
	return s.Status, nil
}

func (l *Ledger) AppendEntry(ctx context.Context, plate string, at time.Time) error {
	atMs := toMs(at)
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Conditional insert: the open-session check and the write are one
		// statement, and uq_plates_log_open_entry backs it up against other
		// processes.
		res, err := tx.ExecContext(ctx, `
INSERT INTO plates_log(plate_number, payment_status, entry_timestamp, exit_timestamp, action_type)
SELECT ?, 0, ?, NULL, 'ENTRY'
WHERE NOT EXISTS (
  SELECT 1 FROM plates_log e
  WHERE e.plate_number = ? AND e.action_type = 'ENTRY'
    AND NOT EXISTS (
      SELECT 1 FROM plates_log x
      WHERE x.plate_number = e.plate_number
        AND x.action_type = 'EXIT'
        AND x.entry_timestamp = e.entry_timestamp));
`, plate, atMs, plate)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrAlreadyParked
			}
			return fmt.Errorf("AppendEntry insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrAlreadyParked
		}
		return nil
	})
	return classify("AppendEntry", err)
}

func (l *Ledger) AppendExit(ctx context.Context, plate string, at time.Time) error {
	atMs := toMs(at)
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		open, err := queryOpen(ctx, tx, plate)
		if err != nil {
			return err
		}
		paid := 0
		if open.paid {
			paid = 1
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO plates_log(plate_number, payment_status, entry_timestamp, exit_timestamp, action_type)
VALUES (?, ?, ?, ?, 'EXIT');
`, plate, paid, open.entryMs, atMs); err != nil {
			return fmt.Errorf("AppendExit insert: %w", err)
		}
		// An unpaid session closed through the ledger directly still has to
		// release uq_plates_log_open_entry.
		if !open.exitMs.Valid {
			if _, err := tx.ExecContext(ctx, `
UPDATE plates_log SET exit_timestamp = ? WHERE id = ? AND exit_timestamp IS NULL;
`, atMs, open.id); err != nil {
				return fmt.Errorf("AppendExit close entry: %w", err)
			}
		}
		return nil
	})
	return classify("AppendExit", err)
}

func (l *Ledger) AppendUnauthorized(ctx context.Context, plate string, at time.Time, reason string) error {
	atMs := toMs(at)
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO plates_log(plate_number, payment_status, entry_timestamp, exit_timestamp, action_type, reason)
VALUES (?, 0, ?, ?, 'UNAUTHORIZED_EXIT', ?);
`, plate, atMs, atMs, reason); err != nil {
			return fmt.Errorf("AppendUnauthorized insert: %w", err)
		}
		return nil
	})
	return classify("AppendUnauthorized", err)
}

func markPaid(ctx context.Context, tx *sql.Tx, plate string, exitMs int64) error {
	open, err := queryOpen(ctx, tx, plate)
	if err != nil {
		return err
	}
	if open.paid {
		return store.ErrAlreadyPaid
	}
	res, err := tx.ExecContext(ctx, `
UPDATE plates_log
SET payment_status = 1,
    exit_timestamp = ?
WHERE id = ? AND payment_status = 0 AND exit_timestamp IS NULL;
`, exitMs, open.id)
	if err != nil {
		return fmt.Errorf("MarkPaid update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAlreadyPaid
	}
	return nil
}

func (l *Ledger) MarkPaid(ctx context.Context, plate string, exitTime time.Time) error {
	exitMs := toMs(exitTime)
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return markPaid(ctx, tx, plate, exitMs)
	})
	return classify("MarkPaid", err)
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t types.Transaction) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO transactions(id, plate_number, entry_time, exit_time, duration_hr, amount, payment_status)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, t.ID, t.Plate, toMs(t.EntryTime), toMs(t.ExitTime), t.DurationHours, t.Amount, t.PaymentStatus); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (l *Ledger) AppendTransaction(ctx context.Context, t types.Transaction) error {
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insertTransaction(ctx, tx, t)
	})
	return classify("AppendTransaction", err)
}

func (l *Ledger) Settle(ctx context.Context, req store.SettleRequest) error {
	settledMs := toMs(req.SettledAt)
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if req.MarkPaid {
			if err := markPaid(ctx, tx, req.Plate, settledMs); err != nil {
				return err
			}
		} else if _, err := queryOpen(ctx, tx, req.Plate); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, req.Transaction)
	})
	return classify("Settle", err)
}

func (l *Ledger) Fingerprint(ctx context.Context) (types.Fingerprint, error) {
	var fp types.Fingerprint
	err := l.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(exit_timestamp), 0),
       COALESCE(MAX(entry_timestamp), 0),
       (SELECT COUNT(*) FROM plates_log WHERE action_type = 'UNAUTHORIZED_EXIT'),
       (SELECT COALESCE(MAX(exit_time), 0) FROM transactions)
FROM plates_log;
`).Scan(&fp.LastExit, &fp.LastEntry, &fp.UnauthorizedCount, &fp.LastTransaction)
	if err != nil {
		return types.Fingerprint{}, classify("Fingerprint", err)
	}
	return fp, nil
}

// classify passes business outcomes through and tags everything else as a
// storage failure.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNoSession),
		errors.Is(err, store.ErrAlreadyParked),
		errors.Is(err, store.ErrAlreadyPaid),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, store.ErrStorageUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
