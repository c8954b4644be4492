package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

type row struct {
	plate  string
	paid   bool
	entry  time.Time
	exit   *time.Time
	action types.ActionType
	reason string
}

func (r row) record() types.LogRecord {
	rec := types.LogRecord{
		Plate:     r.plate,
		EntryTime: r.entry,
		Action:    r.action,
		Reason:    r.reason,
	}
	if r.paid {
		rec.PaymentStatus = 1
	}
	if r.exit != nil {
		t := *r.exit
		rec.ExitTime = &t
	}
	return rec
}

// activity is the time a row last changed: its exit if set, else its entry.
func (r row) activity() time.Time {
	if r.exit != nil {
		return *r.exit
	}
	return r.entry
}

// Ledger is an in-memory store.Ledger.  It is intended for tests and dev
// environments; all agents sharing it must live in one process.
type Ledger struct {
	mu        sync.RWMutex
	rows      []row
	txs       []types.Transaction
	decisions []types.Decision
}

func NewLedger() *Ledger {
	return &Ledger{}
}

var (
	_ store.Ledger        = (*Ledger)(nil)
	_ store.DecisionStore = (*Ledger)(nil)
)

// openIndex returns the index of the plate's latest ENTRY row if no EXIT row
// resolves it, or -1.  Caller holds mu.
func (l *Ledger) openIndex(plate string) int {
	idx := -1
	for i, r := range l.rows {
		if r.plate != plate || r.action != types.ActionEntry {
			continue
		}
		if idx == -1 || !r.entry.Before(l.rows[idx].entry) {
			idx = i
		}
	}
	if idx == -1 {
		return -1
	}
	entry := l.rows[idx].entry
	for _, r := range l.rows {
		if r.plate == plate && r.action == types.ActionExit && r.entry.Equal(entry) {
			return -1
		}
	}
	return idx
}

func (l *Ledger) session(idx int) types.Session {
	r := l.rows[idx]
	s := types.Session{Plate: r.plate, Status: types.PaymentUnpaid, EntryTime: r.entry}
	if !r.paid {
		return s
	}
	s.Status = types.PaymentPaid
	if r.exit != nil {
		s.SettledAt = *r.exit
	}
	for _, tx := range l.txs {
		if tx.Plate == r.plate && !tx.ExitTime.Before(r.entry) && tx.ExitTime.After(s.SettledAt) {
			s.SettledAt = tx.ExitTime
		}
	}
	return s
}

func (l *Ledger) OpenSession(_ context.Context, plate string) (types.Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.openIndex(plate)
	if idx == -1 {
		return types.Session{}, store.ErrNoSession
	}
	return l.session(idx), nil
}

func (l *Ledger) HasOpenSession(ctx context.Context, plate string) (bool, error) {
	_, err := l.OpenSession(ctx, plate)
	if err == store.ErrNoSession {
		return false, nil
	}
	return err == nil, err
}

func (l *Ledger) LatestPaymentStatus(ctx context.Context, plate string) (types.PaymentStatus, error) {
	s, err := l.OpenSession(ctx, plate)
	if err == store.ErrNoSession {
		return types.PaymentNone, nil
	}
	if err != nil {
		return types.PaymentNone, err
	}
	return s.Status, nil
}

func (l *Ledger) AppendEntry(_ context.Context, plate string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openIndex(plate) != -1 {
		return store.ErrAlreadyParked
	}
	l.rows = append(l.rows, row{plate: plate, entry: at.UTC(), action: types.ActionEntry})
	return nil
}

func (l *Ledger) AppendExit(_ context.Context, plate string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.openIndex(plate)
	if idx == -1 {
		return store.ErrNoSession
	}
	exit := at.UTC()
	l.rows = append(l.rows, row{
		plate:  plate,
		paid:   l.rows[idx].paid,
		entry:  l.rows[idx].entry,
		exit:   &exit,
		action: types.ActionExit,
	})
	if l.rows[idx].exit == nil {
		l.rows[idx].exit = &exit
	}
	return nil
}

func (l *Ledger) AppendUnauthorized(_ context.Context, plate string, at time.Time, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := at.UTC()
	l.rows = append(l.rows, row{
		plate:  plate,
		entry:  t,
		exit:   &t,
		action: types.ActionUnauthorizedExit,
		reason: reason,
	})
	return nil
}

func (l *Ledger) markPaid(plate string, exitTime time.Time) error {
	idx := l.openIndex(plate)
	if idx == -1 {
		return store.ErrNoSession
	}
	if l.rows[idx].paid {
		return store.ErrAlreadyPaid
	}
	t := exitTime.UTC()
	l.rows[idx].paid = true
	l.rows[idx].exit = &t
	return nil
}

func (l *Ledger) MarkPaid(_ context.Context, plate string, exitTime time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.markPaid(plate, exitTime)
}

func (l *Ledger) AppendTransaction(_ context.Context, tx types.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, normalizeTx(tx))
	return nil
}

func (l *Ledger) Settle(_ context.Context, req store.SettleRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if req.MarkPaid {
		if err := l.markPaid(req.Plate, req.SettledAt); err != nil {
			return err
		}
	} else if l.openIndex(req.Plate) == -1 {
		return store.ErrNoSession
	}
	l.txs = append(l.txs, normalizeTx(req.Transaction))
	return nil
}

func normalizeTx(tx types.Transaction) types.Transaction {
	tx.EntryTime = tx.EntryTime.UTC()
	tx.ExitTime = tx.ExitTime.UTC()
	return tx
}

func (l *Ledger) RecordDecision(_ context.Context, d types.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	l.decisions = append(l.decisions, d)
	return nil
}

// Decisions returns a copy of all recorded decisions.  Test-only helper.
func (l *Ledger) Decisions() []types.Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Decision, len(l.decisions))
	copy(out, l.decisions)
	return out
}

// Records returns every plates_log row in insertion order.  Test-only helper.
func (l *Ledger) Records() []types.LogRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.LogRecord, 0, len(l.rows))
	for _, r := range l.rows {
		out = append(out, r.record())
	}
	return out
}

// Transactions returns every transaction in insertion order.  Test-only helper.
func (l *Ledger) Transactions() []types.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

func (l *Ledger) Fingerprint(_ context.Context) (types.Fingerprint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var fp types.Fingerprint
	for _, r := range l.rows {
		if ms := r.entry.UnixMilli(); ms > fp.LastEntry {
			fp.LastEntry = ms
		}
		if r.exit != nil && r.exit.UnixMilli() > fp.LastExit {
			fp.LastExit = r.exit.UnixMilli()
		}
		if r.action == types.ActionUnauthorizedExit {
			fp.UnauthorizedCount++
		}
	}
	for _, tx := range l.txs {
		if ms := tx.ExitTime.UnixMilli(); ms > fp.LastTransaction {
			fp.LastTransaction = ms
		}
	}
	return fp, nil
}

func (l *Ledger) Snapshot(_ context.Context, now time.Time, loc *time.Location) (types.Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if loc == nil {
		loc = time.Local
	}
	snap := types.Snapshot{
		GeneratedAt:        now.UTC(),
		RecentTransactions: make([]types.Transaction, 0, store.RecentTransactions),
		UnauthorizedExits:  make([]types.LogRecord, 0, store.RecentUnauthorized),
	}

	hourly := make(map[int]int)
	since := now.Add(-24 * time.Hour)
	var latest *row
	var unauthorized []row
	for i := range l.rows {
		r := l.rows[i]
		snap.ParkingStatus.TotalRecords++
		if r.paid {
			snap.ParkingStatus.PaidRecords++
		} else {
			snap.ParkingStatus.UnpaidRecords++
		}
		if latest == nil || !r.activity().Before(latest.activity()) {
			latest = &l.rows[i]
		}
		switch r.action {
		case types.ActionEntry:
			if !r.entry.Before(since) && !r.entry.After(now) {
				hourly[r.entry.In(loc).Hour()]++
			}
			if l.openIndex(r.plate) == i {
				snap.Occupancy.Current++
				if !r.paid {
					snap.Occupancy.Unpaid++
				}
			}
		case types.ActionUnauthorizedExit:
			unauthorized = append(unauthorized, r)
		}
	}
	if latest != nil {
		rec := latest.record()
		snap.LatestActivity = &rec
	}

	sort.SliceStable(unauthorized, func(i, j int) bool {
		return unauthorized[i].activity().After(unauthorized[j].activity())
	})
	for i := 0; i < len(unauthorized) && i < store.RecentUnauthorized; i++ {
		snap.UnauthorizedExits = append(snap.UnauthorizedExits, unauthorized[i].record())
	}

	txs := make([]types.Transaction, len(l.txs))
	copy(txs, l.txs)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].ExitTime.After(txs[j].ExitTime) })
	dayStart := store.StartOfDay(now, loc)
	for i, tx := range txs {
		if i < store.RecentTransactions {
			snap.RecentTransactions = append(snap.RecentTransactions, tx)
		}
		if !tx.ExitTime.Before(dayStart) {
			snap.TodayRevenue += tx.Amount
		}
	}

	snap.HourlyEntries = types.HourlyBuckets(hourly)
	return snap, nil
}
