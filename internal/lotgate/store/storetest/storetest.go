// Package storetest holds behaviour checks every store.Ledger must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

// Factory returns a fresh, empty ledger for each subtest.
type Factory func(t *testing.T) store.Ledger

// Base is a millisecond-aligned reference time used by the suite.
var Base = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func RunLedger(t *testing.T, newLedger Factory) {
	t.Run("EmptyPlate", func(t *testing.T) { testEmptyPlate(t, newLedger(t)) })
	t.Run("EntryOpensUnpaidSession", func(t *testing.T) { testEntryOpens(t, newLedger(t)) })
	t.Run("SecondEntryRejected", func(t *testing.T) { testSecondEntry(t, newLedger(t)) })
	t.Run("ConcurrentEntryOneWins", func(t *testing.T) { testConcurrentEntry(t, newLedger(t)) })
	t.Run("MarkPaidOnce", func(t *testing.T) { testMarkPaid(t, newLedger(t)) })
	t.Run("ExitResolvesSession", func(t *testing.T) { testExit(t, newLedger(t)) })
	t.Run("ExitWithoutSession", func(t *testing.T) { testExitWithoutSession(t, newLedger(t)) })
	t.Run("SettleRebillMovesSettlement", func(t *testing.T) { testSettleRebill(t, newLedger(t)) })
	t.Run("SettleWithoutSessionWritesNothing", func(t *testing.T) { testSettleWithoutSession(t, newLedger(t)) })
	t.Run("UnauthorizedDoesNotOpenSession", func(t *testing.T) { testUnauthorized(t, newLedger(t)) })
	t.Run("FingerprintMovesOnEveryWrite", func(t *testing.T) { testFingerprint(t, newLedger(t)) })
	t.Run("SnapshotEmpty", func(t *testing.T) { testSnapshotEmpty(t, newLedger(t)) })
	t.Run("SnapshotAggregates", func(t *testing.T) { testSnapshotAggregates(t, newLedger(t)) })
}

func tx(id, plate string, entry, exit time.Time, hours float64, amount int64) types.Transaction {
	return types.Transaction{
		ID:            id,
		Plate:         plate,
		EntryTime:     entry,
		ExitTime:      exit,
		DurationHours: hours,
		Amount:        amount,
		PaymentStatus: 1,
	}
}

func testEmptyPlate(t *testing.T, l store.Ledger) {
	ctx := context.Background()

	open, err := l.HasOpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.False(t, open)

	status, err := l.LatestPaymentStatus(ctx, "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentNone, status)

	_, err = l.OpenSession(ctx, "ABC123D")
	assert.ErrorIs(t, err, store.ErrNoSession)
}

func testEntryOpens(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base))

	open, err := l.HasOpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.True(t, open)

	s, err := l.OpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentUnpaid, s.Status)
	assert.True(t, s.EntryTime.Equal(Base))
	assert.True(t, s.SettledAt.IsZero())
	assert.Equal(t, types.PresentUnpaid, s.Presence())
}

func testSecondEntry(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base))
	err := l.AppendEntry(ctx, "ABC123D", Base.Add(time.Minute))
	assert.ErrorIs(t, err, store.ErrAlreadyParked)

	// A paid session is still open.
	require.NoError(t, l.MarkPaid(ctx, "ABC123D", Base.Add(time.Hour)))
	err = l.AppendEntry(ctx, "ABC123D", Base.Add(2*time.Hour))
	assert.ErrorIs(t, err, store.ErrAlreadyParked)
}

func testConcurrentEntry(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	const n = 8

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		parked int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.AppendEntry(ctx, "ABC123D", Base.Add(time.Duration(i)*time.Millisecond))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrAlreadyParked):
				parked++
			default:
				t.Errorf("AppendEntry: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, parked)
}

func testMarkPaid(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base))

	paidAt := Base.Add(90 * time.Minute)
	require.NoError(t, l.MarkPaid(ctx, "ABC123D", paidAt))

	s, err := l.OpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentPaid, s.Status)
	assert.True(t, s.SettledAt.Equal(paidAt), "settled at %v", s.SettledAt)
	assert.True(t, s.EntryTime.Equal(Base))

	assert.ErrorIs(t, l.MarkPaid(ctx, "ABC123D", paidAt.Add(time.Minute)), store.ErrAlreadyPaid)
	assert.ErrorIs(t, l.MarkPaid(ctx, "ZZZ999Z", paidAt), store.ErrNoSession)
}

func testExit(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base))
	require.NoError(t, l.MarkPaid(ctx, "ABC123D", Base.Add(time.Hour)))
	require.NoError(t, l.AppendExit(ctx, "ABC123D", Base.Add(time.Hour+5*time.Minute)))

	open, err := l.HasOpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.False(t, open)

	status, err := l.LatestPaymentStatus(ctx, "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentNone, status)

	// The plate may park again.
	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base.Add(3*time.Hour)))
	s, err := l.OpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentUnpaid, s.Status)
	assert.True(t, s.EntryTime.Equal(Base.Add(3*time.Hour)))
}

func testExitWithoutSession(t *testing.T, l store.Ledger) {
	err := l.AppendExit(context.Background(), "ABC123D", Base)
	assert.ErrorIs(t, err, store.ErrNoSession)
}

func testSettleRebill(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base))

	first := Base.Add(time.Hour)
	require.NoError(t, l.Settle(ctx, store.SettleRequest{
		Plate:       "ABC123D",
		SettledAt:   first,
		MarkPaid:    true,
		Transaction: tx("txn_1", "ABC123D", Base, first, 1, 500),
	}))

	second := first.Add(40 * time.Minute)
	require.NoError(t, l.Settle(ctx, store.SettleRequest{
		Plate:       "ABC123D",
		SettledAt:   second,
		Transaction: tx("txn_2", "ABC123D", first, second, 1, 500),
	}))

	s, err := l.OpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentPaid, s.Status)
	assert.True(t, s.SettledAt.Equal(second), "settled at %v", s.SettledAt)

	// MarkPaid on an already paid session fails and writes no transaction.
	err = l.Settle(ctx, store.SettleRequest{
		Plate:       "ABC123D",
		SettledAt:   second.Add(time.Hour),
		MarkPaid:    true,
		Transaction: tx("txn_3", "ABC123D", second, second.Add(time.Hour), 1, 500),
	})
	assert.ErrorIs(t, err, store.ErrAlreadyPaid)

	fp, err := l.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.UnixMilli(), fp.LastTransaction)
}

func testSettleWithoutSession(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	err := l.Settle(ctx, store.SettleRequest{
		Plate:       "ABC123D",
		SettledAt:   Base,
		MarkPaid:    true,
		Transaction: tx("txn_1", "ABC123D", Base.Add(-time.Hour), Base, 1, 500),
	})
	assert.ErrorIs(t, err, store.ErrNoSession)

	fp, err := l.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Zero(t, fp.LastTransaction)
}

func testUnauthorized(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.AppendUnauthorized(ctx, "ABC123D", Base, "no payment found"))

	open, err := l.HasOpenSession(ctx, "ABC123D")
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, l.AppendEntry(ctx, "ABC123D", Base.Add(time.Minute)))
}

func testFingerprint(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	prev, err := l.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Fingerprint{}, prev)

	steps := []func() error{
		func() error { return l.AppendEntry(ctx, "ABC123D", Base) },
		func() error {
			return l.Settle(ctx, store.SettleRequest{
				Plate: "ABC123D", SettledAt: Base.Add(time.Hour), MarkPaid: true,
				Transaction: tx("txn_1", "ABC123D", Base, Base.Add(time.Hour), 1, 500),
			})
		},
		func() error { return l.AppendExit(ctx, "ABC123D", Base.Add(70*time.Minute)) },
		func() error {
			return l.AppendUnauthorized(ctx, "XYZ789W", Base.Add(70*time.Minute), "no payment found")
		},
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		fp, err := l.Fingerprint(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, prev, fp, "step %d left fingerprint unchanged", i)
		prev = fp
	}
	assert.Equal(t, 1, prev.UnauthorizedCount)
}

func testSnapshotEmpty(t *testing.T, l store.Ledger) {
	snap, err := l.Snapshot(context.Background(), Base, time.UTC)
	require.NoError(t, err)

	assert.Nil(t, snap.LatestActivity)
	assert.Empty(t, snap.RecentTransactions)
	assert.Empty(t, snap.UnauthorizedExits)
	assert.Zero(t, snap.TodayRevenue)
	require.Len(t, snap.HourlyEntries, 24)
	for h, b := range snap.HourlyEntries {
		assert.Zero(t, b.Entries, "hour %d", h)
	}
	assert.Equal(t, "00", snap.HourlyEntries[0].Hour)
	assert.Equal(t, "23", snap.HourlyEntries[23].Hour)
}

func testSnapshotAggregates(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	now := Base

	// Paid and still parked.
	require.NoError(t, l.AppendEntry(ctx, "AAA111A", now.Add(-2*time.Hour)))
	require.NoError(t, l.Settle(ctx, store.SettleRequest{
		Plate: "AAA111A", SettledAt: now.Add(-30 * time.Minute), MarkPaid: true,
		Transaction: tx("txn_a", "AAA111A", now.Add(-2*time.Hour), now.Add(-30*time.Minute), 1.5, 750),
	}))
	// Unpaid and parked.
	require.NoError(t, l.AppendEntry(ctx, "BBB222B", now.Add(-time.Hour)))
	// Paid and gone.
	require.NoError(t, l.AppendEntry(ctx, "CCC333C", now.Add(-3*time.Hour)))
	require.NoError(t, l.Settle(ctx, store.SettleRequest{
		Plate: "CCC333C", SettledAt: now.Add(-150 * time.Minute), MarkPaid: true,
		Transaction: tx("txn_c", "CCC333C", now.Add(-3*time.Hour), now.Add(-150*time.Minute), 1, 500),
	}))
	require.NoError(t, l.AppendExit(ctx, "CCC333C", now.Add(-140*time.Minute)))
	// Tried to leave without paying.
	require.NoError(t, l.AppendUnauthorized(ctx, "DDD444D", now.Add(-10*time.Minute), "no payment found"))
	// Yesterday's revenue.
	require.NoError(t, l.AppendTransaction(ctx,
		tx("txn_z", "ZZZ999Z", now.Add(-22*time.Hour), now.Add(-20*time.Hour), 2, 1000)))

	snap, err := l.Snapshot(ctx, now, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, types.ParkingStatus{TotalRecords: 5, UnpaidRecords: 2, PaidRecords: 3}, snap.ParkingStatus)
	assert.Equal(t, types.Occupancy{Current: 2, Unpaid: 1}, snap.Occupancy)

	require.NotNil(t, snap.LatestActivity)
	assert.Equal(t, "DDD444D", snap.LatestActivity.Plate)
	assert.Equal(t, types.ActionUnauthorizedExit, snap.LatestActivity.Action)

	require.Len(t, snap.UnauthorizedExits, 1)
	assert.Equal(t, "no payment found", snap.UnauthorizedExits[0].Reason)

	require.Len(t, snap.RecentTransactions, 3)
	assert.Equal(t, "txn_a", snap.RecentTransactions[0].ID)
	assert.Equal(t, "txn_c", snap.RecentTransactions[1].ID)
	assert.Equal(t, "txn_z", snap.RecentTransactions[2].ID)
	assert.Equal(t, 1.5, snap.RecentTransactions[0].DurationHours)

	assert.Equal(t, int64(1250), snap.TodayRevenue)

	require.Len(t, snap.HourlyEntries, 24)
	want := map[int]int{12: 1, 13: 1, 14: 1}
	for h, b := range snap.HourlyEntries {
		assert.Equal(t, want[h], b.Entries, "hour %s", b.Hour)
	}
}
