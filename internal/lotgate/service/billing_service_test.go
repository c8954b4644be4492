package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.jetify.com/typeid/v2"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/service"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store/memory"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/operator"
)

type billingFixture struct {
	svc      *service.BillingService
	ledger   *memory.Ledger
	terminal *fakeTerminal
	reports  *operator.Recorder
	clk      *clock.Fake
}

func newBillingFixture() *billingFixture {
	ledger := memory.NewLedger()
	term := &fakeTerminal{}
	rec := &operator.Recorder{}
	clk := clock.NewFake(t0)
	svc := service.NewBillingService(
		service.BillingConfig{RatePerHour: 500, Grace: 15 * time.Minute},
		ledger, term, rec, clk, zap.NewNop(), nil,
	)
	return &billingFixture{svc: svc, ledger: ledger, terminal: term, reports: rec, clk: clk}
}

func (f *billingFixture) park(t *testing.T, plate string, ago time.Duration) {
	t.Helper()
	require.NoError(t, f.ledger.AppendEntry(context.Background(), plate, f.clk.Now().Add(-ago)))
}

// ── Pricing ─────────────────────────────────────────────────────────────────

func TestQuote(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		rate    int64
		hours   float64
		amount  int64
	}{
		{90 * time.Minute, 500, 1.5, 750},
		{20 * time.Minute, 500, 1, 500},
		{0, 500, 1, 500},
		{60 * time.Minute, 500, 1, 500},
		{61 * time.Minute, 500, 1.02, 510},
		{60*time.Minute + time.Millisecond, 500, 1.01, 505},
		{150 * time.Minute, 333, 2.5, 833},
		{-5 * time.Minute, 500, 1, 500},
	}
	for _, tt := range tests {
		hours, amount := service.Quote(t0, t0.Add(tt.elapsed), tt.rate)
		assert.Equal(t, tt.hours, hours, "hours for %v", tt.elapsed)
		assert.Equal(t, tt.amount, amount, "amount for %v at %d", tt.elapsed, tt.rate)
	}
}

func TestParseIntent(t *testing.T) {
	in, err := service.ParseIntent("PLATE:abc123d|BALANCE:900\r\n")
	require.NoError(t, err)
	assert.Equal(t, service.PaymentIntent{Plate: "ABC123D", Balance: 900}, in)

	for _, bad := range []string{
		"",
		"PLATE:ABC123D",
		"BALANCE:900",
		"PLATE:ABC12|BALANCE:900",
		"PLATE:ABC123D|BALANCE:lots",
		"PLATE:ABC123D|BALANCE:-1",
		"PLATE ABC123D|BALANCE:900",
	} {
		_, err := service.ParseIntent(bad)
		assert.ErrorIs(t, err, service.ErrInvalidIntent, "line %q", bad)
	}
}

// ── Pay ─────────────────────────────────────────────────────────────────────

func TestPay_NinetyMinutes(t *testing.T) {
	f := newBillingFixture()
	f.park(t, "ABC123D", 90*time.Minute)

	r, err := f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 1000})
	require.NoError(t, err)
	assert.False(t, r.AlreadySettled)
	assert.Equal(t, int64(750), r.Transaction.Amount)
	assert.Equal(t, 1.5, r.Transaction.DurationHours)
	assert.True(t, strings.HasPrefix(r.Transaction.ID, "txn_"), r.Transaction.ID)
	_, err = typeid.Parse(r.Transaction.ID)
	assert.NoError(t, err)
	assert.Equal(t, []int64{750}, f.terminal.amounts)

	sess, err := f.ledger.OpenSession(context.Background(), "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentPaid, sess.Status)
	assert.True(t, sess.SettledAt.Equal(t0))

	txs := f.ledger.Transactions()
	require.Len(t, txs, 1)
	assert.True(t, txs[0].EntryTime.Equal(t0.Add(-90*time.Minute)))
	assert.True(t, txs[0].ExitTime.Equal(t0))
}

func TestPay_MinimumOneHour(t *testing.T) {
	f := newBillingFixture()
	f.park(t, "ABC123D", 20*time.Minute)

	r, err := f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.Transaction.Amount)
	assert.Equal(t, 1.0, r.Transaction.DurationHours)
}

func TestPay_ReplayWithinGraceIsIdempotent(t *testing.T) {
	f := newBillingFixture()
	f.park(t, "ABC123D", 90*time.Minute)
	intent := service.PaymentIntent{Plate: "ABC123D", Balance: 1000}

	_, err := f.svc.Pay(context.Background(), intent)
	require.NoError(t, err)

	f.clk.Advance(10 * time.Minute)
	r, err := f.svc.Pay(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, r.AlreadySettled)
	assert.Len(t, f.terminal.amounts, 1, "no second capture")
	assert.Len(t, f.ledger.Transactions(), 1, "no second transaction")
}

func TestPay_AfterGraceBillsFromSettlement(t *testing.T) {
	f := newBillingFixture()
	f.park(t, "ABC123D", 90*time.Minute)
	intent := service.PaymentIntent{Plate: "ABC123D", Balance: 1000}

	_, err := f.svc.Pay(context.Background(), intent)
	require.NoError(t, err)
	firstSettle := f.clk.Now()

	f.clk.Advance(20 * time.Minute)
	r, err := f.svc.Pay(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, r.AlreadySettled)
	assert.Equal(t, int64(500), r.Transaction.Amount)
	assert.True(t, r.Transaction.EntryTime.Equal(firstSettle))

	sess, err := f.ledger.OpenSession(context.Background(), "ABC123D")
	require.NoError(t, err)
	assert.True(t, sess.SettledAt.Equal(f.clk.Now()), "settlement moves to the new payment")
	assert.Len(t, f.ledger.Transactions(), 2)
}

func TestPay_InsufficientBalance(t *testing.T) {
	f := newBillingFixture()
	f.park(t, "ABC123D", 90*time.Minute)

	_, err := f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 749})
	assert.ErrorIs(t, err, service.ErrInsufficientBalance)
	assert.Empty(t, f.terminal.amounts, "nothing sent to the terminal")
	assert.Empty(t, f.ledger.Transactions())

	status, err := f.ledger.LatestPaymentStatus(context.Background(), "ABC123D")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentUnpaid, status)

	reports := f.reports.All()
	require.Len(t, reports, 1)
	assert.Equal(t, operator.KindBilling, reports[0].Kind)
	assert.Equal(t, "ABC123D", reports[0].Plate)
}

func TestPay_CaptureFailuresLeaveLedgerUntouched(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind operator.Kind
	}{
		{"timeout", hardware.ErrPaymentTimeout, operator.KindBilling},
		{"declined", hardware.ErrPaymentDeclined, operator.KindBilling},
		{"unavailable", hardware.ErrHardwareUnavailable, operator.KindHardware},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture()
			f.park(t, "ABC123D", 90*time.Minute)
			f.terminal.err = tt.err

			_, err := f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 1000})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, []int64{750}, f.terminal.amounts)
			assert.Empty(t, f.ledger.Transactions())

			status, err := f.ledger.LatestPaymentStatus(context.Background(), "ABC123D")
			require.NoError(t, err)
			assert.Equal(t, types.PaymentUnpaid, status)

			reports := f.reports.All()
			require.Len(t, reports, 1)
			assert.Equal(t, tt.kind, reports[0].Kind)
		})
	}
}

func TestPay_PlateNotFound(t *testing.T) {
	f := newBillingFixture()

	_, err := f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 1000})
	assert.ErrorIs(t, err, service.ErrPlateNotFound)
	assert.Empty(t, f.terminal.amounts)
}

func TestPay_ExitedPlateNotFound(t *testing.T) {
	f := newBillingFixture()
	f.park(t, "ABC123D", 90*time.Minute)
	_, err := f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 1000})
	require.NoError(t, err)
	require.NoError(t, f.ledger.AppendExit(context.Background(), "ABC123D", f.clk.Now()))

	f.clk.Advance(time.Hour)
	_, err = f.svc.Pay(context.Background(), service.PaymentIntent{Plate: "ABC123D", Balance: 1000})
	assert.ErrorIs(t, err, service.ErrPlateNotFound)
}
