package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.jetify.com/typeid/v2"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/operator"
	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

var (
	ErrPlateNotFound       = errors.New("plate not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidIntent       = errors.New("invalid payment intent")
)

const (
	DefaultRatePerHour int64 = 500

	txnPrefix = "txn"
	msPerHour = int64(time.Hour / time.Millisecond)
)

// PaymentIntent is one request from the payment terminal.
type PaymentIntent struct {
	Plate   string
	Balance int64
}

// ParseIntent decodes "PLATE:<plate>|BALANCE:<int>".
func ParseIntent(line string) (PaymentIntent, error) {
	var in PaymentIntent
	var havePlate, haveBalance bool
	for _, field := range strings.Split(strings.TrimSpace(line), "|") {
		key, val, ok := strings.Cut(field, ":")
		if !ok {
			return PaymentIntent{}, fmt.Errorf("%w: field %q", ErrInvalidIntent, field)
		}
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "PLATE":
			p, ok := types.NormalizePlate(val)
			if !ok {
				return PaymentIntent{}, fmt.Errorf("%w: plate %q", ErrInvalidIntent, val)
			}
			in.Plate, havePlate = p, true
		case "BALANCE":
			n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil || n < 0 {
				return PaymentIntent{}, fmt.Errorf("%w: balance %q", ErrInvalidIntent, val)
			}
			in.Balance, haveBalance = n, true
		}
	}
	if !havePlate || !haveBalance {
		return PaymentIntent{}, fmt.Errorf("%w: %q", ErrInvalidIntent, line)
	}
	return in, nil
}

// Quote prices a stay.  Hours are rounded up to the next hundredth with a
// one hour minimum; the amount is rounded half up to whole currency units.
func Quote(from, to time.Time, ratePerHour int64) (hours float64, amount int64) {
	elapsed := to.Sub(from).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	centi := (elapsed*100 + msPerHour - 1) / msPerHour
	if centi < 100 {
		centi = 100
	}
	return float64(centi) / 100, (centi*ratePerHour + 50) / 100
}

// Terminal collects money from the driver.
type Terminal interface {
	Capture(ctx context.Context, amount int64) error
}

type BillingConfig struct {
	RatePerHour int64
	Grace       time.Duration
}

// Receipt describes a successful Pay.  AlreadySettled means nothing was
// charged because the session was paid within the grace window.
type Receipt struct {
	Plate          string
	AlreadySettled bool
	Transaction    types.Transaction
}

type BillingService struct {
	rate     int64
	grace    time.Duration
	ledger   store.Ledger
	terminal Terminal
	reporter operator.Reporter
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	newID    func() (string, error)
}

func NewBillingService(
	cfg BillingConfig,
	ledger store.Ledger,
	terminal Terminal,
	reporter operator.Reporter,
	clk clock.Clock,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *BillingService {
	if cfg.RatePerHour <= 0 {
		cfg.RatePerHour = DefaultRatePerHour
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if reporter == nil {
		reporter = operator.Discard{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingService{
		rate:     cfg.RatePerHour,
		grace:    cfg.Grace,
		ledger:   ledger,
		terminal: terminal,
		reporter: reporter,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
		newID:    newTransactionID,
	}
}

func newTransactionID() (string, error) {
	tid, err := typeid.Generate(txnPrefix)
	if err != nil {
		return "", err
	}
	return tid.String(), nil
}

// Pay settles the plate's open session.  Every failure leaves the ledger
// untouched and is reported to the operator; nothing is retried.
func (s *BillingService) Pay(ctx context.Context, in PaymentIntent) (Receipt, error) {
	r, err := s.pay(ctx, in)
	if err != nil {
		s.report(ctx, in, err)
		return Receipt{}, err
	}
	return r, nil
}

func (s *BillingService) pay(ctx context.Context, in PaymentIntent) (Receipt, error) {
	now := s.clock.Now()

	sess, err := s.ledger.OpenSession(ctx, in.Plate)
	if errors.Is(err, store.ErrNoSession) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrPlateNotFound, in.Plate)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("Pay lookup: %w", err)
	}

	from := sess.EntryTime
	if sess.Status == types.PaymentPaid {
		if now.Sub(sess.SettledAt) <= s.grace {
			s.logger.Info("already settled", zap.String("plate", in.Plate))
			s.metrics.Capture(ctx, "already_settled")
			return Receipt{Plate: in.Plate, AlreadySettled: true}, nil
		}
		from = sess.SettledAt
	}

	hours, amount := Quote(from, now, s.rate)
	if in.Balance < amount {
		return Receipt{}, fmt.Errorf("%w: balance %d, due %d", ErrInsufficientBalance, in.Balance, amount)
	}

	if err := s.terminal.Capture(ctx, amount); err != nil {
		return Receipt{}, fmt.Errorf("capture %d: %w", amount, err)
	}

	id, err := s.newID()
	if err != nil {
		return Receipt{}, fmt.Errorf("transaction id: %w", err)
	}
	tx := types.Transaction{
		ID:            id,
		Plate:         in.Plate,
		EntryTime:     from,
		ExitTime:      now,
		DurationHours: hours,
		Amount:        amount,
		PaymentStatus: 1,
	}
	if err := s.ledger.Settle(ctx, store.SettleRequest{
		Plate:       in.Plate,
		SettledAt:   now,
		MarkPaid:    sess.Status != types.PaymentPaid,
		Transaction: tx,
	}); err != nil {
		return Receipt{}, fmt.Errorf("Pay settle: %w", err)
	}

	s.metrics.Capture(ctx, "ack")
	s.logger.Info("payment settled",
		zap.String("plate", in.Plate),
		zap.String("txn", tx.ID),
		zap.Float64("hours", hours),
		zap.Int64("amount", amount),
	)
	return Receipt{Plate: in.Plate, Transaction: tx}, nil
}

func (s *BillingService) report(ctx context.Context, in PaymentIntent, err error) {
	kind, outcome := operator.KindBilling, "error"
	switch {
	case errors.Is(err, hardware.ErrPaymentTimeout):
		outcome = "timeout"
	case errors.Is(err, hardware.ErrPaymentDeclined):
		outcome = "declined"
	case errors.Is(err, ErrInsufficientBalance):
		outcome = "insufficient_balance"
	case errors.Is(err, ErrPlateNotFound):
		outcome = "not_found"
	case errors.Is(err, hardware.ErrHardwareUnavailable):
		kind, outcome = operator.KindHardware, "hardware_unavailable"
	case errors.Is(err, store.ErrStorageUnavailable):
		kind, outcome = operator.KindStorage, "storage_unavailable"
	}
	s.metrics.Capture(ctx, outcome)
	s.logger.Warn("payment failed", zap.String("plate", in.Plate), zap.String("outcome", outcome), zap.Error(err))

	if rerr := s.reporter.Report(ctx, operator.Incident{
		Kind:    kind,
		Lane:    "payment",
		Plate:   in.Plate,
		Message: err.Error(),
	}); rerr != nil {
		s.logger.Error("operator report failed", zap.Error(rerr))
	}
}
