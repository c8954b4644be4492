package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

// Decision reasons, as stored in access_events and plates_log.
const (
	ReasonAdmitted      = "admitted"
	ReasonAlreadyUnpaid = "already in lot, unpaid"
	ReasonUseExit       = "already in lot, use exit"
	ReasonReleased      = "paid, within grace"
	ReasonExpired       = "payment expired"
	ReasonNoPayment     = "no payment found"
)

// DefaultGrace is how long a paid vehicle may take to reach the exit.
const DefaultGrace = 15 * time.Minute

// Actuator is the part of the hardware sequencer a lane drives.
type Actuator interface {
	OpenGate(ctx context.Context) error
	Alert(ctx context.Context, code hardware.AlertCode) error
}

type AccessConfig struct {
	Lane  types.Lane
	Grace time.Duration
}

// AccessService decides whether a plate may pass a lane and carries the
// decision out: ledger first, then the hardware.
type AccessService struct {
	lane      types.Lane
	grace     time.Duration
	ledger    store.Ledger
	decisions store.DecisionStore
	actuator  Actuator
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

func NewAccessService(
	cfg AccessConfig,
	ledger store.Ledger,
	decisions store.DecisionStore,
	actuator Actuator,
	clk clock.Clock,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *AccessService {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{
		lane:      cfg.Lane,
		grace:     cfg.Grace,
		ledger:    ledger,
		decisions: decisions,
		actuator:  actuator,
		clock:     clk,
		logger:    logger.With(zap.String("lane", string(cfg.Lane))),
		metrics:   metrics,
	}
}

func (s *AccessService) Lane() types.Lane { return s.lane }

// Presence derives the plate's admission state from the ledger.
func (s *AccessService) Presence(ctx context.Context, plate string) (types.Presence, types.Session, error) {
	sess, err := s.ledger.OpenSession(ctx, plate)
	if errors.Is(err, store.ErrNoSession) {
		return types.NotPresent, types.Session{}, nil
	}
	if err != nil {
		return types.NotPresent, types.Session{}, err
	}
	return sess.Presence(), sess, nil
}

// Handle runs one admission cycle for plate on this service's lane.  The
// returned Decision is meaningful whenever Granted or Reason is set, even
// if err is non-nil (the hardware step may have failed after the ledger
// write).
func (s *AccessService) Handle(ctx context.Context, plate string) (types.Decision, error) {
	if s.lane == types.LaneExit {
		return s.Exit(ctx, plate)
	}
	return s.Enter(ctx, plate)
}

func (s *AccessService) Enter(ctx context.Context, plate string) (types.Decision, error) {
	now := s.clock.Now()
	presence, _, err := s.Presence(ctx, plate)
	if err != nil {
		return types.Decision{}, fmt.Errorf("Enter: %w", err)
	}

	switch presence {
	case types.NotPresent:
		err := s.ledger.AppendEntry(ctx, plate, now)
		if errors.Is(err, store.ErrAlreadyParked) {
			// Another writer opened the session between our read and write.
			return s.deny(ctx, plate, now, ReasonAlreadyUnpaid, hardware.AlertDenied, false)
		}
		if err != nil {
			return types.Decision{}, fmt.Errorf("Enter append: %w", err)
		}
		return s.grant(ctx, plate, now, ReasonAdmitted)
	case types.PresentUnpaid:
		return s.deny(ctx, plate, now, ReasonAlreadyUnpaid, hardware.AlertDenied, false)
	default:
		return s.deny(ctx, plate, now, ReasonUseExit, hardware.AlertPaid, false)
	}
}

func (s *AccessService) Exit(ctx context.Context, plate string) (types.Decision, error) {
	now := s.clock.Now()
	presence, sess, err := s.Presence(ctx, plate)
	if err != nil {
		return types.Decision{}, fmt.Errorf("Exit: %w", err)
	}

	switch {
	case presence == types.PresentPaid && now.Sub(sess.SettledAt) <= s.grace:
		if err := s.ledger.AppendExit(ctx, plate, now); err != nil {
			return types.Decision{}, fmt.Errorf("Exit append: %w", err)
		}
		return s.grant(ctx, plate, now, ReasonReleased)
	case presence == types.PresentPaid:
		return s.deny(ctx, plate, now, ReasonExpired, hardware.AlertDenied, true)
	default:
		return s.deny(ctx, plate, now, ReasonNoPayment, hardware.AlertDenied, true)
	}
}

func (s *AccessService) grant(ctx context.Context, plate string, now time.Time, reason string) (types.Decision, error) {
	d := s.record(ctx, plate, true, reason, now)
	s.logger.Info("access granted", zap.String("plate", plate), zap.String("reason", reason))
	if err := s.actuator.OpenGate(ctx); err != nil {
		return d, fmt.Errorf("open gate: %w", err)
	}
	return d, nil
}

// deny records a refusal and sounds code.  Exit-lane refusals are also
// written to plates_log as unauthorized exits.
func (s *AccessService) deny(ctx context.Context, plate string, now time.Time, reason string, code hardware.AlertCode, unauthorized bool) (types.Decision, error) {
	if unauthorized {
		if err := s.ledger.AppendUnauthorized(ctx, plate, now, reason); err != nil {
			return types.Decision{}, fmt.Errorf("append unauthorized: %w", err)
		}
	}
	d := s.record(ctx, plate, false, reason, now)
	s.logger.Info("access denied", zap.String("plate", plate), zap.String("reason", reason))
	if err := s.actuator.Alert(ctx, code); err != nil {
		return d, fmt.Errorf("alert: %w", err)
	}
	return d, nil
}

// record writes the audit row.  A failed audit write is logged and does
// not change the decision.
func (s *AccessService) record(ctx context.Context, plate string, granted bool, reason string, now time.Time) types.Decision {
	d := types.Decision{
		Lane:      s.lane,
		Plate:     plate,
		Granted:   granted,
		Reason:    reason,
		DecidedAt: now,
	}
	s.metrics.Decision(ctx, string(s.lane), granted)
	if s.decisions == nil {
		return d
	}
	if err := s.decisions.RecordDecision(ctx, d); err != nil {
		s.logger.Warn("record decision failed", zap.String("plate", plate), zap.Error(err))
	}
	return d
}
