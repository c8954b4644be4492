package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

var (
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	ErrPaymentTimeout      = errors.New("payment acknowledgment timed out")
	ErrPaymentDeclined     = errors.New("payment declined")
)

// Wire commands understood by the lane controller.
const (
	cmdGateOpen  = "1"
	cmdGateClose = "0"
	ackDone      = "DONE"
)

type AlertCode byte

const (
	AlertDenied AlertCode = 'D'
	AlertPaid   AlertCode = 'P'
)

const (
	DefaultGateHold       = 15 * time.Second
	DefaultCaptureTimeout = 10 * time.Second
)

// Config holds the interlock timings.  GateHold and CaptureTimeout fall back
// to their defaults when not positive; a zero AlertHold means no hold.
type Config struct {
	GateHold       time.Duration
	AlertHold      time.Duration
	CaptureTimeout time.Duration
}

// Sequencer issues timed commands over a Port.  A nil Port means the
// channel is absent and every command fails with ErrHardwareUnavailable.
type Sequencer struct {
	port    Port
	clock   clock.Clock
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func NewSequencer(port Port, clk clock.Clock, cfg Config, logger *zap.Logger, metrics *telemetry.Metrics) *Sequencer {
	if cfg.GateHold <= 0 {
		cfg.GateHold = DefaultGateHold
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultCaptureTimeout
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{port: port, clock: clk, cfg: cfg, logger: logger, metrics: metrics}
}

func (s *Sequencer) send(ctx context.Context, op, cmd string) error {
	if s.port == nil {
		s.metrics.HardwareFailure(ctx, op)
		return fmt.Errorf("%s: %w: no channel", op, ErrHardwareUnavailable)
	}
	if err := s.port.Write([]byte(cmd)); err != nil {
		s.metrics.HardwareFailure(ctx, op)
		return fmt.Errorf("%s: %w: %w", op, ErrHardwareUnavailable, err)
	}
	return nil
}

// OpenGate opens the gate, holds it and closes it.  If ctx is cancelled
// during the hold the gate is closed at once and ctx's error returned.
// Nothing is sent after a failed open.
func (s *Sequencer) OpenGate(ctx context.Context) error {
	if err := s.send(ctx, "open_gate", cmdGateOpen); err != nil {
		return err
	}
	s.logger.Debug("gate open", zap.Duration("hold", s.cfg.GateHold))

	holdErr := s.clock.Sleep(ctx, s.cfg.GateHold)

	if err := s.send(context.WithoutCancel(ctx), "close_gate", cmdGateClose); err != nil {
		s.logger.Error("gate close failed", zap.Error(err))
		return err
	}
	s.logger.Debug("gate closed")
	return holdErr
}

// Alert sounds code and holds for the alert duration.
func (s *Sequencer) Alert(ctx context.Context, code AlertCode) error {
	if err := s.send(ctx, "alert", string(code)); err != nil {
		return err
	}
	return s.clock.Sleep(ctx, s.cfg.AlertHold)
}

// Capture asks the terminal to collect amount and waits for its answer.
func (s *Sequencer) Capture(ctx context.Context, amount int64) error {
	if err := s.send(ctx, "capture", fmt.Sprintf("PAY:%d\n", amount)); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	line, err := s.port.ReadLine(cctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrPaymentTimeout
	default:
		s.metrics.HardwareFailure(ctx, "capture")
		return fmt.Errorf("capture: %w: %w", ErrHardwareUnavailable, err)
	}

	if strings.TrimSpace(line) != ackDone {
		return fmt.Errorf("%w: terminal answered %q", ErrPaymentDeclined, line)
	}
	return nil
}
