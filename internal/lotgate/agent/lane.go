// Package agent runs the single-threaded loops behind each station.
package agent

import (
	"bufio"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/recognition"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/operator"
	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

// Handler decides and actuates one plate.  *service.AccessService is the
// production implementation.
type Handler interface {
	Lane() types.Lane
	Handle(ctx context.Context, plate string) (types.Decision, error)
}

// Lane turns raw recognition reads into admission cycles.  One read is
// handled at a time; hardware holds block the loop.
type Lane struct {
	lane     types.Lane
	buffer   *recognition.Buffer
	handler  Handler
	reporter operator.Reporter
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

func NewLane(buf *recognition.Buffer, h Handler, reporter operator.Reporter, clk clock.Clock, logger *zap.Logger, metrics *telemetry.Metrics) *Lane {
	if reporter == nil {
		reporter = operator.Discard{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lane{
		lane:     h.Lane(),
		buffer:   buf,
		handler:  h,
		reporter: reporter,
		clock:    clk,
		logger:   logger.With(zap.String("lane", string(h.Lane()))),
		metrics:  metrics,
	}
}

// Run consumes newline-separated reads from src until it is exhausted or
// ctx is done.
func (l *Lane) Run(ctx context.Context, src io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(src)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	l.logger.Info("lane agent running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return ctx.Err()
				}
			}
			l.Process(ctx, raw)
		}
	}
}

// Process feeds one read through consensus and, when a plate emerges,
// runs the admission cycle.  Failures are logged and reported, never
// retried.
func (l *Lane) Process(ctx context.Context, raw string) {
	plate, ok := l.buffer.Push(raw)
	if !ok {
		if _, valid := l.buffer.Candidate(raw); !valid {
			l.metrics.Noise(ctx, string(l.lane), "invalid")
			l.logger.Debug("recognition noise", zap.String("raw", raw))
		}
		return
	}

	now := l.clock.Now()
	if l.buffer.Suppressed(plate, now) {
		l.metrics.Noise(ctx, string(l.lane), "suppressed")
		l.logger.Debug("plate suppressed", zap.String("plate", plate))
		return
	}

	d, err := l.handler.Handle(ctx, plate)
	if d.Reason != "" && l.marks(d) {
		l.buffer.Mark(plate, now)
	}
	// Reads that piled up during a hold belong to the previous vehicle.
	l.buffer.Reset()

	if err != nil {
		l.fail(ctx, plate, err)
	}
}

// marks reports whether d starts the lane's cooldown: admissions on the
// entry lane, every outcome on the exit lane.
func (l *Lane) marks(d types.Decision) bool {
	if l.lane == types.LaneEntry {
		return d.Granted
	}
	return true
}

func (l *Lane) fail(ctx context.Context, plate string, err error) {
	kind := operator.KindStorage
	switch {
	case errors.Is(err, context.Canceled):
		l.logger.Info("cycle interrupted", zap.String("plate", plate))
		return
	case errors.Is(err, hardware.ErrHardwareUnavailable):
		kind = operator.KindHardware
	}
	l.logger.Error("cycle failed", zap.String("plate", plate), zap.String("kind", string(kind)), zap.Error(err))
	if rerr := l.reporter.Report(ctx, operator.Incident{
		Kind:    kind,
		Lane:    string(l.lane),
		Plate:   plate,
		Message: err.Error(),
	}); rerr != nil {
		l.logger.Error("operator report failed", zap.Error(rerr))
	}
}
