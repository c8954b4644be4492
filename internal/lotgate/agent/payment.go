package agent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/service"
)

// LineReader is the inbound half of the terminal link.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Payer settles one intent.  *service.BillingService is the production
// implementation; it reports its own failures.
type Payer interface {
	Pay(ctx context.Context, in service.PaymentIntent) (service.Receipt, error)
}

type Payment struct {
	link   LineReader
	payer  Payer
	logger *zap.Logger
}

func NewPayment(link LineReader, payer Payer, logger *zap.Logger) *Payment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Payment{link: link, payer: payer, logger: logger.With(zap.String("lane", "payment"))}
}

// Run handles intents until the link closes or ctx is done.
func (p *Payment) Run(ctx context.Context) error {
	p.logger.Info("payment agent running")
	for {
		line, err := p.link.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.Process(ctx, line)
	}
}

func (p *Payment) Process(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	in, err := service.ParseIntent(line)
	if err != nil {
		p.logger.Warn("malformed intent skipped", zap.String("line", line), zap.Error(err))
		return
	}

	r, err := p.payer.Pay(ctx, in)
	switch {
	case err == nil && r.AlreadySettled:
		p.logger.Info("intent ignored, already settled", zap.String("plate", in.Plate))
	case err == nil:
		p.logger.Info("intent settled", zap.String("plate", in.Plate), zap.String("txn", r.Transaction.ID))
	case errors.Is(err, context.Canceled):
	default:
		p.logger.Warn("intent failed", zap.String("plate", in.Plate), zap.Error(err))
	}
}
