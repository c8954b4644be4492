package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/bootstrap"
	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/config"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/agent"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/service"
)

const agentName = "payment"

// lotgate-payment reads payment intents from the terminal link and settles
// them against the ledger.
func main() {
	incidents := flag.Int("incidents", 0, "print the last N operator incidents for the terminal and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *incidents > 0 {
		if err := bootstrap.DumpIncidents(os.Stdout, cfg.JournalPath(agentName), *incidents); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, agentName, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rt.Close()
	logger := rt.Logger

	link, port := rt.Hardware(ctx)
	if link == nil {
		// Intents arrive over the same link, so there is nothing to serve.
		logger.Error("payment terminal needs a hardware link; set LOTGATE_HARDWARE_ADDR")
		return
	}

	clk := clock.SystemClock{}
	seq := hardware.NewSequencer(port, clk, hardware.Config{
		CaptureTimeout: cfg.CaptureTimeout(),
	}, logger, rt.Metrics)

	billing := service.NewBillingService(service.BillingConfig{
		RatePerHour: cfg.RatePerHour,
		Grace:       cfg.GracePeriod(),
	}, rt.Ledger, seq, rt.Journal, clk, logger, rt.Metrics)

	runner := agent.NewPayment(link, billing, logger)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("payment agent stopped", zap.Error(err))
		return
	}
	logger.Info("payment agent stopped")
}
