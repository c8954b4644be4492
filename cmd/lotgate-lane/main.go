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
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/recognition"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/service"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

// lotgate-lane runs the entry or exit station.  Recognition reads arrive
// one per line on stdin, as printed by the plate classifier.
func main() {
	laneName := flag.String("lane", "entry", `station to run: "entry" or "exit"`)
	incidents := flag.Int("incidents", 0, "print the last N operator incidents for this lane and exit")
	flag.Parse()

	lane := types.Lane(*laneName)
	if lane != types.LaneEntry && lane != types.LaneExit {
		fmt.Fprintf(os.Stderr, "unknown lane %q\n", *laneName)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *incidents > 0 {
		if err := bootstrap.DumpIncidents(os.Stdout, cfg.JournalPath(string(lane)), *incidents); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, string(lane), nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rt.Close()
	logger := rt.Logger

	alertHold, cooldown := cfg.EntryAlertHold(), cfg.EntryCooldown()
	if lane == types.LaneExit {
		alertHold, cooldown = cfg.ExitAlertHold(), cfg.ExitDenyCooldown()
	}

	clk := clock.SystemClock{}
	_, port := rt.Hardware(ctx)
	seq := hardware.NewSequencer(port, clk, hardware.Config{
		GateHold:  cfg.GateHold(),
		AlertHold: alertHold,
	}, logger, rt.Metrics)

	access := service.NewAccessService(service.AccessConfig{
		Lane:  lane,
		Grace: cfg.GracePeriod(),
	}, rt.Ledger, rt.Decisions, seq, clk, logger, rt.Metrics)

	buf := recognition.NewBuffer(recognition.Config{
		Window:   cfg.WindowSize,
		Prefix:   cfg.PlatePrefix,
		Cooldown: cooldown,
		// Entry only suppresses a repeat of the last admitted plate; exit
		// remembers every recent plate.
		LastOnly: lane == types.LaneEntry,
	})

	runner := agent.NewLane(buf, access, rt.Journal, clk, logger, rt.Metrics)
	if err := runner.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("lane agent stopped", zap.Error(err))
		return
	}
	logger.Info("lane agent stopped")
}
