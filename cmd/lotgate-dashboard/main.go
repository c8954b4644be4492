package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/bootstrap"
	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/config"
	"github.com/BrandonDHaskell/lotgate/internal/db"
	"github.com/BrandonDHaskell/lotgate/internal/grpcapi"
	"github.com/BrandonDHaskell/lotgate/internal/httpapi"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/service"
)

const agentName = "dashboard"

func main() {
	seed := flag.Bool("seed", false, "fill an empty ledger with sample sessions (dev only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
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

	if *seed {
		if cfg.Env != "dev" {
			logger.Warn("ignoring -seed outside dev")
		} else if err := db.SeedDev(ctx, rt.DB, db.SeedDevOptions{}); err != nil {
			logger.Error("dev seed failed", zap.Error(err))
		}
	}

	monitor := service.NewMonitor(rt.Ledger, service.MonitorConfig{
		Interval: cfg.PollInterval(),
		Location: cfg.Location(),
		Buffer:   4,
	}, clock.SystemClock{}, logger, rt.Metrics)
	monitor.Start(ctx)
	defer monitor.Stop()

	// HTTP
	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.HTTPAddr,
		Dashboard: monitor,
		Incidents: rt.Journal,
		RateLimit: cfg.RateLimitRPS,
		Burst:     cfg.RateLimitBurst,
	})

	// gRPC
	grpcSrv := grpcapi.NewServer(grpcapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.GRPCAddr,
		Dashboard: monitor,
	})

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Start(); err != nil {
			logger.Error("grpc server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	// Streams only end when their subscriptions close.
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = grpcSrv.Shutdown(shutdownCtx)
}
