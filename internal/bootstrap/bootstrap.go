// Package bootstrap assembles the process-wide pieces every lotgate binary
// shares: logger, meters, ledger connection, writer and operator journal.
package bootstrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/config"
	"github.com/BrandonDHaskell/lotgate/internal/db"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store/sqlite"
	"github.com/BrandonDHaskell/lotgate/internal/operator"
	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

type Runtime struct {
	Agent     string
	Config    config.Config
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
	DB        *sql.DB
	Writer    *db.Worker
	Ledger    *sqlite.Ledger
	Decisions *sqlite.DecisionStore
	Journal   *operator.Journal

	closers []func() error
}

// Open builds a Runtime for agent.  logger may be nil, in which case one is
// built from cfg.Env.  On error everything opened so far is closed again.
func Open(ctx context.Context, cfg config.Config, agent string, logger *zap.Logger) (*Runtime, error) {
	r := &Runtime{Agent: agent, Config: cfg}

	if logger == nil {
		var err error
		if logger, err = telemetry.NewLogger(cfg.Env, agent); err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error { _ = logger.Sync(); return nil })
	}
	r.Logger = logger

	mp, shutdown, err := telemetry.NewMeterProvider(ctx, cfg.OTLPEndpoint, agent)
	if err != nil {
		return nil, r.abort(err)
	}
	r.closers = append(r.closers, func() error { return shutdown(context.WithoutCancel(ctx)) })
	if r.Metrics, err = telemetry.NewMetrics(mp); err != nil {
		return nil, r.abort(err)
	}

	if r.DB, err = db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env}); err != nil {
		return nil, r.abort(err)
	}
	r.closers = append(r.closers, r.DB.Close)

	r.Writer = db.NewWorker(r.DB)
	r.closers = append(r.closers, func() error { r.Writer.Close(); return nil })

	r.Ledger = sqlite.NewLedger(r.DB, r.Writer)
	r.Decisions = sqlite.NewDecisionStore(r.DB, r.Writer)

	if r.Journal, err = operator.Open(cfg.JournalPath(agent)); err != nil {
		return nil, r.abort(err)
	}
	r.closers = append(r.closers, r.Journal.Close)

	r.Logger.Info("runtime ready",
		zap.String("db", cfg.DBPath),
		zap.String("journal", cfg.JournalPath(agent)),
		zap.Bool("otlp", cfg.OTLPEndpoint != ""),
	)
	return r, nil
}

func (r *Runtime) abort(err error) error {
	return errors.Join(err, r.Close())
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Hardware dials the configured lane controller.  A missing address or a
// failed dial yields a nil Port: the agent keeps running and every
// command it issues fails with hardware.ErrHardwareUnavailable.
func (r *Runtime) Hardware(ctx context.Context) (*hardware.Link, hardware.Port) {
	addr := r.Config.HardwareAddr
	if addr == "" {
		r.Logger.Warn("no hardware address configured; commands will fail")
		return nil, nil
	}
	link, err := hardware.Dial(ctx, addr)
	if err != nil {
		r.Logger.Error("hardware dial failed", zap.String("addr", addr), zap.Error(err))
		_ = r.Journal.Report(ctx, operator.Incident{
			Kind:    operator.KindHardware,
			Lane:    r.Agent,
			Message: err.Error(),
		})
		return nil, nil
	}
	r.closers = append(r.closers, link.Close)
	r.Logger.Info("hardware link open", zap.String("addr", addr))
	return link, link
}

// DumpIncidents writes up to n incidents from the journal at path to w,
// newest first, one JSON object per line.  It fails fast when the owning
// agent is still running and holds the journal lock.
func DumpIncidents(w io.Writer, path string, n int) error {
	j, err := operator.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	list, err := j.Recent(n)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, inc := range list {
		if err := enc.Encode(inc); err != nil {
			return err
		}
	}
	return nil
}
