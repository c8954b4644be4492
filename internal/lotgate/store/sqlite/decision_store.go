package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/lotgate/internal/db"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

type DecisionStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDecisionStore(db *sql.DB, writer *dbpkg.Worker) *DecisionStore {
	return &DecisionStore{db: db, writer: writer}
}

var _ store.DecisionStore = (*DecisionStore)(nil)

func (s *DecisionStore) RecordDecision(ctx context.Context, d types.Decision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	var granted int
	if d.Granted {
		granted = 1
	}

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(lane, plate_number, granted, reason, decided_at_ms)
VALUES (?, ?, ?, ?, ?);
`, string(d.Lane), d.Plate, granted, d.Reason, toMs(d.DecidedAt)); err != nil {
			return fmt.Errorf("RecordDecision insert: %w", err)
		}
		return nil
	})
	return classify("RecordDecision", err)
}
