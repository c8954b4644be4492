package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

var (
	// ErrStorageUnavailable wraps every driver-level failure so agents can
	// tell "skip this cycle" apart from a business outcome.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	ErrNoSession     = errors.New("no open session for plate")
	ErrAlreadyParked = errors.New("plate already has an open session")
	ErrAlreadyPaid   = errors.New("session already paid")
)

// SettleRequest is the write performed on a positive capture acknowledgment.
type SettleRequest struct {
	Plate     string
	SettledAt time.Time
	// MarkPaid flips the open UNPAID session to PAID.  False when re-billing
	// a session that is already PAID.
	MarkPaid    bool
	Transaction types.Transaction
}

// Ledger is the single source of truth shared by every agent.  Each method
// is independently atomic; nothing spans two calls.
type Ledger interface {
	HasOpenSession(ctx context.Context, plate string) (bool, error)
	LatestPaymentStatus(ctx context.Context, plate string) (types.PaymentStatus, error)
	OpenSession(ctx context.Context, plate string) (types.Session, error)

	AppendEntry(ctx context.Context, plate string, at time.Time) error
	AppendExit(ctx context.Context, plate string, at time.Time) error
	AppendUnauthorized(ctx context.Context, plate string, at time.Time, reason string) error
	MarkPaid(ctx context.Context, plate string, exitTime time.Time) error
	AppendTransaction(ctx context.Context, tx types.Transaction) error
	Settle(ctx context.Context, req SettleRequest) error

	Snapshot(ctx context.Context, now time.Time, loc *time.Location) (types.Snapshot, error)
	Fingerprint(ctx context.Context) (types.Fingerprint, error)
}

// DecisionStore persists admission decisions as an append-only audit log.
type DecisionStore interface {
	RecordDecision(ctx context.Context, d types.Decision) error
}

// Limits shared by both implementations.
const (
	RecentTransactions = 10
	RecentUnauthorized = 10
)

// StartOfDay returns local midnight of now in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	l := now.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}
