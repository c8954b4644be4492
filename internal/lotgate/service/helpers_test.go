package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store/memory"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

// fakeActuator records every hardware command in order.
type fakeActuator struct {
	mu      sync.Mutex
	calls   []string
	gateErr error
}

func (a *fakeActuator) OpenGate(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "open")
	return a.gateErr
}

func (a *fakeActuator) Alert(_ context.Context, code hardware.AlertCode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "alert:"+string(code))
	return nil
}

func (a *fakeActuator) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// fakeTerminal answers every capture with err.
type fakeTerminal struct {
	err     error
	amounts []int64
}

func (t *fakeTerminal) Capture(_ context.Context, amount int64) error {
	t.amounts = append(t.amounts, amount)
	return t.err
}

// brokenLedger fails every read with a storage error.
type brokenLedger struct {
	*memory.Ledger
}

func (brokenLedger) OpenSession(context.Context, string) (types.Session, error) {
	return types.Session{}, store.ErrStorageUnavailable
}

// racingLedger loses every AppendEntry to another writer.
type racingLedger struct {
	*memory.Ledger
}

func (racingLedger) AppendEntry(context.Context, string, time.Time) error {
	return store.ErrAlreadyParked
}

// failingWrites reports the storage as down for writes only.
type failingWrites struct {
	*memory.Ledger
}

func (failingWrites) AppendEntry(context.Context, string, time.Time) error {
	return store.ErrStorageUnavailable
}

func (failingWrites) AppendUnauthorized(context.Context, string, time.Time, string) error {
	return store.ErrStorageUnavailable
}
