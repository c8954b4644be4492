package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/service"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/store/memory"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
)

func newTestMonitor(src service.SnapshotSource, interval time.Duration) *service.Monitor {
	return service.NewMonitor(src, service.MonitorConfig{
		Interval: interval,
		Location: time.UTC,
	}, clock.NewFake(t0), zap.NewNop(), nil)
}

func receive(t *testing.T, ch <-chan types.Snapshot) types.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return types.Snapshot{}
	}
}

// ── Subscribe ───────────────────────────────────────────────────────────────

func TestSubscribe_ImmediateSnapshot(t *testing.T) {
	ledger := memory.NewLedger()
	require.NoError(t, ledger.AppendEntry(context.Background(), "ABC123D", t0.Add(-time.Hour)))
	m := newTestMonitor(ledger, time.Hour)

	_, ch, unsubscribe, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	snap := receive(t, ch)
	assert.Equal(t, 1, snap.Occupancy.Current)
	assert.Len(t, snap.HourlyEntries, 24)
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	m := newTestMonitor(memory.NewLedger(), time.Hour)

	_, ch, unsubscribe, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers())

	unsubscribe()
	unsubscribe()
	<-ch // immediate snapshot
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, m.Subscribers())
}

func TestSubscribe_ContextEndsSubscription(t *testing.T) {
	m := newTestMonitor(memory.NewLedger(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	_, _, _, err := m.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool { return m.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

// ── Poll ────────────────────────────────────────────────────────────────────

func TestPoll_BroadcastsOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	m := newTestMonitor(ledger, time.Hour)

	changed, err := m.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed, "first poll primes and broadcasts")

	_, ch, unsubscribe, err := m.Subscribe(ctx)
	require.NoError(t, err)
	defer unsubscribe()
	receive(t, ch)

	changed, err = m.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, ledger.AppendUnauthorized(ctx, "XYZ789W", t0, service.ReasonNoPayment))
	changed, err = m.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	snap := receive(t, ch)
	require.Len(t, snap.UnauthorizedExits, 1)
	assert.Equal(t, "XYZ789W", snap.UnauthorizedExits[0].Plate)
}

func TestPoll_LaggingSubscriberGetsLatest(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	m := newTestMonitor(ledger, time.Hour)
	_, err := m.Poll(ctx)
	require.NoError(t, err)

	_, ch, unsubscribe, err := m.Subscribe(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	// The buffer holds the immediate snapshot; each poll replaces the
	// unread one instead of queueing behind it.
	require.NoError(t, ledger.AppendEntry(ctx, "AAA111A", t0))
	_, err = m.Poll(ctx)
	require.NoError(t, err)
	require.NoError(t, ledger.AppendEntry(ctx, "BBB222B", t0))
	_, err = m.Poll(ctx)
	require.NoError(t, err)

	snap := receive(t, ch)
	assert.Equal(t, 2, snap.Occupancy.Current, "latest state, not the stale immediate snapshot")
	assert.Len(t, ch, 0, "no backlog replay")
}

func TestSubscribe_UnsubscribeLeavesOthersServed(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	m := newTestMonitor(ledger, time.Hour)
	_, err := m.Poll(ctx)
	require.NoError(t, err)

	_, _, first, err := m.Subscribe(ctx)
	require.NoError(t, err)
	_, ch, second, err := m.Subscribe(ctx)
	require.NoError(t, err)
	defer second()
	receive(t, ch)

	first()
	assert.Equal(t, 1, m.Subscribers())

	require.NoError(t, ledger.AppendEntry(ctx, "AAA111A", t0))
	changed, err := m.Poll(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, 1, receive(t, ch).Occupancy.Current)
}

type failingSource struct{}

func (failingSource) Snapshot(context.Context, time.Time, *time.Location) (types.Snapshot, error) {
	return types.Snapshot{}, store.ErrStorageUnavailable
}

func (failingSource) Fingerprint(context.Context) (types.Fingerprint, error) {
	return types.Fingerprint{}, store.ErrStorageUnavailable
}

func TestPoll_StorageFailure(t *testing.T) {
	m := newTestMonitor(failingSource{}, time.Hour)

	_, err := m.Poll(context.Background())
	assert.True(t, errors.Is(err, store.ErrStorageUnavailable))

	_, _, _, err = m.Subscribe(context.Background())
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}

// ── Background loop ─────────────────────────────────────────────────────────

func TestMonitor_StartStop(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	m := newTestMonitor(ledger, 10*time.Millisecond)

	_, ch, _, err := m.Subscribe(ctx)
	require.NoError(t, err)
	receive(t, ch)

	m.Start(ctx)
	require.NoError(t, ledger.AppendEntry(ctx, "ABC123D", t0))

	require.Eventually(t, func() bool {
		select {
		case s := <-ch:
			return s.Occupancy.Current == 1
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	for range ch {
	}
	assert.Zero(t, m.Subscribers())
}
