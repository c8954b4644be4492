package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/telemetry"
)

// SnapshotSource is the read side of the ledger the monitor needs.
type SnapshotSource interface {
	Snapshot(ctx context.Context, now time.Time, loc *time.Location) (types.Snapshot, error)
	Fingerprint(ctx context.Context) (types.Fingerprint, error)
}

type MonitorConfig struct {
	// Interval between fingerprint polls.  Defaults to 500ms.
	Interval time.Duration

	// Location decides "today" and the hour buckets.  Defaults to time.Local.
	Location *time.Location

	// Buffer is each subscriber's channel capacity.  Defaults to 1.
	Buffer int
}

// Monitor polls the ledger fingerprint and pushes a fresh snapshot to every
// subscriber whenever it moves.  Delivery is at most once: a subscriber
// whose buffer is full misses that update.
type Monitor struct {
	source   SnapshotSource
	clock    clock.Clock
	interval time.Duration
	loc      *time.Location
	buffer   int
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	// pollMu orders polls against new subscriptions.
	pollMu sync.Mutex
	last   types.Fingerprint
	primed bool

	mu   sync.Mutex
	subs map[string]chan types.Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(src SnapshotSource, cfg MonitorConfig, clk clock.Clock, logger *zap.Logger, metrics *telemetry.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		source:   src,
		clock:    clk,
		interval: cfg.Interval,
		loc:      cfg.Location,
		buffer:   cfg.Buffer,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[string]chan types.Snapshot),
		done:     make(chan struct{}),
	}
}

// Start begins the background poll loop.  It polls once immediately, then
// on every interval until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
	m.logger.Info("monitor started", zap.Duration("interval", m.interval))
}

// Stop signals the loop to exit, waits for it, and closes every
// subscriber channel.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("monitor poll failed", zap.Error(err))
	}
}

// Poll runs one check and broadcasts if the ledger changed since the last
// one.  The first Poll always broadcasts.
func (m *Monitor) Poll(ctx context.Context) (bool, error) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	fp, err := m.source.Fingerprint(ctx)
	if err != nil {
		return false, fmt.Errorf("fingerprint: %w", err)
	}
	if m.primed && fp == m.last {
		return false, nil
	}

	snap, err := m.Current(ctx)
	if err != nil {
		return false, err
	}
	m.last, m.primed = fp, true
	m.broadcast(ctx, snap)
	return true, nil
}

// Current builds a snapshot of the ledger as of now.
func (m *Monitor) Current(ctx context.Context) (types.Snapshot, error) {
	snap, err := m.source.Snapshot(ctx, m.clock.Now(), m.loc)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

func (m *Monitor) broadcast(ctx context.Context, snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A full buffer loses its oldest snapshot so a slow reader still ends
	// up on the latest state.  Only broadcast sends, under mu.
	delivered := 0
	for id, ch := range m.subs {
		select {
		case ch <- snap:
			delivered++
			continue
		default:
		}
		select {
		case <-ch:
			m.logger.Debug("subscriber lagging, stale snapshot replaced", zap.String("subscriber", id))
		default:
		}
		select {
		case ch <- snap:
			delivered++
		default:
		}
	}
	m.metrics.Broadcast(ctx, delivered)
}

// Subscribe registers a subscriber and hands it the current snapshot
// straight away.  The subscription ends when ctx is done or unsubscribe is
// called; the channel is closed then.
func (m *Monitor) Subscribe(ctx context.Context) (id string, updates <-chan types.Snapshot, unsubscribe func(), err error) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	snap, err := m.Current(ctx)
	if err != nil {
		return "", nil, nil, err
	}

	id = uuid.NewString()
	ch := make(chan types.Snapshot, m.buffer)
	ch <- snap

	m.mu.Lock()
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				close(c)
				delete(m.subs, id)
			}
		})
	}
	stop := context.AfterFunc(ctx, release)
	return id, ch, func() { stop(); release() }, nil
}

// Subscribers is the number of live subscriptions.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
