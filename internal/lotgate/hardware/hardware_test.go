package hardware_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/lotgate/internal/clock"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/hardware"
)

// fakePort records successful writes and serves scripted inbound lines.
type fakePort struct {
	mu     sync.Mutex
	writes []string
	fail   map[string]error
	lines  chan string
}

func newFakePort() *fakePort {
	return &fakePort{fail: map[string]error{}, lines: make(chan string, 4)}
}

func (p *fakePort) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[string(b)]; err != nil {
		return err
	}
	p.writes = append(p.writes, string(b))
	return nil
}

func (p *fakePort) ReadLine(ctx context.Context) (string, error) {
	select {
	case l := <-p.lines:
		return l, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *fakePort) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

var t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newSequencer(port hardware.Port, clk clock.Clock) *hardware.Sequencer {
	return hardware.NewSequencer(port, clk, hardware.Config{
		GateHold:       15 * time.Second,
		AlertHold:      5 * time.Second,
		CaptureTimeout: 50 * time.Millisecond,
	}, zap.NewNop(), nil)
}

// ── OpenGate ────────────────────────────────────────────────────────────────

func TestOpenGate_OpenHoldClose(t *testing.T) {
	port := newFakePort()
	clk := clock.NewFake(t0)

	require.NoError(t, newSequencer(port, clk).OpenGate(context.Background()))

	assert.Equal(t, []string{"1", "0"}, port.Writes())
	assert.Equal(t, []time.Duration{15 * time.Second}, clk.Sleeps())
}

func TestOpenGate_FailedOpenSendsNothingElse(t *testing.T) {
	port := newFakePort()
	port.fail["1"] = errors.New("broken pipe")
	clk := clock.NewFake(t0)

	err := newSequencer(port, clk).OpenGate(context.Background())
	assert.ErrorIs(t, err, hardware.ErrHardwareUnavailable)
	assert.Empty(t, port.Writes())
	assert.Empty(t, clk.Sleeps())
}

func TestOpenGate_FailedCloseReported(t *testing.T) {
	port := newFakePort()
	port.fail["0"] = errors.New("broken pipe")

	err := newSequencer(port, clock.NewFake(t0)).OpenGate(context.Background())
	assert.ErrorIs(t, err, hardware.ErrHardwareUnavailable)
	assert.Equal(t, []string{"1"}, port.Writes())
}

func TestOpenGate_CancelDuringHoldClosesAtOnce(t *testing.T) {
	port := newFakePort()
	seq := hardware.NewSequencer(port, clock.SystemClock{}, hardware.Config{GateHold: 10 * time.Second}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := seq.OpenGate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"1", "0"}, port.Writes())
}

// ── Alert ───────────────────────────────────────────────────────────────────

func TestAlert_WritesCodeAndHolds(t *testing.T) {
	port := newFakePort()
	clk := clock.NewFake(t0)
	seq := newSequencer(port, clk)

	require.NoError(t, seq.Alert(context.Background(), hardware.AlertDenied))
	require.NoError(t, seq.Alert(context.Background(), hardware.AlertPaid))

	assert.Equal(t, []string{"D", "P"}, port.Writes())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clk.Sleeps())
}

// ── Capture ─────────────────────────────────────────────────────────────────

func TestCapture_Outcomes(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{"done", "DONE", nil},
		{"done with whitespace", " DONE ", nil},
		{"declined", "FAIL", hardware.ErrPaymentDeclined},
		{"unexpected", "PLATE:ABC123D|BALANCE:10", hardware.ErrPaymentDeclined},
		{"timeout", "", hardware.ErrPaymentTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort()
			if tt.reply != "" {
				port.lines <- tt.reply
			}
			err := newSequencer(port, clock.NewFake(t0)).Capture(context.Background(), 750)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, []string{"PAY:750\n"}, port.Writes())
		})
	}
}

func TestCapture_ParentCancelIsNotTimeout(t *testing.T) {
	port := newFakePort()
	seq := hardware.NewSequencer(port, clock.NewFake(t0), hardware.Config{CaptureTimeout: time.Minute}, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := seq.Capture(ctx, 500)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, hardware.ErrPaymentTimeout)
}

func TestSequencer_ZeroTimingsUseDefaults(t *testing.T) {
	port := newFakePort()
	port.lines <- "DONE"
	clk := clock.NewFake(t0)
	seq := hardware.NewSequencer(port, clk, hardware.Config{}, zap.NewNop(), nil)

	require.NoError(t, seq.Capture(context.Background(), 500), "zero timeout must not expire at once")
	require.NoError(t, seq.OpenGate(context.Background()))
	assert.Equal(t, []time.Duration{hardware.DefaultGateHold}, clk.Sleeps())
}

// ── Absent channel ──────────────────────────────────────────────────────────

func TestNilPort_Unavailable(t *testing.T) {
	clk := clock.NewFake(t0)
	seq := newSequencer(nil, clk)
	ctx := context.Background()

	assert.ErrorIs(t, seq.OpenGate(ctx), hardware.ErrHardwareUnavailable)
	assert.ErrorIs(t, seq.Alert(ctx, hardware.AlertDenied), hardware.ErrHardwareUnavailable)
	assert.ErrorIs(t, seq.Capture(ctx, 500), hardware.ErrHardwareUnavailable)
	assert.Empty(t, clk.Sleeps())
}

// ── Link ────────────────────────────────────────────────────────────────────

func TestLink_ReadWriteOverPipe(t *testing.T) {
	ours, theirs := net.Pipe()
	link := hardware.NewLink(ours)
	t.Cleanup(func() { link.Close() })

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 1)
		if _, err := theirs.Read(buf); err == nil {
			got <- string(buf)
		}
		_, _ = theirs.Write([]byte("DONE\r\nPLATE:ABC123D|BALANCE:900\n"))
	}()

	require.NoError(t, link.Write([]byte("1")))
	assert.Equal(t, "1", <-got)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	line, err := link.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DONE", line)
	line, err = link.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PLATE:ABC123D|BALANCE:900", line)
}

func TestLink_ClosedRemoteEndsReads(t *testing.T) {
	ours, theirs := net.Pipe()
	link := hardware.NewLink(ours)
	t.Cleanup(func() { link.Close() })
	theirs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := link.ReadLine(ctx)
	assert.ErrorIs(t, err, hardware.ErrLinkClosed)
}

func TestLink_WriteAfterClose(t *testing.T) {
	ours, _ := net.Pipe()
	link := hardware.NewLink(ours)
	require.NoError(t, link.Close())
	assert.ErrorIs(t, link.Write([]byte("0")), hardware.ErrLinkClosed)
	assert.NoError(t, link.Close())
}

func TestLink_ReadLineHonoursContext(t *testing.T) {
	ours, _ := net.Pipe()
	link := hardware.NewLink(ours)
	t.Cleanup(func() { link.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := link.ReadLine(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		_, _ = conn.Write([]byte("DONE\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	link, err := hardware.Dial(ctx, "tcp://"+ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	seq := hardware.NewSequencer(link, clock.NewFake(t0), hardware.Config{CaptureTimeout: time.Second}, zap.NewNop(), nil)
	require.NoError(t, seq.Capture(ctx, 1250))
	assert.Equal(t, "PAY:1250\n", <-received)
}

func TestDial_MissingDevice(t *testing.T) {
	_, err := hardware.Dial(context.Background(), filepath.Join(t.TempDir(), "ttyACM9"))
	assert.ErrorIs(t, err, hardware.ErrHardwareUnavailable)
}
