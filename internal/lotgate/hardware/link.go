// Package hardware drives the lane controller: gate actuator, alert
// buzzer and payment terminal share one ordered byte stream.
package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
)

var ErrLinkClosed = errors.New("hardware link closed")

// Port is the byte channel the Sequencer talks through.
type Port interface {
	Write(p []byte) error
	// ReadLine blocks for the next inbound line, without its terminator.
	ReadLine(ctx context.Context) (string, error)
}

// Link adapts an io.ReadWriteCloser into a Port.  Writes are serialized;
// a single reader goroutine splits inbound bytes into lines.
type Link struct {
	rwc io.ReadWriteCloser

	wmu   sync.Mutex
	lines chan string
	done  chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	readErr   error
}

var _ Port = (*Link)(nil)

func NewLink(rwc io.ReadWriteCloser) *Link {
	l := &Link{
		rwc:   rwc,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	go l.readLoop()
	return l
}

// Dial opens addr.  "tcp://host:port" dials a network controller; anything
// else is treated as a device path such as /dev/ttyACM0.
func Dial(ctx context.Context, addr string) (*Link, error) {
	if hostport, ok := strings.CutPrefix(addr, "tcp://"); ok {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", hostport)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w: %w", addr, ErrHardwareUnavailable, err)
		}
		return NewLink(conn), nil
	}
	f, err := os.OpenFile(addr, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", addr, ErrHardwareUnavailable, err)
	}
	return NewLink(f), nil
}

func (l *Link) readLoop() {
	defer close(l.lines)
	sc := bufio.NewScanner(l.rwc)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		select {
		case l.lines <- line:
		case <-l.done:
			return
		}
	}
	l.errMu.Lock()
	l.readErr = sc.Err()
	l.errMu.Unlock()
}

func (l *Link) Write(p []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	_, err := l.rwc.Write(p)
	return err
}

func (l *Link) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-l.lines:
		if !ok {
			l.errMu.Lock()
			err := l.readErr
			l.errMu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return "", fmt.Errorf("%w: %w", ErrLinkClosed, err)
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.rwc.Close()
	})
	return err
}
