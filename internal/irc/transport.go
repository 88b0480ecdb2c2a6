package irc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircreader"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by writes on a transport whose socket is down.
	ErrNotConnected = errors.New("irc: not connected")
	// ErrSessionClosed is returned once the session has quit.
	ErrSessionClosed = errors.New("irc: session closed")
)

const writeTimeout = 30 * time.Second

// ConnectError reports a failure to open the socket.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("irc: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ContextDialer opens the underlying stream. *net.Dialer and *tls.Dialer
// both satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// transport owns one socket: a read loop framing inbound lines onto a
// channel and a buffered write path flushed by the liveness loop.
type transport struct {
	conn net.Conn
	log  *zap.Logger

	lines    chan string
	readDone chan struct{}
	closing  chan struct{}

	wmu sync.Mutex
	w   *bufio.Writer

	connected atomic.Bool
	closeOnce sync.Once
	debugRaw  bool
}

func dialTransport(ctx context.Context, d ContextDialer, addr string, log *zap.Logger, debugRaw bool) (*transport, error) {
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return newTransport(conn, log, debugRaw), nil
}

func newTransport(conn net.Conn, log *zap.Logger, debugRaw bool) *transport {
	t := &transport{
		conn:     conn,
		log:      log,
		lines:    make(chan string, 64),
		readDone: make(chan struct{}),
		closing:  make(chan struct{}),
		w:        bufio.NewWriter(conn),
		debugRaw: debugRaw,
	}
	t.connected.Store(true)
	go t.readLoop()
	return t
}

// Lines yields framed inbound lines; it is closed when the read loop ends.
func (t *transport) Lines() <-chan string {
	return t.lines
}

// Connected reports whether the read loop is still running on an open socket.
func (t *transport) Connected() bool {
	return t.connected.Load()
}

func (t *transport) readLoop() {
	defer close(t.readDone)
	defer close(t.lines)

	reader := ircreader.NewIRCReader(t.conn)
	for {
		raw, err := reader.ReadLine()
		if err != nil {
			t.connected.Store(false)
			select {
			case <-t.closing:
			default:
				if errors.Is(err, io.EOF) {
					t.log.Warn("server closed the connection")
				} else {
					t.log.Warn("read failed", zap.Error(err))
				}
			}
			return
		}

		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" {
			continue
		}
		if t.debugRaw {
			t.log.Debug("<<", zap.String("line", line))
		}

		select {
		case t.lines <- line:
		case <-t.closing:
			return
		}
	}
}

// WriteLine buffers one command, adding the line terminator if absent.
func (t *transport) WriteLine(text string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\r\n"
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if !t.connected.Load() {
		return ErrNotConnected
	}
	if t.debugRaw {
		t.log.Debug(">>", zap.String("line", strings.TrimRight(text, "\r\n")))
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := t.w.WriteString(text); err != nil {
		return fmt.Errorf("irc: write: %w", err)
	}
	return nil
}

// Flush pushes buffered writes to the socket. A failure here means the
// connection is dead.
func (t *transport) Flush() error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if !t.connected.Load() {
		return ErrNotConnected
	}
	if t.w.Buffered() == 0 {
		return nil
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("irc: flush: %w", err)
	}
	return nil
}

// Close shuts the socket and waits for the read loop. It is idempotent.
func (t *transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.closing)
		err = t.conn.Close()
		<-t.readDone
	})
	return err
}

func (t *transport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
