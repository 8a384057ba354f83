// Package endpoint implements the framed unix socket channels a bridge
// instance and its proxy talk over. There is one socket per traffic class so
// a slow dispatch call never holds up audio processing.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// DialPollInterval is how often Dial retries while the socket does not exist.
const DialPollInterval = 10 * time.Millisecond

// Listen creates the socket at path. The connection is accepted on first use.
func Listen(path string, logger *zap.Logger) (*Endpoint, error) {
	lis, err := listen(path)
	if err != nil {
		return nil, err
	}
	return &Endpoint{path: path, listener: lis, logger: logger}, nil
}

// Dial connects to the socket at path, waiting for it to be created.
func Dial(ctx context.Context, path string, logger *zap.Logger) (*Endpoint, error) {
	conn, err := dial(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	return &Endpoint{path: path, conn: conn, logger: logger}, nil
}

func listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return lis, nil
}

func dial(ctx context.Context, path string, logger *zap.Logger) (net.Conn, error) {
	var d net.Dialer
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", path, err)
		}
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("failed to dial %s: %w", path, err)
		}
		logger.Debug("waiting for socket", zap.String("path", path))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to dial %s: %w", path, ctx.Err())
		case <-time.After(DialPollInterval):
		}
	}
}

// Endpoint is one request/response channel. Requests are answered strictly
// in order.
type Endpoint struct {
	path     string
	listener net.Listener
	logger   *zap.Logger

	// mu serializes senders. A roundtrip holds it until the response arrives.
	mu     sync.Mutex
	connMu sync.Mutex
	conn   net.Conn
	closed bool

	rbuf, wbuf []byte
}

// Path returns the socket path.
func (e *Endpoint) Path() string {
	return e.path
}

func (e *Endpoint) connection() (net.Conn, error) {
	e.connMu.Lock()
	if e.closed {
		e.connMu.Unlock()
		return nil, ErrClosed
	}
	if e.conn != nil || e.listener == nil {
		conn := e.conn
		e.connMu.Unlock()
		return conn, nil
	}
	lis := e.listener
	e.connMu.Unlock()

	conn, err := lis.Accept()
	if err != nil {
		return nil, err
	}
	e.logger.Debug("accepted connection", zap.String("path", e.path))

	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.closed {
		conn.Close()
		return nil, ErrClosed
	}
	e.conn = conn
	// Only one connection is served per endpoint.
	lis.Close()
	return conn, nil
}

// Send writes one message.
func (e *Endpoint) Send(m wire.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send(m)
}

func (e *Endpoint) send(m wire.Message) error {
	conn, err := e.connection()
	if err != nil {
		return err
	}
	e.wbuf, err = writeFrame(conn, e.wbuf, m)
	return err
}

// Receive reads one message into m.
func (e *Endpoint) Receive(m wire.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receive(m)
}

func (e *Endpoint) receive(m wire.Message) error {
	conn, err := e.connection()
	if err != nil {
		return err
	}
	e.rbuf, err = readFrame(conn, e.rbuf, m)
	return err
}

// Roundtrip sends req and reads the response into resp. Concurrent
// roundtrips are serialized.
func (e *Endpoint) Roundtrip(req, resp wire.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.send(req); err != nil {
		return err
	}
	return e.receive(resp)
}

// ReceiveMulti decodes requests into req one at a time and writes the
// message returned by handler before reading the next one. It returns nil
// once the stream is closed, and the error for any other transport failure.
func (e *Endpoint) ReceiveMulti(req wire.Message, handler func() wire.Message) error {
	for {
		if err := e.Receive(req); err != nil {
			if isDisconnect(err) {
				e.logger.Debug("receive loop disconnected", zap.String("path", e.path), zap.Error(err))
				return nil
			}
			return err
		}
		resp := handler()
		if err := e.Send(resp); err != nil {
			if isDisconnect(err) {
				return nil
			}
			return err
		}
	}
}

// Close closes the connection and the listener, unblocking every pending
// call. Closing a nil endpoint does nothing.
func (e *Endpoint) Close() error {
	if e == nil {
		return nil
	}
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.listener != nil {
		if err := e.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if e.conn != nil {
		errs = append(errs, e.conn.Close())
	}
	return errors.Join(errs...)
}
