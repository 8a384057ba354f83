package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// EventHandler answers one event. onPrimary is false for events that arrived
// on an ad-hoc connection because the primary connection was busy.
type EventHandler func(ev *wire.Event, onPrimary bool) *wire.EventResult

// EventEndpoint carries dispatcher calls or host callbacks. Unlike Endpoint
// it allows concurrent senders: a sender finding the primary connection busy
// opens an ad-hoc connection to the same socket for its one event.
type EventEndpoint struct {
	dir      wire.Direction
	registry *wire.Registry
	path     string
	logger   *zap.Logger

	// primary is the dialed connection on the sending side.
	primary *Endpoint
	// listener accepts the primary connection and all ad-hoc connections on
	// the receiving side.
	listener net.Listener

	mu     sync.Mutex
	adhoc  map[net.Conn]struct{}
	closed bool
}

// ListenEvents creates the receiving side of an event channel.
func ListenEvents(path string, dir wire.Direction, registry *wire.Registry, logger *zap.Logger) (*EventEndpoint, error) {
	lis, err := listen(path)
	if err != nil {
		return nil, err
	}
	return &EventEndpoint{
		dir:      dir,
		registry: registry,
		path:     path,
		logger:   logger,
		listener: lis,
		adhoc:    make(map[net.Conn]struct{}),
	}, nil
}

// DialEvents connects the sending side of an event channel.
func DialEvents(ctx context.Context, path string, dir wire.Direction, registry *wire.Registry, logger *zap.Logger) (*EventEndpoint, error) {
	primary, err := Dial(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	return &EventEndpoint{
		dir:      dir,
		registry: registry,
		path:     path,
		logger:   logger,
		primary:  primary,
		adhoc:    make(map[net.Conn]struct{}),
	}, nil
}

// Direction returns the direction of the events carried.
func (e *EventEndpoint) Direction() wire.Direction {
	return e.dir
}

// SendEvent sends ev and waits for its result. Payloads not matching the
// opcode panic with a *wire.ProtocolError.
func (e *EventEndpoint) SendEvent(ev *wire.Event) (*wire.EventResult, error) {
	if e.primary == nil {
		return nil, fmt.Errorf("send on the receiving side of %s", e.path)
	}
	e.registry.MustValidateRequest(e.dir, ev)

	res := &wire.EventResult{}
	if e.primary.mu.TryLock() {
		err := func() error {
			defer e.primary.mu.Unlock()
			if err := e.primary.send(ev); err != nil {
				return err
			}
			return e.primary.receive(res)
		}()
		if err != nil {
			return nil, err
		}
	} else if err := e.sendAdhoc(ev, res); err != nil {
		return nil, err
	}

	e.registry.MustValidateResponse(e.dir, ev.Opcode, res)
	return res, nil
}

func (e *EventEndpoint) sendAdhoc(ev *wire.Event, res *wire.EventResult) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	conn, err := net.Dial("unix", e.path)
	if err != nil {
		return fmt.Errorf("failed to open ad-hoc connection: %w", err)
	}
	if !e.track(conn) {
		return ErrClosed
	}
	defer e.untrack(conn)

	e.logger.Debug("sending on ad-hoc connection", zap.String("opcode", wire.OpcodeName(e.dir, ev.Opcode)))
	if _, err := writeFrame(conn, nil, ev); err != nil {
		return err
	}
	_, err = readFrame(conn, nil, res)
	return err
}

func (e *EventEndpoint) track(conn net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		conn.Close()
		return false
	}
	e.adhoc[conn] = struct{}{}
	return true
}

func (e *EventEndpoint) untrack(conn net.Conn) {
	e.mu.Lock()
	delete(e.adhoc, conn)
	e.mu.Unlock()
	conn.Close()
}

// ReceiveEvents serves events until the primary connection closes. The
// first accepted connection is the primary one and is served on the calling
// goroutine; every later connection gets its own goroutine. It returns nil
// when the partner disconnects or the endpoint is closed.
func (e *EventEndpoint) ReceiveEvents(handler EventHandler) error {
	if e.listener == nil {
		return fmt.Errorf("receive on the sending side of %s", e.path)
	}

	conn, err := e.listener.Accept()
	if err != nil {
		if isDisconnect(err) {
			return nil
		}
		return err
	}
	if !e.track(conn) {
		return nil
	}
	defer e.untrack(conn)

	accepting := make(chan struct{})
	defer func() { <-accepting }()
	// Stop accepting once the primary connection is gone.
	defer e.listener.Close()

	go func() {
		defer close(accepting)
		for {
			c, err := e.listener.Accept()
			if err != nil {
				if !isDisconnect(err) {
					e.logger.Warn("failed to accept ad-hoc connection", zap.Error(err))
				}
				return
			}
			if !e.track(c) {
				return
			}
			go func() {
				defer e.untrack(c)
				if err := e.serve(c, handler, false); err != nil {
					e.logger.Warn("ad-hoc connection failed", zap.Error(err))
				}
			}()
		}
	}()

	err = e.serve(conn, handler, true)
	// Ad-hoc handlers still inside the plugin are not waited for; their
	// responses fail once the connections are closed.
	e.closeAdhoc(conn)
	return err
}

func (e *EventEndpoint) serve(conn net.Conn, handler EventHandler, onPrimary bool) error {
	var (
		rbuf, wbuf []byte
		ev         wire.Event
		err        error
	)
	for {
		rbuf, err = readFrame(conn, rbuf, &ev)
		if err != nil {
			if isDisconnect(err) {
				return nil
			}
			return err
		}
		e.registry.MustValidateRequest(e.dir, &ev)

		res := handler(&ev, onPrimary)
		if res == nil {
			res = &wire.EventResult{}
		}
		e.registry.MustValidateResponse(e.dir, ev.Opcode, res)

		wbuf, err = writeFrame(conn, wbuf, res)
		if err != nil {
			if isDisconnect(err) {
				return nil
			}
			return err
		}
	}
}

func (e *EventEndpoint) closeAdhoc(except net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.adhoc {
		if c != except {
			c.Close()
		}
	}
}

// Close closes every connection and the listener. Closing a nil endpoint
// does nothing.
func (e *EventEndpoint) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for c := range e.adhoc {
		c.Close()
	}
	e.mu.Unlock()

	var errs []error
	if e.primary != nil {
		errs = append(errs, e.primary.Close())
	}
	if e.listener != nil {
		if err := e.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
