package endpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// Role selects which side of the endpoint set a process is.
type Role uint8

const (
	// Surrogate is the process hosting the plugin. It handles parameters,
	// process and dispatch requests.
	Surrogate Role = iota
	// Host is the process running the proxy. It handles control messages
	// and host callbacks.
	Host
)

func (r Role) String() string {
	if r == Host {
		return "host"
	}
	return "surrogate"
}

// Socket names inside the base directory.
const (
	ControlSocket    = "control.sock"
	ParametersSocket = "parameters.sock"
	ProcessSocket    = "process.sock"
	DispatchSocket   = "dispatch.sock"
	CallbackSocket   = "callback.sock"
)

// Set is the five endpoints of one bridge instance.
type Set struct {
	BaseDir string

	// Control carries the descriptor from the surrogate and the session
	// configuration back.
	Control *Endpoint
	// Parameters carries getParameter and setParameter calls.
	Parameters *Endpoint
	// Process carries one request per audio block.
	Process *Endpoint
	// Dispatch carries dispatcher calls from the host.
	Dispatch *EventEndpoint
	// Callback carries host callbacks from the plugin.
	Callback *EventEndpoint

	role      Role
	registry  *wire.Registry
	logger    *zap.Logger
	listening bool
	closeOnce sync.Once
}

// NewSet returns an unconnected set rooted at baseDir.
func NewSet(baseDir string, role Role, registry *wire.Registry, logger *zap.Logger) *Set {
	return &Set{
		BaseDir:  baseDir,
		role:     role,
		registry: registry,
		logger:   logger.Named("endpoints").With(zap.Stringer("role", role)),
	}
}

func (s *Set) path(name string) string {
	return filepath.Join(s.BaseDir, name)
}

// Listen creates the sockets this role handles. The host calls it before
// starting the surrogate; Connect calls it otherwise.
func (s *Set) Listen() (err error) {
	if s.listening {
		return nil
	}
	if err := os.MkdirAll(s.BaseDir, 0700); err != nil {
		return fmt.Errorf("failed to create endpoint directory: %w", err)
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.role == Surrogate {
		if s.Parameters, err = Listen(s.path(ParametersSocket), s.logger); err != nil {
			return err
		}
		if s.Process, err = Listen(s.path(ProcessSocket), s.logger); err != nil {
			return err
		}
		if s.Dispatch, err = ListenEvents(s.path(DispatchSocket), wire.Dispatch, s.registry, s.logger); err != nil {
			return err
		}
	} else {
		if s.Control, err = Listen(s.path(ControlSocket), s.logger); err != nil {
			return err
		}
		if s.Callback, err = ListenEvents(s.path(CallbackSocket), wire.Callback, s.registry, s.logger); err != nil {
			return err
		}
	}
	s.listening = true
	return nil
}

// Connect listens on the sockets this role handles and dials the others,
// waiting for the partner to create them.
func (s *Set) Connect(ctx context.Context) (err error) {
	if err := s.Listen(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.role == Surrogate {
		if s.Control, err = Dial(ctx, s.path(ControlSocket), s.logger); err != nil {
			return err
		}
		if s.Callback, err = DialEvents(ctx, s.path(CallbackSocket), wire.Callback, s.registry, s.logger); err != nil {
			return err
		}
	} else {
		if s.Parameters, err = Dial(ctx, s.path(ParametersSocket), s.logger); err != nil {
			return err
		}
		if s.Process, err = Dial(ctx, s.path(ProcessSocket), s.logger); err != nil {
			return err
		}
		if s.Dispatch, err = DialEvents(ctx, s.path(DispatchSocket), wire.Dispatch, s.registry, s.logger); err != nil {
			return err
		}
	}
	s.logger.Debug("connected", zap.String("baseDir", s.BaseDir))
	return nil
}

// Close closes every endpoint, unblocking all receive loops. The host also
// removes the base directory.
func (s *Set) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for _, c := range []interface{ Close() error }{
			s.Control, s.Parameters, s.Process, s.Dispatch, s.Callback,
		} {
			errs = append(errs, c.Close())
		}
		if s.role == Host {
			errs = append(errs, os.RemoveAll(s.BaseDir))
		}
	})
	return errors.Join(errs...)
}
