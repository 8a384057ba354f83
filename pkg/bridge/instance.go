// Package bridge hosts one VST2 plugin on behalf of a host process.
//
// An Instance loads the plugin, connects to the host's proxy through an
// endpoint set and then serves dispatcher calls, parameter access and audio
// processing, each with the thread affinity the plugin expects.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/endpoint"
	"github.com/n0izn0iz/vst-bridge/pkg/logging"
	"github.com/n0izn0iz/vst-bridge/pkg/mainctx"
	"github.com/n0izn0iz/vst-bridge/pkg/recursion"
	"github.com/n0izn0iz/vst-bridge/pkg/rtsched"
	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
	"github.com/n0izn0iz/vst-bridge/pkg/valuecache"
	"github.com/n0izn0iz/vst-bridge/pkg/vst2"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// ErrInitFailed is returned when the plugin's entry point returns no effect.
var ErrInitFailed = errors.New("plugin failed to initialize")

// errMainStopped is returned when the main context stopped before the
// plugin could be instantiated.
var errMainStopped = errors.New("main context stopped")

// Options configure New.
type Options struct {
	// PluginPath is the library to load unless Library is set.
	PluginPath string
	// Library overrides loading PluginPath.
	Library vst2.Library
	// BaseDir is the endpoint directory shared with the host.
	BaseDir string
	// Main runs everything that must happen on the GUI thread.
	Main *mainctx.Context

	Registry  *wire.Registry
	Scheduler rtsched.Scheduler
	Editors   EditorFactory
	Observer  Observer
	Logger    *zap.Logger
}

// Instance is one hosted plugin and its session with the host.
type Instance struct {
	logger    *zap.Logger
	events    *logging.EventLogger
	main      *mainctx.Context
	sched     rtsched.Scheduler
	editors   EditorFactory
	observer  Observer
	endpoints *endpoint.Set
	recursion recursion.Coordinator

	lib    vst2.Library
	effect vst2.Effect
	caps   Capabilities
	config wire.Config

	initialized atomic.Bool
	closed      atomic.Bool
	hideDAW     atomic.Bool

	// editor is only touched on the main thread.
	editor     Editor
	editorRect wire.Rect
	removeIdle func()

	timeInfo     valuecache.Cache[wire.TimeInfo]
	processLevel valuecache.Cache[int32]

	// eventsMu guards the retained MIDI events shared between the dispatch
	// goroutine and the audio worker.
	eventsMu    sync.Mutex
	retained    []vst2.Retained
	clearEvents bool

	blockSize atomic.Uint64
	precision atomic.Uint32

	// bufferMu guards the shared buffer against remapping during a block.
	bufferMu     sync.Mutex
	buffer       *shmbuf.Buffer
	bufferConfig bufferLayout
	views        channelViews

	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New loads the plugin, connects to the host and instantiates the plugin on
// the main thread. It must not be called from the main context's goroutine.
func New(ctx context.Context, opts Options) (_ *Instance, err error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = wire.DefaultRegistry()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = rtsched.Thread{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	logger := opts.Logger.Named("bridge").With(zap.String("baseDir", opts.BaseDir))
	inst := &Instance{
		logger:    logger,
		events:    logging.NewEventLogger(logger),
		main:      opts.Main,
		sched:     opts.Scheduler,
		editors:   opts.Editors,
		observer:  opts.Observer,
		endpoints: endpoint.NewSet(opts.BaseDir, endpoint.Surrogate, opts.Registry, logger),
	}
	inst.blockSize.Store(defaultBlockSize)

	inst.lib = opts.Library
	if inst.lib == nil {
		if inst.lib, err = vst2.Open(opts.PluginPath); err != nil {
			return nil, fmt.Errorf("failed to load plugin: %w", err)
		}
	}
	defer func() {
		if err != nil {
			if cerr := inst.lib.Close(); cerr != nil {
				logger.Warn("failed to unload plugin", zap.Error(cerr))
			}
		}
	}()

	entry, symbol, err := vst2.ResolveEntryPoint(inst.lib)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", opts.PluginPath, err)
	}
	logger.Debug("resolved entry point", zap.String("symbol", symbol))

	if err := inst.endpoints.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to the host: %w", err)
	}
	defer func() {
		if err != nil {
			inst.endpoints.Close()
		}
	}()

	if err := inst.instantiate(entry); err != nil {
		return nil, err
	}

	desc := inst.effect.Descriptor()
	if err := inst.endpoints.Control.Roundtrip(&desc, &inst.config); err != nil {
		inst.closeEffect()
		return nil, fmt.Errorf("failed to exchange the session configuration: %w", err)
	}
	inst.hideDAW.Store(inst.config.HideDAW)
	inst.main.SetInterval(inst.config.EventLoopInterval())
	inst.caps = Negotiate(desc, inst.effect, inst.editors)
	inst.removeIdle = inst.main.AddIdleHandler(inst.idle)

	logger.Info("plugin instantiated",
		zap.Int32("uniqueID", desc.UniqueID),
		zap.Int32("inputs", desc.NumInputs),
		zap.Int32("outputs", desc.NumOutputs),
		zap.Stringer("capabilities", inst.caps),
		zap.Duration("eventLoopInterval", inst.config.EventLoopInterval()),
		zap.Bool("hideDAW", inst.config.HideDAW),
	)

	inst.workers.Add(2)
	go inst.parameterWorker()
	go inst.audioWorker()
	return inst, nil
}

// instantiate calls the entry point on the main thread with realtime
// priority, so threads the plugin spawns inherit it.
func (i *Instance) instantiate(entry vst2.EntryPoint) error {
	ran := i.main.RunInContext(func() {
		release := beginConstruction(i)
		defer release()

		i.withRealtimePriority(func() {
			i.effect = entry.Call(hostCallback)
		})
		if i.effect != nil {
			i.effect.Register(i)
		}
	})
	if !ran {
		return errMainStopped
	}
	if i.effect == nil {
		return ErrInitFailed
	}
	return nil
}

// withRealtimePriority runs fn with SCHED_FIFO and restores the previous
// scheduling afterwards.
func (i *Instance) withRealtimePriority(fn func()) {
	prev, wasRealtime := i.sched.CurrentPriority()
	if !i.sched.SetPriority(true, rtsched.DefaultPriority) {
		i.logger.Debug("could not raise priority")
		fn()
		return
	}
	defer func() {
		if wasRealtime {
			i.sched.SetPriority(true, prev)
		} else {
			i.sched.SetPriority(false, 0)
		}
	}()
	fn()
}

// Capabilities returns the negotiated capabilities.
func (i *Instance) Capabilities() Capabilities {
	return i.caps
}

// Run serves dispatcher calls until the host disconnects, then closes all
// endpoints.
func (i *Instance) Run() error {
	err := i.endpoints.Dispatch.ReceiveEvents(i.handleDispatch)
	if err != nil {
		i.logger.Error("dispatch loop failed", zap.Error(err))
	} else {
		i.logger.Info("host disconnected")
	}
	i.endpoints.Close()
	return err
}

// Close shuts the instance down. The plugin is closed on the main thread
// unless the host already did so.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		var errs []error
		if i.removeIdle != nil {
			i.removeIdle()
		}
		errs = append(errs, i.endpoints.Close())
		i.workers.Wait()

		i.closeEffect()

		i.eventsMu.Lock()
		i.releaseEvents()
		i.eventsMu.Unlock()

		i.bufferMu.Lock()
		if i.buffer != nil {
			errs = append(errs, i.buffer.Close())
			i.buffer = nil
		}
		i.bufferMu.Unlock()

		errs = append(errs, i.lib.Close())
		i.closeErr = errors.Join(errs...)
	})
	return i.closeErr
}

func (i *Instance) closeEffect() {
	if i.closed.Load() {
		return
	}
	i.main.RunInContext(func() {
		i.dispatch(&wire.Event{Opcode: wire.EffEditClose, Payload: wire.None{}})
		i.dispatch(&wire.Event{Opcode: wire.EffClose, Payload: wire.None{}})
	})
}

// idle runs on every event loop tick.
func (i *Instance) idle() {
	if !i.initialized.Load() || i.closed.Load() || i.editor == nil {
		return
	}
	i.editor.HandlePendingInput()
	i.effect.Dispatch(&wire.Event{Opcode: wire.EffEditIdle, Payload: wire.None{}})
}

// bufferName derives the shared memory name from the endpoint directory,
// which is unique per instance.
func (i *Instance) bufferName() string {
	h := fnv.New32a()
	h.Write([]byte(i.endpoints.BaseDir))
	return fmt.Sprintf("%s-%08x", filepath.Base(i.endpoints.BaseDir), h.Sum32())
}
