package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// defaultBlockSize sizes the shared buffer when the host never sent
// effSetBlockSize.
const defaultBlockSize = 1024

// handleDispatch executes one dispatcher call with the thread affinity its
// opcode requires.
func (i *Instance) handleDispatch(ev *wire.Event, _ bool) *wire.EventResult {
	start := time.Now()
	i.events.LogEvent(wire.Dispatch, ev)

	var res *wire.EventResult
	switch affinityOf(ev.Opcode) {
	case affinityMainThread:
		ran := i.main.RunInContext(func() {
			if realtimeOnMainThread.has(ev.Opcode) {
				i.withRealtimePriority(func() { res = i.dispatch(ev) })
			} else {
				res = i.dispatch(ev)
			}
		})
		if !ran {
			i.logger.Warn("main context stopped, dropping call",
				zap.String("opcode", wire.OpcodeName(wire.Dispatch, ev.Opcode)))
			res = unsupportedResult(ev.Opcode)
		}
	case affinityRecursive:
		i.recursion.Handle(func() { res = i.dispatch(ev) })
	default:
		res = i.dispatch(ev)
	}

	i.events.LogResult(wire.Dispatch, ev.Opcode, res, false)
	i.observer.ObserveEvent(wire.Dispatch, ev.Opcode, time.Since(start), false)
	return res
}

// dispatch calls the plugin, handling the opcodes the bridge itself has to
// act on.
func (i *Instance) dispatch(ev *wire.Event) *wire.EventResult {
	if i.closed.Load() {
		return unsupportedResult(ev.Opcode)
	}
	if c, ok := requiredCapability[ev.Opcode]; ok {
		if err := i.caps.Require(c); err != nil {
			i.logger.Debug("rejecting call",
				zap.String("opcode", wire.OpcodeName(wire.Dispatch, ev.Opcode)), zap.Error(err))
			return unsupportedResult(ev.Opcode)
		}
	}

	switch ev.Opcode {
	case wire.EffOpen:
		res := i.effect.Dispatch(ev)
		i.initialized.Store(true)
		return res

	case wire.EffClose:
		i.closeEditor()
		i.closed.Store(true)
		// callbacks made while closing are answered locally
		i.effect.Unregister()
		return i.effect.Dispatch(ev)

	case wire.EffProcessEvents:
		return i.processEvents(ev)

	case wire.EffSetBlockSize:
		if ev.Value > 0 {
			i.blockSize.Store(uint64(ev.Value))
		}
		return i.effect.Dispatch(ev)

	case wire.EffSetProcessPrecision:
		precision := shmbuf.Single
		if ev.Value == wire.ProcessPrecision64 {
			precision = shmbuf.Double
		}
		i.precision.Store(uint32(precision))
		return i.effect.Dispatch(ev)

	case wire.EffMainsChanged:
		res := i.effect.Dispatch(ev)
		if ev.Value == 1 {
			cfg, err := i.setupBuffer()
			if err != nil {
				i.logger.Error("failed to set up the audio buffer", zap.Error(err))
				return res
			}
			res.Payload = wire.BufferConfig{Config: cfg}
		}
		return res

	case wire.EffEditGetRect:
		res := i.effect.Dispatch(ev)
		if rect, ok := res.Payload.(wire.Rect); ok {
			i.editorRect = rect
		}
		return res

	case wire.EffEditOpen:
		return i.openEditor(ev)

	case wire.EffEditClose:
		if i.editor == nil {
			return &wire.EventResult{Payload: wire.None{}}
		}
		res := i.effect.Dispatch(ev)
		i.closeEditor()
		return res
	}

	return i.effect.Dispatch(ev)
}

// openEditor replaces the host's window handle, which is meaningless in this
// process, with one of our own windows.
func (i *Instance) openEditor(ev *wire.Event) *wire.EventResult {
	var parent uintptr
	if h, ok := ev.Payload.(wire.Numeric); ok {
		parent = uintptr(h)
	}
	i.closeEditor()

	editor, err := i.editors.OpenEditor(i.bufferName(), parent, i.editorRect)
	if err != nil {
		i.logger.Error("failed to open editor", zap.Error(err))
		return &wire.EventResult{Payload: wire.None{}}
	}
	i.editor = editor

	local := *ev
	local.Payload = wire.Numeric(editor.Handle())
	return i.effect.Dispatch(&local)
}

func (i *Instance) closeEditor() {
	if i.editor == nil {
		return
	}
	if err := i.editor.Close(); err != nil {
		i.logger.Warn("failed to close editor", zap.Error(err))
	}
	i.editor = nil
}

// processEvents retains a copy of the events until the audio worker has
// processed a block with them. Lists from several calls within one block all
// stay alive, but the plugin only gets the new one.
func (i *Instance) processEvents(ev *wire.Event) *wire.EventResult {
	events, _ := ev.Payload.(wire.Events)

	i.eventsMu.Lock()
	defer i.eventsMu.Unlock()

	if i.clearEvents {
		i.releaseEvents()
		i.clearEvents = false
	}
	r := i.effect.RetainEvents(events)
	i.retained = append(i.retained, r)

	return &wire.EventResult{ReturnValue: i.effect.ProcessEvents(r), Payload: wire.None{}}
}

// releaseEvents frees every retained list. eventsMu must be held.
func (i *Instance) releaseEvents() {
	for _, r := range i.retained {
		r.Release()
	}
	i.retained = i.retained[:0]
}

// bufferLayout is what the audio worker needs to know about the mapped
// buffer.
type bufferLayout struct {
	inputs, outputs int
	maxBlockSize    int
	precision       shmbuf.Precision
}

// setupBuffer (re)configures the shared buffer for the current channel
// counts, block size and precision.
func (i *Instance) setupBuffer() (shmbuf.Config, error) {
	desc := i.effect.Descriptor()
	precision := shmbuf.Precision(i.precision.Load())
	requested := i.blockSize.Load()
	if err := shmbuf.CheckSize(int(desc.NumInputs)+int(desc.NumOutputs), requested, precision); err != nil {
		return shmbuf.Config{}, err
	}
	blockSize := uint32(requested)
	cfg := shmbuf.Configure(i.bufferName(),
		[]int{int(desc.NumInputs)}, []int{int(desc.NumOutputs)}, blockSize, precision)

	i.bufferMu.Lock()
	defer i.bufferMu.Unlock()

	var err error
	if i.buffer == nil {
		i.buffer, err = shmbuf.Create(cfg, i.logger)
	} else {
		err = i.buffer.Resize(cfg)
	}
	if err != nil {
		return shmbuf.Config{}, err
	}
	i.bufferConfig = bufferLayout{
		inputs:       int(desc.NumInputs),
		outputs:      int(desc.NumOutputs),
		maxBlockSize: int(blockSize),
		precision:    precision,
	}
	i.logger.Debug("configured audio buffer",
		zap.String("name", cfg.Name),
		zap.Uint32("size", cfg.Size),
		zap.Uint32("blockSize", blockSize),
		zap.Stringer("precision", precision),
	)
	return cfg, nil
}
