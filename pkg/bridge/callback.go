package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/vst2"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// Names reported to plugins instead of the host's when Config.HideDAW is set.
const (
	HiddenVendorString  = "vst-bridge"
	HiddenProductString = "vst-bridge host"
)

// hostCallback is the host callback of every plugin in the process. It finds
// the instance through the effect's registration, or through the
// construction slot while an entry point is running.
func hostCallback(effect vst2.Effect, ev *wire.Event) *wire.EventResult {
	if effect != nil {
		if v, ok := effect.Registered(); ok {
			if inst, ok := v.(*Instance); ok {
				return inst.hostCallback(ev)
			}
		}
	}
	if inst := underConstruction(); inst != nil {
		return inst.hostCallback(ev)
	}
	return &wire.EventResult{Payload: wire.None{}}
}

func (i *Instance) hostCallback(ev *wire.Event) *wire.EventResult {
	if res, ok := i.answerLocally(ev); ok {
		i.events.LogEvent(wire.Callback, ev)
		i.events.LogResult(wire.Callback, ev.Opcode, res, true)
		i.observer.ObserveEvent(wire.Callback, ev.Opcode, 0, true)
		return res
	}

	start := time.Now()
	i.events.LogEvent(wire.Callback, ev)

	var (
		res *wire.EventResult
		err error
	)
	if mutuallyRecursiveCallbacks.has(ev.Opcode) {
		i.recursion.Fork(func() {
			res, err = i.endpoints.Callback.SendEvent(ev)
		})
	} else {
		res, err = i.endpoints.Callback.SendEvent(ev)
	}
	if err != nil {
		i.logger.Debug("host callback failed",
			zap.String("opcode", wire.OpcodeName(wire.Callback, ev.Opcode)), zap.Error(err))
		return &wire.EventResult{Payload: wire.None{}}
	}

	i.events.LogResult(wire.Callback, ev.Opcode, res, false)
	i.observer.ObserveEvent(wire.Callback, ev.Opcode, time.Since(start), false)
	return res
}

// answerLocally serves callbacks from the per block caches and the hidden
// host names.
func (i *Instance) answerLocally(ev *wire.Event) (*wire.EventResult, bool) {
	switch ev.Opcode {
	case wire.AudioMasterGetTime:
		if ti, ok := i.timeInfo.Get(); ok {
			return &wire.EventResult{ReturnValue: 1, Payload: ti}, true
		}
	case wire.AudioMasterGetCurrentProcessLevel:
		if level, ok := i.processLevel.Get(); ok {
			return &wire.EventResult{ReturnValue: int64(level), Payload: wire.None{}}, true
		}
	case wire.AudioMasterGetVendorString:
		if i.hideDAW.Load() {
			return &wire.EventResult{ReturnValue: 1, Payload: wire.String(HiddenVendorString)}, true
		}
	case wire.AudioMasterGetProductString:
		if i.hideDAW.Load() {
			return &wire.EventResult{ReturnValue: 1, Payload: wire.String(HiddenProductString)}, true
		}
	}
	return nil, false
}
