package bridge

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/rtsched"
	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

// startWorker locks the calling goroutine to its thread and makes that
// thread realtime.
func (i *Instance) startWorker(name string) {
	runtime.LockOSThread()
	if !i.sched.SetPriority(true, rtsched.DefaultPriority) {
		i.logger.Debug("worker runs without realtime priority", zap.String("worker", name))
	}
}

func (i *Instance) stopWorker(name string, err error) {
	if err != nil {
		i.logger.Error("worker failed", zap.String("worker", name), zap.Error(err))
	} else {
		i.logger.Debug("worker stopped", zap.String("worker", name))
	}
	// one side going away ends the whole session
	i.endpoints.Close()
	runtime.UnlockOSThread()
	i.workers.Done()
}

func (i *Instance) parameterWorker() {
	i.startWorker("parameters")

	var req wire.Parameter
	err := i.endpoints.Parameters.ReceiveMulti(&req, func() wire.Message {
		if i.closed.Load() {
			return &wire.ParameterResult{}
		}
		if req.Value != nil {
			i.effect.SetParameter(req.Index, *req.Value)
			return &wire.ParameterResult{}
		}
		v := i.effect.GetParameter(req.Index)
		return &wire.ParameterResult{Value: &v}
	})
	i.stopWorker("parameters", err)
}

func (i *Instance) audioWorker() {
	i.startWorker("audio")

	var req wire.ProcessRequest
	ack := &wire.Ack{}
	err := i.endpoints.Process.ReceiveMulti(&req, func() wire.Message {
		i.processBlock(&req)
		return ack
	})
	i.stopWorker("audio", err)
}

// audio worker scratch space, reused between blocks
type channelViews struct {
	in32, out32 [][]float32
	in64, out64 [][]float64
}

func resize[T any](s [][]T, n int) [][]T {
	if cap(s) < n {
		return make([][]T, n)
	}
	return s[:n]
}

// processBlock runs the plugin on the shared buffer. The time info and
// process level of the request answer the plugin's queries until the block
// ends.
func (i *Instance) processBlock(req *wire.ProcessRequest) {
	start := time.Now()

	if req.CurrentTimeInfo != nil {
		guard := i.timeInfo.Set(*req.CurrentTimeInfo)
		defer guard.Release()
	}
	levelGuard := i.processLevel.Set(req.CurrentProcessLevel)
	defer levelGuard.Release()

	if req.NewRealtimePriority != nil {
		ok := i.sched.SetPriority(true, int(*req.NewRealtimePriority))
		i.observer.ObservePriority(*req.NewRealtimePriority, ok)
	}

	if i.closed.Load() {
		return
	}

	i.eventsMu.Lock()
	defer func() {
		// retained events stay valid until the next effProcessEvents after
		// this block
		i.clearEvents = true
		i.eventsMu.Unlock()
	}()

	i.bufferMu.Lock()
	defer i.bufferMu.Unlock()

	layout := i.bufferConfig
	frames := int(req.SampleFrames)
	if i.buffer == nil || frames > layout.maxBlockSize || frames < 0 {
		i.logger.Warn("dropping audio block",
			zap.Int("frames", frames),
			zap.Int("maxBlockSize", layout.maxBlockSize),
			zap.Bool("mapped", i.buffer != nil))
		return
	}
	wantPrecision := shmbuf.Single
	if req.DoublePrecision {
		wantPrecision = shmbuf.Double
	}
	if wantPrecision != layout.precision {
		i.logger.Warn("dropping audio block with mismatched precision",
			zap.Stringer("buffer", layout.precision), zap.Stringer("request", wantPrecision))
		return
	}

	v := &i.views
	if req.DoublePrecision {
		v.in64 = resize(v.in64, layout.inputs)
		v.out64 = resize(v.out64, layout.outputs)
		for ch := range v.in64 {
			v.in64[ch] = i.buffer.InputFloat64(0, ch, frames)
		}
		for ch := range v.out64 {
			v.out64[ch] = i.buffer.OutputFloat64(0, ch, frames)
		}
		if err := i.caps.Require(CapabilityDoublePrecision); err != nil {
			for _, out := range v.out64 {
				clear(out)
			}
		} else {
			i.effect.ProcessDoubleReplacing(v.in64, v.out64, req.SampleFrames)
		}
	} else {
		v.in32 = resize(v.in32, layout.inputs)
		v.out32 = resize(v.out32, layout.outputs)
		for ch := range v.in32 {
			v.in32[ch] = i.buffer.InputFloat32(0, ch, frames)
		}
		for ch := range v.out32 {
			v.out32[ch] = i.buffer.OutputFloat32(0, ch, frames)
		}
		if i.caps.Has(CapabilityReplacing) {
			i.effect.ProcessReplacing(v.in32, v.out32, req.SampleFrames)
		} else {
			// the accumulating process function adds to the outputs
			for _, out := range v.out32 {
				clear(out)
			}
			i.effect.Process(v.in32, v.out32, req.SampleFrames)
		}
	}

	i.observer.ObserveBlock(req.SampleFrames, req.DoublePrecision, time.Since(start))
}
