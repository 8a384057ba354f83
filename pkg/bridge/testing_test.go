package bridge

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/n0izn0iz/vst-bridge/pkg/endpoint"
	"github.com/n0izn0iz/vst-bridge/pkg/mainctx"
	"github.com/n0izn0iz/vst-bridge/pkg/vst2"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

func testingLogger(t *testing.T) *zap.Logger {
	t.Helper()
	if os.Getenv("DEBUG") == "true" {
		logger, err := zap.NewDevelopment()
		require.NoError(t, err)
		return logger
	}
	return zap.NewNop()
}

type call struct {
	opcode int32
	tid    int
}

type fakeEffect struct {
	desc wire.Descriptor
	cb   vst2.HostCallback
	// hook runs inside Dispatch before the default result is returned.
	hook func(f *fakeEffect, ev *wire.Event) *wire.EventResult
	// process runs inside ProcessReplacing.
	process func(f *fakeEffect, in, out [][]float32)

	mu         sync.Mutex
	calls      []call
	params     map[int32]float32
	registered any
	isReg      bool

	retained atomic.Int32
	released atomic.Int32
	lastList atomic.Pointer[wire.Events]
}

func newFakeEffect() *fakeEffect {
	return &fakeEffect{
		desc: wire.Descriptor{
			Magic:      0x56737450,
			NumParams:  4,
			NumInputs:  2,
			NumOutputs: 2,
			Flags:      wire.FlagCanReplacing,
			UniqueID:   1234,
		},
		params: make(map[int32]float32),
	}
}

func (f *fakeEffect) record(opcode int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{opcode, mainctx.CurrentThreadID()})
}

func (f *fakeEffect) callsOf(opcode int32) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.opcode == opcode {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeEffect) Descriptor() wire.Descriptor { return f.desc }

func (f *fakeEffect) Dispatch(ev *wire.Event) *wire.EventResult {
	f.record(ev.Opcode)
	if f.hook != nil {
		if res := f.hook(f, ev); res != nil {
			return res
		}
	}
	if ev.Opcode == wire.EffGetChunk {
		return &wire.EventResult{Payload: wire.Chunk("state")}
	}
	return &wire.EventResult{Payload: wire.None{}}
}

type fakeRetained struct {
	f    *fakeEffect
	once sync.Once
}

func (r *fakeRetained) Release() {
	r.once.Do(func() { r.f.released.Add(1) })
}

func (f *fakeEffect) RetainEvents(events wire.Events) vst2.Retained {
	f.retained.Add(1)
	list := append(wire.Events(nil), events...)
	f.lastList.Store(&list)
	return &fakeRetained{f: f}
}

func (f *fakeEffect) ProcessEvents(vst2.Retained) int64 {
	f.record(wire.EffProcessEvents)
	return 1
}

func (f *fakeEffect) GetParameter(index int32) float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[index]
}

func (f *fakeEffect) SetParameter(index int32, value float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[index] = value
}

func (f *fakeEffect) CanProcessReplacing() bool { return f.desc.Flags&wire.FlagCanReplacing != 0 }

func (f *fakeEffect) ProcessReplacing(in, out [][]float32, frames int32) {
	if f.process != nil {
		f.process(f, in, out)
	}
}

func (f *fakeEffect) Process(in, out [][]float32, frames int32) {
	for ch := range out {
		for k := range out[ch] {
			out[ch][k] += in[ch][k]
		}
	}
}

func (f *fakeEffect) ProcessDoubleReplacing(in, out [][]float64, frames int32) {}

func (f *fakeEffect) Register(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered, f.isReg = v, true
}

func (f *fakeEffect) Registered() (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered, f.isReg
}

func (f *fakeEffect) Unregister() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered, f.isReg = nil, false
}

type fakeEntry func(cb vst2.HostCallback) vst2.Effect

func (e fakeEntry) Call(cb vst2.HostCallback) vst2.Effect { return e(cb) }

type fakeLibrary struct {
	symbols map[string]vst2.EntryPoint
	closed  atomic.Bool
}

func (l *fakeLibrary) Lookup(symbol string) (vst2.EntryPoint, bool) {
	e, ok := l.symbols[symbol]
	return e, ok
}

func (l *fakeLibrary) Close() error {
	l.closed.Store(true)
	return nil
}

func libraryFor(f *fakeEffect) *fakeLibrary {
	return &fakeLibrary{symbols: map[string]vst2.EntryPoint{
		"VSTPluginMain": fakeEntry(func(cb vst2.HostCallback) vst2.Effect {
			f.cb = cb
			return f
		}),
	}}
}

type schedCall struct {
	fifo bool
	prio int
	tid  int
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []schedCall
}

func (s *fakeScheduler) CurrentPriority() (int, bool) { return 0, false }

func (s *fakeScheduler) SetPriority(fifo bool, prio int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, schedCall{fifo, prio, mainctx.CurrentThreadID()})
	return true
}

func (s *fakeScheduler) callsOn(tid int) []schedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedCall
	for _, c := range s.calls {
		if c.tid == tid {
			out = append(out, c)
		}
	}
	return out
}

// testingHost is the host side of a bridge under test.
type testingHost struct {
	set   *endpoint.Set
	inst  *Instance
	main  *mainctx.Context
	sched *fakeScheduler
	desc  wire.Descriptor

	mu        sync.Mutex
	callbacks []int32
	// onCallback answers host callbacks; nil answers with an empty result.
	onCallback func(ev *wire.Event) *wire.EventResult
}

func (h *testingHost) callbackCount(opcode int32) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, op := range h.callbacks {
		if op == opcode {
			n++
		}
	}
	return n
}

func (h *testingHost) dispatch(t *testing.T, ev *wire.Event) *wire.EventResult {
	t.Helper()
	if ev.Payload == nil {
		ev.Payload = wire.None{}
	}
	res, err := h.set.Dispatch.SendEvent(ev)
	require.NoError(t, err)
	return res
}

func startMain(t *testing.T, logger *zap.Logger) *mainctx.Context {
	t.Helper()
	main := mainctx.New(logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		main.Run()
	}()
	require.Eventually(t, func() bool { return main.ThreadID() != 0 }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		main.Stop()
		<-done
	})
	return main
}

// testingBridge performs the host's half of the startup handshake against a
// bridge hosting lib.
func testingBridge(t *testing.T, lib vst2.Library, cfg wire.Config, onCallback func(h *testingHost, ev *wire.Event) *wire.EventResult) *testingHost {
	t.Helper()
	logger := testingLogger(t)
	registry := wire.DefaultRegistry()
	dir := t.TempDir()

	h := &testingHost{
		set:   endpoint.NewSet(dir, endpoint.Host, registry, logger),
		main:  startMain(t, logger),
		sched: &fakeScheduler{},
	}
	if onCallback != nil {
		h.onCallback = func(ev *wire.Event) *wire.EventResult { return onCallback(h, ev) }
	}
	require.NoError(t, h.set.Listen())
	go h.set.Callback.ReceiveEvents(func(ev *wire.Event, _ bool) *wire.EventResult {
		h.mu.Lock()
		h.callbacks = append(h.callbacks, ev.Opcode)
		h.mu.Unlock()
		if h.onCallback != nil {
			return h.onCallback(ev)
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		inst *Instance
		err  error
	}
	created := make(chan result, 1)
	go func() {
		inst, err := New(ctx, Options{
			Library:   lib,
			BaseDir:   dir,
			Main:      h.main,
			Registry:  registry,
			Scheduler: h.sched,
			Logger:    logger,
		})
		created <- result{inst, err}
	}()

	require.NoError(t, h.set.Control.Receive(&h.desc))
	require.NoError(t, h.set.Control.Send(&cfg))
	r := <-created
	require.NoError(t, r.err)
	h.inst = r.inst
	require.NoError(t, h.set.Connect(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.inst.Run()
	}()
	t.Cleanup(func() {
		h.set.Close()
		<-done
		h.inst.Close()
	})
	return h
}
