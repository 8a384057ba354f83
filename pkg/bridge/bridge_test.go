package bridge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/n0izn0iz/vst-bridge/pkg/endpoint"
	"github.com/n0izn0iz/vst-bridge/pkg/mainctx"
	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
	"github.com/n0izn0iz/vst-bridge/pkg/vst2"
	"github.com/n0izn0iz/vst-bridge/pkg/wire"
)

func TestNewWithoutEntryPoint(t *testing.T) {
	lib := &fakeLibrary{symbols: map[string]vst2.EntryPoint{}}
	_, err := New(context.Background(), Options{
		Library: lib,
		BaseDir: t.TempDir(),
		Logger:  testingLogger(t),
	})
	require.ErrorIs(t, err, vst2.ErrNoEntryPoint)
	require.True(t, lib.closed.Load())
}

func TestNewInitFailed(t *testing.T) {
	logger := testingLogger(t)
	dir := t.TempDir()
	host := endpoint.NewSet(dir, endpoint.Host, wire.DefaultRegistry(), logger)
	require.NoError(t, host.Listen())
	defer host.Close()

	lib := &fakeLibrary{symbols: map[string]vst2.EntryPoint{
		"main": fakeEntry(func(vst2.HostCallback) vst2.Effect { return nil }),
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := New(ctx, Options{
		Library:   lib,
		BaseDir:   dir,
		Main:      startMain(t, logger),
		Scheduler: &fakeScheduler{},
		Logger:    logger,
	})
	require.ErrorIs(t, err, ErrInitFailed)
	require.True(t, lib.closed.Load())
}

func TestCallbackDuringConstruction(t *testing.T) {
	f := newFakeEffect()
	var version int64
	lib := &fakeLibrary{symbols: map[string]vst2.EntryPoint{
		"VSTPluginMain": fakeEntry(func(cb vst2.HostCallback) vst2.Effect {
			f.cb = cb
			// the effect is not registered yet
			res := cb(f, &wire.Event{Opcode: wire.AudioMasterVersion, Payload: wire.None{}})
			version = res.ReturnValue
			return f
		}),
	}}
	h := testingBridge(t, lib, wire.Config{}, func(_ *testingHost, ev *wire.Event) *wire.EventResult {
		if ev.Opcode == wire.AudioMasterVersion {
			return &wire.EventResult{ReturnValue: 2400, Payload: wire.None{}}
		}
		return nil
	})

	require.Equal(t, int64(2400), version)
	require.Equal(t, f.desc, h.desc)
	v, ok := f.Registered()
	require.True(t, ok)
	require.Same(t, h.inst, v)
	require.Nil(t, underConstruction())
}

func TestMainThreadAffinity(t *testing.T) {
	f := newFakeEffect()
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)
	mainTID := h.main.ThreadID()

	h.dispatch(t, &wire.Event{Opcode: wire.EffOpen})
	h.dispatch(t, &wire.Event{Opcode: wire.EffGetVendorVersion})

	open := f.callsOf(wire.EffOpen)
	require.Len(t, open, 1)
	require.Equal(t, mainTID, open[0].tid)
	require.True(t, h.inst.initialized.Load())

	inline := f.callsOf(wire.EffGetVendorVersion)
	require.Len(t, inline, 1)
	require.NotEqual(t, mainTID, inline[0].tid)

	// raised for the entry point and for effOpen, restored after each
	require.Equal(t, []schedCall{
		{true, 5, mainTID}, {false, 0, mainTID},
		{true, 5, mainTID}, {false, 0, mainTID},
	}, h.sched.callsOn(mainTID))
}

func TestMutualRecursion(t *testing.T) {
	f := newFakeEffect()
	f.desc.Flags |= wire.FlagProgramChunks
	f.hook = func(f *fakeEffect, ev *wire.Event) *wire.EventResult {
		switch ev.Opcode {
		case wire.EffSetChunk:
			f.cb(f, &wire.Event{Opcode: wire.AudioMasterUpdateDisplay, Payload: wire.None{}})
		case wire.EffGetProgram:
			return &wire.EventResult{ReturnValue: int64(mainctx.CurrentThreadID()), Payload: wire.None{}}
		}
		return nil
	}

	var programTID atomic.Int64
	h := testingBridge(t, libraryFor(f), wire.Config{}, func(h *testingHost, ev *wire.Event) *wire.EventResult {
		if ev.Opcode == wire.AudioMasterUpdateDisplay {
			// the primary dispatch connection is busy with effSetChunk
			res, err := h.set.Dispatch.SendEvent(&wire.Event{Opcode: wire.EffGetProgram, Payload: wire.None{}})
			if err == nil {
				programTID.Store(res.ReturnValue)
			}
		}
		return nil
	})

	h.dispatch(t, &wire.Event{Opcode: wire.EffSetChunk, Value: 5, Payload: wire.Chunk("state")})

	setChunk := f.callsOf(wire.EffSetChunk)
	require.Len(t, setChunk, 1)
	require.Equal(t, h.main.ThreadID(), setChunk[0].tid)
	require.Equal(t, int64(setChunk[0].tid), programTID.Load())
	require.False(t, h.inst.recursion.Active())
}

func TestUnsupportedEditor(t *testing.T) {
	f := newFakeEffect()
	f.desc.Flags |= wire.FlagHasEditor
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)
	require.False(t, h.inst.Capabilities().Has(CapabilityEditor))

	res := h.dispatch(t, &wire.Event{Opcode: wire.EffEditOpen, Payload: wire.Numeric(42)})
	require.Equal(t, int64(0), res.ReturnValue)
	require.Empty(t, f.callsOf(wire.EffEditOpen))

	res = h.dispatch(t, &wire.Event{Opcode: wire.EffGetChunk, Payload: wire.WantsChunk{}})
	require.Equal(t, wire.Chunk{}, res.Payload)
	require.NotNil(t, res.Payload.(wire.Chunk))
}

type fakeEditor struct {
	closed  bool
	pending int
}

func (e *fakeEditor) Handle() uintptr     { return 0xbeef }
func (e *fakeEditor) HandlePendingInput() { e.pending++ }
func (e *fakeEditor) Close() error        { e.closed = true; return nil }

type fakeEditors struct{ opened []*fakeEditor }

func (f *fakeEditors) OpenEditor(string, uintptr, wire.Rect) (Editor, error) {
	e := &fakeEditor{}
	f.opened = append(f.opened, e)
	return e, nil
}

func TestEditorLifecycle(t *testing.T) {
	f := newFakeEffect()
	f.desc.Flags |= wire.FlagHasEditor
	var handle wire.Payload // written on the main thread
	f.hook = func(_ *fakeEffect, ev *wire.Event) *wire.EventResult {
		if ev.Opcode == wire.EffEditOpen {
			handle = ev.Payload
		}
		return nil
	}
	h := testingBridge(t, libraryFor(f), wire.Config{FrameRate: 1000}, nil)
	editors := &fakeEditors{}
	h.main.RunInContext(func() {
		h.inst.editors = editors
		h.inst.caps = h.inst.caps.With(CapabilityEditor)
	})

	h.dispatch(t, &wire.Event{Opcode: wire.EffOpen})
	h.dispatch(t, &wire.Event{Opcode: wire.EffEditOpen, Payload: wire.Numeric(42)})
	h.main.RunInContext(func() {
		require.Len(t, editors.opened, 1)
		require.Equal(t, wire.Numeric(0xbeef), handle)
	})

	require.Eventually(t, func() bool { return len(f.callsOf(wire.EffEditIdle)) > 0 }, time.Second, time.Millisecond)
	for _, c := range f.callsOf(wire.EffEditIdle) {
		require.Equal(t, h.main.ThreadID(), c.tid)
	}

	h.dispatch(t, &wire.Event{Opcode: wire.EffEditClose})
	h.main.RunInContext(func() {
		require.True(t, editors.opened[0].closed)
		require.Positive(t, editors.opened[0].pending)
		require.Nil(t, h.inst.editor)
	})
}

func TestParameters(t *testing.T) {
	f := newFakeEffect()
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)

	v := float32(0.25)
	var res wire.ParameterResult
	require.NoError(t, h.set.Parameters.Roundtrip(&wire.Parameter{Index: 3, Value: &v}, &res))
	require.Nil(t, res.Value)

	require.NoError(t, h.set.Parameters.Roundtrip(&wire.Parameter{Index: 3}, &res))
	require.NotNil(t, res.Value)
	require.Equal(t, float32(0.25), *res.Value)
}

// prepareAudio turns processing on and maps the shared buffer on the host
// side.
func prepareAudio(t *testing.T, h *testingHost, blockSize int64) *shmbuf.Buffer {
	t.Helper()
	h.dispatch(t, &wire.Event{Opcode: wire.EffSetBlockSize, Value: blockSize})
	res := h.dispatch(t, &wire.Event{Opcode: wire.EffMainsChanged, Value: 1})
	cfg, ok := res.Payload.(wire.BufferConfig)
	require.True(t, ok, "got %T", res.Payload)
	require.NoError(t, cfg.Validate(shmbuf.Single))

	buf, err := shmbuf.Open(cfg.Config, testingLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { buf.Close() })
	return buf
}

func TestOversizedBlockSize(t *testing.T) {
	f := newFakeEffect()
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)

	// 4 channels of 2^30 samples wrap around a 32-bit size
	h.dispatch(t, &wire.Event{Opcode: wire.EffSetBlockSize, Value: 1 << 30})
	res := h.dispatch(t, &wire.Event{Opcode: wire.EffMainsChanged, Value: 1})
	require.Equal(t, wire.None{}, res.Payload)
	require.Len(t, f.callsOf(wire.EffMainsChanged), 1)

	h.dispatch(t, &wire.Event{Opcode: wire.EffSetBlockSize, Value: 1 << 40})
	res = h.dispatch(t, &wire.Event{Opcode: wire.EffMainsChanged, Value: 1})
	require.Equal(t, wire.None{}, res.Payload)

	prepareAudio(t, h, 64)
}

func TestProcessBlock(t *testing.T) {
	f := newFakeEffect()
	var cachedTempo, cachedLevel atomic.Int64
	f.process = func(f *fakeEffect, in, out [][]float32) {
		res := f.cb(f, &wire.Event{Opcode: wire.AudioMasterGetTime, Payload: wire.WantsTimeInfo{}})
		if ti, ok := res.Payload.(wire.TimeInfo); ok {
			cachedTempo.Store(int64(ti.Tempo))
		}
		cachedLevel.Store(f.cb(f, &wire.Event{Opcode: wire.AudioMasterGetCurrentProcessLevel, Payload: wire.None{}}).ReturnValue)
		for ch := range out {
			for k := range out[ch] {
				out[ch][k] = in[ch][k] * 2
			}
		}
	}
	h := testingBridge(t, libraryFor(f), wire.Config{CacheTimeInfo: true}, nil)
	buf := prepareAudio(t, h, 64)

	for ch := 0; ch < 2; ch++ {
		in := buf.InputFloat32(0, ch, 16)
		for k := range in {
			in[k] = float32(k + ch)
		}
	}
	prio := int32(30)
	require.NoError(t, h.set.Process.Roundtrip(&wire.ProcessRequest{
		SampleFrames:        16,
		NewRealtimePriority: &prio,
		CurrentTimeInfo:     &wire.TimeInfo{Tempo: 128},
		CurrentProcessLevel: 2,
	}, &wire.Ack{}))

	for ch := 0; ch < 2; ch++ {
		out := buf.OutputFloat32(0, ch, 16)
		for k := range out {
			require.Equal(t, float32(2*(k+ch)), out[k])
		}
	}
	require.Equal(t, int64(128), cachedTempo.Load())
	require.Equal(t, int64(2), cachedLevel.Load())
	require.Zero(t, h.callbackCount(wire.AudioMasterGetTime))
	require.Zero(t, h.callbackCount(wire.AudioMasterGetCurrentProcessLevel))

	// outside of a block the caches are gone
	res := f.cb(f, &wire.Event{Opcode: wire.AudioMasterGetTime, Payload: wire.WantsTimeInfo{}})
	require.Equal(t, wire.None{}, res.Payload)
	require.Equal(t, 1, h.callbackCount(wire.AudioMasterGetTime))

	// the host's priority is applied to the audio worker
	h.sched.mu.Lock()
	defer h.sched.mu.Unlock()
	var applied bool
	for _, c := range h.sched.calls {
		applied = applied || (c.fifo && c.prio == 30)
	}
	require.True(t, applied)
}

func TestProcessWithoutReplacing(t *testing.T) {
	f := newFakeEffect()
	f.desc.Flags &^= wire.FlagCanReplacing
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)
	buf := prepareAudio(t, h, 32)

	for ch := 0; ch < 2; ch++ {
		in := buf.InputFloat32(0, ch, 8)
		out := buf.OutputFloat32(0, ch, 8)
		for k := range in {
			in[k] = 1
			out[k] = 100
		}
	}
	require.NoError(t, h.set.Process.Roundtrip(&wire.ProcessRequest{SampleFrames: 8}, &wire.Ack{}))

	// outputs are zeroed before the accumulating process call
	for ch := 0; ch < 2; ch++ {
		for _, s := range buf.OutputFloat32(0, ch, 8) {
			require.Equal(t, float32(1), s)
		}
	}
}

func TestRetainedEventsDeferredClearing(t *testing.T) {
	f := newFakeEffect()
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)
	prepareAudio(t, h, 32)

	note := func(delta int32) wire.Events {
		return wire.Events{{Type: wire.MidiEventType, DeltaFrames: delta, Data: []byte{0x90, 60, 100}}}
	}

	h.dispatch(t, &wire.Event{Opcode: wire.EffProcessEvents, Payload: note(1)})
	require.Equal(t, note(1), *f.lastList.Load())
	// a second call within the same block only hands over its own events
	h.dispatch(t, &wire.Event{Opcode: wire.EffProcessEvents, Payload: note(2)})
	require.Equal(t, note(2), *f.lastList.Load())
	require.Equal(t, int32(2), f.retained.Load())
	require.Zero(t, f.released.Load())

	require.NoError(t, h.set.Process.Roundtrip(&wire.ProcessRequest{SampleFrames: 32}, &wire.Ack{}))
	// still valid after the block
	require.Zero(t, f.released.Load())

	h.dispatch(t, &wire.Event{Opcode: wire.EffProcessEvents, Payload: note(3)})
	require.Equal(t, int32(2), f.released.Load())
	list := *f.lastList.Load()
	require.Len(t, list, 1)
	require.Equal(t, int32(3), list[0].DeltaFrames)
}

func TestHideDAW(t *testing.T) {
	f := newFakeEffect()
	var vendor wire.Payload
	f.hook = func(f *fakeEffect, ev *wire.Event) *wire.EventResult {
		if ev.Opcode == wire.EffGetVendorVersion {
			vendor = f.cb(f, &wire.Event{Opcode: wire.AudioMasterGetVendorString, Payload: wire.WantsString{}}).Payload
		}
		return nil
	}
	h := testingBridge(t, libraryFor(f), wire.Config{HideDAW: true}, nil)

	h.dispatch(t, &wire.Event{Opcode: wire.EffGetVendorVersion})
	require.Equal(t, wire.String(HiddenVendorString), vendor)
	require.Zero(t, h.callbackCount(wire.AudioMasterGetVendorString))
}

func TestHostDisconnectStopsInstance(t *testing.T) {
	f := newFakeEffect()
	h := testingBridge(t, libraryFor(f), wire.Config{}, nil)

	h.set.Close()
	require.NoError(t, h.inst.Close())
	require.Len(t, f.callsOf(wire.EffClose), 1)
	_, ok := f.Registered()
	require.False(t, ok)
}
